package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/BioHazard786/warpcall/internal/config"
	"github.com/BioHazard786/warpcall/internal/room"
	"github.com/BioHazard786/warpcall/internal/signaling"
	"github.com/rs/zerolog/log"
)

// ConnectionContext bundles what every client command needs.
type ConnectionContext struct {
	Client      *signaling.Client
	Coordinator *room.Coordinator
	Config      *config.Config
}

func NewConnectionContext(ctx context.Context, cfg *config.Config) (*ConnectionContext, error) {
	client := signaling.NewClient(cfg.ServerURL, log.Logger)
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to server: %w", err)
	}

	coord := room.NewCoordinator(client, log.Logger,
		room.WithAtomicAdmission(cfg.AtomicAdmission),
		room.WithReleaseOnLeave(cfg.ReleaseOnLeave),
		room.WithJoinAttempts(cfg.JoinAttempts),
	)
	return &ConnectionContext{Client: client, Coordinator: coord, Config: cfg}, nil
}

func (c *ConnectionContext) Close() {
	if c.Client != nil {
		c.Client.Close()
	}
}

func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.Options{
		ConfigFile: flagConfig,
		ServerURL:  flagServer,
		STUNServer: flagSTUN,
		TURNServer: flagTURN,
		TURNUser:   flagTURNUser,
		TURNPass:   flagTURNPass,
		ForceRelay: flagRelay,
	})
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// describeJoinError turns admission failures into something a user can act on.
func describeJoinError(roomID string, err error) error {
	var full *room.RoomFullError
	var malformed *signaling.MalformedMessageError
	switch {
	case errors.As(err, &full):
		return fmt.Errorf("room %s already has %d participants, try another room or --new", roomID, full.Count)
	case errors.Is(err, room.ErrInvalidRoomID):
		return fmt.Errorf("a room id is required, or pass --new")
	case errors.As(err, &malformed):
		return fmt.Errorf("room %s holds data warpcall does not understand: %w", roomID, err)
	case errors.Is(err, signaling.ErrUnavailable):
		return fmt.Errorf("signaling server unavailable: %w", err)
	default:
		return err
	}
}
