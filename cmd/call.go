package cmd

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BioHazard786/warpcall/internal/config"
	"github.com/BioHazard786/warpcall/internal/engine"
	"github.com/BioHazard786/warpcall/internal/negotiation"
	"github.com/BioHazard786/warpcall/internal/room"
	"github.com/BioHazard786/warpcall/internal/ui"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	flagNewRoom bool
	flagNoVideo bool
	flagNoAudio bool
)

var callCmd = &cobra.Command{
	Use:   "call [room-id]",
	Short: "Join a room and start a call",
	Long: `Join a room and negotiate a peer-to-peer call with whoever else joins it.
The first participant becomes the offerer, the second the answerer. A room
holds at most two participants.

Examples:
  warpcall call --new
  warpcall call brave-otter-ramen-42
  warpcall call --force-relay --turn turn.example.com brave-otter-ramen-42`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var roomID string
		if len(args) == 1 {
			roomID = args[0]
		}
		if flagNewRoom {
			if roomID != "" {
				return fmt.Errorf("pass either a room id or --new, not both")
			}
			roomID = room.NewRoomID()
		}
		return call(cmd.Context(), roomID)
	},
}

func init() {
	callCmd.Flags().BoolVarP(&flagNewRoom, "new", "n", false, "Create a new room with a generated id")
	callCmd.Flags().BoolVar(&flagNoAudio, "no-audio", false, "Do not offer an audio track")
	callCmd.Flags().BoolVar(&flagNoVideo, "no-video", false, "Do not offer a video track")
}

func call(ctx context.Context, roomID string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	if flagNoAudio {
		cfg.Audio = false
	}
	if flagNoVideo {
		cfg.Video = false
	}

	conn, role, err := joinRoom(ctx, cfg, roomID)
	if err != nil {
		return err
	}
	defer conn.Close()
	ui.RenderRoomInfo(roomID, role.String())

	eng, err := engine.New(engine.OptionsFromConfig(cfg), log.Logger)
	if err != nil {
		if leaveErr := conn.Coordinator.Leave(context.WithoutCancel(ctx), roomID, role, negotiation.OwnFields(role)...); leaveErr != nil {
			log.Warn().Err(leaveErr).Msg("failed to leave room")
		}
		return fmt.Errorf("create peer connection: %w", err)
	}

	callUI := ui.NewCallUI(roomID, role)
	eng.OnConnectionStateChange(callUI.SetLink)
	eng.OnHello(func(h engine.HelloPayload) {
		callUI.SetPeer(fmt.Sprintf("%s (%s)", h.DeviceName, h.DeviceVersion))
	})

	flushed := make(chan struct{})
	var flushOnce sync.Once
	hooks := callUI.Hooks()
	stateChanged := hooks.StateChanged
	hooks.StateChanged = func(s negotiation.State) {
		stateChanged(s)
		if s == negotiation.StateCandidatesFlushed {
			flushOnce.Do(func() { close(flushed) })
		}
	}

	session := negotiation.NewSession(negotiation.SessionConfig{
		RoomID:  roomID,
		Role:    role,
		Channel: conn.Client,
		Engine:  eng,
		Leaver:  conn.Coordinator,
		Hooks:   hooks,
		Logger:  log.Logger,
	})
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn().Err(err).Msg("teardown finished with errors")
		}
	}()

	if err := session.Start(ctx); err != nil {
		return err
	}
	callUI.Start()
	defer callUI.Stop()

	timeout := time.NewTimer(cfg.NegotiationTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-flushed:
			flushed = nil
			timeout.Stop()
		case <-timeout.C:
			callUI.Stop()
			return fmt.Errorf("negotiation timed out after %s in state %s", cfg.NegotiationTimeout, session.State())
		case <-session.Done():
			callUI.Stop()
			return fmt.Errorf("call ended in state %s", session.State())
		case <-callUI.Done():
			if callUI.Failed() {
				return fmt.Errorf("call failed in state %s", session.State())
			}
			ui.PrintSuccess("Call ended")
			return nil
		case <-ctx.Done():
			callUI.Stop()
			ui.PrintInfof("Interrupted in state %s, hanging up", session.State())
			return nil
		}
	}
}

// joinRoom connects to the signaling server and claims a slot in roomID.
// The connection is closed when the join fails.
func joinRoom(ctx context.Context, cfg *config.Config, roomID string) (*ConnectionContext, room.Role, error) {
	sp := ui.NewConnectionSpinner("Connecting to server...")
	sp.Start()

	conn, err := NewConnectionContext(ctx, cfg)
	if err != nil {
		sp.Error("Could not reach the signaling server")
		return nil, 0, err
	}

	sp.UpdateMessage(fmt.Sprintf("Joining room %s...", roomID))
	role, err := conn.Coordinator.Join(ctx, roomID)
	if err != nil {
		sp.Error(fmt.Sprintf("Could not join room %s", roomID))
		conn.Close()
		return nil, 0, describeJoinError(roomID, err)
	}
	sp.Success(fmt.Sprintf("Joined room %s as %s", roomID, role))
	return conn, role, nil
}
