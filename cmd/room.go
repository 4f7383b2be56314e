package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/BioHazard786/warpcall/internal/config"
	"github.com/BioHazard786/warpcall/internal/signaling"
	"github.com/BioHazard786/warpcall/internal/ui"
	"github.com/spf13/cobra"
)

const inspectTimeout = 10 * time.Second

var roomCmd = &cobra.Command{
	Use:     "room [room-id]",
	Aliases: []string{"rooms"},
	Short:   "Inspect room documents on the signaling server",
	Long: `Show a single room document as a table, or list every room when no id is given.

Examples:
  warpcall room
  warpcall room brave-otter-ramen-42`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), inspectTimeout)
		defer cancel()
		if len(args) == 0 {
			return listRooms(ctx, cfg)
		}
		return showRoom(ctx, cfg, args[0])
	},
}

func showRoom(ctx context.Context, cfg *config.Config, roomID string) error {
	stopSpinner := ui.RunConnectionSpinner("Connecting to server...")
	conn, err := NewConnectionContext(ctx, cfg)
	stopSpinner()
	if err != nil {
		return err
	}
	defer conn.Close()

	doc, err := conn.Client.Get(ctx, roomID)
	if errors.Is(err, signaling.ErrNotFound) {
		return fmt.Errorf("room %s does not exist", roomID)
	}
	if err != nil {
		return fmt.Errorf("read room: %w", err)
	}
	ui.RenderRoomTable(doc)
	return nil
}

func listRooms(ctx context.Context, cfg *config.Config) error {
	endpoint, err := cfg.APIURL("rooms")
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	stopSpinner := ui.RunSpinner("Fetching rooms...")
	resp, err := http.DefaultClient.Do(req)
	stopSpinner()
	if err != nil {
		return fmt.Errorf("%w: %v", signaling.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("list rooms: server returned %s", resp.Status)
	}

	var body struct {
		Rooms []*signaling.Document `json:"rooms"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("list rooms: %w", err)
	}
	if len(body.Rooms) == 0 {
		ui.PrintInfo("No rooms")
		return nil
	}
	fmt.Println(ui.RoomListView(body.Rooms))
	return nil
}
