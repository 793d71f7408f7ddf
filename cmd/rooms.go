package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/huddle/internal/config"
	"github.com/BioHazard786/huddle/internal/netutil"
	"github.com/BioHazard786/huddle/internal/sfu"
	"github.com/BioHazard786/huddle/internal/ui"
)

const roomsTimeout = 10 * time.Second

var flagRoomsServer string

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List the active rooms of a server",
	Long: `List the rooms a huddle server currently hosts, with their participants.

Examples:
  huddle rooms
  huddle rooms --server call.example.com`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(config.Options{Server: flagRoomsServer})
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), roomsTimeout)
		defer cancel()

		rooms, err := fetchRooms(ctx, &cfg.Client)
		if err != nil {
			return err
		}
		fmt.Fprintln(ui.Output, ui.RoomsTable(rooms, time.Now()))
		return nil
	},
}

var httpClient = &http.Client{
	Transport: &http.Transport{DialContext: netutil.DialContext},
}

// fetchRooms reads GET /rooms of the configured server.
func fetchRooms(ctx context.Context, c *config.ClientConfig) ([]sfu.RoomInfo, error) {
	base, err := c.HTTPURL()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/rooms", nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list rooms: server returned %s", resp.Status)
	}

	var rooms []sfu.RoomInfo
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		return nil, fmt.Errorf("decode rooms: %w", err)
	}
	return rooms, nil
}

// roomCapacity looks roomID up on the server. Zero means unknown.
func roomCapacity(ctx context.Context, c *config.ClientConfig, roomID string) int {
	rooms, err := fetchRooms(ctx, c)
	if err != nil {
		return 0
	}
	for _, r := range rooms {
		if r.ID == roomID {
			return r.Capacity
		}
	}
	return 0
}

func init() {
	rootCmd.AddCommand(roomsCmd)
	roomsCmd.Flags().StringVarP(&flagRoomsServer, "server", "S", "", "Server host[:port] or URL (default localhost:8080)")
}
