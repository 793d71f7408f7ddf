package ui

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/BioHazard786/huddle/internal/call"
	"github.com/BioHazard786/huddle/internal/sfu"
	"github.com/BioHazard786/huddle/internal/utils"
)

// RoomsTable renders a server room listing.
func RoomsTable(rooms []sfu.RoomInfo, now time.Time) string {
	if len(rooms) == 0 {
		return MutedStyle.Render("No active rooms")
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Header = text.FormatDefault
	t.AppendHeader(table.Row{"Room", "Peers", "Participants", "Tracks", "Age"})

	var peers, tracks int
	for _, r := range rooms {
		names := make([]string, 0, len(r.Peers))
		roomTracks := 0
		for _, p := range r.Peers {
			names = append(names, participantName(p))
			roomTracks += p.Tracks
		}
		peers += len(r.Peers)
		tracks += roomTracks

		t.AppendRow(table.Row{
			r.ID,
			fmt.Sprintf("%d/%d", len(r.Peers), r.Capacity),
			strings.Join(names, ", "),
			roomTracks,
			now.Sub(r.CreatedAt).Round(time.Second),
		})
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d rooms", len(rooms)), peers, "", tracks, ""})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, WidthMax: 48},
		{Number: 4, Align: text.AlignRight},
	})
	return t.Render()
}

// RecordingsTable lists recorded files with their sizes. Files that can no
// longer be read are shown as missing.
func RecordingsTable(paths []string) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Header = text.FormatDefault
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(table.Row{"Recording", "Size"})

	var total int64
	for _, p := range paths {
		size := "missing"
		if fi, err := os.Stat(p); err == nil {
			total += fi.Size()
			size = utils.FormatSize(fi.Size())
		}
		t.AppendRow(table.Row{filepath.Base(p), size})
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d files", len(paths)), utils.FormatSize(total)})
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	return t.Render()
}

func participantName(p sfu.PeerInfo) string {
	short := p.ID
	if len(short) > 8 {
		short = short[:8]
	}
	if p.DisplayName != "" {
		return fmt.Sprintf("%s (%s)", p.DisplayName, short)
	}
	return short
}

// ParticipantsView renders the remote streams of a call.
func ParticipantsView(streams []call.RemoteStream) string {
	if len(streams) == 0 {
		return MutedStyle.Render("Nobody else is here yet")
	}

	rows := make([][]string, 0, len(streams))
	for _, s := range streams {
		name := s.Label
		if s.DisplayName != "" {
			name = fmt.Sprintf("%s · %s", s.Label, s.DisplayName)
		}
		rows = append(rows, []string{name, truncateString(s.ID, 24), strings.Join(s.Kinds, "+"), streamStatus(s)})
	}

	tbl := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("Participant", "Stream", "Media", "Status").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == lgtable.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

func streamStatus(s call.RemoteStream) string {
	var parts []string
	if s.AudioMuted {
		parts = append(parts, IconMuted+" muted")
	}
	if s.Sharing {
		parts = append(parts, IconScreen+" sharing")
	} else if s.VideoMuted {
		parts = append(parts, IconCameraOff+" camera off")
	}
	if len(parts) == 0 {
		return "live"
	}
	return strings.Join(parts, ", ")
}

// RoomInfo is the box printed when a call starts.
type RoomInfo struct {
	RoomID   string
	RoomLink string
}

func NewRoomInfo(roomID, roomLink string) *RoomInfo {
	return &RoomInfo{
		RoomID:   roomID,
		RoomLink: roomLink,
	}
}

func (r *RoomInfo) View() string {
	content := fmt.Sprintf("%s Joined room\n\n%s Room ID:    %s\n%s Browser:    %s",
		IconRoom,
		IconCopy, BoldStyle.Foreground(Primary).Render(r.RoomID),
		IconWeb, MutedStyle.Render(r.RoomLink),
	)
	return SuccessBoxStyle.Render(content)
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
