package ui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/BioHazard786/huddle/internal/call"
	"github.com/BioHazard786/huddle/internal/utils"
)

// Controller is the part of a call session the view drives.
type Controller interface {
	ToggleMic() (bool, error)
	ToggleCamera() (bool, error)
	ShareScreen(call.SampleReader) error
	StopShare() error
	Leave()
	State() call.LocalState
	Events() <-chan call.Event
	Done() <-chan struct{}
}

// ShareOpener opens the source used when the user starts sharing.
type ShareOpener func() (call.SampleReader, error)

// eventMsg carries a session event into the Bubble Tea loop.
type eventMsg call.Event

// closedMsg is sent when the session is over.
type closedMsg struct{}

// CallModel is the Bubble Tea model of a running call.
type CallModel struct {
	ctrl      Controller
	openShare ShareOpener

	roomID   string
	roomLink string
	capacity int

	local   call.LocalState
	streams []call.RemoteStream
	notice  string
	err     error

	started   time.Time
	spinner   spinner.Model
	occupancy progress.Model
	width     int
	quitting  bool
}

// NewCallModel creates the view for ctrl. capacity <= 0 hides the occupancy bar.
func NewCallModel(ctrl Controller, roomID, roomLink string, capacity int, openShare ShareOpener) *CallModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &CallModel{
		ctrl:      ctrl,
		openShare: openShare,
		roomID:    roomID,
		roomLink:  roomLink,
		capacity:  capacity,
		local:     ctrl.State(),
		started:   time.Now(),
		spinner:   s,
		occupancy: progress.New(
			progress.WithGradient(OccupancyStart, OccupancyEnd),
			progress.WithWidth(20),
			progress.WithoutPercentage(),
		),
		width: 80,
	}
}

func (m *CallModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForEvent())
}

// waitForEvent returns a command that listens for the next session event.
func (m *CallModel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		select {
		case ev := <-m.ctrl.Events():
			return eventMsg(ev)
		case <-m.ctrl.Done():
			return closedMsg{}
		}
	}
}

func (m *CallModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m, m.handleKey(msg.String())

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		if m.handleEvent(call.Event(msg)) {
			m.quitting = true
			return m, tea.Quit
		}
		return m, m.waitForEvent()

	case closedMsg:
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

func (m *CallModel) handleKey(key string) tea.Cmd {
	var err error
	switch key {
	case "m":
		var on bool
		if on, err = m.ctrl.ToggleMic(); err == nil {
			m.notice = onOff("Microphone", on)
		}
	case "c":
		var on bool
		if on, err = m.ctrl.ToggleCamera(); err == nil {
			m.notice = onOff("Camera", on)
		}
	case "s":
		err = m.toggleShare()
	case "q", "ctrl+c":
		m.ctrl.Leave()
		m.quitting = true
		return tea.Quit
	default:
		return nil
	}

	m.err = err
	m.local = m.ctrl.State()
	return nil
}

func (m *CallModel) toggleShare() error {
	if m.ctrl.State().Sharing {
		if err := m.ctrl.StopShare(); err != nil {
			return err
		}
		m.notice = "Stopped sharing."
		return nil
	}
	if m.openShare == nil {
		return errors.New("no share source configured (use --share)")
	}
	src, err := m.openShare()
	if err != nil {
		return err
	}
	if err := m.ctrl.ShareScreen(src); err != nil {
		return err
	}
	m.notice = "Sharing screen."
	return nil
}

// handleEvent applies ev and reports whether the call is over.
func (m *CallModel) handleEvent(ev call.Event) bool {
	switch ev.Kind {
	case call.EventStreamAdded, call.EventStreamUpdated:
		m.upsert(ev.Stream)
	case call.EventStreamRemoved:
		m.remove(ev.Stream.ID)
	case call.EventNotice:
		m.notice = ev.Message
	case call.EventError:
		m.err = ev.Err
	case call.EventJoined, call.EventLocalState:
		m.local = m.ctrl.State()
	case call.EventClosed:
		return true
	}
	return false
}

func (m *CallModel) upsert(s call.RemoteStream) {
	for i := range m.streams {
		if m.streams[i].ID == s.ID {
			m.streams[i] = s
			return
		}
	}
	m.streams = append(m.streams, s)
}

func (m *CallModel) remove(id string) {
	for i := range m.streams {
		if m.streams[i].ID == id {
			m.streams = append(m.streams[:i], m.streams[i+1:]...)
			return
		}
	}
}

func (m *CallModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(HeaderStyle.Render(fmt.Sprintf("%s huddle · %s", IconCall, m.roomID)))
	b.WriteString("\n")

	if m.local.PeerID == "" {
		b.WriteString(fmt.Sprintf("%s Joining room...\n", m.spinner.View()))
	} else {
		b.WriteString(m.viewLocal())
		b.WriteString("  " + MutedStyle.Render(utils.FormatCallDuration(time.Since(m.started))))
		b.WriteString("\n\n")
		b.WriteString(ParticipantsView(m.streams))
		b.WriteString("\n")
		if m.capacity > 0 {
			filled := float64(len(m.streams)+1) / float64(m.capacity)
			b.WriteString(fmt.Sprintf("%s %s %d/%d\n", IconPeer, m.occupancy.ViewAs(min(filled, 1)), len(m.streams)+1, m.capacity))
		}
	}

	if m.notice != "" {
		b.WriteString("\n" + WarningStyle.Render(m.notice) + "\n")
	}
	if m.err != nil {
		b.WriteString("\n" + FormatError(m.err) + "\n")
	}
	if m.roomLink != "" {
		b.WriteString("\n" + MutedStyle.Render(fmt.Sprintf("%s %s", IconLink, m.roomLink)))
	}

	b.WriteString("\n" + FooterStyle.Render("m mic · c camera · s share · q leave"))
	return ContainerStyle.Render(b.String())
}

func (m *CallModel) viewLocal() string {
	badge := func(icon, offIcon, name string, on bool) string {
		if on {
			return OnBadgeStyle.Render(icon + " " + name)
		}
		return OffBadgeStyle.Render(offIcon + " " + name)
	}
	return strings.Join([]string{
		badge(IconMic, IconMuted, "mic", m.local.Mic),
		badge(IconCamera, IconCameraOff, "camera", m.local.Camera),
		badge(IconScreen, IconScreen, "share", m.local.Sharing),
	}, " ")
}

func onOff(what string, on bool) string {
	if on {
		return what + " on."
	}
	return what + " off."
}
