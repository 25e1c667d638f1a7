package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Rupam798/VideoConferencing/internal/callerr"
	"github.com/Rupam798/VideoConferencing/internal/room"
)

const actionTimeout = 15 * time.Second

// Call is the part of a call session the room view drives.
type Call interface {
	ToggleAudio(ctx context.Context) (bool, error)
	ToggleVideo(ctx context.Context) (bool, error)
	StartScreenShare(ctx context.Context) error
	StopScreenShare(ctx context.Context) error
	Leave(ctx context.Context) error
	Done() <-chan struct{}
}

type participantsMsg []room.Participant

type errorMsg struct{ err error }

type actionMsg struct {
	action string
	err    error
}

type endedMsg struct{}

type clockMsg time.Time

// RoomUI runs the live room view. Participants and ReportError may be
// called from the call loop; they never block.
type RoomUI struct {
	model   *roomModel
	updates chan []room.Participant
	errs    chan error
}

func NewRoomUI(info *RoomInfo) *RoomUI {
	updates := make(chan []room.Participant, 1)
	errs := make(chan error, 16)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &RoomUI{
		model: &roomModel{
			info:    info,
			spinner: s,
			updates: updates,
			errs:    errs,
			started: time.Now(),
			now:     time.Now(),
		},
		updates: updates,
		errs:    errs,
	}
}

// Participants replaces the displayed list. Only the latest list is kept.
func (u *RoomUI) Participants(list []room.Participant) {
	select {
	case <-u.updates:
	default:
	}
	select {
	case u.updates <- list:
	default:
	}
}

// ReportError shows err in the status line. Errors are dropped when the
// view is behind.
func (u *RoomUI) ReportError(err error) {
	select {
	case u.errs <- err:
	default:
	}
}

// Run drives call until the user leaves or the call ends.
func (u *RoomUI) Run(call Call) error {
	u.model.call = call
	_, err := tea.NewProgram(u.model).Run()
	return err
}

type roomModel struct {
	call    Call
	info    *RoomInfo
	spinner spinner.Model
	updates chan []room.Participant
	errs    chan error

	participants []room.Participant
	status       string
	lastErr      string
	busy         bool
	leaving      bool
	quitting     bool
	started      time.Time
	now          time.Time
}

func (m *roomModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.listenParticipants(),
		m.listenErrors(),
		m.waitEnded(),
		clockTick(),
	)
}

func (m *roomModel) listenParticipants() tea.Cmd {
	return func() tea.Msg {
		return participantsMsg(<-m.updates)
	}
}

func (m *roomModel) listenErrors() tea.Cmd {
	return func() tea.Msg {
		return errorMsg{<-m.errs}
	}
}

func (m *roomModel) waitEnded() tea.Cmd {
	return func() tea.Msg {
		<-m.call.Done()
		return endedMsg{}
	}
}

func clockTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return clockMsg(t)
	})
}

func (m *roomModel) run(action string, f func(ctx context.Context) error) tea.Cmd {
	m.busy = true
	m.status = action + "..."
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		return actionMsg{action: action, err: f(ctx)}
	}
}

func (m *roomModel) local() (room.Participant, bool) {
	for _, p := range m.participants {
		if p.IsLocal {
			return p, true
		}
	}
	return room.Participant{}, false
}

func (m *roomModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.key(msg.String())

	case participantsMsg:
		m.participants = msg
		return m, m.listenParticipants()

	case errorMsg:
		m.lastErr = callerr.Message(msg.err)
		return m, m.listenErrors()

	case actionMsg:
		m.busy = false
		m.status = ""
		if msg.err != nil {
			m.lastErr = callerr.Message(msg.err)
		}
		return m, nil

	case endedMsg:
		m.quitting = true
		return m, tea.Quit

	case clockMsg:
		m.now = time.Time(msg)
		if m.quitting {
			return m, nil
		}
		return m, clockTick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *roomModel) key(k string) (tea.Model, tea.Cmd) {
	switch k {
	case "q", "ctrl+c":
		if m.leaving {
			return m, nil
		}
		m.leaving = true
		m.status = "Leaving..."
		return m, func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
			defer cancel()
			m.call.Leave(ctx)
			return endedMsg{}
		}
	}

	if m.busy || m.leaving {
		return m, nil
	}
	m.lastErr = ""

	switch k {
	case "m":
		return m, m.run("Toggling microphone", func(ctx context.Context) error {
			_, err := m.call.ToggleAudio(ctx)
			return err
		})
	case "v":
		return m, m.run("Toggling camera", func(ctx context.Context) error {
			_, err := m.call.ToggleVideo(ctx)
			return err
		})
	case "s":
		if p, ok := m.local(); ok && p.IsScreenSharing {
			return m, m.run("Stopping screen share", m.call.StopScreenShare)
		}
		return m, m.run("Starting screen share", m.call.StartScreenShare)
	}
	return m, nil
}

func (m *roomModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	title := fmt.Sprintf("%s Room %s", IconCall, m.info.RoomID)
	b.WriteString(HeaderStyle.Render(title))
	b.WriteString(" " + StatusStyle.Render(fmt.Sprintf("%s %d", IconPeer, len(m.participants))))
	b.WriteString(MutedStyle.Render(fmt.Sprintf("  %s %s", IconTime, formatDuration(m.now.Sub(m.started)))))
	b.WriteString("\n")

	b.WriteString(ParticipantTable(m.participants, m.spinner.View()+" connecting"))
	b.WriteString("\n")

	if m.status != "" {
		b.WriteString(fmt.Sprintf("%s %s\n", m.spinner.View(), m.status))
	}
	if m.lastErr != "" {
		b.WriteString(fmt.Sprintf("%s %s\n", ErrorStyle.Render(IconError), ErrorStyle.Render(m.lastErr)))
	}

	b.WriteString(FooterStyle.Render("m mic • v camera • s screen share • q leave"))
	return b.String()
}
