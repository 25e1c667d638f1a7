package ui

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Rupam798/VideoConferencing/internal/callerr"
	"github.com/Rupam798/VideoConferencing/internal/room"
	"github.com/Rupam798/VideoConferencing/internal/session"
)

type fakeStream string

func (s fakeStream) StreamID() string { return string(s) }

type fakeCall struct {
	calls []string
	err   error
	done  chan struct{}
}

func newFakeCall() *fakeCall { return &fakeCall{done: make(chan struct{})} }

func (c *fakeCall) ToggleAudio(context.Context) (bool, error) {
	c.calls = append(c.calls, "audio")
	return true, c.err
}

func (c *fakeCall) ToggleVideo(context.Context) (bool, error) {
	c.calls = append(c.calls, "video")
	return true, c.err
}

func (c *fakeCall) StartScreenShare(context.Context) error {
	c.calls = append(c.calls, "share")
	return c.err
}

func (c *fakeCall) StopScreenShare(context.Context) error {
	c.calls = append(c.calls, "unshare")
	return c.err
}

func (c *fakeCall) Leave(context.Context) error {
	c.calls = append(c.calls, "leave")
	return nil
}

func (c *fakeCall) Done() <-chan struct{} { return c.done }

func press(t *testing.T, m *roomModel, key string) tea.Msg {
	t.Helper()
	var msg tea.KeyMsg
	switch key {
	case "ctrl+c":
		msg = tea.KeyMsg{Type: tea.KeyCtrlC}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
	_, cmd := m.Update(msg)
	if cmd == nil {
		return nil
	}
	return cmd()
}

func newModel(call Call) *roomModel {
	m := NewRoomUI(NewRoomInfo("amber-fox", "https://example.test/r/amber-fox")).model
	m.call = call
	return m
}

func TestParticipantRows(t *testing.T) {
	list := []room.Participant{
		{ID: "a", DisplayName: "Alice", IsLocal: true, AudioEnabled: true, VideoEnabled: true},
		{ID: "b", DisplayName: "Bob", Stream: fakeStream("s1"), IsScreenSharing: true},
		{ID: "c1d2-e3", AudioEnabled: true},
	}

	rows := ParticipantRows(list, "wait")
	if len(rows) != 3 {
		t.Fatalf("rows = %d", len(rows))
	}

	tests := []struct {
		row, col int
		want     string
	}{
		{0, 1, "Alice (you)"},
		{0, 2, IconMic},
		{0, 5, "local"},
		{1, 2, IconMicOff},
		{1, 3, IconCameraOff},
		{1, 4, IconScreen},
		{1, 5, "connected"},
		{2, 5, "wait"},
	}
	for _, tt := range tests {
		if got := rows[tt.row][tt.col]; got != tt.want {
			t.Errorf("rows[%d][%d] = %q, want %q", tt.row, tt.col, got, tt.want)
		}
	}
	if !strings.Contains(rows[2][1], "c1d2") {
		t.Errorf("unnamed participant shown as %q", rows[2][1])
	}
}

func TestTruncateString(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"a rather long name", 10, "a rathe..."},
		{"héllo wörld", 8, "héllo..."},
		{"abcdef", 2, "ab"},
	}
	for _, tt := range tests {
		if got := truncateString(tt.in, tt.max); got != tt.want {
			t.Errorf("truncateString(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{400 * time.Millisecond, "0s"},
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m05s"},
		{2*time.Hour + 7*time.Minute, "2h07m"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRoomKeys(t *testing.T) {
	call := newFakeCall()
	m := newModel(call)

	if msg := press(t, m, "m"); msg != (actionMsg{action: "Toggling microphone"}) {
		t.Fatalf("m produced %#v", msg)
	}
	if !m.busy {
		t.Fatalf("action not marked busy")
	}
	if msg := press(t, m, "v"); msg != nil {
		t.Fatalf("key accepted while busy: %#v", msg)
	}

	m.Update(actionMsg{action: "Toggling microphone"})
	press(t, m, "v")
	m.Update(actionMsg{})
	press(t, m, "s")
	m.Update(actionMsg{})

	m.Update(participantsMsg{{ID: "a", IsLocal: true, IsScreenSharing: true}})
	press(t, m, "s")
	m.Update(actionMsg{})

	want := []string{"audio", "video", "share", "unshare"}
	if strings.Join(call.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("calls = %v, want %v", call.calls, want)
	}
}

func TestRoomLeave(t *testing.T) {
	call := newFakeCall()
	m := newModel(call)

	if msg := press(t, m, "q"); msg != (endedMsg{}) {
		t.Fatalf("q produced %#v", msg)
	}
	if msg := press(t, m, "ctrl+c"); msg != nil {
		t.Fatalf("second leave produced %#v", msg)
	}
	if len(call.calls) != 1 || call.calls[0] != "leave" {
		t.Fatalf("calls = %v", call.calls)
	}

	_, cmd := m.Update(endedMsg{})
	if cmd == nil {
		t.Fatalf("ended call did not quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("ended call did not quit")
	}
	if m.View() != "" {
		t.Fatalf("view after quit = %q", m.View())
	}
}

func TestRoomErrors(t *testing.T) {
	call := newFakeCall()
	call.err = callerr.New("screen share", callerr.ErrPermissionDenied)
	m := newModel(call)

	m.Update(press(t, m, "s"))
	if m.busy || m.lastErr != callerr.Message(call.err) {
		t.Fatalf("lastErr = %q busy = %v", m.lastErr, m.busy)
	}
	if !strings.Contains(m.View(), m.lastErr) {
		t.Fatalf("error not rendered")
	}

	m.Update(errorMsg{callerr.New("capture", callerr.ErrDeviceNotFound)})
	if m.lastErr != callerr.Message(callerr.ErrDeviceNotFound) {
		t.Fatalf("lastErr = %q", m.lastErr)
	}
}

func TestParticipantsKeepsLatest(t *testing.T) {
	u := NewRoomUI(NewRoomInfo("r", "l"))
	u.Participants([]room.Participant{{ID: "a"}})
	u.Participants([]room.Participant{{ID: "a"}, {ID: "b"}})

	got := <-u.updates
	if len(got) != 2 {
		t.Fatalf("got %d participants, want latest list", len(got))
	}
	for range 20 {
		u.ReportError(callerr.ErrUnsupported)
	}
}

func TestCallSummaryView(t *testing.T) {
	out := CallSummaryView(session.Summary{
		RoomID:    "amber-fox",
		Duration:  90 * time.Second,
		PeersSeen: 3,
		Removed:   true,
	})
	for _, want := range []string{"amber-fox", "1m30s", "3", "Removed"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestCaptureWarning(t *testing.T) {
	tests := []struct {
		name         string
		audio, video bool
		local        room.Participant
		want         string
	}{
		{"all started", true, true, room.Participant{AudioEnabled: true, VideoEnabled: true}, ""},
		{"camera not requested", true, false, room.Participant{AudioEnabled: true}, ""},
		{"no camera", true, true, room.Participant{AudioEnabled: true}, "camera"},
		{"nothing", true, true, room.Participant{}, "microphone and camera"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CaptureWarning(tt.audio, tt.video, tt.local)
			if tt.want == "" {
				if got != "" {
					t.Fatalf("got %q, want no warning", got)
				}
				return
			}
			if !strings.Contains(got, "without "+tt.want) {
				t.Fatalf("got %q, want it to mention %q", got, tt.want)
			}
		})
	}
}

func TestRoomHeaderCountsParticipants(t *testing.T) {
	m := newModel(newFakeCall())
	m.Update(participantsMsg{{ID: "a", IsLocal: true}, {ID: "b"}, {ID: "c"}})
	if !strings.Contains(m.View(), IconPeer+" 3") {
		t.Fatalf("header missing participant count:\n%s", m.View())
	}
}
