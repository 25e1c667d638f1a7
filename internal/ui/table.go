package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	prettytable "github.com/jedib0t/go-pretty/v6/table"

	"github.com/Rupam798/VideoConferencing/internal/room"
	"github.com/Rupam798/VideoConferencing/internal/session"
)

const maxNameLen = 24

// ParticipantRows turns the participant list into table cells. pending is
// shown for remote participants whose media has not arrived yet.
func ParticipantRows(list []room.Participant, pending string) [][]string {
	rows := make([][]string, 0, len(list))
	for i, p := range list {
		name := truncateString(p.DisplayName, maxNameLen)
		if name == "" {
			name = MutedStyle.Render(shortID(p.ID))
		}

		media := pending
		switch {
		case p.IsLocal:
			name += " (you)"
			media = "local"
		case p.Stream != nil:
			media = "connected"
		}

		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			name,
			toggleIcon(p.AudioEnabled, IconMic, IconMicOff),
			toggleIcon(p.VideoEnabled, IconCamera, IconCameraOff),
			toggleIcon(p.IsScreenSharing, IconScreen, ""),
			media,
		})
	}
	return rows
}

// ParticipantTable renders the room as a lipgloss table.
func ParticipantTable(list []room.Participant, pending string) string {
	if len(list) == 0 {
		return MutedStyle.Render("Nobody here yet")
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("#", "Name", "Mic", "Camera", "Screen", "Media").
		Rows(ParticipantRows(list, pending)...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row == 0 && list[0].IsLocal:
				return tableCellStyle.Inherit(LocalStyle)
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

// CaptureWarning names the requested devices that did not start, or
// returns "" when local has everything that was asked for.
func CaptureWarning(wantAudio, wantVideo bool, local room.Participant) string {
	var missing []string
	if wantAudio && !local.AudioEnabled {
		missing = append(missing, "microphone")
	}
	if wantVideo && !local.VideoEnabled {
		missing = append(missing, "camera")
	}
	if len(missing) == 0 {
		return ""
	}
	return fmt.Sprintf("Joined without %s: the device could not be started", strings.Join(missing, " and "))
}

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
	content := fmt.Sprintf("%s Room ready\n\n%s Room ID:    %s\n%s Room Link:  %s\n\n%s",
		IconRoom,
		IconCopy, BoldStyle.Foreground(Primary).Render(r.RoomID),
		IconWeb, MutedStyle.Render(r.RoomLink),
		MutedStyle.Render("Others join with: warpcall join "+r.RoomID),
	)
	return RoomBoxStyle.Render(content)
}

// CallSummaryView renders the statistics printed after leaving a call.
func CallSummaryView(sum session.Summary) string {
	status := IconSuccess + " Left"
	if sum.Removed {
		status = IconWarning + " Removed by another participant"
	}

	t := prettytable.NewWriter()
	t.SetTitle(IconCall + " Call Summary")
	t.AppendHeader(prettytable.Row{"Metric", "Value"})
	t.AppendRows([]prettytable.Row{
		{"Room", sum.RoomID},
		{"Status", status},
		{"Duration", formatDuration(sum.Duration)},
		{"Participants met", sum.PeersSeen},
		{"Dropped connections", sum.Failures},
	})
	t.SetStyle(prettytable.StyleRounded)
	return t.Render()
}

func RenderCallSummary(sum session.Summary) {
	fmt.Println(CallSummaryView(sum))
}

func toggleIcon(on bool, yes, no string) string {
	if on {
		return yes
	}
	return no
}

func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return truncateString(id, 8)
}

func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
}
