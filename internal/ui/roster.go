package ui

import (
	"fmt"
	"time"

	"github.com/Wyydra/huddle/internal/client/mesh"
	"github.com/Wyydra/huddle/internal/client/session"
	"github.com/Wyydra/huddle/internal/core/domain"
	"github.com/jedib0t/go-pretty/v6/table"
)

// RosterView renders the room participants as a table, us first.
func RosterView(self session.Snapshot, peers []mesh.PeerView) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ID", "Name", "Video", "Audio", "Link", "Streams"})

	t.AppendRow(table.Row{
		shortID(self.Self),
		"(you)",
		onOff(self.VideoEnabled),
		onOff(self.AudioEnabled),
		string(self.Role),
		presenting(self.Sharing),
	})
	for _, p := range peers {
		name := p.Name
		if name == "" {
			name = "-"
		}
		link := "-"
		streams := ""
		if p.Linked {
			link = fmt.Sprintf("%s/%s", p.Link.Signaling, p.Link.ICE)
			if p.Link.CameraStream != "" {
				streams = IconVideo
			}
			if p.Link.ScreenStream != "" {
				streams += IconScreen
			}
		}
		if p.Presenting && p.Link.ScreenStream == "" {
			streams += presenting(true)
		}
		t.AppendRow(table.Row{shortID(p.ID), name, onOff(p.VideoEnabled), onOff(p.AudioEnabled), link, streams})
	}
	return t.Render()
}

// ChatLine formats one chat message.
func ChatLine(msg domain.ChatMessage, self domain.ParticipantID) string {
	who := msg.PeerName
	if who == "" {
		who = shortID(msg.PeerID)
	}
	if msg.PeerID == self {
		who = "you"
	}
	at := time.UnixMilli(msg.Timestamp).Format("15:04")
	return fmt.Sprintf("%s %s %s %s", MutedStyle.Render(at), IconChat, NameStyle.Render(who+":"), msg.Message)
}

// StateLine formats a session state change.
func StateLine(s session.Snapshot) string {
	switch s.State {
	case session.StateConnected:
		return fmt.Sprintf("%s %s as %s", IconRoom, StatusStyle.Render(string(s.RoomID)), shortID(s.Self))
	case session.StateError:
		return ErrorStyle.Render(fmt.Sprintf("%s %s", IconError, s.Error))
	default:
		return MutedStyle.Render(string(s.State))
	}
}

func shortID(id domain.ParticipantID) string {
	s := id.String()
	if len(s) > 8 {
		return s[:8]
	}
	if s == "" {
		return "-"
	}
	return s
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return IconMuted
}

func presenting(b bool) string {
	if b {
		return IconScreen + " presenting"
	}
	return ""
}
