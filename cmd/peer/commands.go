package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Wyydra/huddle/internal/client/mesh"
	"github.com/Wyydra/huddle/internal/client/session"
	"github.com/Wyydra/huddle/internal/core/domain"
	"github.com/Wyydra/huddle/internal/ui"
)

const helpText = `commands:
  /mute <peer>  /unmute <peer>  /video-off <peer>  /video-on <peer>  /kick <peer>
  /mic on|off   /cam on|off     /share  /unshare   /peers  /leave  /help
anything else is sent as chat`

type command struct {
	name string
	arg  string
	text string
}

var errUsage = errors.New("usage")

// parseCommand splits an input line into a command. Lines not starting with
// a slash are chat.
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{name: "chat", text: line}, nil
	}
	fields := strings.Fields(line[1:])
	if len(fields) == 0 {
		return command{}, fmt.Errorf("%w: empty command", errUsage)
	}
	c := command{name: fields[0]}
	if len(fields) > 1 {
		c.arg = fields[1]
	}

	switch c.name {
	case "mute", "unmute", "video-off", "video-on", "kick":
		if c.arg == "" {
			return command{}, fmt.Errorf("%w: /%s <peer>", errUsage, c.name)
		}
	case "mic", "cam":
		if c.arg != "on" && c.arg != "off" {
			return command{}, fmt.Errorf("%w: /%s on|off", errUsage, c.name)
		}
	case "share", "unshare", "peers", "leave", "help":
	default:
		return command{}, fmt.Errorf("%w: unknown command /%s", errUsage, c.name)
	}
	return c, nil
}

var moderationCommands = map[string]domain.ModerationCommand{
	"mute":      domain.CommandMute,
	"unmute":    domain.CommandUnmute,
	"video-off": domain.CommandDisableVideo,
	"video-on":  domain.CommandEnableVideo,
	"kick":      domain.CommandKick,
}

// resolvePeer finds a participant by id prefix or exact display name.
func resolvePeer(peers []mesh.PeerView, ref string) (domain.ParticipantID, error) {
	var matches []domain.ParticipantID
	for _, p := range peers {
		if p.Name == ref || strings.HasPrefix(p.ID.String(), ref) {
			matches = append(matches, p.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no participant matches %q", ref)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%q matches %d participants", ref, len(matches))
	}
}

type repl struct {
	s *session.Session
	p *ui.Printer
}

// handle runs one input line and reports whether the user asked to leave.
func (r *repl) handle(ctx context.Context, line string) bool {
	c, err := parseCommand(line)
	if err != nil {
		r.p.Error("%v", err)
		return false
	}

	switch c.name {
	case "chat":
		if c.text == "" {
			return false
		}
		err = r.s.SendChat(c.text)
	case "mic":
		err = r.s.SetAudioEnabled(c.arg == "on")
	case "cam":
		err = r.s.SetVideoEnabled(c.arg == "on")
	case "share":
		err = r.s.StartScreenShare(ctx)
	case "unshare":
		err = r.s.StopScreenShare(ctx)
	case "peers":
		r.p.Line(ui.RosterView(r.s.Snapshot(), r.s.Peers()))
	case "help":
		r.p.Line(helpText)
	case "leave":
		if err := r.s.Leave(); err != nil {
			r.p.Error("%v", err)
		}
		return true
	default:
		var target domain.ParticipantID
		target, err = resolvePeer(r.s.Peers(), c.arg)
		if err == nil {
			err = r.s.Moderate(moderationCommands[c.name], target)
		}
	}
	if err != nil {
		r.p.Error("%v", err)
	}
	return false
}
