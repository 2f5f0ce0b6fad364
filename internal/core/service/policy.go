package service

import (
	"fmt"

	"github.com/Wyydra/huddle/internal/core/domain"
	"github.com/Wyydra/huddle/internal/core/port"
)

const (
	PolicyOpen = "open"
	PolicyHost = "host"
)

// OpenPolicy lets any participant moderate any other.
type OpenPolicy struct{}

func (OpenPolicy) CanModerate(actor, target domain.Participant, cmd domain.ModerationCommand) bool {
	return true
}

// HostPolicy only lets the room host and token-holding moderators act, and
// only on members of their own room.
type HostPolicy struct{}

func (HostPolicy) CanModerate(actor, target domain.Participant, cmd domain.ModerationCommand) bool {
	if actor.ID == "" || target.ID == "" || actor.RoomID != target.RoomID {
		return false
	}
	if !actor.Role.CanModerate() {
		return false
	}
	// a moderator cannot kick the host out of the room
	if cmd == domain.CommandKick && target.Role == domain.RoleHost && actor.Role != domain.RoleHost {
		return false
	}
	return true
}

func PolicyByName(name string) (port.ModerationAuthorizer, error) {
	switch name {
	case PolicyOpen:
		return OpenPolicy{}, nil
	case PolicyHost, "":
		return HostPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown moderation policy %q", name)
	}
}
