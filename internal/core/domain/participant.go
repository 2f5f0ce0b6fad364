package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

const MaxDisplayNameLength = 64

type Role string

const (
	RoleHost      Role = "host"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
)

// CanModerate reports whether the role may issue moderation commands under
// the host policy.
func (r Role) CanModerate() bool {
	return r == RoleHost || r == RoleModerator
}

// Participant is the registry record for one room member. The media flags
// are reported by the client and never verified against real track state.
type Participant struct {
	ID           ParticipantID
	RoomID       RoomID
	Name         string
	VideoEnabled bool
	AudioEnabled bool
	Role         Role
	JoinedAt     time.Time
}

func (p Participant) Info() PeerInfo {
	return PeerInfo{
		ID:           p.ID,
		Name:         p.Name,
		VideoEnabled: p.VideoEnabled,
		AudioEnabled: p.AudioEnabled,
	}
}

// NormalizeDisplayName trims the name and cuts it to MaxDisplayNameLength runes.
func NormalizeDisplayName(name string) string {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) <= MaxDisplayNameLength {
		return name
	}
	runes := []rune(name)
	return strings.TrimSpace(string(runes[:MaxDisplayNameLength]))
}
