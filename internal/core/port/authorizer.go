package port

import "github.com/Wyydra/huddle/internal/core/domain"

// ModerationAuthorizer decides whether actor may send cmd to target.
type ModerationAuthorizer interface {
	CanModerate(actor, target domain.Participant, cmd domain.ModerationCommand) bool
}

// TokenVerifier checks a moderator capability token presented on join.
type TokenVerifier interface {
	Verify(token string, roomID domain.RoomID) (domain.Role, error)
}
