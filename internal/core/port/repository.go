package port

import (
	"context"

	"github.com/Wyydra/huddle/internal/core/domain"
)

// PresenceRepository mirrors room membership outside the process so other
// services can see who is in a room. The registry stays the source of truth.
type PresenceRepository interface {
	Save(ctx context.Context, roomID domain.RoomID, p domain.Participant) error
	Remove(ctx context.Context, roomID domain.RoomID, id domain.ParticipantID) error
	List(ctx context.Context, roomID domain.RoomID) ([]domain.Participant, error)
}
