package port

import (
	"context"

	"github.com/Wyydra/huddle/internal/core/domain"
)

// RealTimeGateway delivers envelopes to connected participants. Sending to
// an id that is no longer connected is dropped without error.
type RealTimeGateway interface {
	Send(ctx context.Context, to domain.ParticipantID, env domain.Envelope) error
}
