package port

import "github.com/Wyydra/huddle/internal/core/domain"

type Client interface {
	ID() domain.ParticipantID
	Send(env domain.Envelope) error
	Close() error
}
