// Package moderation sends moderation commands and applies the ones
// received from other participants.
package moderation

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Wyydra/huddle/internal/core/domain"
	"github.com/rs/zerolog/log"
)

// KickDelay is the time between receiving a kick and leaving the room.
const KickDelay = 500 * time.Millisecond

var ErrUnknownCommand = errors.New("unknown moderation command")

type Outbox interface {
	Emit(t domain.MessageType, payload any) error
}

type Moderator struct {
	out Outbox
}

func NewModerator(out Outbox) *Moderator {
	return &Moderator{out: out}
}

// Send asks the relay to deliver cmd to target. Delivery is not confirmed.
func (m *Moderator) Send(cmd domain.ModerationCommand, target domain.ParticipantID) error {
	if !cmd.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
	if target == "" {
		return domain.ErrMissingRecipient
	}
	return m.out.Emit(cmd.MessageType(), domain.ModerationRequest{TargetPeerID: target})
}

// Target is what a moderation command acts on.
type Target interface {
	SetAudioEnabled(enabled bool) error
	SetVideoEnabled(enabled bool) error
	Leave() error
}

type Handler struct {
	target Target
	delay  time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

type Option func(*Handler)

func WithKickDelay(d time.Duration) Option {
	return func(h *Handler) { h.delay = d }
}

func NewHandler(target Target, opts ...Option) *Handler {
	h := &Handler{target: target, delay: KickDelay}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Apply carries out a command received from another participant. A kick
// leaves the room after the kick delay.
func (h *Handler) Apply(cmd domain.ModerationCommand, from domain.ParticipantID) error {
	logger := log.With().Str("command", string(cmd)).Str("from", from.String()).Logger()
	logger.Info().Msg("Moderation received")

	switch cmd {
	case domain.CommandMute:
		return h.target.SetAudioEnabled(false)
	case domain.CommandUnmute:
		return h.target.SetAudioEnabled(true)
	case domain.CommandDisableVideo:
		return h.target.SetVideoEnabled(false)
	case domain.CommandEnableVideo:
		return h.target.SetVideoEnabled(true)
	case domain.CommandKick:
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.timer != nil {
			return nil
		}
		h.timer = time.AfterFunc(h.delay, func() {
			h.mu.Lock()
			h.timer = nil
			h.mu.Unlock()
			if err := h.target.Leave(); err != nil {
				logger.Warn().Err(err).Msg("Leaving after kick")
			}
		})
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
}

// Stop cancels a pending kick.
func (h *Handler) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}
