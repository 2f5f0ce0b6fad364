package ws

import (
	"context"
	"sync"

	"github.com/Wyydra/huddle/internal/core/domain"
	"github.com/Wyydra/huddle/internal/core/port"
	"github.com/rs/zerolog/log"
)

// Dispatcher receives the envelopes read from every connection, one at a time.
type Dispatcher interface {
	Handle(ctx context.Context, from domain.ParticipantID, env domain.Envelope) error
	Disconnect(ctx context.Context, from domain.ParticipantID)
}

type inbound struct {
	from domain.ParticipantID
	env  domain.Envelope
}

// Hub owns the table of live connections and serializes all inbound traffic
// through Run. It implements port.RealTimeGateway.
type Hub struct {
	mu         sync.RWMutex
	clients    map[domain.ParticipantID]port.Client
	register   chan port.Client
	unregister chan port.Client
	inbound    chan inbound
	quit       chan struct{}
	stopOnce   sync.Once
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[domain.ParticipantID]port.Client),
		register:   make(chan port.Client),
		unregister: make(chan port.Client),
		inbound:    make(chan inbound),
		quit:       make(chan struct{}),
	}
}

// Send delivers env to the participant if it is still connected.
func (h *Hub) Send(ctx context.Context, to domain.ParticipantID, env domain.Envelope) error {
	h.mu.RLock()
	client, ok := h.clients[to]
	h.mu.RUnlock()

	if !ok {
		log.Debug().Str("client_id", to.String()).Str("type", string(env.Type)).Msg("Recipient gone, dropping envelope")
		return nil
	}
	return client.Send(env)
}

func (h *Hub) Run(d Dispatcher) {
	ctx := context.Background()
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for id, client := range h.clients {
				if err := client.Close(); err != nil {
					log.Error().Err(err).Str("client_id", id.String()).Msg("Error closing client connection")
				}
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID()] = client
			count := len(h.clients)
			h.mu.Unlock()
			log.Info().Str("client_id", client.ID().String()).Int("count", count).Msg("Client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client.ID()]
			delete(h.clients, client.ID())
			h.mu.Unlock()
			if ok {
				d.Disconnect(ctx, client.ID())
				client.Close()
				log.Info().Str("client_id", client.ID().String()).Msg("Client unregistered")
			}

		case msg := <-h.inbound:
			h.mu.RLock()
			_, ok := h.clients[msg.from]
			h.mu.RUnlock()
			if !ok {
				continue
			}
			if err := d.Handle(ctx, msg.from, msg.env); err != nil {
				log.Debug().Err(err).Str("client_id", msg.from.String()).Str("type", string(msg.env.Type)).Msg("Envelope rejected")
			}
		}
	}
}

func (h *Hub) Register(c port.Client) {
	select {
	case h.register <- c:
	case <-h.quit:
		c.Close()
	}
}

func (h *Hub) Unregister(c port.Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

// Dispatch hands an envelope read from a connection to the Run loop.
func (h *Hub) Dispatch(from domain.ParticipantID, env domain.Envelope) {
	select {
	case h.inbound <- inbound{from: from, env: env}:
	case <-h.quit:
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.quit)
	})
}
