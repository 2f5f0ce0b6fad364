package http

import (
	"net/http"

	"github.com/Wyydra/huddle/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/huddle/internal/core/domain"
	"github.com/rs/zerolog/log"
)

// ServeWS upgrades the request and attaches the connection to the hub. The
// participant id lives exactly as long as the connection.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	client := ws.NewClient(domain.NewParticipantID(), conn)
	log.Info().Str("client_id", client.ID().String()).Str("remote", r.RemoteAddr).Msg("New client connected")

	h.Hub.Register(client)

	go client.WritePump()
	go client.ReadPump(h.Hub)
}
