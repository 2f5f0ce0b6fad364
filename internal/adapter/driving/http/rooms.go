package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Wyydra/huddle/internal/core/domain"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type participantDTO struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	Role         string    `json:"role"`
	VideoEnabled bool      `json:"videoEnabled"`
	AudioEnabled bool      `json:"audioEnabled"`
	JoinedAt     time.Time `json:"joinedAt"`
}

type roomDTO struct {
	RoomID       string           `json:"roomId"`
	Participants []participantDTO `json:"participants"`
}

// GetRoom reports the current members of a room from the presence mirror.
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	roomID, err := domain.NewRoomID(chi.URLParam(r, "roomID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	members, err := h.Presence.List(r.Context(), roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("Failed to list presence")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load room"})
		return
	}
	if len(members) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "room not found"})
		return
	}

	dto := roomDTO{RoomID: roomID.String(), Participants: make([]participantDTO, 0, len(members))}
	for _, p := range members {
		dto.Participants = append(dto.Participants, participantDTO{
			ID:           p.ID.String(),
			Name:         p.Name,
			Role:         string(p.Role),
			VideoEnabled: p.VideoEnabled,
			AudioEnabled: p.AudioEnabled,
			JoinedAt:     p.JoinedAt,
		})
	}
	writeJSON(w, http.StatusOK, dto)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}
