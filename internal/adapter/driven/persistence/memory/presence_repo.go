package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/Wyydra/huddle/internal/core/domain"
)

type PresenceRepository struct {
	mu    sync.Mutex
	rooms map[domain.RoomID]map[domain.ParticipantID]domain.Participant
}

func NewPresenceRepository() *PresenceRepository {
	return &PresenceRepository{
		rooms: make(map[domain.RoomID]map[domain.ParticipantID]domain.Participant),
	}
}

func (r *PresenceRepository) Save(ctx context.Context, roomID domain.RoomID, p domain.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[domain.ParticipantID]domain.Participant)
		r.rooms[roomID] = members
	}
	members[p.ID] = p
	return nil
}

func (r *PresenceRepository) Remove(ctx context.Context, roomID domain.RoomID, id domain.ParticipantID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	delete(members, id)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
	return nil
}

func (r *PresenceRepository) List(ctx context.Context, roomID domain.RoomID) ([]domain.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Participant, 0, len(r.rooms[roomID]))
	for _, p := range r.rooms[roomID] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out, nil
}
