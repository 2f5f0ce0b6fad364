package service

import (
	"sort"
	"sync"
	"time"

	"github.com/Wyydra/huddle/internal/core/domain"
	"github.com/rs/zerolog/log"
)

type Room struct {
	ID      domain.RoomID
	members map[domain.ParticipantID]*domain.Participant
}

func (r *Room) sorted() []domain.Participant {
	out := make([]domain.Participant, 0, len(r.members))
	for _, p := range r.members {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

type JoinRequest struct {
	ID           domain.ParticipantID
	RoomID       domain.RoomID
	Name         string
	VideoEnabled bool
	AudioEnabled bool
	Role         domain.Role
}

type JoinResult struct {
	Self     domain.Participant
	Existing []domain.Participant
	// Previous is set when the join implicitly left another room.
	Previous *Departure
}

// Departure describes the effect of a participant leaving its room.
type Departure struct {
	RoomID    domain.RoomID
	Left      domain.Participant
	Remaining []domain.ParticipantID
	Deleted   bool
	NewHost   *domain.Participant
}

// Registry is the in-memory table of rooms and their members. Every
// operation holds the lock for its whole mutation, so each event is applied
// atomically.
type Registry struct {
	mu     sync.Mutex
	rooms  map[domain.RoomID]*Room
	index  map[domain.ParticipantID]domain.RoomID
	now    func() time.Time
	closed bool
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[domain.RoomID]*Room),
		index: make(map[domain.ParticipantID]domain.RoomID),
		now:   time.Now,
	}
}

func (r *Registry) Join(req JoinRequest) JoinResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res JoinResult
	if _, ok := r.index[req.ID]; ok {
		dep := r.leaveLocked(req.ID)
		res.Previous = &dep
	}

	room, ok := r.rooms[req.RoomID]
	if !ok {
		room = &Room{ID: req.RoomID, members: make(map[domain.ParticipantID]*domain.Participant)}
		r.rooms[req.RoomID] = room
		log.Debug().Str("room_id", req.RoomID.String()).Msg("Room created")
	}

	res.Existing = room.sorted()

	role := req.Role
	if role == "" {
		role = domain.RoleMember
	}
	if len(room.members) == 0 {
		role = domain.RoleHost
	}

	p := &domain.Participant{
		ID:           req.ID,
		RoomID:       req.RoomID,
		Name:         domain.NormalizeDisplayName(req.Name),
		VideoEnabled: req.VideoEnabled,
		AudioEnabled: req.AudioEnabled,
		Role:         role,
		JoinedAt:     r.now(),
	}
	room.members[p.ID] = p
	r.index[p.ID] = room.ID
	res.Self = *p

	log.Info().
		Str("room_id", room.ID.String()).
		Str("client_id", p.ID.String()).
		Int("count", len(room.members)).
		Msg("Participant joined room")

	return res
}

// Leave removes id from its room. The bool is false when id was in no room.
func (r *Registry) Leave(id domain.ParticipantID) (Departure, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[id]; !ok {
		return Departure{}, false
	}
	return r.leaveLocked(id), true
}

func (r *Registry) leaveLocked(id domain.ParticipantID) Departure {
	roomID := r.index[id]
	delete(r.index, id)

	dep := Departure{RoomID: roomID}
	room, ok := r.rooms[roomID]
	if !ok {
		dep.Deleted = true
		return dep
	}

	if p, ok := room.members[id]; ok {
		dep.Left = *p
		delete(room.members, id)
	}

	remaining := room.sorted()
	for _, p := range remaining {
		dep.Remaining = append(dep.Remaining, p.ID)
	}

	if len(remaining) == 0 {
		delete(r.rooms, roomID)
		dep.Deleted = true
		log.Debug().Str("room_id", roomID.String()).Msg("Removed empty room")
	} else if dep.Left.Role == domain.RoleHost {
		next := room.members[remaining[0].ID]
		next.Role = domain.RoleHost
		host := *next
		dep.NewHost = &host
	}

	log.Info().
		Str("room_id", roomID.String()).
		Str("client_id", id.String()).
		Int("count", len(remaining)).
		Msg("Participant left room")

	return dep
}

// UpdateMediaState stores the advisory media flags and returns the updated
// record plus the other members of the room.
func (r *Registry) UpdateMediaState(id domain.ParticipantID, video, audio bool) (domain.Participant, []domain.ParticipantID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, p := r.lookupLocked(id)
	if p == nil {
		return domain.Participant{}, nil, false
	}
	p.VideoEnabled = video
	p.AudioEnabled = audio
	return *p, othersOf(room, id), true
}

func (r *Registry) Participant(id domain.ParticipantID) (domain.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, p := r.lookupLocked(id)
	if p == nil {
		return domain.Participant{}, false
	}
	return *p, true
}

// Members returns the room members ordered by join time.
func (r *Registry) Members(roomID domain.RoomID) []domain.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	return room.sorted()
}

// Others returns every member of id's room except id.
func (r *Registry) Others(id domain.ParticipantID) []domain.ParticipantID {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, p := r.lookupLocked(id)
	if p == nil {
		return nil
	}
	return othersOf(room, id)
}

func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Close drops every room. Later joins start from an empty table.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	log.Info().Int("rooms", len(r.rooms)).Msg("Stopping registry")
	r.rooms = make(map[domain.RoomID]*Room)
	r.index = make(map[domain.ParticipantID]domain.RoomID)
}

func (r *Registry) lookupLocked(id domain.ParticipantID) (*Room, *domain.Participant) {
	roomID, ok := r.index[id]
	if !ok {
		return nil, nil
	}
	room, ok := r.rooms[roomID]
	if !ok {
		return nil, nil
	}
	return room, room.members[id]
}

func othersOf(room *Room, id domain.ParticipantID) []domain.ParticipantID {
	var out []domain.ParticipantID
	for _, p := range room.sorted() {
		if p.ID != id {
			out = append(out, p.ID)
		}
	}
	return out
}
