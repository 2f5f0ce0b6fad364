package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/Wyydra/huddle/internal/core/domain"
	"github.com/redis/go-redis/v9"
)

type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// PresenceRepository mirrors room membership into a Redis hash per room,
// keyed room:<id>:peers. Keys expire after TTL so a crashed server does not
// leave stale rooms behind forever.
type PresenceRepository struct {
	client *redis.Client
	ttl    time.Duration
}

type record struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	VideoEnabled bool      `json:"videoEnabled"`
	AudioEnabled bool      `json:"audioEnabled"`
	Role         string    `json:"role"`
	JoinedAt     time.Time `json:"joinedAt"`
}

// Connect opens the client and checks the server answers.
func Connect(ctx context.Context, opts Options) (*PresenceRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewPresenceRepository(client, opts.TTL), nil
}

func NewPresenceRepository(client *redis.Client, ttl time.Duration) *PresenceRepository {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &PresenceRepository{client: client, ttl: ttl}
}

func peersKey(roomID domain.RoomID) string {
	return "room:" + roomID.String() + ":peers"
}

func (r *PresenceRepository) Save(ctx context.Context, roomID domain.RoomID, p domain.Participant) error {
	data, err := json.Marshal(record{
		ID:           p.ID.String(),
		Name:         p.Name,
		VideoEnabled: p.VideoEnabled,
		AudioEnabled: p.AudioEnabled,
		Role:         string(p.Role),
		JoinedAt:     p.JoinedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal presence: %w", err)
	}

	key := peersKey(roomID)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, p.ID.String(), data)
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save presence: %w", err)
	}
	return nil
}

func (r *PresenceRepository) Remove(ctx context.Context, roomID domain.RoomID, id domain.ParticipantID) error {
	if err := r.client.HDel(ctx, peersKey(roomID), id.String()).Err(); err != nil {
		return fmt.Errorf("remove presence: %w", err)
	}
	return nil
}

func (r *PresenceRepository) List(ctx context.Context, roomID domain.RoomID) ([]domain.Participant, error) {
	entries, err := r.client.HGetAll(ctx, peersKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list presence: %w", err)
	}

	out := make([]domain.Participant, 0, len(entries))
	for _, raw := range entries {
		var rec record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode presence: %w", err)
		}
		out = append(out, domain.Participant{
			ID:           domain.ParticipantID(rec.ID),
			RoomID:       roomID,
			Name:         rec.Name,
			VideoEnabled: rec.VideoEnabled,
			AudioEnabled: rec.AudioEnabled,
			Role:         domain.Role(rec.Role),
			JoinedAt:     rec.JoinedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out, nil
}

func (r *PresenceRepository) Close() error {
	return r.client.Close()
}
