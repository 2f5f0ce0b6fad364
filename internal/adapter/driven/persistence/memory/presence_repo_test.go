package memory

import (
	"context"
	"testing"
	"time"

	"github.com/Wyydra/huddle/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenceRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewPresenceRepository()
	now := time.Now()

	require.NoError(t, repo.Save(ctx, "r1", domain.Participant{ID: "b", JoinedAt: now.Add(time.Second)}))
	require.NoError(t, repo.Save(ctx, "r1", domain.Participant{ID: "a", JoinedAt: now}))
	require.NoError(t, repo.Save(ctx, "r1", domain.Participant{ID: "a", JoinedAt: now, Role: domain.RoleHost}))

	list, err := repo.List(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, domain.ParticipantID("a"), list[0].ID)
	assert.Equal(t, domain.RoleHost, list[0].Role)

	require.NoError(t, repo.Remove(ctx, "r1", "a"))
	require.NoError(t, repo.Remove(ctx, "r1", "b"))
	require.NoError(t, repo.Remove(ctx, "nope", "b"))

	list, err = repo.List(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, list)
}
