package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-relay/internal/models"
)

func TestMemoryPresenceLifecycle(t *testing.T) {
	repo := NewMemoryPresenceRepo()
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return clock }
	ctx := context.Background()

	require.NoError(t, repo.SetOnline(ctx, bob))
	require.NoError(t, repo.SetOnline(ctx, alice))

	snap, err := repo.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 2)
	assert.Equal(t, "u1", snap[0].ID)
	assert.Equal(t, models.StatusOnline, snap[0].Status)
	assert.Equal(t, "u2", snap[1].ID)

	clock = clock.Add(time.Minute)
	require.NoError(t, repo.SetOffline(ctx, alice))

	snap, err = repo.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOffline, snap[0].Status)
	assert.Equal(t, clock, snap[0].LastSeen)
	assert.Equal(t, models.StatusOnline, snap[1].Status)
}

func TestMemoryPresenceRefreshesIdentity(t *testing.T) {
	repo := NewMemoryPresenceRepo()
	ctx := context.Background()

	require.NoError(t, repo.SetOnline(ctx, alice))
	renamed := alice
	renamed.Name = "Alice B."
	require.NoError(t, repo.SetOnline(ctx, renamed))

	snap, err := repo.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.Equal(t, "Alice B.", snap[0].Name)
}

func TestMemoryPresenceReset(t *testing.T) {
	repo := NewMemoryPresenceRepo()
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return clock }
	ctx := context.Background()

	require.NoError(t, repo.SetOnline(ctx, alice))
	require.NoError(t, repo.SetOffline(ctx, bob))

	clock = clock.Add(time.Hour)
	require.NoError(t, repo.Reset(ctx))

	snap, err := repo.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 2)
	assert.Equal(t, models.StatusOffline, snap[0].Status)
	assert.Equal(t, clock, snap[0].LastSeen)
	assert.Equal(t, models.StatusOffline, snap[1].Status)
	assert.Equal(t, clock.Add(-time.Hour), snap[1].LastSeen)
}
