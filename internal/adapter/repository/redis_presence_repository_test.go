package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketchat/internal/domain/repository"
)

func setupRedisPresence(t *testing.T) (repository.PresenceRepository, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisPresenceRepository(client), mr
}

func TestRedisPresenceRepository_SetAndGet(t *testing.T) {
	ctx := context.Background()
	repo, mr := setupRedisPresence(t)

	at := time.UnixMilli(time.Now().UnixMilli())
	require.NoError(t, repo.SetTyping(ctx, "R", "B", &at))

	signals, err := repo.GetTyping(ctx, "R")
	require.NoError(t, err)
	require.Contains(t, signals, "B")
	assert.True(t, at.Equal(signals["B"]))

	assert.True(t, mr.Exists("chat:typing:R"))
	assert.Equal(t, typingKeyTTL, mr.TTL("chat:typing:R"))
}

func TestRedisPresenceRepository_Clear(t *testing.T) {
	ctx := context.Background()
	repo, _ := setupRedisPresence(t)

	at := time.Now()
	require.NoError(t, repo.SetTyping(ctx, "R", "B", &at))
	require.NoError(t, repo.SetTyping(ctx, "R", "S", &at))
	require.NoError(t, repo.SetTyping(ctx, "R", "B", nil))

	signals, err := repo.GetTyping(ctx, "R")
	require.NoError(t, err)
	assert.NotContains(t, signals, "B")
	assert.Contains(t, signals, "S")
}

func TestRedisPresenceRepository_EmptyRoom(t *testing.T) {
	repo, _ := setupRedisPresence(t)

	signals, err := repo.GetTyping(context.Background(), "nobody-here")
	require.NoError(t, err)
	assert.Empty(t, signals)
}
