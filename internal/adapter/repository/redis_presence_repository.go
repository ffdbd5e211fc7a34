package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"marketchat/internal/domain/repository"
	"marketchat/pkg/errors"
)

// typingKeyTTL drops a room's typing hash once nobody has typed for a while.
// Liveness itself is decided by the reader's freshness window.
const typingKeyTTL = 10 * time.Minute

type redisPresenceRepository struct {
	client *redis.Client
}

// NewRedisPresenceRepository keeps typing signals in a hash per room,
// chat:typing:<roomId> → {userId: unix millis}.
func NewRedisPresenceRepository(client *redis.Client) repository.PresenceRepository {
	return &redisPresenceRepository{client: client}
}

func typingKey(roomID string) string {
	return fmt.Sprintf("chat:typing:%s", roomID)
}

func (r *redisPresenceRepository) SetTyping(ctx context.Context, roomID, userID string, at *time.Time) error {
	key := typingKey(roomID)

	if at == nil {
		if err := r.client.HDel(ctx, key, userID).Err(); err != nil {
			return errors.TransientIO("Failed to clear typing signal", err)
		}
		return nil
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, userID, at.UnixMilli())
	pipe.Expire(ctx, key, typingKeyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.TransientIO("Failed to set typing signal", err)
	}
	return nil
}

func (r *redisPresenceRepository) GetTyping(ctx context.Context, roomID string) (map[string]time.Time, error) {
	values, err := r.client.HGetAll(ctx, typingKey(roomID)).Result()
	if err != nil {
		return nil, errors.TransientIO("Failed to read typing signals", err)
	}

	signals := make(map[string]time.Time, len(values))
	for userID, raw := range values {
		millis, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		signals[userID] = time.UnixMilli(millis)
	}
	return signals, nil
}
