package repository

import (
	"context"
	"sync"
	"time"

	"marketchat/internal/domain/repository"
)

type memoryPresenceRepository struct {
	mu     sync.RWMutex
	typing map[string]map[string]time.Time
}

func NewMemoryPresenceRepository() repository.PresenceRepository {
	return &memoryPresenceRepository{typing: make(map[string]map[string]time.Time)}
}

func (r *memoryPresenceRepository) SetTyping(ctx context.Context, roomID, userID string, at *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	signals, ok := r.typing[roomID]
	if !ok {
		signals = make(map[string]time.Time)
		r.typing[roomID] = signals
	}
	if at == nil {
		delete(signals, userID)
		return nil
	}
	signals[userID] = *at
	return nil
}

func (r *memoryPresenceRepository) GetTyping(ctx context.Context, roomID string) (map[string]time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	signals := make(map[string]time.Time, len(r.typing[roomID]))
	for userID, at := range r.typing[roomID] {
		signals[userID] = at
	}
	return signals, nil
}
