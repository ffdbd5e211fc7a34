package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/repository"
	"marketchat/pkg/errors"
	"marketchat/pkg/feed"
)

type memoryNotificationRepository struct {
	mu            sync.RWMutex
	notifications map[string]*entity.Notification
	changes       *feed.Broadcaster
}

func NewMemoryNotificationRepository() repository.NotificationRepository {
	return &memoryNotificationRepository{
		notifications: make(map[string]*entity.Notification),
		changes:       feed.NewBroadcaster(),
	}
}

func (r *memoryNotificationRepository) Create(ctx context.Context, notification *entity.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if notification.ID == "" {
		notification.ID = uuid.New().String()
	}
	notification.CreatedAt = time.Now()

	stored := *notification
	r.notifications[stored.ID] = &stored
	r.changes.Notify()
	return nil
}

func (r *memoryNotificationRepository) GetByID(ctx context.Context, id string) (*entity.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.notifications[id]
	if !ok {
		return nil, errors.NotFound("Notification", nil)
	}
	c := *n
	return &c, nil
}

func (r *memoryNotificationRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*entity.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var list []*entity.Notification
	for _, n := range r.notifications {
		if n.UserID == userID {
			c := *n
			list = append(list, &c)
		}
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (r *memoryNotificationRepository) WatchByUser(ctx context.Context, userID string, limit int) *feed.Feed[[]*entity.Notification] {
	return feed.Watch(ctx, r.changes, func(ctx context.Context) ([]*entity.Notification, error) {
		return r.ListByUser(ctx, userID, limit)
	})
}

func (r *memoryNotificationRepository) MarkRead(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.notifications[id]
	if !ok {
		return errors.NotFound("Notification", nil)
	}
	n.IsRead = true
	r.changes.Notify()
	return nil
}

func (r *memoryNotificationRepository) MarkAllRead(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, n := range r.notifications {
		if n.UserID == userID {
			n.IsRead = true
		}
	}
	r.changes.Notify()
	return nil
}

func (r *memoryNotificationRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.notifications[id]; !ok {
		return errors.NotFound("Notification", nil)
	}
	delete(r.notifications, id)
	r.changes.Notify()
	return nil
}

func (r *memoryNotificationRepository) UnreadCount(ctx context.Context, userID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, n := range r.notifications {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}
