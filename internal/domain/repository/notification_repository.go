package repository

import (
	"context"

	"marketchat/internal/domain/entity"
	"marketchat/pkg/feed"
)

type NotificationRepository interface {
	Create(ctx context.Context, notification *entity.Notification) error
	GetByID(ctx context.Context, id string) (*entity.Notification, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*entity.Notification, error)
	WatchByUser(ctx context.Context, userID string, limit int) *feed.Feed[[]*entity.Notification]
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context, userID string) error
	Delete(ctx context.Context, id string) error
	UnreadCount(ctx context.Context, userID string) (int, error)
}
