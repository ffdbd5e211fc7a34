package service

import (
	"context"

	"marketchat/internal/domain/entity"
)

// NotificationDispatcher records a notification for a user and returns its id.
type NotificationDispatcher interface {
	Notify(ctx context.Context, receiverID string, payload entity.NotificationPayload) (string, error)
}
