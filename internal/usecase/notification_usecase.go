package usecase

import (
	"context"
	"strings"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/repository"
	"marketchat/pkg/errors"
	"marketchat/pkg/feed"
)

const defaultNotificationLimit = 50

// NotificationUseCase is the notification store behind the chat service's
// dispatcher and the notification routes.
type NotificationUseCase struct {
	notificationRepo repository.NotificationRepository
}

func NewNotificationUseCase(notificationRepo repository.NotificationRepository) *NotificationUseCase {
	return &NotificationUseCase{
		notificationRepo: notificationRepo,
	}
}

// Notify records a notification for receiverID and returns its id.
func (uc *NotificationUseCase) Notify(ctx context.Context, receiverID string, payload entity.NotificationPayload) (string, error) {
	if strings.TrimSpace(receiverID) == "" {
		return "", errors.BadRequest("Notification receiver is required", nil)
	}

	notification := &entity.Notification{
		UserID: receiverID,
		Type:   payload.Type,
		Title:  payload.Title,
		Body:   payload.Body,
		Link:   payload.Link,
	}
	if err := uc.notificationRepo.Create(ctx, notification); err != nil {
		return "", err
	}

	return notification.ID, nil
}

func (uc *NotificationUseCase) List(ctx context.Context, userID string, limit int) ([]*entity.Notification, error) {
	return uc.notificationRepo.ListByUser(ctx, userID, notificationLimit(limit))
}

func (uc *NotificationUseCase) Watch(ctx context.Context, userID string) *feed.Feed[[]*entity.Notification] {
	return uc.notificationRepo.WatchByUser(ctx, userID, defaultNotificationLimit)
}

func (uc *NotificationUseCase) UnreadCount(ctx context.Context, userID string) (int, error) {
	return uc.notificationRepo.UnreadCount(ctx, userID)
}

func (uc *NotificationUseCase) MarkRead(ctx context.Context, userID, notificationID string) error {
	if _, err := uc.owned(ctx, userID, notificationID); err != nil {
		return err
	}
	return uc.notificationRepo.MarkRead(ctx, notificationID)
}

func (uc *NotificationUseCase) MarkAllRead(ctx context.Context, userID string) error {
	return uc.notificationRepo.MarkAllRead(ctx, userID)
}

func (uc *NotificationUseCase) Delete(ctx context.Context, userID, notificationID string) error {
	if _, err := uc.owned(ctx, userID, notificationID); err != nil {
		return err
	}
	return uc.notificationRepo.Delete(ctx, notificationID)
}

func (uc *NotificationUseCase) owned(ctx context.Context, userID, notificationID string) (*entity.Notification, error) {
	notification, err := uc.notificationRepo.GetByID(ctx, notificationID)
	if err != nil {
		return nil, err
	}
	if notification.UserID != userID {
		return nil, errors.NotFound("Notification", nil)
	}
	return notification, nil
}

func notificationLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return defaultNotificationLimit
	}
	return limit
}
