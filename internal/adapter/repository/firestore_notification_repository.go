package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/repository"
	"marketchat/pkg/errors"
	"marketchat/pkg/feed"
	"marketchat/pkg/logger"
)

const notificationsCollection = "notifications"

type firestoreNotificationRepository struct {
	client *firestore.Client
}

func NewFirestoreNotificationRepository(client *firestore.Client) repository.NotificationRepository {
	return &firestoreNotificationRepository{
		client: client,
	}
}

func (r *firestoreNotificationRepository) notifications() *firestore.CollectionRef {
	return r.client.Collection(notificationsCollection)
}

func (r *firestoreNotificationRepository) Create(ctx context.Context, notification *entity.Notification) error {
	ref := r.notifications().NewDoc()
	if notification.ID != "" {
		ref = r.notifications().Doc(notification.ID)
	}
	notification.ID = ref.ID
	notification.CreatedAt = time.Now()

	if _, err := ref.Set(ctx, notification); err != nil {
		return errors.TransientIO("Failed to create notification", err)
	}
	return nil
}

func (r *firestoreNotificationRepository) GetByID(ctx context.Context, id string) (*entity.Notification, error) {
	doc, err := r.notifications().Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Notification", err)
		}
		return nil, errors.TransientIO("Failed to get notification", err)
	}

	return notificationFromDoc(doc)
}

func (r *firestoreNotificationRepository) userQuery(userID string, limit int) firestore.Query {
	q := r.notifications().
		Where("userId", "==", userID).
		OrderBy("createdAt", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}
	return q
}

func (r *firestoreNotificationRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*entity.Notification, error) {
	docs, err := r.userQuery(userID, limit).Documents(ctx).GetAll()
	if err != nil {
		return nil, errors.TransientIO("Failed to list notifications", err)
	}
	return notificationsFromDocs(docs), nil
}

func (r *firestoreNotificationRepository) WatchByUser(ctx context.Context, userID string, limit int) *feed.Feed[[]*entity.Notification] {
	return feed.Start(ctx, func(ctx context.Context, emit func([]*entity.Notification) bool) error {
		it := r.userQuery(userID, limit).Snapshots(ctx)
		defer it.Stop()

		for {
			snap, err := it.Next()
			if err != nil {
				if ctx.Err() != nil || status.Code(err) == codes.Canceled {
					return nil
				}
				return errors.TransientIO("Notification subscription failed", err)
			}

			docs, err := snap.Documents.GetAll()
			if err != nil {
				return errors.TransientIO("Failed to read notification snapshot", err)
			}
			if !emit(notificationsFromDocs(docs)) {
				return nil
			}
		}
	})
}

func (r *firestoreNotificationRepository) MarkRead(ctx context.Context, id string) error {
	_, err := r.notifications().Doc(id).Update(ctx, []firestore.Update{
		{Path: "isRead", Value: true},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return errors.NotFound("Notification", err)
		}
		return errors.TransientIO("Failed to mark notification as read", err)
	}
	return nil
}

func (r *firestoreNotificationRepository) MarkAllRead(ctx context.Context, userID string) error {
	docs, err := r.notifications().
		Where("userId", "==", userID).
		Where("isRead", "==", false).
		Documents(ctx).GetAll()
	if err != nil {
		return errors.TransientIO("Failed to read notifications", err)
	}
	if len(docs) == 0 {
		return nil
	}

	bw := r.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(docs))
	for _, doc := range docs {
		job, err := bw.Update(doc.Ref, []firestore.Update{{Path: "isRead", Value: true}})
		if err != nil {
			bw.End()
			return errors.TransientIO("Failed to queue notification update", err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return errors.TransientIO("Failed to mark notifications as read", err)
		}
	}
	return nil
}

func (r *firestoreNotificationRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.notifications().Doc(id).Delete(ctx); err != nil {
		return errors.TransientIO("Failed to delete notification", err)
	}
	return nil
}

func (r *firestoreNotificationRepository) UnreadCount(ctx context.Context, userID string) (int, error) {
	q := r.notifications().
		Where("userId", "==", userID).
		Where("isRead", "==", false)
	results, err := q.NewAggregationQuery().WithCount("unread").Get(ctx)
	if err != nil {
		return 0, errors.TransientIO("Failed to count notifications", err)
	}

	value, ok := results["unread"].(*firestorepb.Value)
	if !ok {
		logger.Warn("Unexpected count aggregation result for user %s", userID)
		return 0, nil
	}
	return int(value.GetIntegerValue()), nil
}

func notificationFromDoc(doc *firestore.DocumentSnapshot) (*entity.Notification, error) {
	var notification entity.Notification
	if err := doc.DataTo(&notification); err != nil {
		return nil, errors.Internal("Failed to parse notification data", err)
	}
	notification.ID = doc.Ref.ID
	return &notification, nil
}

func notificationsFromDocs(docs []*firestore.DocumentSnapshot) []*entity.Notification {
	notifications := make([]*entity.Notification, 0, len(docs))
	for _, doc := range docs {
		n, err := notificationFromDoc(doc)
		if err != nil {
			logger.Warn("Skipping unreadable notification %s: %v", doc.Ref.ID, err)
			continue
		}
		notifications = append(notifications, n)
	}
	return notifications
}
