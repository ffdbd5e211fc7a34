package repository

import (
	"context"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/repository"
	"marketchat/pkg/errors"
	"marketchat/pkg/feed"
	"marketchat/pkg/logger"
)

// Queries on roomId ordered by createdAt need the composite index
// chat_messages(roomId ASC, createdAt DESC).
const messagesCollection = "chat_messages"

type firestoreMessageRepository struct {
	client *firestore.Client
}

func NewFirestoreMessageRepository(client *firestore.Client) repository.MessageRepository {
	return &firestoreMessageRepository{
		client: client,
	}
}

func (r *firestoreMessageRepository) messages() *firestore.CollectionRef {
	return r.client.Collection(messagesCollection)
}

// Append writes with a zero CreatedAt so the serverTimestamp tag makes
// Firestore stamp the commit time. Ordering never uses the sender's clock.
func (r *firestoreMessageRepository) Append(ctx context.Context, message *entity.ChatMessage) (*entity.ChatMessage, error) {
	if err := message.Validate(); err != nil {
		return nil, err
	}

	stored := *message
	stored.PrepareForAppend()

	ref := r.messages().NewDoc()
	stored.ID = ref.ID

	wr, err := ref.Create(ctx, stored)
	if err != nil {
		return nil, errors.TransientIO("Failed to create message", err)
	}
	stored.CreatedAt = wr.UpdateTime

	return &stored, nil
}

func (r *firestoreMessageRepository) GetByID(ctx context.Context, messageID string) (*entity.ChatMessage, error) {
	doc, err := r.messages().Doc(messageID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Message", err)
		}
		return nil, errors.TransientIO("Failed to get message", err)
	}

	return messageFromDoc(doc)
}

// PatchMetadata writes metadata.<key> paths only, inside a transaction so
// two concurrent offer responses cannot both leave pending.
func (r *firestoreMessageRepository) PatchMetadata(ctx context.Context, messageID string, patch entity.MetadataPatch) (*entity.ChatMessage, error) {
	patch, err := patch.Normalize()
	if err != nil {
		return nil, err
	}

	ref := r.messages().Doc(messageID)
	var patched *entity.ChatMessage

	err = r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return errors.NotFound("Message", err)
			}
			return err
		}

		message, err := messageFromDoc(doc)
		if err != nil {
			return err
		}
		if err := entity.CheckPatch(message, patch); err != nil {
			return err
		}

		updates := make([]firestore.Update, 0, len(patch))
		for key, value := range patch {
			updates = append(updates, firestore.Update{
				FieldPath: firestore.FieldPath{"metadata", key},
				Value:     value,
			})
		}
		if err := tx.Update(ref, updates); err != nil {
			return err
		}

		if message.Metadata == nil {
			message.Metadata = &entity.MessageMetadata{}
		}
		message.Metadata.Apply(patch)
		patched = message
		return nil
	})
	if err != nil {
		return nil, wrapTxError("Failed to update message metadata", err)
	}

	return patched, nil
}

func (r *firestoreMessageRepository) roomQuery(roomID string, limit int) firestore.Query {
	return r.messages().
		Where("roomId", "==", roomID).
		OrderBy("createdAt", firestore.Desc).
		Limit(pageLimit(limit))
}

// ListByRoom returns the newest page in ascending createdAt order.
func (r *firestoreMessageRepository) ListByRoom(ctx context.Context, roomID string, limit int) ([]*entity.ChatMessage, error) {
	docs, err := r.roomQuery(roomID, limit).Documents(ctx).GetAll()
	if err != nil {
		logger.Error("Firestore error while listing messages for room %s: %v", roomID, err)
		return nil, errors.TransientIO("Failed to list messages", err)
	}

	return messagesFromDocsAscending(docs, roomID), nil
}

func (r *firestoreMessageRepository) SoftDelete(ctx context.Context, messageID, requesterID string) (*entity.ChatMessage, error) {
	ref := r.messages().Doc(messageID)
	var deleted *entity.ChatMessage

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return errors.NotFound("Message", err)
			}
			return err
		}

		message, err := messageFromDoc(doc)
		if err != nil {
			return err
		}
		if message.SenderID != requesterID {
			return errors.Unauthorized("Only the sender can delete this message", nil)
		}

		if err := tx.Update(ref, []firestore.Update{
			{Path: "text", Value: entity.DeletedMessageText},
			{Path: "isDeleted", Value: true},
		}); err != nil {
			return err
		}

		message.Text = entity.DeletedMessageText
		message.IsDeleted = true
		deleted = message
		return nil
	})
	if err != nil {
		return nil, wrapTxError("Failed to delete message", err)
	}

	return deleted, nil
}

// MarkRead reads the room's messages and then bulk-writes the status of the
// unread ones. It is not atomic: a message committed while the snapshot is
// being read may or may not be included, and is left for the next call.
func (r *firestoreMessageRepository) MarkRead(ctx context.Context, roomID, readerID string) (int, error) {
	iter := r.messages().Where("roomId", "==", roomID).Documents(ctx)
	defer iter.Stop()

	var refs []*firestore.DocumentRef
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return 0, errors.TransientIO("Failed to read messages", err)
		}

		message, err := messageFromDoc(doc)
		if err != nil {
			continue
		}
		if message.SenderID != readerID && message.Status != entity.MessageStatusRead {
			refs = append(refs, doc.Ref)
		}
	}
	if len(refs) == 0 {
		return 0, nil
	}

	bw := r.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(refs))
	for _, ref := range refs {
		job, err := bw.Update(ref, []firestore.Update{
			{Path: "status", Value: string(entity.MessageStatusRead)},
		})
		if err != nil {
			bw.End()
			return 0, errors.TransientIO("Failed to queue read status update", err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	updated := 0
	var firstErr error
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		updated++
	}
	if firstErr != nil {
		return updated, errors.TransientIO("Failed to mark messages as read", firstErr)
	}

	return updated, nil
}

func (r *firestoreMessageRepository) WatchByRoom(ctx context.Context, roomID string, limit int) *feed.Feed[[]*entity.ChatMessage] {
	return feed.Start(ctx, func(ctx context.Context, emit func([]*entity.ChatMessage) bool) error {
		it := r.roomQuery(roomID, limit).Snapshots(ctx)
		defer it.Stop()

		for {
			snap, err := it.Next()
			if err != nil {
				if ctx.Err() != nil || status.Code(err) == codes.Canceled {
					return nil
				}
				return errors.TransientIO("Message subscription failed", err)
			}

			docs, err := snap.Documents.GetAll()
			if err != nil {
				return errors.TransientIO("Failed to read message snapshot", err)
			}
			if !emit(messagesFromDocsAscending(docs, roomID)) {
				return nil
			}
		}
	})
}

func messageFromDoc(doc *firestore.DocumentSnapshot) (*entity.ChatMessage, error) {
	var message entity.ChatMessage
	if err := doc.DataTo(&message); err != nil {
		return nil, errors.Internal("Failed to parse message data", err)
	}
	message.ID = doc.Ref.ID
	return &message, nil
}

// messagesFromDocsAscending reverses a createdAt-descending page.
func messagesFromDocsAscending(docs []*firestore.DocumentSnapshot, roomID string) []*entity.ChatMessage {
	messages := make([]*entity.ChatMessage, 0, len(docs))
	for i := len(docs) - 1; i >= 0; i-- {
		message, err := messageFromDoc(docs[i])
		if err != nil {
			logger.Warn("Skipping unreadable message %s in room %s: %v", docs[i].Ref.ID, roomID, err)
			continue
		}
		messages = append(messages, message)
	}
	return messages
}

// wrapTxError keeps typed domain errors returned from inside a transaction
// and treats everything else as a store failure.
func wrapTxError(message string, err error) error {
	if appErr, ok := errors.As(err); ok {
		return appErr
	}
	return errors.TransientIO(message, err)
}
