package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/repository"
	"marketchat/pkg/errors"
)

// firestorePresenceRepository keeps typing signals as typing_<uid> fields on
// the room document, so room snapshots carry them to every listener.
type firestorePresenceRepository struct {
	client *firestore.Client
}

func NewFirestorePresenceRepository(client *firestore.Client) repository.PresenceRepository {
	return &firestorePresenceRepository{
		client: client,
	}
}

func (r *firestorePresenceRepository) SetTyping(ctx context.Context, roomID, userID string, at *time.Time) error {
	var value interface{} = firestore.Delete
	if at != nil {
		value = *at
	}

	_, err := r.client.Collection(roomsCollection).Doc(roomID).Update(ctx, []firestore.Update{
		{FieldPath: firestore.FieldPath{entity.TypingField(userID)}, Value: value},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return errors.NotFound("Chat room", nil)
		}
		return errors.TransientIO("Failed to update typing status", err)
	}
	return nil
}

func (r *firestorePresenceRepository) GetTyping(ctx context.Context, roomID string) (map[string]time.Time, error) {
	doc, err := r.client.Collection(roomsCollection).Doc(roomID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Chat room", nil)
		}
		return nil, errors.TransientIO("Failed to read typing status", err)
	}

	return entity.TypingSignalsFromFields(doc.Data()), nil
}
