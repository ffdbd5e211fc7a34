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
	"marketchat/pkg/feed"
	"marketchat/pkg/logger"
)

const roomsCollection = "chat_rooms"

type firestoreRoomRepository struct {
	client *firestore.Client
}

func NewFirestoreRoomRepository(client *firestore.Client) repository.RoomRepository {
	return &firestoreRoomRepository{
		client: client,
	}
}

func (r *firestoreRoomRepository) rooms() *firestore.CollectionRef {
	return r.client.Collection(roomsCollection)
}

// GetOrCreate is check-then-write without a transaction. Two first contacts
// racing on the same key both write the same document id, so the result is
// one room either way.
func (r *firestoreRoomRepository) GetOrCreate(ctx context.Context, seed *entity.ChatRoom) (*entity.ChatRoom, bool, error) {
	ref := r.rooms().Doc(seed.ID)

	doc, err := ref.Get(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return nil, false, errors.TransientIO("Failed to get chat room", err)
	}

	if err == nil && doc.Exists() {
		room, err := roomFromDoc(doc)
		if err != nil {
			return nil, false, err
		}

		_, err = ref.Update(ctx, []firestore.Update{
			{Path: "listingTitle", Value: seed.ListingTitle},
			{Path: "listingImage", Value: seed.ListingImage},
			{Path: "listingPrice", Value: seed.ListingPrice},
			{Path: "deletedByBuyer", Value: false},
			{Path: "deletedBySeller", Value: false},
		})
		if err != nil {
			return nil, false, errors.TransientIO("Failed to refresh chat room", err)
		}

		room.ListingTitle = seed.ListingTitle
		room.ListingImage = seed.ListingImage
		room.ListingPrice = seed.ListingPrice
		room.DeletedByBuyer = false
		room.DeletedBySeller = false
		return room, false, nil
	}

	now := time.Now()
	room := *seed
	room.Participants = []string{seed.BuyerID, seed.SellerID}
	room.UnreadCountBuyer = 0
	room.UnreadCountSeller = 0
	room.DeletedByBuyer = false
	room.DeletedBySeller = false
	room.IsActive = true
	room.CreatedAt = now
	room.LastMessageAt = now

	if _, err := ref.Set(ctx, room); err != nil {
		return nil, false, errors.TransientIO("Failed to create chat room", err)
	}

	logger.Debug("Created chat room %s for listing %s", room.ID, room.ListingID)
	return &room, true, nil
}

func (r *firestoreRoomRepository) GetByID(ctx context.Context, roomID string) (*entity.ChatRoom, error) {
	doc, err := r.rooms().Doc(roomID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Chat room", nil)
		}
		return nil, errors.TransientIO("Failed to get chat room", err)
	}

	return roomFromDoc(doc)
}

func (r *firestoreRoomRepository) SetDeleted(ctx context.Context, roomID string, role entity.Role, deleted bool) error {
	updates := []firestore.Update{
		{Path: deletedField(role), Value: deleted},
	}
	if deleted {
		updates = append(updates, firestore.Update{Path: clearedAtField(role), Value: firestore.ServerTimestamp})
	}
	return r.update(ctx, roomID, "Failed to update chat room visibility", updates)
}

func (r *firestoreRoomRepository) ClearDeleted(ctx context.Context, roomID string) error {
	return r.update(ctx, roomID, "Failed to restore chat room", []firestore.Update{
		{Path: "deletedByBuyer", Value: false},
		{Path: "deletedBySeller", Value: false},
	})
}

func (r *firestoreRoomRepository) Close(ctx context.Context, roomID string) error {
	return r.update(ctx, roomID, "Failed to close chat room", []firestore.Update{
		{Path: "isActive", Value: false},
	})
}

// IncrementUnread uses a server-side increment, so concurrent sends cannot
// lose a count the way a read-modify-write would.
func (r *firestoreRoomRepository) IncrementUnread(ctx context.Context, roomID string, role entity.Role) error {
	return r.update(ctx, roomID, "Failed to increment unread count", []firestore.Update{
		{Path: unreadField(role), Value: firestore.Increment(1)},
	})
}

func (r *firestoreRoomRepository) ResetUnread(ctx context.Context, roomID string, role entity.Role) error {
	return r.update(ctx, roomID, "Failed to reset unread count", []firestore.Update{
		{Path: unreadField(role), Value: 0},
	})
}

func (r *firestoreRoomRepository) UpdateLastMessage(ctx context.Context, roomID, preview, senderID string) error {
	return r.update(ctx, roomID, "Failed to update last message", []firestore.Update{
		{Path: "lastMessage", Value: preview},
		{Path: "lastSenderId", Value: senderID},
		{Path: "lastMessageAt", Value: firestore.ServerTimestamp},
	})
}

func (r *firestoreRoomRepository) participantQuery(userID string) firestore.Query {
	return r.rooms().Where("participants", "array-contains", userID)
}

func (r *firestoreRoomRepository) ListForParticipant(ctx context.Context, userID string) ([]*entity.ChatRoom, error) {
	docs, err := r.participantQuery(userID).Documents(ctx).GetAll()
	if err != nil {
		logger.Error("Firestore error while fetching chat rooms for user %s: %v", userID, err)
		return nil, errors.TransientIO("Failed to fetch chat rooms", err)
	}

	return entity.VisibleRooms(roomsFromDocs(docs, userID), userID), nil
}

func (r *firestoreRoomRepository) WatchForParticipant(ctx context.Context, userID string) *feed.Feed[[]*entity.ChatRoom] {
	return feed.Start(ctx, func(ctx context.Context, emit func([]*entity.ChatRoom) bool) error {
		it := r.participantQuery(userID).Snapshots(ctx)
		defer it.Stop()

		for {
			snap, err := it.Next()
			if err != nil {
				if ctx.Err() != nil || status.Code(err) == codes.Canceled {
					return nil
				}
				return errors.TransientIO("Chat room subscription failed", err)
			}

			docs, err := snap.Documents.GetAll()
			if err != nil {
				return errors.TransientIO("Failed to read chat room snapshot", err)
			}
			if !emit(entity.VisibleRooms(roomsFromDocs(docs, userID), userID)) {
				return nil
			}
		}
	})
}

func (r *firestoreRoomRepository) update(ctx context.Context, roomID, message string, updates []firestore.Update) error {
	_, err := r.rooms().Doc(roomID).Update(ctx, updates)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return errors.NotFound("Chat room", nil)
		}
		return errors.TransientIO(message, err)
	}
	return nil
}

func roomFromDoc(doc *firestore.DocumentSnapshot) (*entity.ChatRoom, error) {
	var room entity.ChatRoom
	if err := doc.DataTo(&room); err != nil {
		return nil, errors.Internal("Failed to parse chat room data", err)
	}
	room.ID = doc.Ref.ID
	return &room, nil
}

func roomsFromDocs(docs []*firestore.DocumentSnapshot, userID string) []*entity.ChatRoom {
	rooms := make([]*entity.ChatRoom, 0, len(docs))
	for _, doc := range docs {
		room, err := roomFromDoc(doc)
		if err != nil {
			logger.Warn("Skipping unreadable chat room %s for user %s: %v", doc.Ref.ID, userID, err)
			continue
		}
		rooms = append(rooms, room)
	}
	return rooms
}

func unreadField(role entity.Role) string {
	if role == entity.RoleBuyer {
		return "unreadCountBuyer"
	}
	return "unreadCountSeller"
}

func deletedField(role entity.Role) string {
	if role == entity.RoleBuyer {
		return "deletedByBuyer"
	}
	return "deletedBySeller"
}

func clearedAtField(role entity.Role) string {
	if role == entity.RoleBuyer {
		return "clearedAtBuyer"
	}
	return "clearedAtSeller"
}
