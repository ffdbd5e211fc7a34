package repository

import (
	"context"
	"os"
	"sync"
	"testing"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketchat/internal/domain/entity"
	"marketchat/pkg/errors"
)

// newEmulatorClient connects to the Firestore emulator named by
// FIRESTORE_EMULATOR_HOST and skips the test when none is running.
func newEmulatorClient(t *testing.T) *firestore.Client {
	t.Helper()

	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	client, err := firestore.NewClient(context.Background(), "marketchat-test")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func uniqueRoom() *entity.ChatRoom {
	listingID := uuid.New().String()
	return &entity.ChatRoom{
		ID:           entity.NewRoomID(listingID, "B", "S"),
		ListingID:    listingID,
		BuyerID:      "B",
		SellerID:     "S",
		ListingTitle: "Mechanical keyboard",
		ListingPrice: 750000,
	}
}

func TestFirestoreMessageRepository_PatchMetadata(t *testing.T) {
	ctx := context.Background()
	repo := NewFirestoreMessageRepository(newEmulatorClient(t))
	price := 500000.0

	offer, err := repo.Append(ctx, &entity.ChatMessage{
		RoomID:   uniqueRoom().ID,
		SenderID: "B",
		Type:     entity.MessageTypeOffer,
		Metadata: &entity.MessageMetadata{Price: &price, OfferStatus: entity.OfferAccepted},
	})
	require.NoError(t, err)
	assert.Equal(t, entity.OfferPending, offer.Metadata.OfferStatus)

	patched, err := repo.PatchMetadata(ctx, offer.ID, entity.MetadataPatch{entity.MetadataOfferStatus: "accepted"})
	require.NoError(t, err)
	assert.Equal(t, entity.OfferAccepted, patched.Metadata.OfferStatus)

	stored, err := repo.GetByID(ctx, offer.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.OfferAccepted, stored.Metadata.OfferStatus)
	require.NotNil(t, stored.Metadata.Price)
	assert.Equal(t, price, *stored.Metadata.Price)

	_, err = repo.PatchMetadata(ctx, offer.ID, entity.MetadataPatch{entity.MetadataOfferStatus: "rejected"})
	assert.True(t, errors.Is(err, errors.CodeInvalidTransition))

	_, err = repo.PatchMetadata(ctx, uuid.New().String(), entity.MetadataPatch{entity.MetadataOfferStatus: "accepted"})
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestFirestoreMessageRepository_SoftDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewFirestoreMessageRepository(newEmulatorClient(t))

	msg, err := repo.Append(ctx, textMessage(uniqueRoom().ID, "B", "wrong chat"))
	require.NoError(t, err)

	_, err = repo.SoftDelete(ctx, msg.ID, "S")
	assert.True(t, errors.Is(err, errors.CodeUnauthorized))

	deleted, err := repo.SoftDelete(ctx, msg.ID, "B")
	require.NoError(t, err)
	assert.True(t, deleted.IsDeleted)
	assert.Equal(t, entity.DeletedMessageText, deleted.Text)

	stored, err := repo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsDeleted)
}

func TestFirestoreMessageRepository_MarkRead(t *testing.T) {
	ctx := context.Background()
	repo := NewFirestoreMessageRepository(newEmulatorClient(t))
	roomID := uniqueRoom().ID

	for _, text := range []string{"one", "two", "three"} {
		_, err := repo.Append(ctx, textMessage(roomID, "B", text))
		require.NoError(t, err)
	}
	_, err := repo.Append(ctx, textMessage(roomID, "S", "reply"))
	require.NoError(t, err)

	updated, err := repo.MarkRead(ctx, roomID, "S")
	require.NoError(t, err)
	assert.Equal(t, 3, updated)

	again, err := repo.MarkRead(ctx, roomID, "S")
	require.NoError(t, err)
	assert.Zero(t, again)

	messages, err := repo.ListByRoom(ctx, roomID, 0)
	require.NoError(t, err)
	require.Len(t, messages, 4)
	for _, m := range messages {
		if m.SenderID == "B" {
			assert.Equal(t, entity.MessageStatusRead, m.Status)
		} else {
			assert.Equal(t, entity.MessageStatusSent, m.Status)
		}
	}
}

func TestFirestoreRoomRepository_ConcurrentIncrementUnread(t *testing.T) {
	ctx := context.Background()
	repo := NewFirestoreRoomRepository(newEmulatorClient(t))

	room, created, err := repo.GetOrCreate(ctx, uniqueRoom())
	require.NoError(t, err)
	require.True(t, created)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, repo.IncrementUnread(ctx, room.ID, entity.RoleSeller))
		}()
	}
	wg.Wait()

	got, err := repo.GetByID(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, got.UnreadCountSeller)
	assert.Zero(t, got.UnreadCountBuyer)

	err = repo.IncrementUnread(ctx, uuid.New().String(), entity.RoleSeller)
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestFirestoreNotificationRepository_UnreadCount(t *testing.T) {
	ctx := context.Background()
	repo := NewFirestoreNotificationRepository(newEmulatorClient(t))
	userID := uuid.New().String()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Create(ctx, &entity.Notification{UserID: userID, Type: "chat", Title: "New message"}))
	}

	count, err := repo.UnreadCount(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	require.NoError(t, repo.MarkAllRead(ctx, userID))

	count, err = repo.UnreadCount(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, count)
}
