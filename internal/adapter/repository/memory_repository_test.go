package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketchat/internal/domain/entity"
	"marketchat/pkg/errors"
)

func seedRoom() *entity.ChatRoom {
	return &entity.ChatRoom{
		ID:           entity.NewRoomID("L1", "B", "S"),
		ListingID:    "L1",
		BuyerID:      "B",
		SellerID:     "S",
		ListingTitle: "Mechanical keyboard",
		ListingPrice: 750000,
	}
}

func textMessage(roomID, senderID, text string) *entity.ChatMessage {
	return &entity.ChatMessage{RoomID: roomID, SenderID: senderID, Text: text, Type: entity.MessageTypeText}
}

func TestMemoryRoomRepository_GetOrCreate(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRoomRepository()

	room, created, err := repo.GetOrCreate(ctx, seedRoom())
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, room.IsActive)
	assert.Equal(t, []string{"B", "S"}, room.Participants)
	assert.Zero(t, room.UnreadCountBuyer)
	assert.Zero(t, room.UnreadCountSeller)

	require.NoError(t, repo.IncrementUnread(ctx, room.ID, entity.RoleSeller))
	require.NoError(t, repo.SetDeleted(ctx, room.ID, entity.RoleBuyer, true))

	seed := seedRoom()
	seed.ListingTitle = "Mechanical keyboard (75%)"
	again, created, err := repo.GetOrCreate(ctx, seed)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, room.ID, again.ID)
	assert.Equal(t, "Mechanical keyboard (75%)", again.ListingTitle)
	assert.False(t, again.DeletedByBuyer)
	assert.Equal(t, 1, again.UnreadCountSeller, "counters survive re-entry")
}

func TestMemoryRoomRepository_SetDeletedStampsClearedAt(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRoomRepository()
	room, _, err := repo.GetOrCreate(ctx, seedRoom())
	require.NoError(t, err)

	require.NoError(t, repo.SetDeleted(ctx, room.ID, entity.RoleSeller, true))

	got, err := repo.GetByID(ctx, room.ID)
	require.NoError(t, err)
	assert.True(t, got.DeletedBySeller)
	assert.False(t, got.DeletedByBuyer)
	require.NotNil(t, got.ClearedAtSeller)
	assert.Nil(t, got.ClearedAtBuyer)

	rooms, err := repo.ListForParticipant(ctx, "S")
	require.NoError(t, err)
	assert.Empty(t, rooms)

	rooms, err = repo.ListForParticipant(ctx, "B")
	require.NoError(t, err)
	assert.Len(t, rooms, 1)
}

func TestMemoryRoomRepository_MissingRoom(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRoomRepository()

	_, err := repo.GetByID(ctx, "nope")
	assert.True(t, errors.Is(err, errors.CodeNotFound))

	err = repo.IncrementUnread(ctx, "nope", entity.RoleBuyer)
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestMemoryRoomRepository_ConcurrentIncrement(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRoomRepository()
	room, _, err := repo.GetOrCreate(ctx, seedRoom())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = repo.IncrementUnread(ctx, room.ID, entity.RoleSeller)
		}()
	}
	wg.Wait()

	got, err := repo.GetByID(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.UnreadCountSeller)
}

func TestMemoryRoomRepository_Watch(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRoomRepository()

	f := repo.WatchForParticipant(ctx, "B")
	defer f.Cancel()

	initial := <-f.Updates()
	assert.Empty(t, initial)

	_, _, err := repo.GetOrCreate(ctx, seedRoom())
	require.NoError(t, err)

	select {
	case rooms := <-f.Updates():
		require.Len(t, rooms, 1)
		assert.Equal(t, "L1_B_S", rooms[0].ID)
	case <-time.After(time.Second):
		t.Fatal("no update after room creation")
	}
}

func TestMemoryMessageRepository_AppendAssignsStoreFields(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryMessageRepository()

	in := textMessage("R", "B", "hi")
	in.ID = "client-id"
	in.Status = entity.MessageStatusRead
	in.CreatedAt = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

	msg, err := repo.Append(ctx, in)
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.NotEqual(t, "client-id", msg.ID)
	assert.Equal(t, entity.MessageStatusSent, msg.Status)
	assert.True(t, msg.CreatedAt.After(in.CreatedAt))
}

func TestMemoryMessageRepository_AppendRejectsInvalidType(t *testing.T) {
	repo := NewMemoryMessageRepository()

	_, err := repo.Append(context.Background(), &entity.ChatMessage{RoomID: "R", SenderID: "B", Type: "sticker", Text: "x"})
	assert.True(t, errors.Is(err, errors.CodeInvalidType))

	messages, err := repo.ListByRoom(context.Background(), "R", 0)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestMemoryMessageRepository_ListOrderAndCap(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryMessageRepository()

	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.(*memoryMessageRepository).now = func() time.Time { return fixed }

	for i := 0; i < 105; i++ {
		_, err := repo.Append(ctx, textMessage("R", "B", "msg"))
		require.NoError(t, err)
	}
	_, err := repo.Append(ctx, textMessage("other", "B", "elsewhere"))
	require.NoError(t, err)

	messages, err := repo.ListByRoom(ctx, "R", 500)
	require.NoError(t, err)
	require.Len(t, messages, 100)
	for i := 1; i < len(messages); i++ {
		assert.True(t, messages[i-1].CreatedAt.Before(messages[i].CreatedAt), "strictly ascending even with a frozen clock")
	}

	page, err := repo.ListByRoom(ctx, "R", 10)
	require.NoError(t, err)
	require.Len(t, page, 10)
	assert.Equal(t, messages[len(messages)-1].ID, page[len(page)-1].ID)
}

func TestMemoryMessageRepository_SoftDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryMessageRepository()
	msg, err := repo.Append(ctx, textMessage("R", "B", "secret"))
	require.NoError(t, err)

	_, err = repo.SoftDelete(ctx, msg.ID, "S")
	assert.True(t, errors.Is(err, errors.CodeUnauthorized))

	deleted, err := repo.SoftDelete(ctx, msg.ID, "B")
	require.NoError(t, err)
	assert.True(t, deleted.IsDeleted)
	assert.Equal(t, entity.DeletedMessageText, deleted.Text)

	messages, err := repo.ListByRoom(ctx, "R", 0)
	require.NoError(t, err)
	require.Len(t, messages, 1, "soft delete keeps the message in the stream")
	assert.Equal(t, entity.DeletedMessageText, messages[0].Text)
}

func TestMemoryMessageRepository_MarkRead(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryMessageRepository()

	for _, sender := range []string{"B", "B", "S"} {
		_, err := repo.Append(ctx, textMessage("R", sender, "hello"))
		require.NoError(t, err)
	}

	n, err := repo.MarkRead(ctx, "R", "S")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = repo.MarkRead(ctx, "R", "S")
	require.NoError(t, err)
	assert.Zero(t, n)

	messages, err := repo.ListByRoom(ctx, "R", 0)
	require.NoError(t, err)
	for _, m := range messages {
		if m.SenderID == "S" {
			assert.Equal(t, entity.MessageStatusSent, m.Status)
		} else {
			assert.Equal(t, entity.MessageStatusRead, m.Status)
		}
	}
}

func TestMemoryMessageRepository_PatchOffer(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryMessageRepository()

	price := 500000.0
	offer, err := repo.Append(ctx, &entity.ChatMessage{
		RoomID:   "R",
		SenderID: "B",
		Type:     entity.MessageTypeOffer,
		Metadata: &entity.MessageMetadata{Price: &price, OfferStatus: entity.OfferAccepted},
	})
	require.NoError(t, err)
	assert.Equal(t, entity.OfferPending, offer.Metadata.OfferStatus, "offers always start pending")

	patched, err := repo.PatchMetadata(ctx, offer.ID, entity.MetadataPatch{entity.MetadataOfferStatus: "accepted"})
	require.NoError(t, err)
	assert.Equal(t, entity.OfferAccepted, patched.Metadata.OfferStatus)
	require.NotNil(t, patched.Metadata.Price)
	assert.Equal(t, 500000.0, *patched.Metadata.Price)

	_, err = repo.PatchMetadata(ctx, offer.ID, entity.MetadataPatch{entity.MetadataOfferStatus: "rejected"})
	assert.True(t, errors.Is(err, errors.CodeInvalidTransition))

	_, err = repo.PatchMetadata(ctx, "missing", entity.MetadataPatch{entity.MetadataOfferStatus: "rejected"})
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestMemoryMessageRepository_WatchByRoom(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryMessageRepository()

	f := repo.WatchByRoom(ctx, "R", 0)
	assert.Empty(t, <-f.Updates())

	_, err := repo.Append(ctx, textMessage("R", "B", "ping"))
	require.NoError(t, err)

	select {
	case messages := <-f.Updates():
		require.Len(t, messages, 1)
		assert.Equal(t, "ping", messages[0].Text)
	case <-time.After(time.Second):
		t.Fatal("no update after append")
	}

	f.Cancel()
	_, open := <-f.Updates()
	assert.False(t, open)
}

func TestMemoryPresenceRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryPresenceRepository()
	at := time.Now()

	require.NoError(t, repo.SetTyping(ctx, "R", "B", &at))
	signals, err := repo.GetTyping(ctx, "R")
	require.NoError(t, err)
	assert.Equal(t, at, signals["B"])

	require.NoError(t, repo.SetTyping(ctx, "R", "B", nil))
	signals, err = repo.GetTyping(ctx, "R")
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestMemoryNotificationRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryNotificationRepository()

	first := &entity.Notification{UserID: "S", Type: entity.NotificationTypeMessage, Title: "one"}
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.Create(ctx, &entity.Notification{UserID: "S", Type: entity.NotificationTypeMessage, Title: "two"}))
	require.NoError(t, repo.Create(ctx, &entity.Notification{UserID: "B", Type: entity.NotificationTypeMessage, Title: "other"}))

	list, err := repo.ListByUser(ctx, "S", 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	count, err := repo.UnreadCount(ctx, "S")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, repo.MarkRead(ctx, first.ID))
	count, err = repo.UnreadCount(ctx, "S")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, repo.MarkAllRead(ctx, "S"))
	count, err = repo.UnreadCount(ctx, "S")
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, repo.Delete(ctx, first.ID))
	_, err = repo.GetByID(ctx, first.ID)
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}
