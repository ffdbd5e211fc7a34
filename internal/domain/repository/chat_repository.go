package repository

import (
	"context"

	"marketchat/internal/domain/entity"
	"marketchat/pkg/feed"
)

// RoomRepository persists chat rooms keyed by entity.NewRoomID.
// All mutations are per-field partial updates, last write wins.
type RoomRepository interface {
	// GetOrCreate writes seed when no room exists under seed.ID. Otherwise it
	// refreshes the listing fields, clears both delete flags and returns the
	// stored room. created reports which branch ran.
	GetOrCreate(ctx context.Context, seed *entity.ChatRoom) (room *entity.ChatRoom, created bool, err error)
	GetByID(ctx context.Context, roomID string) (*entity.ChatRoom, error)
	SetDeleted(ctx context.Context, roomID string, role entity.Role, deleted bool) error
	ClearDeleted(ctx context.Context, roomID string) error
	Close(ctx context.Context, roomID string) error
	IncrementUnread(ctx context.Context, roomID string, role entity.Role) error
	ResetUnread(ctx context.Context, roomID string, role entity.Role) error
	UpdateLastMessage(ctx context.Context, roomID, preview, senderID string) error
	ListForParticipant(ctx context.Context, userID string) ([]*entity.ChatRoom, error)
	WatchForParticipant(ctx context.Context, userID string) *feed.Feed[[]*entity.ChatRoom]
}

// MaxMessagePage bounds a single message page.
const MaxMessagePage = 100

// MessageRepository is the append-only message log. IDs and createdAt are
// assigned by the store.
type MessageRepository interface {
	Append(ctx context.Context, message *entity.ChatMessage) (*entity.ChatMessage, error)
	GetByID(ctx context.Context, messageID string) (*entity.ChatMessage, error)
	// PatchMetadata merges only the named metadata keys after entity.CheckPatch
	// accepts them against the current record.
	PatchMetadata(ctx context.Context, messageID string, patch entity.MetadataPatch) (*entity.ChatMessage, error)
	ListByRoom(ctx context.Context, roomID string, limit int) ([]*entity.ChatMessage, error)
	SoftDelete(ctx context.Context, messageID, requesterID string) (*entity.ChatMessage, error)
	// MarkRead snapshots the room's unread counterparty messages and then
	// updates them. Messages arriving after the snapshot keep their status.
	MarkRead(ctx context.Context, roomID, readerID string) (int, error)
	WatchByRoom(ctx context.Context, roomID string, limit int) *feed.Feed[[]*entity.ChatMessage]
}
