package repository

import (
	"context"
	"sync"
	"time"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/repository"
	"marketchat/pkg/errors"
	"marketchat/pkg/feed"
)

type memoryRoomRepository struct {
	mu      sync.RWMutex
	rooms   map[string]*entity.ChatRoom
	changes *feed.Broadcaster
	now     func() time.Time
}

// NewMemoryRoomRepository keeps rooms in process memory. Used for local
// development with STORE_DRIVER=memory and as the store in tests.
func NewMemoryRoomRepository() repository.RoomRepository {
	return &memoryRoomRepository{
		rooms:   make(map[string]*entity.ChatRoom),
		changes: feed.NewBroadcaster(),
		now:     time.Now,
	}
}

func (r *memoryRoomRepository) GetOrCreate(ctx context.Context, seed *entity.ChatRoom) (*entity.ChatRoom, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.changes.Notify()

	if existing, ok := r.rooms[seed.ID]; ok {
		existing.ListingTitle = seed.ListingTitle
		existing.ListingImage = seed.ListingImage
		existing.ListingPrice = seed.ListingPrice
		existing.DeletedByBuyer = false
		existing.DeletedBySeller = false
		return cloneRoom(existing), false, nil
	}

	room := cloneRoom(seed)
	now := r.now()
	room.Participants = []string{seed.BuyerID, seed.SellerID}
	room.UnreadCountBuyer = 0
	room.UnreadCountSeller = 0
	room.DeletedByBuyer = false
	room.DeletedBySeller = false
	room.IsActive = true
	room.CreatedAt = now
	room.LastMessageAt = now
	r.rooms[room.ID] = room

	return cloneRoom(room), true, nil
}

func (r *memoryRoomRepository) GetByID(ctx context.Context, roomID string) (*entity.ChatRoom, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil, errors.NotFound("Chat room", nil)
	}
	return cloneRoom(room), nil
}

func (r *memoryRoomRepository) SetDeleted(ctx context.Context, roomID string, role entity.Role, deleted bool) error {
	return r.mutate(roomID, func(room *entity.ChatRoom) {
		var clearedAt *time.Time
		if deleted {
			now := r.now()
			clearedAt = &now
		}
		if role == entity.RoleBuyer {
			room.DeletedByBuyer = deleted
			if clearedAt != nil {
				room.ClearedAtBuyer = clearedAt
			}
		} else {
			room.DeletedBySeller = deleted
			if clearedAt != nil {
				room.ClearedAtSeller = clearedAt
			}
		}
	})
}

func (r *memoryRoomRepository) ClearDeleted(ctx context.Context, roomID string) error {
	return r.mutate(roomID, func(room *entity.ChatRoom) {
		room.DeletedByBuyer = false
		room.DeletedBySeller = false
	})
}

func (r *memoryRoomRepository) Close(ctx context.Context, roomID string) error {
	return r.mutate(roomID, func(room *entity.ChatRoom) {
		room.IsActive = false
	})
}

func (r *memoryRoomRepository) IncrementUnread(ctx context.Context, roomID string, role entity.Role) error {
	return r.mutate(roomID, func(room *entity.ChatRoom) {
		if role == entity.RoleBuyer {
			room.UnreadCountBuyer++
		} else {
			room.UnreadCountSeller++
		}
	})
}

func (r *memoryRoomRepository) ResetUnread(ctx context.Context, roomID string, role entity.Role) error {
	return r.mutate(roomID, func(room *entity.ChatRoom) {
		if role == entity.RoleBuyer {
			room.UnreadCountBuyer = 0
		} else {
			room.UnreadCountSeller = 0
		}
	})
}

func (r *memoryRoomRepository) UpdateLastMessage(ctx context.Context, roomID, preview, senderID string) error {
	return r.mutate(roomID, func(room *entity.ChatRoom) {
		room.LastMessage = preview
		room.LastSenderID = senderID
		room.LastMessageAt = r.now()
	})
}

func (r *memoryRoomRepository) ListForParticipant(ctx context.Context, userID string) ([]*entity.ChatRoom, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var rooms []*entity.ChatRoom
	for _, room := range r.rooms {
		if room.BuyerID == userID || room.SellerID == userID {
			rooms = append(rooms, cloneRoom(room))
		}
	}
	return entity.VisibleRooms(rooms, userID), nil
}

func (r *memoryRoomRepository) WatchForParticipant(ctx context.Context, userID string) *feed.Feed[[]*entity.ChatRoom] {
	return feed.Watch(ctx, r.changes, func(ctx context.Context) ([]*entity.ChatRoom, error) {
		return r.ListForParticipant(ctx, userID)
	})
}

func (r *memoryRoomRepository) mutate(roomID string, fn func(room *entity.ChatRoom)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return errors.NotFound("Chat room", nil)
	}
	fn(room)
	r.changes.Notify()
	return nil
}

func cloneRoom(room *entity.ChatRoom) *entity.ChatRoom {
	c := *room
	c.Participants = append([]string(nil), room.Participants...)
	if room.ClearedAtBuyer != nil {
		t := *room.ClearedAtBuyer
		c.ClearedAtBuyer = &t
	}
	if room.ClearedAtSeller != nil {
		t := *room.ClearedAtSeller
		c.ClearedAtSeller = &t
	}
	return &c
}
