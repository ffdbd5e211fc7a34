package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/repository"
	"marketchat/pkg/errors"
	"marketchat/pkg/feed"
)

type memoryMessageRepository struct {
	mu       sync.RWMutex
	messages map[string]*entity.ChatMessage
	lastTime time.Time
	changes  *feed.Broadcaster
	now      func() time.Time
}

func NewMemoryMessageRepository() repository.MessageRepository {
	return &memoryMessageRepository{
		messages: make(map[string]*entity.ChatMessage),
		changes:  feed.NewBroadcaster(),
		now:      time.Now,
	}
}

// storeTime is the memory equivalent of a server timestamp: strictly
// increasing so ordering never depends on the caller.
func (r *memoryMessageRepository) storeTime() time.Time {
	t := r.now()
	if !t.After(r.lastTime) {
		t = r.lastTime.Add(time.Nanosecond)
	}
	r.lastTime = t
	return t
}

func (r *memoryMessageRepository) Append(ctx context.Context, message *entity.ChatMessage) (*entity.ChatMessage, error) {
	if err := message.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored := cloneMessage(message)
	stored.PrepareForAppend()
	stored.ID = uuid.New().String()
	stored.CreatedAt = r.storeTime()
	r.messages[stored.ID] = stored
	r.changes.Notify()

	return cloneMessage(stored), nil
}

func (r *memoryMessageRepository) GetByID(ctx context.Context, messageID string) (*entity.ChatMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	message, ok := r.messages[messageID]
	if !ok {
		return nil, errors.NotFound("Message", nil)
	}
	return cloneMessage(message), nil
}

func (r *memoryMessageRepository) PatchMetadata(ctx context.Context, messageID string, patch entity.MetadataPatch) (*entity.ChatMessage, error) {
	patch, err := patch.Normalize()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	message, ok := r.messages[messageID]
	if !ok {
		return nil, errors.NotFound("Message", nil)
	}
	if err := entity.CheckPatch(message, patch); err != nil {
		return nil, err
	}

	if message.Metadata == nil {
		message.Metadata = &entity.MessageMetadata{}
	}
	message.Metadata.Apply(patch)
	r.changes.Notify()

	return cloneMessage(message), nil
}

func (r *memoryMessageRepository) ListByRoom(ctx context.Context, roomID string, limit int) ([]*entity.ChatMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var messages []*entity.ChatMessage
	for _, message := range r.messages {
		if message.RoomID == roomID {
			messages = append(messages, cloneMessage(message))
		}
	}

	sort.Slice(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})

	limit = pageLimit(limit)
	if len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages, nil
}

func (r *memoryMessageRepository) SoftDelete(ctx context.Context, messageID, requesterID string) (*entity.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	message, ok := r.messages[messageID]
	if !ok {
		return nil, errors.NotFound("Message", nil)
	}
	if message.SenderID != requesterID {
		return nil, errors.Unauthorized("Only the sender can delete this message", nil)
	}

	message.Text = entity.DeletedMessageText
	message.IsDeleted = true
	r.changes.Notify()

	return cloneMessage(message), nil
}

func (r *memoryMessageRepository) MarkRead(ctx context.Context, roomID, readerID string) (int, error) {
	r.mu.RLock()
	var unread []string
	for id, message := range r.messages {
		if message.RoomID == roomID && message.SenderID != readerID && message.Status != entity.MessageStatusRead {
			unread = append(unread, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range unread {
		r.mu.Lock()
		if message, ok := r.messages[id]; ok {
			message.Status = entity.MessageStatusRead
		}
		r.mu.Unlock()
	}

	if len(unread) > 0 {
		r.changes.Notify()
	}
	return len(unread), nil
}

func (r *memoryMessageRepository) WatchByRoom(ctx context.Context, roomID string, limit int) *feed.Feed[[]*entity.ChatMessage] {
	return feed.Watch(ctx, r.changes, func(ctx context.Context) ([]*entity.ChatMessage, error) {
		return r.ListByRoom(ctx, roomID, limit)
	})
}

func pageLimit(limit int) int {
	if limit <= 0 || limit > repository.MaxMessagePage {
		return repository.MaxMessagePage
	}
	return limit
}

func cloneMessage(message *entity.ChatMessage) *entity.ChatMessage {
	c := *message
	if message.Metadata != nil {
		meta := *message.Metadata
		if meta.Price != nil {
			price := *meta.Price
			meta.Price = &price
		}
		if meta.Location != nil {
			loc := *meta.Location
			meta.Location = &loc
		}
		c.Metadata = &meta
	}
	return &c
}
