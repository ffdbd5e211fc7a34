package usecase

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/repository"
	"marketchat/internal/domain/service"
	"marketchat/internal/infrastructure/metrics"
	"marketchat/internal/infrastructure/ratelimit"
	"marketchat/pkg/errors"
	"marketchat/pkg/feed"
	"marketchat/pkg/logger"
)

const (
	notifyTimeout    = 10 * time.Second
	typingPollPeriod = time.Second
)

// ChatUseCase is the room service: it composes the room, message and
// presence stores and fires notifications after successful sends.
type ChatUseCase struct {
	roomRepo     repository.RoomRepository
	messageRepo  repository.MessageRepository
	presenceRepo repository.PresenceRepository
	notifier     service.NotificationDispatcher
	objectStore  service.ObjectStore
	rateLimiter  *ratelimit.RateLimiter

	typingWindow time.Duration
	now          func() time.Time

	resolveGroup singleflight.Group
	notifyWG     sync.WaitGroup
}

// NewChatUseCase wires the room service. notifier, objectStore and
// rateLimiter may be nil to disable notifications, uploads and limiting.
func NewChatUseCase(
	roomRepo repository.RoomRepository,
	messageRepo repository.MessageRepository,
	presenceRepo repository.PresenceRepository,
	notifier service.NotificationDispatcher,
	objectStore service.ObjectStore,
	rateLimiter *ratelimit.RateLimiter,
	typingWindow time.Duration,
) *ChatUseCase {
	if typingWindow <= 0 {
		typingWindow = entity.DefaultTypingWindow
	}

	return &ChatUseCase{
		roomRepo:     roomRepo,
		messageRepo:  messageRepo,
		presenceRepo: presenceRepo,
		notifier:     notifier,
		objectStore:  objectStore,
		rateLimiter:  rateLimiter,
		typingWindow: typingWindow,
		now:          time.Now,
	}
}

type ResolveRoomInput struct {
	ListingID    string
	BuyerID      string
	SellerID     string
	ListingTitle string
	ListingImage string
	ListingPrice float64
}

type SendMessageInput struct {
	SenderName string
	Text       string
	Type       entity.MessageType
	ImageURL   string
	Metadata   *entity.MessageMetadata
}

type UploadImageInput struct {
	SenderName  string
	Caption     string
	FileName    string
	ContentType string
	File        io.Reader
}

// ResolveRoom returns the room for (listing, buyer, seller), creating it on
// first contact. Concurrent resolves of the same key in this process share
// one store round trip.
func (uc *ChatUseCase) ResolveRoom(ctx context.Context, requesterID string, input ResolveRoomInput) (*entity.ChatRoom, error) {
	if input.ListingID == "" || input.BuyerID == "" || input.SellerID == "" {
		return nil, errors.BadRequest("listing, buyer and seller are required", nil)
	}
	if input.BuyerID == input.SellerID {
		return nil, errors.BadRequest("Cannot start a chat with yourself", nil)
	}
	if strings.Contains(input.ListingID+input.BuyerID+input.SellerID, entity.RoomIDSeparator) {
		return nil, errors.BadRequest("listing, buyer and seller ids must not contain "+entity.RoomIDSeparator, nil)
	}
	if requesterID != input.BuyerID && requesterID != input.SellerID {
		return nil, errors.Forbidden("You can only open chats you take part in", nil)
	}

	roomID := entity.NewRoomID(input.ListingID, input.BuyerID, input.SellerID)

	// Reopening an existing room is free; only first contact is limited.
	existing, err := uc.roomRepo.GetByID(ctx, roomID)
	switch {
	case err == nil:
		if !existing.Matches(input.ListingID, input.BuyerID, input.SellerID) {
			return nil, errors.Forbidden("You can only open chats you take part in", nil)
		}
	case errors.Is(err, errors.CodeNotFound):
		if err := uc.allow(requesterID, ratelimit.ActionResolveRoom); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	seed := &entity.ChatRoom{
		ID:           roomID,
		ListingID:    input.ListingID,
		BuyerID:      input.BuyerID,
		SellerID:     input.SellerID,
		ListingTitle: input.ListingTitle,
		ListingImage: input.ListingImage,
		ListingPrice: input.ListingPrice,
	}

	v, err, _ := uc.resolveGroup.Do(seed.ID, func() (interface{}, error) {
		room, created, err := uc.roomRepo.GetOrCreate(ctx, seed)
		if err != nil {
			return nil, err
		}
		if created {
			metrics.RoomsCreated.Inc()
			logger.Info("Chat room %s created by %s", room.ID, requesterID)
		}
		return room, nil
	})
	if err != nil {
		return nil, err
	}

	room := v.(*entity.ChatRoom)
	if !room.Matches(input.ListingID, input.BuyerID, input.SellerID) {
		return nil, errors.Forbidden("You can only open chats you take part in", nil)
	}
	return room, nil
}

func (uc *ChatUseCase) GetRoom(ctx context.Context, roomID, userID string) (*entity.ChatRoom, error) {
	room, _, err := uc.participantRoom(ctx, roomID, userID)
	return room, err
}

func (uc *ChatUseCase) ListRooms(ctx context.Context, userID string) ([]*entity.ChatRoom, error) {
	return uc.roomRepo.ListForParticipant(ctx, userID)
}

// SendMessage appends a user message and runs the room side effects.
func (uc *ChatUseCase) SendMessage(ctx context.Context, roomID, senderID string, input SendMessageInput) (*entity.ChatMessage, error) {
	if err := uc.allow(senderID, ratelimit.ActionSendMessage); err != nil {
		return nil, err
	}

	room, role, err := uc.participantRoom(ctx, roomID, senderID)
	if err != nil {
		return nil, err
	}
	if !room.IsActive {
		return nil, errors.Forbidden("This chat has been closed", nil)
	}
	if input.Type == entity.MessageTypeSystem {
		return nil, errors.Forbidden("System messages cannot be sent by users", nil)
	}

	message := &entity.ChatMessage{
		RoomID:     room.ID,
		SenderID:   senderID,
		SenderName: input.SenderName,
		Text:       input.Text,
		ImageURL:   input.ImageURL,
		Type:       input.Type,
		Metadata:   input.Metadata,
	}

	return uc.deliver(ctx, room, role, message, input.SenderName)
}

// deliver appends message and then, in order: updates the room preview,
// bumps the counterparty's unread counter, restores the room for both sides
// and notifies the counterparty in the background. A failure after the
// append is returned so the caller can retry; the message stays stored.
func (uc *ChatUseCase) deliver(ctx context.Context, room *entity.ChatRoom, actor entity.Role, message *entity.ChatMessage, actorName string) (*entity.ChatMessage, error) {
	stored, err := uc.messageRepo.Append(ctx, message)
	if err != nil {
		return nil, err
	}
	metrics.MessagesSent.WithLabelValues(string(stored.Type)).Inc()

	if err := uc.roomRepo.UpdateLastMessage(ctx, room.ID, stored.Preview(), stored.SenderID); err != nil {
		return nil, err
	}

	counterparty := actor.Counterparty()
	if err := uc.roomRepo.IncrementUnread(ctx, room.ID, counterparty); err != nil {
		return nil, err
	}

	// A new message always brings a soft-deleted room back for both sides.
	if err := uc.roomRepo.ClearDeleted(ctx, room.ID); err != nil {
		return nil, err
	}

	uc.notify(room.ParticipantFor(counterparty), room.ID, actorName, stored)

	return stored, nil
}

// notify dispatches in the background. A failed notification is logged and
// counted, never surfaced to the sender.
func (uc *ChatUseCase) notify(receiverID, roomID, senderName string, message *entity.ChatMessage) {
	if uc.notifier == nil {
		return
	}
	if senderName == "" {
		senderName = "someone"
	}

	payload := entity.NotificationPayload{
		Type:  entity.NotificationTypeMessage,
		Title: fmt.Sprintf("New message from %s", senderName),
		Body:  message.Preview(),
		Link:  fmt.Sprintf("/chats/%s", roomID),
	}

	uc.notifyWG.Add(1)
	go func() {
		defer uc.notifyWG.Done()

		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		if _, err := uc.notifier.Notify(ctx, receiverID, payload); err != nil {
			metrics.NotificationFailures.Inc()
			logger.Error("Failed to notify %s about message %s in room %s: %v", receiverID, message.ID, roomID, err)
		}
	}()
}

// WaitForNotifications blocks until background notifications have finished.
func (uc *ChatUseCase) WaitForNotifications() {
	uc.notifyWG.Wait()
}

// GetMessages returns the newest page of the room in ascending order,
// without messages older than the viewer's last clear.
func (uc *ChatUseCase) GetMessages(ctx context.Context, roomID, userID string, limit int) ([]*entity.ChatMessage, error) {
	room, role, err := uc.participantRoom(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}

	messages, err := uc.messageRepo.ListByRoom(ctx, roomID, limit)
	if err != nil {
		return nil, err
	}

	return afterClear(messages, room.ClearedAtFor(role)), nil
}

// MarkRead zeroes the reader's counter and then marks every unread message
// from the counterparty as read.
func (uc *ChatUseCase) MarkRead(ctx context.Context, roomID, readerID string) (int, error) {
	_, role, err := uc.participantRoom(ctx, roomID, readerID)
	if err != nil {
		return 0, err
	}

	if err := uc.roomRepo.ResetUnread(ctx, roomID, role); err != nil {
		return 0, err
	}

	count, err := uc.messageRepo.MarkRead(ctx, roomID, readerID)
	if err != nil {
		return 0, err
	}

	logger.Debug("Marked %d messages as read in room %s for %s", count, roomID, readerID)
	return count, nil
}

// DeleteRoom hides the room from the caller's list only. Messages are kept,
// the caller's unread counter starts over and history before now is hidden
// from the caller.
func (uc *ChatUseCase) DeleteRoom(ctx context.Context, roomID, userID string) error {
	_, role, err := uc.participantRoom(ctx, roomID, userID)
	if err != nil {
		return err
	}

	if err := uc.roomRepo.SetDeleted(ctx, roomID, role, true); err != nil {
		return err
	}
	return uc.roomRepo.ResetUnread(ctx, roomID, role)
}

// CloseRoom is a moderation action. Closed rooms disappear from both lists
// and reject new messages.
func (uc *ChatUseCase) CloseRoom(ctx context.Context, roomID string) error {
	if _, err := uc.roomRepo.GetByID(ctx, roomID); err != nil {
		return err
	}
	if err := uc.roomRepo.Close(ctx, roomID); err != nil {
		return err
	}

	logger.Info("Chat room %s closed by moderation", roomID)
	return nil
}

func (uc *ChatUseCase) DeleteMessage(ctx context.Context, roomID, messageID, userID string) (*entity.ChatMessage, error) {
	if _, err := uc.roomMessage(ctx, roomID, messageID); err != nil {
		return nil, err
	}
	return uc.messageRepo.SoftDelete(ctx, messageID, userID)
}

// SetTyping records (isTyping) or clears the caller's typing signal.
func (uc *ChatUseCase) SetTyping(ctx context.Context, roomID, userID string, isTyping bool) error {
	if isTyping {
		if err := uc.allow(userID, ratelimit.ActionTyping); err != nil {
			return err
		}
	}

	if _, _, err := uc.participantRoom(ctx, roomID, userID); err != nil {
		return err
	}

	var at *time.Time
	if isTyping {
		now := uc.now()
		at = &now
	}
	return uc.presenceRepo.SetTyping(ctx, roomID, userID, at)
}

// IsTyping reports whether anyone but the observer typed within the window.
func (uc *ChatUseCase) IsTyping(ctx context.Context, roomID, observerID string) (bool, error) {
	if _, _, err := uc.participantRoom(ctx, roomID, observerID); err != nil {
		return false, err
	}
	return uc.isTyping(ctx, roomID, observerID)
}

func (uc *ChatUseCase) isTyping(ctx context.Context, roomID, observerID string) (bool, error) {
	signals, err := uc.presenceRepo.GetTyping(ctx, roomID)
	if err != nil {
		return false, err
	}
	return entity.IsAnyoneTyping(signals, observerID, uc.now(), uc.typingWindow), nil
}

func (uc *ChatUseCase) WatchRooms(ctx context.Context, userID string) *feed.Feed[[]*entity.ChatRoom] {
	return uc.roomRepo.WatchForParticipant(ctx, userID)
}

// WatchMessages streams the room's newest page. The viewer's clear point is
// read once when the subscription starts.
func (uc *ChatUseCase) WatchMessages(ctx context.Context, roomID, viewerID string) (*feed.Feed[[]*entity.ChatMessage], error) {
	room, role, err := uc.participantRoom(ctx, roomID, viewerID)
	if err != nil {
		return nil, err
	}

	clearedAt := room.ClearedAtFor(role)
	src := uc.messageRepo.WatchByRoom(ctx, roomID, repository.MaxMessagePage)
	if clearedAt == nil {
		return src, nil
	}

	return feed.Map(ctx, src, func(messages []*entity.ChatMessage) []*entity.ChatMessage {
		return afterClear(messages, clearedAt)
	}), nil
}

// WatchTyping re-evaluates liveness every second and emits when it changes,
// so a signal that goes stale flips to false without any write.
func (uc *ChatUseCase) WatchTyping(ctx context.Context, roomID, observerID string) (*feed.Feed[bool], error) {
	if _, _, err := uc.participantRoom(ctx, roomID, observerID); err != nil {
		return nil, err
	}

	return feed.Start(ctx, func(ctx context.Context, emit func(bool) bool) error {
		ticker := time.NewTicker(typingPollPeriod)
		defer ticker.Stop()

		first := true
		last := false
		for {
			typing, err := uc.isTyping(ctx, roomID, observerID)
			if err != nil {
				return err
			}
			if first || typing != last {
				if !emit(typing) {
					return nil
				}
				first = false
				last = typing
			}

			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	}), nil
}

func (uc *ChatUseCase) AcceptOffer(ctx context.Context, roomID, messageID, userID, userName string) (*entity.ChatMessage, error) {
	return uc.transitionOffer(ctx, roomID, messageID, userID, userName, entity.OfferAccepted)
}

func (uc *ChatUseCase) RejectOffer(ctx context.Context, roomID, messageID, userID, userName string) (*entity.ChatMessage, error) {
	return uc.transitionOffer(ctx, roomID, messageID, userID, userName, entity.OfferRejected)
}

func (uc *ChatUseCase) CancelOffer(ctx context.Context, roomID, messageID, userID, userName string) (*entity.ChatMessage, error) {
	return uc.transitionOffer(ctx, roomID, messageID, userID, userName, entity.OfferCancelled)
}

func (uc *ChatUseCase) transitionOffer(ctx context.Context, roomID, messageID, userID, userName string, next entity.OfferStatus) (*entity.ChatMessage, error) {
	return uc.PatchMessageMetadata(ctx, roomID, messageID, userID, userName, entity.MetadataPatch{
		entity.MetadataOfferStatus: next,
	})
}

// PatchMessageMetadata merges patch into the message metadata. Offer
// responses (accepted, rejected) belong to the counterparty of the offer
// sender; cancelling and every other key belong to the sender. A change of
// offer status is announced with a system message.
func (uc *ChatUseCase) PatchMessageMetadata(ctx context.Context, roomID, messageID, userID, userName string, patch entity.MetadataPatch) (*entity.ChatMessage, error) {
	patch, err := patch.Normalize()
	if err != nil {
		return nil, err
	}

	room, role, err := uc.participantRoom(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	if !room.IsActive {
		return nil, errors.Forbidden("This chat has been closed", nil)
	}

	message, err := uc.roomMessage(ctx, roomID, messageID)
	if err != nil {
		return nil, err
	}
	if err := authorizePatch(message, userID, patch); err != nil {
		return nil, err
	}

	patched, err := uc.messageRepo.PatchMetadata(ctx, messageID, patch)
	if err != nil {
		return nil, err
	}

	status, changed := patch[entity.MetadataOfferStatus].(entity.OfferStatus)
	if !changed {
		return patched, nil
	}
	metrics.OfferTransitions.WithLabelValues(string(status)).Inc()

	notice := &entity.ChatMessage{
		RoomID:     room.ID,
		SenderID:   entity.SystemSenderID,
		SenderName: "System",
		Text:       offerNotice(patched, status),
		Type:       entity.MessageTypeSystem,
	}
	if _, err := uc.deliver(ctx, room, role, notice, userName); err != nil {
		logger.Warn("Offer %s is %s but the system message failed: %v", messageID, status, err)
	}

	return patched, nil
}

func authorizePatch(message *entity.ChatMessage, userID string, patch entity.MetadataPatch) error {
	isSender := message.SenderID == userID

	for key, value := range patch {
		if key != entity.MetadataOfferStatus {
			if !isSender {
				return errors.Forbidden("Only the sender can edit this message", nil)
			}
			continue
		}

		switch value.(entity.OfferStatus) {
		case entity.OfferAccepted, entity.OfferRejected:
			if isSender {
				return errors.Forbidden("You cannot respond to your own offer", nil)
			}
		default:
			if !isSender {
				return errors.Forbidden("Only the sender can cancel this offer", nil)
			}
		}
	}
	return nil
}

func offerNotice(offer *entity.ChatMessage, status entity.OfferStatus) string {
	price := ""
	if offer.Metadata != nil && offer.Metadata.Price != nil {
		price = " of " + entity.FormatPrice(*offer.Metadata.Price)
	}
	return fmt.Sprintf("Offer%s was %s", price, status)
}

// UploadImage stores the file in the object store and sends an image
// message pointing at it.
func (uc *ChatUseCase) UploadImage(ctx context.Context, roomID, senderID string, input UploadImageInput) (*entity.ChatMessage, error) {
	if uc.objectStore == nil {
		return nil, errors.Internal("Image uploads are not configured", nil)
	}
	if !strings.HasPrefix(input.ContentType, "image/") {
		return nil, errors.BadRequest("Only image files can be sent", nil)
	}

	room, _, err := uc.participantRoom(ctx, roomID, senderID)
	if err != nil {
		return nil, err
	}
	if !room.IsActive {
		return nil, errors.Forbidden("This chat has been closed", nil)
	}

	objectPath := fmt.Sprintf("chats/%s/%s%s", roomID, uuid.New().String(), path.Ext(input.FileName))
	url, err := uc.objectStore.Upload(ctx, input.File, input.ContentType, objectPath)
	if err != nil {
		return nil, errors.TransientIO("Failed to upload image", err)
	}

	message, err := uc.SendMessage(ctx, roomID, senderID, SendMessageInput{
		SenderName: input.SenderName,
		Text:       input.Caption,
		Type:       entity.MessageTypeImage,
		ImageURL:   url,
	})
	if err != nil {
		if delErr := uc.objectStore.Delete(context.WithoutCancel(ctx), url); delErr != nil {
			logger.Warn("Failed to remove orphaned upload %s: %v", url, delErr)
		}
		return nil, err
	}
	return message, nil
}

// participantRoom loads the room and the caller's role in it.
func (uc *ChatUseCase) participantRoom(ctx context.Context, roomID, userID string) (*entity.ChatRoom, entity.Role, error) {
	room, err := uc.roomRepo.GetByID(ctx, roomID)
	if err != nil {
		return nil, "", err
	}

	role, ok := room.RoleOf(userID)
	if !ok {
		return nil, "", errors.Forbidden("You are not a participant in this chat", nil)
	}
	return room, role, nil
}

func (uc *ChatUseCase) roomMessage(ctx context.Context, roomID, messageID string) (*entity.ChatMessage, error) {
	message, err := uc.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if message.RoomID != roomID {
		return nil, errors.NotFound("Message", nil)
	}
	return message, nil
}

func (uc *ChatUseCase) allow(userID, action string) error {
	if uc.rateLimiter == nil {
		return nil
	}

	allowed, wait := uc.rateLimiter.Allow(userID, action)
	if !allowed {
		metrics.RateLimitHits.WithLabelValues(action).Inc()
		logger.Warn("Rate limited %s for user %s, retry in %v", action, userID, wait)
		return errors.TooManyRequests(fmt.Sprintf("Rate limit exceeded, try again in %s", wait.Round(time.Second)))
	}
	return nil
}

func afterClear(messages []*entity.ChatMessage, clearedAt *time.Time) []*entity.ChatMessage {
	if clearedAt == nil {
		return messages
	}

	visible := make([]*entity.ChatMessage, 0, len(messages))
	for _, m := range messages {
		if !m.CreatedAt.Before(*clearedAt) {
			visible = append(visible, m)
		}
	}
	return visible
}
