package websocket

import (
	"encoding/json"
	"time"

	"marketchat/internal/domain/entity"
	"marketchat/pkg/errors"
	"marketchat/pkg/feed"
	"marketchat/pkg/logger"
)

// Inbound frame types.
const (
	MessageTypePing                   = "ping"
	MessageTypeSubscribeRooms         = "subscribe_rooms"
	MessageTypeSubscribeMessages      = "subscribe_messages"
	MessageTypeSubscribeTyping        = "subscribe_typing"
	MessageTypeSubscribeNotifications = "subscribe_notifications"
	MessageTypeUnsubscribe            = "unsubscribe"
	MessageTypeTyping                 = "typing"
)

// Outbound frame types.
const (
	MessageTypePong          = "pong"
	MessageTypeSubscribed    = "subscribed"
	MessageTypeUnsubscribed  = "unsubscribed"
	MessageTypeRooms         = "rooms"
	MessageTypeMessages      = "messages"
	MessageTypeTypingStatus  = "typing_status"
	MessageTypeNotifications = "notifications"
	MessageTypeError         = "error"
)

type InboundMessage struct {
	Type         string `json:"type"`
	RoomID       string `json:"room_id,omitempty"`
	Typing       bool   `json:"typing,omitempty"`
	Subscription string `json:"subscription,omitempty"`
}

type OutboundMessage struct {
	Type         string      `json:"type"`
	Subscription string      `json:"subscription,omitempty"`
	RoomID       string      `json:"room_id,omitempty"`
	Data         interface{} `json:"data,omitempty"`
	Code         string      `json:"code,omitempty"`
	Error        string      `json:"error,omitempty"`
	Timestamp    string      `json:"timestamp"`
}

type TypingStatusData struct {
	Typing bool `json:"typing"`
}

func roomsKey() string                 { return "rooms" }
func notificationsKey() string         { return "notifications" }
func messagesKey(roomID string) string { return "messages:" + roomID }
func typingKey(roomID string) string   { return "typing:" + roomID }

// HandleClientMessage processes one inbound frame.
func (m *Manager) HandleClientMessage(client *Client, raw []byte) {
	var in InboundMessage
	if err := json.Unmarshal(raw, &in); err != nil {
		client.sendError("", errors.BadRequest("Invalid message format", err))
		return
	}

	switch in.Type {
	case MessageTypePing:
		client.sendJSON(OutboundMessage{Type: MessageTypePong})

	case MessageTypeSubscribeRooms:
		m.subscribeRooms(client)

	case MessageTypeSubscribeMessages:
		if !requireRoom(client, in) {
			return
		}
		m.subscribeMessages(client, in.RoomID)

	case MessageTypeSubscribeTyping:
		if !requireRoom(client, in) {
			return
		}
		m.subscribeTyping(client, in.RoomID)

	case MessageTypeSubscribeNotifications:
		m.subscribeNotifications(client)

	case MessageTypeUnsubscribe:
		if client.removeSubscription(in.Subscription) {
			client.sendJSON(OutboundMessage{Type: MessageTypeUnsubscribed, Subscription: in.Subscription})
			return
		}
		client.sendError(in.Subscription, errors.NotFound("Subscription", nil))

	case MessageTypeTyping:
		if !requireRoom(client, in) {
			return
		}
		if err := m.chat.SetTyping(client.ctx, in.RoomID, client.UserID, in.Typing); err != nil {
			client.sendError(typingKey(in.RoomID), err)
		}

	default:
		logger.Debug("Unknown websocket message type %q from %s", in.Type, client.UserID)
		client.sendError("", errors.BadRequest("Unknown message type", nil))
	}
}

func requireRoom(client *Client, in InboundMessage) bool {
	if in.RoomID == "" {
		client.sendError("", errors.BadRequest("room_id is required", nil))
		return false
	}
	return true
}

func (m *Manager) subscribeRooms(client *Client) {
	key := roomsKey()
	f := m.chat.WatchRooms(client.ctx, client.UserID)
	run(client, key, "rooms", f, func(rooms []*entity.ChatRoom) OutboundMessage {
		return OutboundMessage{Type: MessageTypeRooms, Subscription: key, Data: rooms}
	})
}

func (m *Manager) subscribeMessages(client *Client, roomID string) {
	key := messagesKey(roomID)
	f, err := m.chat.WatchMessages(client.ctx, roomID, client.UserID)
	if err != nil {
		client.sendError(key, err)
		return
	}
	run(client, key, "messages", f, func(messages []*entity.ChatMessage) OutboundMessage {
		return OutboundMessage{Type: MessageTypeMessages, Subscription: key, RoomID: roomID, Data: messages}
	})
}

func (m *Manager) subscribeTyping(client *Client, roomID string) {
	key := typingKey(roomID)
	f, err := m.chat.WatchTyping(client.ctx, roomID, client.UserID)
	if err != nil {
		client.sendError(key, err)
		return
	}
	run(client, key, "typing", f, func(typing bool) OutboundMessage {
		return OutboundMessage{Type: MessageTypeTypingStatus, Subscription: key, RoomID: roomID, Data: TypingStatusData{Typing: typing}}
	})
}

func (m *Manager) subscribeNotifications(client *Client) {
	if m.notifications == nil {
		client.sendError(notificationsKey(), errors.NotFound("Notification feed", nil))
		return
	}

	key := notificationsKey()
	f := m.notifications.Watch(client.ctx, client.UserID)
	run(client, key, "notifications", f, func(list []*entity.Notification) OutboundMessage {
		return OutboundMessage{Type: MessageTypeNotifications, Subscription: key, Data: list}
	})
}

// run acknowledges the subscription and forwards every feed value as a
// frame until the feed ends.
func run[T any](client *Client, key, kind string, f *feed.Feed[T], frame func(T) OutboundMessage) {
	if !client.addSubscription(key, kind, f.Cancel) {
		return
	}
	client.sendJSON(OutboundMessage{Type: MessageTypeSubscribed, Subscription: key})

	go func() {
		for v := range f.Updates() {
			client.sendJSON(frame(v))
		}
		if err := f.Err(); err != nil {
			logger.Warn("Subscription %s for %s ended: %v", key, client.UserID, err)
			client.sendError(key, err)
		}
	}()
}

func (c *Client) sendJSON(msg OutboundMessage) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	data, err := json.Marshal(msg)
	if err != nil {
		logger.Error("Failed to encode websocket frame for %s: %v", c.UserID, err)
		return
	}
	c.enqueue(data)
}

func (c *Client) sendError(subscription string, err error) {
	out := OutboundMessage{Type: MessageTypeError, Subscription: subscription, Code: errors.CodeInternal, Error: err.Error()}
	if appErr, ok := errors.As(err); ok {
		out.Code = appErr.Code
		out.Error = appErr.Message
	}
	c.sendJSON(out)
}
