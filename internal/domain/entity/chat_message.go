package entity

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"marketchat/pkg/errors"
)

type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeImage    MessageType = "image"
	MessageTypeOffer    MessageType = "offer"
	MessageTypeSystem   MessageType = "system"
	MessageTypeLocation MessageType = "location"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeOffer, MessageTypeSystem, MessageTypeLocation:
		return true
	}
	return false
}

type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

// DeletedMessageText replaces the text of a soft-deleted message.
const DeletedMessageText = "This message was deleted"

// SystemSenderID is the sender of messages generated by the service itself.
const SystemSenderID = "system"

type OfferStatus string

const (
	OfferPending   OfferStatus = "pending"
	OfferAccepted  OfferStatus = "accepted"
	OfferRejected  OfferStatus = "rejected"
	OfferCancelled OfferStatus = "cancelled"
)

func (s OfferStatus) Valid() bool {
	switch s {
	case OfferPending, OfferAccepted, OfferRejected, OfferCancelled:
		return true
	}
	return false
}

// CanTransitionTo only allows leaving pending; every other state is terminal.
func (s OfferStatus) CanTransitionTo(next OfferStatus) bool {
	if s != OfferPending {
		return false
	}
	return next == OfferAccepted || next == OfferRejected || next == OfferCancelled
}

type Location struct {
	Name string  `json:"name" firestore:"name"`
	Lat  float64 `json:"lat" firestore:"lat"`
	Lng  float64 `json:"lng" firestore:"lng"`
}

// MessageMetadata is tagged by the message type: offers use Price and
// OfferStatus, location messages use Location.
type MessageMetadata struct {
	Price       *float64    `json:"price,omitempty" firestore:"price,omitempty"`
	OfferStatus OfferStatus `json:"offerStatus,omitempty" firestore:"offerStatus,omitempty"`
	Location    *Location   `json:"location,omitempty" firestore:"location,omitempty"`
}

type ChatMessage struct {
	ID         string           `json:"id" firestore:"id"`
	RoomID     string           `json:"room_id" firestore:"roomId"`
	SenderID   string           `json:"sender_id" firestore:"senderId"`
	SenderName string           `json:"sender_name" firestore:"senderName"`
	Text       string           `json:"text" firestore:"text"`
	ImageURL   string           `json:"image_url,omitempty" firestore:"imageUrl,omitempty"`
	Type       MessageType      `json:"type" firestore:"type"`
	Metadata   *MessageMetadata `json:"metadata,omitempty" firestore:"metadata,omitempty"`
	Status     MessageStatus    `json:"status" firestore:"status"`
	IsDeleted  bool             `json:"is_deleted" firestore:"isDeleted"`
	CreatedAt  time.Time        `json:"created_at" firestore:"createdAt,serverTimestamp"`
}

// Validate checks the type against the known set and the metadata each type requires.
func (m *ChatMessage) Validate() error {
	switch m.Type {
	case MessageTypeText, MessageTypeSystem:
		if strings.TrimSpace(m.Text) == "" {
			return errors.InvalidType(fmt.Sprintf("%s message requires text", m.Type))
		}
	case MessageTypeImage:
		if m.ImageURL == "" {
			return errors.InvalidType("image message requires an uploaded image url")
		}
	case MessageTypeOffer:
		if m.Metadata == nil || m.Metadata.Price == nil || *m.Metadata.Price <= 0 {
			return errors.InvalidType("offer message requires a positive price")
		}
	case MessageTypeLocation:
		if m.Metadata == nil || m.Metadata.Location == nil {
			return errors.InvalidType("location message requires name, lat and lng")
		}
		if err := validateLocation(m.Metadata.Location); err != nil {
			return err
		}
	default:
		return errors.InvalidType(fmt.Sprintf("unknown message type %q", m.Type))
	}
	return nil
}

// PrepareForAppend resets the fields a sender does not control: status
// starts at sent, offers start pending and the store assigns createdAt.
// Metadata keys that do not belong to the type are dropped.
func (m *ChatMessage) PrepareForAppend() {
	m.ID = ""
	m.Status = MessageStatusSent
	m.IsDeleted = false
	m.CreatedAt = time.Time{}
	m.Metadata = metadataFor(m.Type, m.Metadata)
}

func metadataFor(t MessageType, in *MessageMetadata) *MessageMetadata {
	if in == nil {
		return nil
	}

	switch t {
	case MessageTypeOffer:
		return &MessageMetadata{Price: in.Price, OfferStatus: OfferPending}
	case MessageTypeLocation:
		return &MessageMetadata{Location: in.Location}
	}
	return nil
}

// Preview is the room list summary for a message.
func (m *ChatMessage) Preview() string {
	switch m.Type {
	case MessageTypeImage:
		if m.Text != "" {
			return "Photo: " + truncate(m.Text, 80)
		}
		return "Sent a photo"
	case MessageTypeOffer:
		return "Offer: " + FormatPrice(*m.Metadata.Price)
	case MessageTypeLocation:
		return "Shared a location: " + m.Metadata.Location.Name
	}
	return truncate(m.Text, 100)
}

// FormatPrice renders a price with thousand separators.
func FormatPrice(price float64) string {
	str := strconv.FormatFloat(price, 'f', 0, 64)

	n := len(str)
	if n <= 3 {
		return str
	}

	var result strings.Builder
	for i, digit := range str {
		if i > 0 && (n-i)%3 == 0 {
			result.WriteString(",")
		}
		result.WriteRune(digit)
	}

	return result.String()
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

func validateLocation(loc *Location) error {
	if strings.TrimSpace(loc.Name) == "" {
		return errors.InvalidType("location requires a name")
	}
	if loc.Lat < -90 || loc.Lat > 90 || loc.Lng < -180 || loc.Lng > 180 {
		return errors.InvalidType("location coordinates out of range")
	}
	return nil
}
