package entity

import (
	"sort"
	"time"
)

type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

func (r Role) Counterparty() Role {
	if r == RoleBuyer {
		return RoleSeller
	}
	return RoleBuyer
}

func (r Role) Valid() bool {
	return r == RoleBuyer || r == RoleSeller
}

// ChatRoom is the one conversation between a buyer and a seller about a listing.
// It is never physically deleted; IsActive=false is terminal.
type ChatRoom struct {
	ID                string     `json:"id" firestore:"id"`
	ListingID         string     `json:"listing_id" firestore:"listingId"`
	BuyerID           string     `json:"buyer_id" firestore:"buyerId"`
	SellerID          string     `json:"seller_id" firestore:"sellerId"`
	Participants      []string   `json:"participants" firestore:"participants"`
	ListingTitle      string     `json:"listing_title,omitempty" firestore:"listingTitle"`
	ListingImage      string     `json:"listing_image,omitempty" firestore:"listingImage"`
	ListingPrice      float64    `json:"listing_price" firestore:"listingPrice"`
	LastMessage       string     `json:"last_message,omitempty" firestore:"lastMessage"`
	LastMessageAt     time.Time  `json:"last_message_at" firestore:"lastMessageAt"`
	LastSenderID      string     `json:"last_sender_id,omitempty" firestore:"lastSenderId"`
	UnreadCountBuyer  int        `json:"unread_count_buyer" firestore:"unreadCountBuyer"`
	UnreadCountSeller int        `json:"unread_count_seller" firestore:"unreadCountSeller"`
	IsActive          bool       `json:"is_active" firestore:"isActive"`
	DeletedByBuyer    bool       `json:"deleted_by_buyer" firestore:"deletedByBuyer"`
	DeletedBySeller   bool       `json:"deleted_by_seller" firestore:"deletedBySeller"`
	ClearedAtBuyer    *time.Time `json:"cleared_at_buyer,omitempty" firestore:"clearedAtBuyer,omitempty"`
	ClearedAtSeller   *time.Time `json:"cleared_at_seller,omitempty" firestore:"clearedAtSeller,omitempty"`
	CreatedAt         time.Time  `json:"created_at" firestore:"createdAt"`
}

// RoleOf reports which side of the room userID is on.
func (r *ChatRoom) RoleOf(userID string) (Role, bool) {
	switch userID {
	case r.BuyerID:
		return RoleBuyer, true
	case r.SellerID:
		return RoleSeller, true
	}
	return "", false
}

func (r *ChatRoom) ParticipantFor(role Role) string {
	if role == RoleBuyer {
		return r.BuyerID
	}
	return r.SellerID
}

func (r *ChatRoom) DeletedFor(role Role) bool {
	if role == RoleBuyer {
		return r.DeletedByBuyer
	}
	return r.DeletedBySeller
}

func (r *ChatRoom) ClearedAtFor(role Role) *time.Time {
	if role == RoleBuyer {
		return r.ClearedAtBuyer
	}
	return r.ClearedAtSeller
}

// IsVisibleTo is false for closed rooms and rooms the user has soft-deleted.
func (r *ChatRoom) IsVisibleTo(userID string) bool {
	role, ok := r.RoleOf(userID)
	if !ok || !r.IsActive {
		return false
	}
	return !r.DeletedFor(role)
}

// VisibleRooms filters rooms down to those userID should see in their list,
// newest activity first.
func VisibleRooms(rooms []*ChatRoom, userID string) []*ChatRoom {
	visible := make([]*ChatRoom, 0, len(rooms))
	for _, room := range rooms {
		if room.IsVisibleTo(userID) {
			visible = append(visible, room)
		}
	}

	sort.SliceStable(visible, func(i, j int) bool {
		return visible[i].LastMessageAt.After(visible[j].LastMessageAt)
	})

	return visible
}
