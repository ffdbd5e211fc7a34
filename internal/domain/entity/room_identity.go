package entity

// RoomIDSeparator joins the parts of a room key. Ids containing it would let
// two triples share one key, so callers reject them before deriving a key.
const RoomIDSeparator = "_"

// NewRoomID derives the room key for a listing conversation. Buyer and seller
// are not interchangeable: (L, A, B) and (L, B, A) are different rooms.
func NewRoomID(listingID, buyerID, sellerID string) string {
	return listingID + RoomIDSeparator + buyerID + RoomIDSeparator + sellerID
}

// Matches reports whether the room was created for exactly this triple.
func (r *ChatRoom) Matches(listingID, buyerID, sellerID string) bool {
	return r.ListingID == listingID && r.BuyerID == buyerID && r.SellerID == sellerID
}
