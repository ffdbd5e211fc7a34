package entity

import (
	"fmt"

	"marketchat/pkg/errors"
)

const (
	MetadataPrice       = "price"
	MetadataOfferStatus = "offerStatus"
	MetadataLocation    = "location"
)

// MetadataPatch names the metadata keys to overwrite. Keys not present are
// left untouched by the store.
type MetadataPatch map[string]interface{}

// Normalize rejects unknown keys and coerces values into their stored types:
// price to float64, offerStatus to OfferStatus, location to Location.
func (p MetadataPatch) Normalize() (MetadataPatch, error) {
	if len(p) == 0 {
		return nil, errors.InvalidType("metadata patch is empty")
	}

	out := make(MetadataPatch, len(p))
	for key, value := range p {
		switch key {
		case MetadataPrice:
			price, ok := toFloat(value)
			if !ok || price <= 0 {
				return nil, errors.InvalidType("price must be a positive number")
			}
			out[key] = price
		case MetadataOfferStatus:
			status, ok := toOfferStatus(value)
			if !ok {
				return nil, errors.InvalidType(fmt.Sprintf("unknown offer status %v", value))
			}
			out[key] = status
		case MetadataLocation:
			loc, ok := toLocation(value)
			if !ok {
				return nil, errors.InvalidType("location must have name, lat and lng")
			}
			if err := validateLocation(&loc); err != nil {
				return nil, err
			}
			out[key] = loc
		default:
			return nil, errors.InvalidType(fmt.Sprintf("unknown metadata key %q", key))
		}
	}
	return out, nil
}

// CheckPatch decides whether a normalized patch may be applied to msg.
// Offer keys only apply to offers still pending; offerStatus must be a legal
// transition out of pending.
func CheckPatch(msg *ChatMessage, patch MetadataPatch) error {
	if msg.IsDeleted {
		return errors.InvalidTransition("message has been deleted")
	}

	current := OfferStatus("")
	if msg.Metadata != nil {
		current = msg.Metadata.OfferStatus
	}

	for key, value := range patch {
		switch key {
		case MetadataPrice:
			if msg.Type != MessageTypeOffer {
				return errors.InvalidType("only offer messages carry a price")
			}
			if current != OfferPending {
				return errors.InvalidTransition(fmt.Sprintf("offer is already %s", current))
			}
		case MetadataOfferStatus:
			if msg.Type != MessageTypeOffer {
				return errors.InvalidType("only offer messages carry an offer status")
			}
			next := value.(OfferStatus)
			if !current.CanTransitionTo(next) {
				return errors.InvalidTransition(fmt.Sprintf("cannot move offer from %s to %s", current, next))
			}
		case MetadataLocation:
			if msg.Type != MessageTypeLocation {
				return errors.InvalidType("only location messages carry a location")
			}
		}
	}
	return nil
}

// Apply merges a normalized patch into m.
func (m *MessageMetadata) Apply(patch MetadataPatch) {
	for key, value := range patch {
		switch key {
		case MetadataPrice:
			price := value.(float64)
			m.Price = &price
		case MetadataOfferStatus:
			m.OfferStatus = value.(OfferStatus)
		case MetadataLocation:
			loc := value.(Location)
			m.Location = &loc
		}
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func toOfferStatus(v interface{}) (OfferStatus, bool) {
	var status OfferStatus
	switch s := v.(type) {
	case OfferStatus:
		status = s
	case string:
		status = OfferStatus(s)
	default:
		return "", false
	}
	return status, status.Valid()
}

func toLocation(v interface{}) (Location, bool) {
	switch l := v.(type) {
	case Location:
		return l, true
	case *Location:
		if l == nil {
			return Location{}, false
		}
		return *l, true
	case map[string]interface{}:
		name, ok := l["name"].(string)
		if !ok {
			return Location{}, false
		}
		lat, okLat := toFloat(l["lat"])
		lng, okLng := toFloat(l["lng"])
		if !okLat || !okLng {
			return Location{}, false
		}
		return Location{Name: name, Lat: lat, Lng: lng}, true
	}
	return Location{}, false
}
