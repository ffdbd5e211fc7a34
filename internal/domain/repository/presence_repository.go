package repository

import (
	"context"
	"time"
)

// PresenceRepository stores the last typing timestamp per user and room.
// Signals are advisory; a nil timestamp clears the user's signal.
type PresenceRepository interface {
	SetTyping(ctx context.Context, roomID, userID string, at *time.Time) error
	GetTyping(ctx context.Context, roomID string) (map[string]time.Time, error)
}
