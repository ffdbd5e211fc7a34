package entity

import (
	"strings"
	"time"
)

const (
	TypingFieldPrefix   = "typing_"
	DefaultTypingWindow = 5 * time.Second
)

func TypingField(userID string) string {
	return TypingFieldPrefix + userID
}

// TypingSignalsFromFields picks the typing_<userId> timestamps out of a raw
// room record. Cleared signals (nil values) are skipped.
func TypingSignalsFromFields(fields map[string]interface{}) map[string]time.Time {
	signals := make(map[string]time.Time)
	for key, value := range fields {
		if !strings.HasPrefix(key, TypingFieldPrefix) {
			continue
		}
		if at, ok := value.(time.Time); ok {
			signals[strings.TrimPrefix(key, TypingFieldPrefix)] = at
		}
	}
	return signals
}

// IsAnyoneTyping reports whether any user other than the observer signalled
// typing within window of now. Stale signals age out without being cleared.
func IsAnyoneTyping(signals map[string]time.Time, observerID string, now time.Time, window time.Duration) bool {
	for userID, at := range signals {
		if userID == observerID {
			continue
		}
		if now.Sub(at) <= window {
			return true
		}
	}
	return false
}
