package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	ActionSendMessage = "send_message"
	ActionResolveRoom = "resolve_room"
	ActionTyping      = "typing"
	ActionHTTPRequest = "http_request"
)

// Limit is the token bucket shape for one action.
type Limit struct {
	Every time.Duration
	Burst int
}

// DefaultLimits mirrors how often a real participant does each action.
var DefaultLimits = map[string]Limit{
	// 10 messages per minute
	ActionSendMessage: {Every: 6 * time.Second, Burst: 10},
	// 5 new conversations per hour
	ActionResolveRoom: {Every: 12 * time.Minute, Burst: 5},
	// 30 typing events per minute
	ActionTyping: {Every: 2 * time.Second, Burst: 30},
	// 120 requests per minute per IP
	ActionHTTPRequest: {Every: 500 * time.Millisecond, Burst: 60},
}

var defaultLimit = Limit{Every: 3 * time.Second, Burst: 20}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per user and action.
type RateLimiter struct {
	limits  map[string]Limit
	buckets map[string]*bucket
	mutex   sync.Mutex
	now     func() time.Time
}

func NewRateLimiter(limits map[string]Limit) *RateLimiter {
	if limits == nil {
		limits = DefaultLimits
	}
	return &RateLimiter{
		limits:  limits,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow consumes a token for the user's action. When the bucket is empty it
// returns false and how long until the next token.
func (rl *RateLimiter) Allow(userID, action string) (bool, time.Duration) {
	now := rl.now()
	b := rl.bucketFor(userID+":"+action, action, now)

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return false, wait
	}
	return true, 0
}

func (rl *RateLimiter) bucketFor(key, action string, now time.Time) *bucket {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		limit, known := rl.limits[action]
		if !known {
			limit = defaultLimit
		}
		b = &bucket{limiter: rate.NewLimiter(rate.Every(limit.Every), limit.Burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b
}

// Cleanup drops buckets idle for longer than an hour.
func (rl *RateLimiter) Cleanup() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > time.Hour {
			delete(rl.buckets, key)
		}
	}
}

// StartCleanupRoutine runs Cleanup every 30 minutes until stop is closed.
func (rl *RateLimiter) StartCleanupRoutine(stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-stop:
				return
			}
		}
	}()
}
