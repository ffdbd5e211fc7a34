package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_BurstThenWait(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(map[string]Limit{"poke": {Every: time.Second, Burst: 2}})
	rl.now = func() time.Time { return now }

	ok, _ := rl.Allow("u1", "poke")
	assert.True(t, ok)
	ok, _ = rl.Allow("u1", "poke")
	assert.True(t, ok)

	ok, wait := rl.Allow("u1", "poke")
	assert.False(t, ok)
	assert.InDelta(t, time.Second, wait, float64(10*time.Millisecond))

	// other users have their own bucket
	ok, _ = rl.Allow("u2", "poke")
	assert.True(t, ok)

	now = now.Add(time.Second)
	ok, _ = rl.Allow("u1", "poke")
	assert.True(t, ok)
}

func TestRateLimiter_Cleanup(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(nil)
	rl.now = func() time.Time { return now }

	rl.Allow("u1", ActionTyping)
	assert.Len(t, rl.buckets, 1)

	now = now.Add(2 * time.Hour)
	rl.Cleanup()
	assert.Empty(t, rl.buckets)
}
