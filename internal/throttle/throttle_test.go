package throttle

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestLimiter() (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	limiter := NewLimiter()
	limiter.now = func() time.Time { return clock.now }
	return limiter, clock
}

func TestAllowEnforcesPerKeyGap(t *testing.T) {
	limiter, clock := newTestLimiter()

	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.False(t, limiter.Allow("10.0.0.1"), "immediate repeat")

	clock.advance(999 * time.Millisecond)
	assert.False(t, limiter.Allow("10.0.0.1"), "just inside the gap")

	clock.advance(time.Millisecond)
	assert.True(t, limiter.Allow("10.0.0.1"), "gap elapsed")
}

func TestAllowKeysAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter()

	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.2"))
	assert.False(t, limiter.Allow("10.0.0.1"))
	assert.False(t, limiter.Allow("10.0.0.2"))
}

func TestAllowSweepsIdleEntries(t *testing.T) {
	limiter, clock := newTestLimiter()

	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.Len(t, limiter.lastSeen, 1)

	// An entry aged exactly to the TTL is swept by the next call.
	clock.advance(entryTTL)
	assert.True(t, limiter.Allow("10.0.0.2"))
	assert.Len(t, limiter.lastSeen, 1)
	assert.True(t, limiter.Allow("10.0.0.1"), "swept key starts fresh")
}

func TestAllowFailsClosedAtCapacity(t *testing.T) {
	limiter, clock := newTestLimiter()
	for i := 0; i < maxEntries; i++ {
		limiter.lastSeen[fmt.Sprintf("10.%d.%d.%d", i/65536, i/256%256, i%256)] = clock.now
	}

	assert.False(t, limiter.Allow("192.168.0.1"), "new key at capacity")

	// Even a known key outside its gap is denied while the map is full.
	clock.advance(2 * time.Second)
	assert.False(t, limiter.Allow("10.0.0.1"))

	// Once the sweep clears the idle entries, permits resume.
	clock.advance(entryTTL)
	assert.True(t, limiter.Allow("192.168.0.1"))
	assert.Len(t, limiter.lastSeen, 1)
}
