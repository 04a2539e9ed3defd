// Package throttle spaces out expensive discovery scans per client. It is a
// courtesy limit against accidental request loops, not a security boundary.
package throttle

import (
	"sync"
	"time"
)

const (
	// minGap is the shortest spacing between permits for one key.
	minGap = time.Second

	// entryTTL is how long an idle key survives before a sweep drops it.
	entryTTL = time.Minute

	// maxEntries caps the tracking map; at capacity Allow denies every
	// request until a sweep frees room.
	maxEntries = 50_000
)

// Limiter grants each key at most one permit per second. It keeps no timers;
// expired entries are swept on access.
type Limiter struct {
	mu       sync.Mutex
	lastSeen map[string]time.Time
	now      func() time.Time
}

func NewLimiter() *Limiter {
	return &Limiter{
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Allow reports whether the caller identified by key may scan now. A denied
// caller can retry after a second.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-entryTTL)
	for k, seen := range l.lastSeen {
		if !seen.After(cutoff) {
			delete(l.lastSeen, k)
		}
	}

	if seen, ok := l.lastSeen[key]; ok && now.Sub(seen) < minGap {
		return false
	}
	if len(l.lastSeen) >= maxEntries {
		return false
	}
	l.lastSeen[key] = now
	return true
}
