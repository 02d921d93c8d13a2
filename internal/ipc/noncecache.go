package ipc

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// pruneSweepInterval is the minimum time between opportunistic prune
// sweeps; a sweep also runs whenever the cache exceeds its ceiling,
// whichever comes first.
const pruneSweepInterval = 30 * time.Second

// NonceCache tracks recently-seen envelope nonces so a replayed message is
// rejected with ErrNonceReused. Entries are retained for at least MaxAge
// regardless of how often a sweep runs, satisfying the invariant that an
// accepted envelope's nonce stays cached for at least MaxAge seconds.
type NonceCache struct {
	mu        sync.Mutex
	clock     clock.Clock
	seen      map[[16]byte]time.Time
	ceiling   int
	maxAge    time.Duration
	lastPrune time.Time
}

// NewNonceCache creates a cache bounded by ceiling entries and retaining
// each nonce for at least maxAge.
func NewNonceCache(clk clock.Clock, ceiling int, maxAge time.Duration) *NonceCache {
	return &NonceCache{
		clock:     clk,
		seen:      make(map[[16]byte]time.Time),
		ceiling:   ceiling,
		maxAge:    maxAge,
		lastPrune: clk.Now(),
	}
}

// CheckAndRecord reports whether nonce is fresh (not previously seen
// within its retention window) and, if so, records it. A false return
// means the caller must reject the envelope with ErrNonceReused.
func (c *NonceCache) CheckAndRecord(nonce [16]byte) bool {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seen[nonce]; ok {
		return false
	}
	c.seen[nonce] = now

	if now.Sub(c.lastPrune) >= pruneSweepInterval || len(c.seen) > c.ceiling {
		c.pruneLocked(now)
	}
	return true
}

// Prune forces an immediate sweep, used by the periodic maintenance task
// and by tests exercising the boundary directly.
func (c *NonceCache) Prune() {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(now)
}

func (c *NonceCache) pruneLocked(now time.Time) {
	for nonce, seenAt := range c.seen {
		if now.Sub(seenAt) > c.maxAge {
			delete(c.seen, nonce)
		}
	}
	c.lastPrune = now
}

// Len reports the number of nonces currently cached, for tests and
// metrics.
func (c *NonceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
