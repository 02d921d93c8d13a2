package mempool

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const replayPruneInterval = 30 * time.Second

// replayWindow tracks recently-confirmed transaction hashes so a
// resubmission is rejected with ErrReplayDetected, generalizing
// ipc.NonceCache's bounded, periodically-pruned seen-set to string keys.
type replayWindow struct {
	mu        sync.Mutex
	clock     clock.Clock
	seen      map[string]time.Time
	maxAge    time.Duration
	ceiling   int
	lastPrune time.Time
}

func newReplayWindow(clk clock.Clock, maxAge time.Duration, ceiling int) *replayWindow {
	return &replayWindow{
		clock:     clk,
		seen:      make(map[string]time.Time),
		maxAge:    maxAge,
		ceiling:   ceiling,
		lastPrune: clk.Now(),
	}
}

func (w *replayWindow) contains(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.seen[key]
	return ok
}

func (w *replayWindow) record(key string) {
	now := w.clock.Now()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seen[key] = now
	if now.Sub(w.lastPrune) >= replayPruneInterval || len(w.seen) > w.ceiling {
		w.pruneLocked(now)
	}
}

func (w *replayWindow) pruneLocked(now time.Time) {
	for key, seenAt := range w.seen {
		if now.Sub(seenAt) > w.maxAge {
			delete(w.seen, key)
		}
	}
	w.lastPrune = now
}
