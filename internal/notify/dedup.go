package notify

import (
	"sync"
	"time"

	"github.com/alanyoungcy/dexarb/internal/clock"
)

// Dedup suppresses repeated alerts for the same key within a TTL. It is
// safe for concurrent use.
type Dedup struct {
	seen  map[string]time.Time
	ttl   time.Duration
	clock clock.Clock
	mu    sync.Mutex
}

// NewDedup creates a Dedup that treats a key as a duplicate if it was seen
// within ttl.
func NewDedup(ttl time.Duration, clk clock.Clock) *Dedup {
	return &Dedup{
		seen:  make(map[string]time.Time),
		ttl:   ttl,
		clock: clk,
	}
}

// IsDuplicate reports whether key was seen within the TTL. Unseen or
// expired keys are recorded and reported as new.
func (d *Dedup) IsDuplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	if last, ok := d.seen[key]; ok && now.Sub(last) < d.ttl {
		return true
	}
	d.seen[key] = now
	d.sweep(now)
	return false
}

// Forget drops key so its next occurrence is reported as new.
func (d *Dedup) Forget(key string) {
	d.mu.Lock()
	delete(d.seen, key)
	d.mu.Unlock()
}

// sweep drops expired keys; callers hold mu.
func (d *Dedup) sweep(now time.Time) {
	for k, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, k)
		}
	}
}

// Len returns the number of tracked keys.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
