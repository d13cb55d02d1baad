// Package cooldown tracks per-actor expiring throttle flags.
package cooldown

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock returns the current time. Readings from time.Now carry a monotonic component, so
// expiry comparisons are immune to wall-clock jumps.
type Clock func() time.Time

// Tracker is a nested actor -> key -> expiry map. It is safe for concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	buckets map[uuid.UUID]map[string]time.Time
	now     Clock
}

func New(now Clock) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		buckets: map[uuid.UUID]map[string]time.Time{},
		now:     now,
	}
}

// IsOnCooldown reports whether key is still throttled for actor. An expired entry is removed.
func (t *Tracker) IsOnCooldown(actor uuid.UUID, key string) bool {
	t.mu.RLock()
	exp, ok := t.buckets[actor][key]
	t.mu.RUnlock()
	if !ok {
		return false
	}
	if t.now().Before(exp) {
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	// Re-check under the write lock; a concurrent Set may have extended it.
	b := t.buckets[actor]
	if cur, ok := b[key]; ok && !t.now().Before(cur) {
		delete(b, key)
	}
	return false
}

// Set overwrites the expiry of key with now+d. There is no stacking and no minimum.
func (t *Tracker) Set(actor uuid.UUID, key string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.buckets[actor]
	if b == nil {
		b = map[string]time.Time{}
		t.buckets[actor] = b
	}
	b[key] = t.now().Add(d)
}

// Remaining returns max(0, expiry-now).
func (t *Tracker) Remaining(actor uuid.UUID, key string) time.Duration {
	t.mu.RLock()
	exp, ok := t.buckets[actor][key]
	t.mu.RUnlock()
	if !ok {
		return 0
	}
	if d := exp.Sub(t.now()); d > 0 {
		return d
	}
	return 0
}

func (t *Tracker) Remove(actor uuid.UUID, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b := t.buckets[actor]; b != nil {
		delete(b, key)
	}
}

// Clear drops the actor's whole bucket (on disconnect).
func (t *Tracker) Clear(actor uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.buckets, actor)
}

func (t *Tracker) ClearAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buckets = map[uuid.UUID]map[string]time.Time{}
}

// Sweep purges expired entries and empty buckets, returning how many entries were removed.
// Reads self-expire, so this only bounds memory.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	removed := 0
	for actor, b := range t.buckets {
		for key, exp := range b {
			if !now.Before(exp) {
				delete(b, key)
				removed++
			}
		}
		if len(b) == 0 {
			delete(t.buckets, actor)
		}
	}
	return removed
}

// Len returns the number of live buckets and entries.
func (t *Tracker) Len() (actors, entries int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, b := range t.buckets {
		entries += len(b)
	}
	return len(t.buckets), entries
}
