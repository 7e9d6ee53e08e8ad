package main

import (
	"sync"
	"time"
)

// DefaultDuplicateCooldown is the window within which an identical decoded
// header is suppressed.
const DefaultDuplicateCooldown = 30 * time.Second

// DuplicateCache suppresses repeated activations for the same decoded
// header. It is an insertion-ordered map from header signature to
// first-seen time, bounded by expiry rather than size: overlapping scan
// windows decode the same bursts several times within seconds, and every
// decode after the first must not reactivate.
type DuplicateCache struct {
	mu       sync.Mutex
	cooldown time.Duration
	order    []string
	seen     map[string]time.Time
	now      func() time.Time
}

// NewDuplicateCache creates a cache with the given cooldown; zero or
// negative selects the default.
func NewDuplicateCache(cooldown time.Duration) *DuplicateCache {
	if cooldown <= 0 {
		cooldown = DefaultDuplicateCooldown
	}
	return &DuplicateCache{
		cooldown: cooldown,
		seen:     make(map[string]time.Time),
		now:      time.Now,
	}
}

// purgeLocked drops entries older than the cooldown. Entries are in
// insertion order, so purging stops at the first live one.
func (c *DuplicateCache) purgeLocked(now time.Time) {
	cutoff := now.Add(-c.cooldown)
	i := 0
	for ; i < len(c.order); i++ {
		ts, ok := c.seen[c.order[i]]
		if ok && ts.After(cutoff) {
			break
		}
		delete(c.seen, c.order[i])
	}
	if i > 0 {
		c.order = append(c.order[:0], c.order[i:]...)
	}
}

// CheckAndInsert reports whether the signature was already seen within the
// cooldown; if it was not, it is recorded now. The check and insert are one
// atomic step so two concurrent scan workers cannot both forward the same
// alert.
func (c *DuplicateCache) CheckAndInsert(signature string) (duplicate bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.purgeLocked(now)
	if _, ok := c.seen[signature]; ok {
		return true
	}
	c.seen[signature] = now
	c.order = append(c.order, signature)
	return false
}

// Contains reports membership without inserting.
func (c *DuplicateCache) Contains(signature string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeLocked(c.now())
	_, ok := c.seen[signature]
	return ok
}

// Len returns the number of live entries.
func (c *DuplicateCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeLocked(c.now())
	return len(c.seen)
}
