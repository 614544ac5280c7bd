package dedupe

import (
	"context"
	"sync"
	"time"
)

// Cache is a process-local, best-effort TTL set. It absorbs webhook
// double-taps without a network round trip but resets on restart, so it
// must never substitute for the shared store.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	ttl     time.Duration
	maxSize int
}

// NewCache creates a local dedup cache holding at most maxSize entries.
func NewCache(ttl time.Duration, maxSize int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = 5000
	}
	return &Cache{
		seen:    make(map[string]time.Time),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Contains reports whether key is present and unexpired.
func (c *Cache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.seen[key]
	return ok && time.Since(at) < c.ttl
}

// Mark records key as seen.
func (c *Cache) Mark(key string) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.seen) >= c.maxSize {
		c.evict(now)
	}
	c.seen[key] = now
}

// evict drops expired entries; if nothing expired, drops the oldest.
// Caller holds the lock.
func (c *Cache) evict(now time.Time) {
	var oldestKey string
	var oldestAt time.Time
	dropped := false
	for k, at := range c.seen {
		if now.Sub(at) >= c.ttl {
			delete(c.seen, k)
			dropped = true
			continue
		}
		if oldestKey == "" || at.Before(oldestAt) {
			oldestKey, oldestAt = k, at
		}
	}
	if !dropped && oldestKey != "" {
		delete(c.seen, oldestKey)
	}
}

// Tiered layers the local cache in front of the authoritative store.
// A local hit short-circuits; a local miss always consults the store,
// which remains the sole admission authority.
type Tiered struct {
	local *Cache
	store Store
}

// NewTiered wires a local cache tier in front of store.
func NewTiered(local *Cache, store Store) *Tiered {
	return &Tiered{local: local, store: store}
}

func (t *Tiered) Admit(ctx context.Context, key string) (bool, error) {
	if t.local != nil && t.local.Contains(key) {
		return false, nil
	}
	ok, err := t.store.Admit(ctx, key)
	if err != nil {
		// Do not poison the local tier: the store never ruled on this key.
		return false, err
	}
	if t.local != nil {
		t.local.Mark(key)
	}
	return ok, nil
}
