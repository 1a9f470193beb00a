// Package cache provides the small thread-safe utilities of §4.H: a TTL
// map used by remote data adapters to suppress duplicate upstream calls,
// a per-domain request throttler, and stock-code normalization.
package cache

import (
	"sync"
	"time"
)

type ttlEntry struct {
	value   any
	expires time.Time
}

// TTL is a string-keyed map with per-entry expiry. Get evicts lazily when
// the entry has expired; all access is guarded by a single mutex.
type TTL struct {
	mu      sync.Mutex
	entries map[string]ttlEntry
	now     func() time.Time
}

// NewTTL builds an empty TTL cache. now defaults to time.Now and is
// overridable for deterministic tests.
func NewTTL(now func() time.Time) *TTL {
	if now == nil {
		now = time.Now
	}
	return &TTL{entries: make(map[string]ttlEntry), now: now}
}

// Set stores value under key with the given time-to-live.
func (c *TTL) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = ttlEntry{value: value, expires: c.now().Add(ttl)}
}

// Get returns (value, true) if key is present and unexpired; otherwise it
// evicts the stale entry (if any) and returns (nil, false).
func (c *TTL) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

// Len reports the number of entries, expired or not (expired ones are
// only reaped on access, matching the lazy-eviction contract of §4.H).
func (c *TTL) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
