// Package cache is a per-instance TTL cache for derived read results.
// It is not a consistency boundary: concurrent instances each hold their own
// copy and may disagree by up to the TTL. There is no single-flight either;
// concurrent misses may all compute, which is fine for idempotent reads.
//
// On compute failure with a warm entry, Do serves the stale payload instead
// of surfacing the error (stale-while-revalidate). A caller that wants the
// empty-on-failure shape only gets it while the cache is cold; once warm,
// readers see the last good payload until the source recovers.
package cache

import (
	"sync"
	"time"
)

type entry struct {
	payload    any
	computedAt time.Time
	ttl        time.Duration
}

type Cache struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]entry
}

// New takes a clock so tests can control expiry. Pass time.Now in production.
func New(now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{now: now, entries: make(map[string]entry)}
}

// Result reports the value, whether it was served from cache, and when the
// entry goes stale.
type Result struct {
	Value   any
	Cached  bool
	StaleAt time.Time
}

// Do returns the cached value for key if it is still fresh, otherwise runs
// compute and stores the result. If compute fails and a stale entry exists,
// the stale entry is served instead of the error: recomputation is retried on
// the next miss.
func (c *Cache) Do(key string, ttl time.Duration, compute func() (any, error)) (Result, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	now := c.now()
	if ok && now.Before(e.computedAt.Add(e.ttl)) {
		c.mu.Unlock()
		return Result{Value: e.payload, Cached: true, StaleAt: e.computedAt.Add(e.ttl)}, nil
	}
	c.mu.Unlock()

	v, err := compute()
	if err != nil {
		if ok {
			// stale-while-revalidate: serve the old payload on compute failure
			return Result{Value: e.payload, Cached: true, StaleAt: e.computedAt.Add(e.ttl)}, nil
		}
		return Result{}, err
	}

	c.mu.Lock()
	c.entries[key] = entry{payload: v, computedAt: now, ttl: ttl}
	c.mu.Unlock()

	return Result{Value: v, Cached: false, StaleAt: now.Add(ttl)}, nil
}

// Invalidate drops a single key. Used by tests and by write paths that want
// the next read to recompute.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}
