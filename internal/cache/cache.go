// Package cache provides a small bounded key/value cache with explicit expiry.
//
// Entries expire after their TTL and are dropped lazily on access or by
// Prune. When an insert pushes the cache above MaxEntries, expired entries are
// removed first and then the entries closest to expiry.
package cache

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type Options struct {
	// TTL applied by Set and GetOrCreate. Zero means entries never expire.
	TTL time.Duration
	// MaxEntries bounds the number of live entries. Zero means unbounded.
	MaxEntries int
	Clock      clockwork.Clock
}

type entry[V any] struct {
	val     V
	expires time.Time // zero = no expiry
}

type Cache[K comparable, V any] struct {
	mu    sync.Mutex
	opt   Options
	items map[K]entry[V]

	evictions uint64
}

func New[K comparable, V any](opt Options) *Cache[K, V] {
	if opt.Clock == nil {
		opt.Clock = clockwork.NewRealClock()
	}
	return &Cache[K, V]{opt: opt, items: make(map[K]entry[V])}
}

func (c *Cache[K, V]) expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func expired(e time.Time, now time.Time) bool {
	return !e.IsZero() && !now.Before(e)
}

// Get returns the value for k if present and not expired.
func (c *Cache[K, V]) Get(k K) (V, bool) {
	now := c.opt.Clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[k]
	if !ok {
		var zero V
		return zero, false
	}
	if expired(e.expires, now) {
		delete(c.items, k)
		var zero V
		return zero, false
	}
	return e.val, true
}

// Set stores v under k with the default TTL.
func (c *Cache[K, V]) Set(k K, v V) {
	c.SetWithTTL(k, v, c.opt.TTL)
}

// SetWithTTL stores v under k with an explicit TTL.
func (c *Cache[K, V]) SetWithTTL(k K, v V, ttl time.Duration) {
	now := c.opt.Clock.Now()
	c.mu.Lock()
	c.items[k] = entry[V]{val: v, expires: c.expiry(now, ttl)}
	c.enforceLocked(now)
	c.mu.Unlock()
}

// GetOrCreate returns the live value for k, creating it with fn when absent.
// Either way the entry's expiry is pushed to now+TTL.
func (c *Cache[K, V]) GetOrCreate(k K, fn func() V) V {
	now := c.opt.Clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[k]
	if !ok || expired(e.expires, now) {
		e = entry[V]{val: fn()}
	}
	e.expires = c.expiry(now, c.opt.TTL)
	c.items[k] = e
	if !ok {
		c.enforceLocked(now)
	}
	return e.val
}

// Extend pushes the expiry of k to at least until. It is a no-op for missing
// or non-expiring entries.
func (c *Cache[K, V]) Extend(k K, until time.Time) {
	c.mu.Lock()
	if e, ok := c.items[k]; ok && !e.expires.IsZero() && e.expires.Before(until) {
		e.expires = until
		c.items[k] = e
	}
	c.mu.Unlock()
}

func (c *Cache[K, V]) Delete(k K) {
	c.mu.Lock()
	delete(c.items, k)
	c.mu.Unlock()
}

// Len counts stored entries, including expired ones not yet pruned.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Prune drops expired entries and returns how many were removed.
func (c *Cache[K, V]) Prune() int {
	now := c.opt.Clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pruneExpiredLocked(now)
}

// Purge removes everything.
func (c *Cache[K, V]) Purge() {
	c.mu.Lock()
	c.items = make(map[K]entry[V])
	c.mu.Unlock()
}

// Evictions counts entries removed to honor MaxEntries.
func (c *Cache[K, V]) Evictions() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictions
}

func (c *Cache[K, V]) pruneExpiredLocked(now time.Time) int {
	n := 0
	for k, e := range c.items {
		if expired(e.expires, now) {
			delete(c.items, k)
			n++
		}
	}
	return n
}

func (c *Cache[K, V]) enforceLocked(now time.Time) {
	max := c.opt.MaxEntries
	if max <= 0 || len(c.items) <= max {
		return
	}
	c.pruneExpiredLocked(now)
	for len(c.items) > max {
		var (
			victim K
			first  time.Time
			found  bool
		)
		// Non-expiring entries are evicted only when nothing else is left.
		for k, e := range c.items {
			if !found {
				victim, first, found = k, e.expires, true
				continue
			}
			if first.IsZero() && !e.expires.IsZero() {
				victim, first = k, e.expires
				continue
			}
			if !e.expires.IsZero() && e.expires.Before(first) {
				victim, first = k, e.expires
			}
		}
		if !found {
			return
		}
		delete(c.items, victim)
		c.evictions++
	}
}
