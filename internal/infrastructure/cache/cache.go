package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"findash/internal/domain/account"
)

// Operation names the logical upstream call a cache entry stands for
type Operation string

const (
	OpBalances     Operation = "balances"
	OpLiabilities  Operation = "liabilities"
	OpTransactions Operation = "transactions"
)

// Key identifies a cache entry. ScopeID is a connection or account ID.
type Key struct {
	ScopeID string
	Op      Operation
}

var (
	cacheMeter = otel.Meter("findash.cache")
	lookups, _ = cacheMeter.Int64Counter("cache.lookups",
		metric.WithDescription("Cache validity checks by operation and outcome"))
)

// Stats are simple counters for cache behavior, intended for diagnostics.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
	Size   int   `json:"size"`
}

type entry struct {
	storedAt time.Time
	payload  any
}

// TieredCache is a process-local validity cache. Entries carry no
// correctness obligation: a lost entry only costs an extra upstream call.
type TieredCache struct {
	mu      sync.RWMutex
	entries map[Key]entry
	now     func() time.Time

	hits   int64
	misses int64
	sets   int64
}

// Option configures a TieredCache
type Option func(*TieredCache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *TieredCache) { c.now = now }
}

// New creates an empty cache
func New(opts ...Option) *TieredCache {
	c := &TieredCache{
		entries: make(map[Key]entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsValid reports whether an entry exists for key and is younger than ttl.
func (c *TieredCache) IsValid(key Key, ttl time.Duration) bool {
	_, ok := c.Get(key, ttl)
	return ok
}

// Get returns the payload stored under key when it is younger than ttl.
// Expired entries are evicted lazily.
func (c *TieredCache) Get(key Key, ttl time.Duration) (any, bool) {
	c.mu.RLock()
	e, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		c.recordLookup(key, false)
		return nil, false
	}

	if c.now().Sub(e.storedAt) >= ttl {
		c.mu.Lock()
		// Only evict if nobody refreshed it meanwhile
		if cur, ok := c.entries[key]; ok && cur.storedAt.Equal(e.storedAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		c.recordLookup(key, false)
		return nil, false
	}

	c.recordLookup(key, true)
	return e.payload, true
}

// Set stores payload under key, stamped with the current time.
func (c *TieredCache) Set(key Key, payload any) {
	c.mu.Lock()
	c.entries[key] = entry{storedAt: c.now(), payload: payload}
	c.mu.Unlock()
	atomic.AddInt64(&c.sets, 1)
}

// Invalidate drops the entry for key, if any.
func (c *TieredCache) Invalidate(key Key) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Stats returns a snapshot of the counters.
func (c *TieredCache) Stats() Stats {
	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()

	return Stats{
		Hits:   atomic.LoadInt64(&c.hits),
		Misses: atomic.LoadInt64(&c.misses),
		Sets:   atomic.LoadInt64(&c.sets),
		Size:   size,
	}
}

func (c *TieredCache) recordLookup(key Key, hit bool) {
	outcome := "miss"
	if hit {
		atomic.AddInt64(&c.hits, 1)
		outcome = "hit"
	} else {
		atomic.AddInt64(&c.misses, 1)
	}
	lookups.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("operation", string(key.Op)),
		attribute.String("outcome", outcome),
	))
}

// TTLPolicy maps account activity classes to cache lifetimes
type TTLPolicy struct {
	High        time.Duration
	Medium      time.Duration
	Low         time.Duration
	Liabilities time.Duration
}

// DefaultTTLPolicy returns the lifetimes used when nothing is configured.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		High:        6 * time.Hour,
		Medium:      12 * time.Hour,
		Low:         24 * time.Hour,
		Liabilities: 24 * time.Hour,
	}
}

// For returns the TTL of one activity class.
func (p TTLPolicy) For(class account.ActivityClass) time.Duration {
	switch class {
	case account.ActivityHigh:
		return p.High
	case account.ActivityMedium:
		return p.Medium
	default:
		return p.Low
	}
}

// Effective returns the TTL of the least stale-tolerant account in the set.
// An empty set gets the low-activity TTL.
func (p TTLPolicy) Effective(accounts []*account.Account) time.Duration {
	if len(accounts) == 0 {
		return p.Low
	}
	ttl := p.For(accounts[0].ActivityClass())
	for _, acc := range accounts[1:] {
		if t := p.For(acc.ActivityClass()); t < ttl {
			ttl = t
		}
	}
	return ttl
}
