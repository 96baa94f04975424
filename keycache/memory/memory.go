// Package memory provides an in-memory implementation of keycache.Cache
// using github.com/hashicorp/golang-lru/v2 for bounded storage with TTL support.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ggoodman/sitemcp/keycache"
	lru "github.com/hashicorp/golang-lru/v2"
)

var _ keycache.Cache = (*Cache)(nil)

// DefaultMaxEntries bounds the number of (issuer, kid) pairs held in memory.
const DefaultMaxEntries = 1024

// Cache implements keycache.Cache in process memory.
type Cache struct {
	mu    sync.RWMutex
	cache *lru.Cache[string, *keycache.Entry]
	now   keycache.Clock

	done      chan struct{}
	closeOnce sync.Once
}

type config struct {
	maxEntries    int
	sweepInterval time.Duration
	now           keycache.Clock
}

// Option configures a memory Cache.
type Option func(*config)

// WithMaxEntries sets the LRU capacity.
func WithMaxEntries(n int) Option {
	return func(c *config) { c.maxEntries = n }
}

// WithSweepInterval starts a background goroutine that evicts expired entries
// on the given interval. Without it, expiry is purely lazy.
func WithSweepInterval(d time.Duration) Option {
	return func(c *config) { c.sweepInterval = d }
}

// WithClock overrides the time source used for expiry.
func WithClock(now keycache.Clock) Option {
	return func(c *config) { c.now = now }
}

// New creates a new in-memory key cache.
func New(opts ...Option) (*Cache, error) {
	cfg := config{maxEntries: DefaultMaxEntries, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}

	l, err := lru.New[string, *keycache.Entry](cfg.maxEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	c := &Cache{
		cache: l,
		now:   cfg.now,
		done:  make(chan struct{}),
	}

	if cfg.sweepInterval > 0 {
		go c.sweep(cfg.sweepInterval)
	}

	return c, nil
}

// Get returns the live entry for (issuer, kid), if any.
func (c *Cache) Get(ctx context.Context, issuer, kid string) (*keycache.Entry, error) {
	key := keycache.Key(issuer, kid)

	c.mu.RLock()
	entry, ok := c.cache.Get(key)
	c.mu.RUnlock()

	if !ok {
		return nil, nil
	}

	if entry.IsExpiredAt(c.now()) {
		c.mu.Lock()
		// Re-check under the write lock; a concurrent Put may have refreshed it.
		if cur, ok := c.cache.Peek(key); ok && cur == entry {
			c.cache.Remove(key)
		}
		c.mu.Unlock()
		return nil, nil
	}

	return entry, nil
}

// Put stores material for (issuer, kid).
func (c *Cache) Put(ctx context.Context, issuer, kid string, material []byte, ttl time.Duration) error {
	if err := keycache.ValidatePut(issuer, kid, ttl); err != nil {
		return err
	}

	entry := keycache.NewEntry(material, c.now(), ttl)

	c.mu.Lock()
	c.cache.Add(keycache.Key(issuer, kid), entry)
	c.mu.Unlock()

	return nil
}

// Delete removes the entry for (issuer, kid).
func (c *Cache) Delete(ctx context.Context, issuer, kid string) error {
	c.mu.Lock()
	c.cache.Remove(keycache.Key(issuer, kid))
	c.mu.Unlock()
	return nil
}

// Len reports the number of entries physically held, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cache.Len()
}

// Close stops the sweeper and drops all entries.
func (c *Cache) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		c.cache.Purge()
		c.mu.Unlock()
	})
	return nil
}

func (c *Cache) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for _, key := range c.cache.Keys() {
		if entry, ok := c.cache.Peek(key); ok && entry.IsExpiredAt(now) {
			c.cache.Remove(key)
		}
	}
}
