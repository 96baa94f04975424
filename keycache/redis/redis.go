// Package redis provides a Redis-based implementation of keycache.Cache so
// that several gateway processes can share fetched verification material.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/sitemcp/keycache"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix is used when Config.KeyPrefix is empty.
const DefaultKeyPrefix = "sitemcp:keys:"

// Config contains configuration options for the Redis key cache.
type Config struct {
	// Client is the Redis client instance.
	Client redis.UniversalClient

	// KeyPrefix is the prefix for all Redis keys.
	// Default: "sitemcp:keys:"
	KeyPrefix string

	// Clock overrides the time source used for expiry. Default: time.Now.
	Clock keycache.Clock
}

// Cache implements keycache.Cache using Redis.
type Cache struct {
	client    redis.UniversalClient
	keyPrefix string
	now       keycache.Clock
}

// storedEntry represents the structure stored in Redis.
type storedEntry struct {
	Material  []byte    `json:"material"`
	FetchedAt time.Time `json:"fetched_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// New creates a new Redis-based key cache.
func New(cfg Config) (*Cache, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Cache{
		client:    cfg.Client,
		keyPrefix: cfg.KeyPrefix,
		now:       cfg.Clock,
	}, nil
}

// NewFromURL parses a redis:// URL and builds a cache around a new client.
func NewFromURL(ctx context.Context, url string) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(Config{Client: client})
}

// Get returns the live entry for (issuer, kid), if any.
func (c *Cache) Get(ctx context.Context, issuer, kid string) (*keycache.Entry, error) {
	redisKey := c.buildKey(issuer, kid)

	raw, err := c.client.Get(ctx, redisKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get key %s: %w", redisKey, err)
	}

	var stored storedEntry
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stored entry: %w", err)
	}

	entry := &keycache.Entry{
		Material:  stored.Material,
		FetchedAt: stored.FetchedAt,
		ExpiresAt: stored.ExpiresAt,
	}

	// Redis TTL normally handles this, but clocks between processes drift.
	if entry.IsExpiredAt(c.now()) {
		return nil, nil
	}

	return entry, nil
}

// Put stores material for (issuer, kid) with a native Redis TTL.
func (c *Cache) Put(ctx context.Context, issuer, kid string, material []byte, ttl time.Duration) error {
	if err := keycache.ValidatePut(issuer, kid, ttl); err != nil {
		return err
	}

	entry := keycache.NewEntry(material, c.now(), ttl)
	data, err := json.Marshal(storedEntry{
		Material:  entry.Material,
		FetchedAt: entry.FetchedAt,
		ExpiresAt: entry.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	redisKey := c.buildKey(issuer, kid)
	if err := c.client.Set(ctx, redisKey, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", redisKey, err)
	}

	return nil
}

// Delete removes the entry for (issuer, kid).
func (c *Cache) Delete(ctx context.Context, issuer, kid string) error {
	redisKey := c.buildKey(issuer, kid)
	if err := c.client.Del(ctx, redisKey).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", redisKey, err)
	}
	return nil
}

// Close closes the underlying Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) buildKey(issuer, kid string) string {
	return c.keyPrefix + keycache.Key(issuer, kid)
}

// Compile-time interface check
var _ keycache.Cache = (*Cache)(nil)
