package jwtauth

import (
	"context"
	"log/slog"
	"time"

	"github.com/ggoodman/sitemcp/internal/keyfetch"
	"github.com/ggoodman/sitemcp/internal/telemetry"
	"github.com/ggoodman/sitemcp/keycache"
	"golang.org/x/sync/singleflight"
)

// DefaultKeyTTL is how long fetched key material is trusted before it must be
// fetched again.
const DefaultKeyTTL = 12 * time.Hour

// KeySource yields verification material for (issuer, kid).
type KeySource interface {
	Resolve(ctx context.Context, issuer, kid string) ([]byte, error)
	Invalidate(ctx context.Context, issuer, kid string)
}

var _ KeySource = (*KeyResolver)(nil)

// KeyResolver consults the cache and falls back to the fetcher, writing
// fetched material through to the cache.
//
// Concurrent misses for the same (issuer, kid) share one fetch. The shared
// fetch is detached from any single caller's cancellation and is bounded by
// the fetcher's own timeout; each waiter still returns as soon as its own
// context is done.
type KeyResolver struct {
	cache   keycache.Cache
	fetcher keyfetch.Fetcher
	ttl     time.Duration
	log     *slog.Logger
	metrics *telemetry.Metrics

	group singleflight.Group
}

// ResolverOption configures a KeyResolver.
type ResolverOption func(*KeyResolver)

// WithKeyTTL sets the TTL for cached material.
func WithKeyTTL(d time.Duration) ResolverOption {
	return func(r *KeyResolver) { r.ttl = d }
}

// WithResolverLogger sets the logger.
func WithResolverLogger(l *slog.Logger) ResolverOption {
	return func(r *KeyResolver) { r.log = l }
}

// WithResolverMetrics records cache hits and misses.
func WithResolverMetrics(m *telemetry.Metrics) ResolverOption {
	return func(r *KeyResolver) { r.metrics = m }
}

// NewKeyResolver creates a resolver over cache and fetcher.
func NewKeyResolver(cache keycache.Cache, fetcher keyfetch.Fetcher, opts ...ResolverOption) *KeyResolver {
	r := &KeyResolver{
		cache:   cache,
		fetcher: fetcher,
		ttl:     DefaultKeyTTL,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns key material for (issuer, kid).
//
// A cache failure is logged and treated as a miss. Fetch failures are
// returned unchanged: keyfetch.ErrKeyNotFound or *keyfetch.KeyFetchError.
func (r *KeyResolver) Resolve(ctx context.Context, issuer, kid string) ([]byte, error) {
	entry, err := r.cache.Get(ctx, issuer, kid)
	switch {
	case err != nil:
		r.metrics.KeyCacheLookup("error")
		r.log.WarnContext(ctx, "keycache.get.error", slog.String("issuer", issuer), slog.String("kid", kid), slog.String("err", err.Error()))
	case entry != nil:
		r.metrics.KeyCacheLookup("hit")
		return entry.Material, nil
	default:
		r.metrics.KeyCacheLookup("miss")
	}

	fctx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(keycache.Key(issuer, kid), func() (any, error) {
		material, err := r.fetcher.Fetch(fctx, issuer, kid)
		if err != nil {
			return nil, err
		}
		if err := r.cache.Put(fctx, issuer, kid, material, r.ttl); err != nil {
			r.log.WarnContext(fctx, "keycache.put.error", slog.String("issuer", issuer), slog.String("kid", kid), slog.String("err", err.Error()))
		}
		return material, nil
	})

	select {
	case <-ctx.Done():
		return nil, &keyfetch.KeyFetchError{Issuer: issuer, KeyID: kid, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

// Invalidate drops cached material that turned out to be unusable.
func (r *KeyResolver) Invalidate(ctx context.Context, issuer, kid string) {
	if err := r.cache.Delete(ctx, issuer, kid); err != nil {
		r.log.WarnContext(ctx, "keycache.delete.error", slog.String("issuer", issuer), slog.String("kid", kid), slog.String("err", err.Error()))
	}
}
