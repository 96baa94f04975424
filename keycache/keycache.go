// Package keycache defines a time-bounded store of credential verification
// material keyed by (issuer, key identifier).
//
// Entries are opaque blobs. A cache never interprets the material it holds;
// callers decide what format to write and read back. Every backend applies
// lazy expiry: an entry whose TTL has elapsed is reported absent by Get even
// if it is still physically present in the backing store.
//
// # Backends
//
//   - keycache/memory: bounded in-process LRU.
//   - keycache/filecache: a directory of JSON blobs, safe to delete at any time.
//   - keycache/redis: a shared Redis instance for multi-process deployments.
//
// Each backend is validated by the conformance suite in keycache/keycachetest.
package keycache

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// Cache stores verification material for (issuer, kid) pairs.
//
// Implementations must be safe for concurrent use. Concurrent Puts for the
// same pair resolve as last-writer-wins; material is immutable per key
// identifier so any winner is correct.
type Cache interface {
	// Get returns the entry for (issuer, kid). It returns a nil entry and a
	// nil error when the pair was never stored or when its entry has expired.
	// A non-nil error indicates a failure of the backing store.
	Get(ctx context.Context, issuer, kid string) (*Entry, error)

	// Put stores material for (issuer, kid), replacing any existing entry.
	Put(ctx context.Context, issuer, kid string, material []byte, ttl time.Duration) error

	// Delete removes the entry for (issuer, kid). Deleting an absent entry is
	// not an error.
	Delete(ctx context.Context, issuer, kid string) error

	// Close releases resources held by the cache.
	Close() error
}

// Entry is a single cached piece of verification material.
type Entry struct {
	Material  []byte
	FetchedAt time.Time
	ExpiresAt time.Time
}

// IsExpired reports whether the entry has expired as of now.
func (e *Entry) IsExpired() bool {
	return e.IsExpiredAt(time.Now())
}

// IsExpiredAt reports whether the entry has expired as of t.
func (e *Entry) IsExpiredAt(t time.Time) bool {
	return !t.Before(e.ExpiresAt)
}

// Clock returns the current time. Backends accept one so tests can control
// expiry without sleeping.
type Clock func() time.Time

var (
	// ErrInvalidTTL is returned by Put when the TTL is not positive.
	ErrInvalidTTL = errors.New("keycache: ttl must be positive")

	// ErrInvalidKey is returned when issuer or kid is empty.
	ErrInvalidKey = errors.New("keycache: issuer and kid are required")
)

// Key returns the canonical composite key for (issuer, kid). The issuer is
// length-prefixed so distinct pairs never share a key.
func Key(issuer, kid string) string {
	return strconv.Itoa(len(issuer)) + ":" + issuer + "|" + kid
}

// ValidatePut checks the arguments common to every backend's Put.
func ValidatePut(issuer, kid string, ttl time.Duration) error {
	if issuer == "" || kid == "" {
		return ErrInvalidKey
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return nil
}

// NewEntry builds an entry fetched at now that expires after ttl. The material
// is copied so callers may reuse their buffer.
func NewEntry(material []byte, now time.Time, ttl time.Duration) *Entry {
	data := make([]byte, len(material))
	copy(data, material)
	return &Entry{
		Material:  data,
		FetchedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}
