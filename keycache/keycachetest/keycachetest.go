// Package keycachetest provides a conformance suite for keycache.Cache
// implementations.
package keycachetest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/sitemcp/keycache"
)

// FakeClock is a manually advanced keycache.Clock.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock returns a clock pinned to start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// CacheFactory creates a new Cache whose expiry decisions use clock.
type CacheFactory func(t *testing.T, clock keycache.Clock) keycache.Cache

// RunCacheTests runs the complete Cache test suite against the provided factory.
func RunCacheTests(t *testing.T, factory CacheFactory) {
	t.Run("GetAbsent", func(t *testing.T) { testGetAbsent(t, factory) })
	t.Run("PutThenGetRoundTrip", func(t *testing.T) { testRoundTrip(t, factory) })
	t.Run("ExpiredEntryReportedAbsent", func(t *testing.T) { testLazyExpiry(t, factory) })
	t.Run("PutOverwritesExisting", func(t *testing.T) { testOverwrite(t, factory) })
	t.Run("DeleteForcesAbsent", func(t *testing.T) { testDelete(t, factory) })
	t.Run("IssuersAreIsolated", func(t *testing.T) { testIssuerIsolation(t, factory) })
	t.Run("SeparatorInIdentifiers", func(t *testing.T) { testSeparatorInIdentifiers(t, factory) })
	t.Run("RejectsInvalidPut", func(t *testing.T) { testInvalidPut(t, factory) })
	t.Run("ConcurrentPutAndGet", func(t *testing.T) { testConcurrent(t, factory) })
}

func newCache(t *testing.T, factory CacheFactory) (keycache.Cache, *FakeClock) {
	t.Helper()
	clock := NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	c := factory(t, clock.Now)
	t.Cleanup(func() { _ = c.Close() })
	return c, clock
}

func testGetAbsent(t *testing.T, factory CacheFactory) {
	c, _ := newCache(t, factory)

	entry, err := c.Get(context.Background(), "sso.example.com", "missing")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if entry != nil {
		t.Fatalf("Get() returned %+v for a key never stored", entry)
	}
}

func testRoundTrip(t *testing.T, factory CacheFactory) {
	c, clock := newCache(t, factory)
	ctx := context.Background()
	material := []byte(`{"kty":"RSA","kid":"k1","n":"abc","e":"AQAB"}`)

	if err := c.Put(ctx, "sso.example.com", "k1", material, time.Hour); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	clock.Advance(59 * time.Minute)

	entry, err := c.Get(ctx, "sso.example.com", "k1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if entry == nil {
		t.Fatal("Get() returned nil before TTL expiry")
	}
	if !bytes.Equal(entry.Material, material) {
		t.Fatalf("Get() material = %q, want %q", entry.Material, material)
	}
	if want := clock.Now().Add(-59 * time.Minute); !entry.FetchedAt.Equal(want) {
		t.Errorf("FetchedAt = %v, want %v", entry.FetchedAt, want)
	}
	if want := entry.FetchedAt.Add(time.Hour); !entry.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", entry.ExpiresAt, want)
	}
}

func testLazyExpiry(t *testing.T, factory CacheFactory) {
	c, clock := newCache(t, factory)
	ctx := context.Background()

	if err := c.Put(ctx, "sso.example.com", "k1", []byte("material"), time.Hour); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	clock.Advance(time.Hour)

	entry, err := c.Get(ctx, "sso.example.com", "k1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if entry != nil {
		t.Fatalf("Get() returned entry after TTL expiry: %+v", entry)
	}
}

func testOverwrite(t *testing.T, factory CacheFactory) {
	c, clock := newCache(t, factory)
	ctx := context.Background()

	if err := c.Put(ctx, "sso.example.com", "k1", []byte("first"), time.Minute); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	clock.Advance(30 * time.Second)
	if err := c.Put(ctx, "sso.example.com", "k1", []byte("second"), time.Minute); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	clock.Advance(45 * time.Second)

	entry, err := c.Get(ctx, "sso.example.com", "k1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if entry == nil {
		t.Fatal("Get() returned nil; overwrite should have refreshed the TTL")
	}
	if string(entry.Material) != "second" {
		t.Fatalf("Get() material = %q, want %q", entry.Material, "second")
	}
}

func testDelete(t *testing.T, factory CacheFactory) {
	c, _ := newCache(t, factory)
	ctx := context.Background()

	if err := c.Put(ctx, "sso.example.com", "k1", []byte("material"), time.Hour); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if err := c.Delete(ctx, "sso.example.com", "k1"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	entry, err := c.Get(ctx, "sso.example.com", "k1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if entry != nil {
		t.Fatalf("Get() returned entry after Delete: %+v", entry)
	}

	if err := c.Delete(ctx, "sso.example.com", "never-stored"); err != nil {
		t.Fatalf("Delete() of absent key failed: %v", err)
	}
}

func testIssuerIsolation(t *testing.T, factory CacheFactory) {
	c, _ := newCache(t, factory)
	ctx := context.Background()

	if err := c.Put(ctx, "issuer-a", "shared-kid", []byte("a"), time.Hour); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if err := c.Put(ctx, "issuer-b", "shared-kid", []byte("b"), time.Hour); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	for issuer, want := range map[string]string{"issuer-a": "a", "issuer-b": "b"} {
		entry, err := c.Get(ctx, issuer, "shared-kid")
		if err != nil {
			t.Fatalf("Get(%s) failed: %v", issuer, err)
		}
		if entry == nil || string(entry.Material) != want {
			t.Fatalf("Get(%s) = %+v, want material %q", issuer, entry, want)
		}
	}
}

func testSeparatorInIdentifiers(t *testing.T, factory CacheFactory) {
	c, _ := newCache(t, factory)
	ctx := context.Background()

	if err := c.Put(ctx, "a|b", "c", []byte("first"), time.Hour); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if err := c.Put(ctx, "a", "b|c", []byte("second"), time.Hour); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	for _, tt := range []struct{ issuer, kid, want string }{
		{"a|b", "c", "first"},
		{"a", "b|c", "second"},
	} {
		entry, err := c.Get(ctx, tt.issuer, tt.kid)
		if err != nil {
			t.Fatalf("Get(%q, %q) failed: %v", tt.issuer, tt.kid, err)
		}
		if entry == nil || string(entry.Material) != tt.want {
			t.Fatalf("Get(%q, %q) = %+v, want material %q", tt.issuer, tt.kid, entry, tt.want)
		}
	}
}

func testInvalidPut(t *testing.T, factory CacheFactory) {
	c, _ := newCache(t, factory)
	ctx := context.Background()

	if err := c.Put(ctx, "sso.example.com", "k1", []byte("x"), 0); !errors.Is(err, keycache.ErrInvalidTTL) {
		t.Errorf("Put(ttl=0) error = %v, want ErrInvalidTTL", err)
	}
	if err := c.Put(ctx, "", "k1", []byte("x"), time.Hour); !errors.Is(err, keycache.ErrInvalidKey) {
		t.Errorf("Put(issuer=\"\") error = %v, want ErrInvalidKey", err)
	}
}

func testConcurrent(t *testing.T, factory CacheFactory) {
	c, _ := newCache(t, factory)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers*2)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			material := []byte(fmt.Sprintf("material-%d", i))
			for j := 0; j < 20; j++ {
				if err := c.Put(ctx, "sso.example.com", "hot", material, time.Hour); err != nil {
					errs <- err
					return
				}
				entry, err := c.Get(ctx, "sso.example.com", "hot")
				if err != nil {
					errs <- err
					return
				}
				if entry == nil {
					errs <- errors.New("entry vanished during concurrent writes")
					return
				}
			}
		}(i)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent access failed: %v", err)
	}
}
