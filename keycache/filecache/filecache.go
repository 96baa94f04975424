// Package filecache implements keycache.Cache on top of a local directory.
//
// Each (issuer, kid) pair is stored as one JSON file whose name is the
// SHA-256 of the composite key. The file records the time it was written and
// when it expires. Files may be deleted at any time by operators; the next
// lookup simply misses and the caller refetches.
//
// Reads are served from an in-memory memo that is invalidated by an fsnotify
// watcher on the directory, so external edits and deletions are observed
// without re-reading the disk on every request.
package filecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ggoodman/sitemcp/keycache"
)

var _ keycache.Cache = (*Cache)(nil)

const (
	fileExt    = ".json"
	tempPrefix = ".tmp-"
)

// Cache is a directory-backed key cache.
type Cache struct {
	dir string
	now keycache.Clock
	log *slog.Logger

	mu   sync.RWMutex
	memo map[string]*keycache.Entry // file name -> entry; nil when memo is disabled

	watcher   *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
}

type fileEntry struct {
	Issuer    string    `json:"issuer"`
	KeyID     string    `json:"kid"`
	Material  []byte    `json:"material"`
	FetchedAt time.Time `json:"fetched_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type config struct {
	now    keycache.Clock
	log    *slog.Logger
	noMemo bool
}

// Option configures a file Cache.
type Option func(*config)

// WithClock overrides the time source used for expiry.
func WithClock(now keycache.Clock) Option {
	return func(c *config) { c.now = now }
}

// WithLogger sets the logger used for watcher diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(c *config) { c.log = log }
}

// WithoutMemo disables the in-memory memo so every Get reads the disk.
func WithoutMemo() Option {
	return func(c *config) { c.noMemo = true }
}

// New opens (creating if needed) a cache rooted at dir.
func New(dir string, opts ...Option) (*Cache, error) {
	cfg := config{now: time.Now, log: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	if dir == "" {
		return nil, fmt.Errorf("filecache: directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("filecache: create %s: %w", dir, err)
	}

	c := &Cache{
		dir:  dir,
		now:  cfg.now,
		log:  cfg.log,
		done: make(chan struct{}),
	}

	if cfg.noMemo {
		return c, nil
	}

	w, err := fsnotify.NewWatcher()
	if err == nil {
		err = w.Add(dir)
		if err != nil {
			_ = w.Close()
		}
	}
	if err != nil {
		// Without a watcher a memo could serve entries that were deleted on disk.
		c.log.Warn("filecache.watch.unavailable", slog.String("dir", dir), slog.String("err", err.Error()))
		return c, nil
	}

	c.watcher = w
	c.memo = make(map[string]*keycache.Entry)
	go c.watch()

	return c, nil
}

// Dir returns the directory backing the cache.
func (c *Cache) Dir() string { return c.dir }

// Path returns the file that holds (issuer, kid).
func (c *Cache) Path(issuer, kid string) string {
	return filepath.Join(c.dir, fileName(issuer, kid))
}

// Get returns the live entry for (issuer, kid), if any.
func (c *Cache) Get(ctx context.Context, issuer, kid string) (*keycache.Entry, error) {
	name := fileName(issuer, kid)
	now := c.now()

	if entry, ok := c.memoGet(name); ok {
		if !entry.IsExpiredAt(now) {
			return entry, nil
		}
		c.memoDrop(name)
	}

	raw, err := os.ReadFile(filepath.Join(c.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("filecache: read %s: %w", name, err)
	}

	var fe fileEntry
	if err := json.Unmarshal(raw, &fe); err != nil || fe.Issuer != issuer || fe.KeyID != kid {
		// Unreadable or foreign blobs are discarded; the caller refetches.
		c.log.WarnContext(ctx, "filecache.entry.discard", slog.String("file", name))
		_ = c.remove(name)
		return nil, nil
	}

	entry := &keycache.Entry{
		Material:  fe.Material,
		FetchedAt: fe.FetchedAt,
		ExpiresAt: fe.ExpiresAt,
	}

	if entry.IsExpiredAt(now) {
		_ = c.remove(name)
		return nil, nil
	}

	c.memoPut(name, entry)
	return entry, nil
}

// Put writes material for (issuer, kid) atomically.
func (c *Cache) Put(ctx context.Context, issuer, kid string, material []byte, ttl time.Duration) error {
	if err := keycache.ValidatePut(issuer, kid, ttl); err != nil {
		return err
	}

	entry := keycache.NewEntry(material, c.now(), ttl)
	data, err := json.Marshal(fileEntry{
		Issuer:    issuer,
		KeyID:     kid,
		Material:  entry.Material,
		FetchedAt: entry.FetchedAt,
		ExpiresAt: entry.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("filecache: marshal entry: %w", err)
	}

	name := fileName(issuer, kid)
	if err := c.writeAtomic(name, data); err != nil {
		return err
	}

	c.memoPut(name, entry)
	return nil
}

// Delete removes the file for (issuer, kid).
func (c *Cache) Delete(ctx context.Context, issuer, kid string) error {
	return c.remove(fileName(issuer, kid))
}

// Close stops the watcher. Files on disk are left in place.
func (c *Cache) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.watcher != nil {
			err = c.watcher.Close()
		}
	})
	return err
}

func (c *Cache) writeAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(c.dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("filecache: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("filecache: write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("filecache: close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(c.dir, name)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("filecache: rename %s: %w", name, err)
	}
	return nil
}

func (c *Cache) remove(name string) error {
	c.memoDrop(name)
	if err := os.Remove(filepath.Join(c.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("filecache: remove %s: %w", name, err)
	}
	return nil
}

func (c *Cache) watch() {
	for {
		select {
		case <-c.done:
			return
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Base(ev.Name)
			if strings.HasPrefix(name, tempPrefix) || !strings.HasSuffix(name, fileExt) {
				continue
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				c.memoDrop(name)
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			// Events may have been dropped; nothing in the memo can be trusted.
			c.log.Warn("filecache.watch.error", slog.String("err", err.Error()))
			c.memoReset()
		}
	}
}

func (c *Cache) memoGet(name string) (*keycache.Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.memo == nil {
		return nil, false
	}
	e, ok := c.memo[name]
	return e, ok
}

func (c *Cache) memoPut(name string, e *keycache.Entry) {
	c.mu.Lock()
	if c.memo != nil {
		c.memo[name] = e
	}
	c.mu.Unlock()
}

func (c *Cache) memoDrop(name string) {
	c.mu.Lock()
	if c.memo != nil {
		delete(c.memo, name)
	}
	c.mu.Unlock()
}

func (c *Cache) memoReset() {
	c.mu.Lock()
	if c.memo != nil {
		c.memo = make(map[string]*keycache.Entry)
	}
	c.mu.Unlock()
}

func fileName(issuer, kid string) string {
	sum := sha256.Sum256([]byte(keycache.Key(issuer, kid)))
	return hex.EncodeToString(sum[:]) + fileExt
}
