// Package memory is an in-process site.Store for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ggoodman/sitemcp/site"
)

var _ site.Store = (*Store)(nil)

// Store keeps posts and plugins in maps guarded by a mutex.
type Store struct {
	mu      sync.RWMutex
	info    site.Info
	posts   map[int64]*site.Post
	plugins map[string]*site.Plugin
	nextID  int64
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithPosts seeds posts. IDs are kept; later creates continue after the
// highest one.
func WithPosts(posts ...site.Post) Option {
	return func(s *Store) {
		for _, p := range posts {
			p := p
			s.posts[p.ID] = &p
			if p.ID >= s.nextID {
				s.nextID = p.ID + 1
			}
		}
	}
}

// WithPlugins seeds installed plugins.
func WithPlugins(plugins ...site.Plugin) Option {
	return func(s *Store) {
		for _, p := range plugins {
			p := p
			s.plugins[p.Slug] = &p
		}
	}
}

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a store describing info. ActivePlugins in info is ignored and
// derived from the plugin set.
func New(info site.Info, opts ...Option) *Store {
	s := &Store{
		info:    info,
		posts:   make(map[int64]*site.Post),
		plugins: make(map[string]*site.Plugin),
		nextID:  1,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Info(_ context.Context) (*site.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := s.info
	info.ActivePlugins = nil
	for slug, p := range s.plugins {
		if p.Active {
			info.ActivePlugins = append(info.ActivePlugins, slug)
		}
	}
	sort.Strings(info.ActivePlugins)
	return &info, nil
}

func (s *Store) GetPost(_ context.Context, id int64) (*site.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.posts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", site.ErrPostNotFound, id)
	}
	out := *p
	return &out, nil
}

func (s *Store) UpdatePost(_ context.Context, id int64, patch site.PostPatch) (*site.Post, error) {
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", site.ErrInvalidStatus, *patch.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", site.ErrPostNotFound, id)
	}
	patch.Apply(p)
	p.Modified = s.now()
	out := *p
	return &out, nil
}

func (s *Store) CreatePost(_ context.Context, np site.NewPost) (*site.Post, error) {
	status := np.Status
	if status == "" {
		status = site.StatusDraft
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", site.ErrInvalidStatus, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	p := &site.Post{
		ID:       s.nextID,
		Title:    np.Title,
		Content:  np.Content,
		Excerpt:  np.Excerpt,
		Status:   status,
		Created:  now,
		Modified: now,
	}
	s.posts[p.ID] = p
	s.nextID++
	out := *p
	return &out, nil
}

func (s *Store) ActivatePlugin(_ context.Context, slug string) (*site.Plugin, error) {
	return s.setActive(slug, true)
}

func (s *Store) DeactivatePlugin(_ context.Context, slug string) (*site.Plugin, error) {
	return s.setActive(slug, false)
}

func (s *Store) setActive(slug string, active bool) (*site.Plugin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.plugins[slug]
	if !ok {
		return nil, fmt.Errorf("%w: %q", site.ErrPluginNotFound, slug)
	}
	p.Active = active
	out := *p
	return &out, nil
}
