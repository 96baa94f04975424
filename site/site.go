// Package site defines the content and plugin operations exposed as tools.
// Implementations live in sub-packages.
package site

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPostNotFound is returned when no post has the requested ID.
	ErrPostNotFound = errors.New("site: post not found")
	// ErrPluginNotFound is returned for an unknown plugin slug.
	ErrPluginNotFound = errors.New("site: plugin not found")
	// ErrInvalidStatus is returned for a status outside Statuses.
	ErrInvalidStatus = errors.New("site: invalid post status")
)

// Status is a post's publication state.
type Status string

const (
	StatusPublish Status = "publish"
	StatusDraft   Status = "draft"
	StatusPrivate Status = "private"
	StatusPending Status = "pending"
	StatusFuture  Status = "future"
)

// Statuses lists every accepted status.
var Statuses = []Status{StatusPublish, StatusDraft, StatusPrivate, StatusPending, StatusFuture}

// Valid reports whether s is one of Statuses.
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// Info describes the site.
type Info struct {
	Name          string   `json:"name"`
	URL           string   `json:"url"`
	Description   string   `json:"description"`
	Version       string   `json:"version"`
	ActivePlugins []string `json:"active_plugins"`
}

// Post is a content item.
type Post struct {
	ID       int64     `json:"id"`
	Title    string    `json:"title"`
	Content  string    `json:"content"`
	Excerpt  string    `json:"excerpt"`
	Status   Status    `json:"status"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
}

// PostPatch changes the non-nil fields of a post.
type PostPatch struct {
	Title   *string
	Content *string
	Excerpt *string
	Status  *Status
}

// Empty reports whether the patch changes nothing.
func (p PostPatch) Empty() bool {
	return p.Title == nil && p.Content == nil && p.Excerpt == nil && p.Status == nil
}

// Apply writes the patch onto post.
func (p PostPatch) Apply(post *Post) {
	if p.Title != nil {
		post.Title = *p.Title
	}
	if p.Content != nil {
		post.Content = *p.Content
	}
	if p.Excerpt != nil {
		post.Excerpt = *p.Excerpt
	}
	if p.Status != nil {
		post.Status = *p.Status
	}
}

// NewPost is the input for creating a post. An empty Status means draft.
type NewPost struct {
	Title   string
	Content string
	Excerpt string
	Status  Status
}

// Plugin is an installed extension.
type Plugin struct {
	Slug    string `json:"slug"`
	Name    string `json:"name"`
	Version string `json:"version"`
	Active  bool   `json:"active"`
}

// Store is the site backend the tools operate on. Implementations must be
// safe for concurrent use.
type Store interface {
	Info(ctx context.Context) (*Info, error)
	GetPost(ctx context.Context, id int64) (*Post, error)
	// UpdatePost applies patch and returns the updated post, or
	// ErrPostNotFound.
	UpdatePost(ctx context.Context, id int64, patch PostPatch) (*Post, error)
	CreatePost(ctx context.Context, p NewPost) (*Post, error)
	// ActivatePlugin and DeactivatePlugin are idempotent and return the
	// plugin's resulting state, or ErrPluginNotFound.
	ActivatePlugin(ctx context.Context, slug string) (*Plugin, error)
	DeactivatePlugin(ctx context.Context, slug string) (*Plugin, error)
}
