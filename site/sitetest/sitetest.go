// Package sitetest is a conformance suite for site.Store implementations.
package sitetest

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/ggoodman/sitemcp/site"
)

// Plugins is the plugin set every factory must install.
var Plugins = []site.Plugin{
	{Slug: "akismet", Name: "Akismet", Version: "5.3", Active: true},
	{Slug: "hello-dolly", Name: "Hello Dolly", Version: "1.7.2"},
}

// StoreFactory returns an empty store describing info with Plugins installed.
type StoreFactory func(t *testing.T, info site.Info) site.Store

// RunStoreTests exercises the site.Store contract.
func RunStoreTests(t *testing.T, factory StoreFactory) {
	ctx := context.Background()
	info := site.Info{Name: "Test Site", URL: "https://example.test", Description: "tests", Version: "6.6"}

	strp := func(s string) *string { return &s }
	statusp := func(s site.Status) *site.Status { return &s }

	t.Run("Info", func(t *testing.T) {
		s := factory(t, info)
		got, err := s.Info(ctx)
		if err != nil {
			t.Fatalf("Info() failed: %v", err)
		}
		if got.Name != info.Name || got.URL != info.URL {
			t.Errorf("Info() = %+v", got)
		}
		if !reflect.DeepEqual(got.ActivePlugins, []string{"akismet"}) {
			t.Errorf("ActivePlugins = %v, want [akismet]", got.ActivePlugins)
		}
	})

	t.Run("CreateThenGet", func(t *testing.T) {
		s := factory(t, info)
		created, err := s.CreatePost(ctx, site.NewPost{Title: "Hello", Content: "<p>World</p>"})
		if err != nil {
			t.Fatalf("CreatePost() failed: %v", err)
		}
		if created.ID < 1 {
			t.Errorf("ID = %d, want >= 1", created.ID)
		}
		if created.Status != site.StatusDraft {
			t.Errorf("Status = %q, want draft by default", created.Status)
		}

		got, err := s.GetPost(ctx, created.ID)
		if err != nil {
			t.Fatalf("GetPost() failed: %v", err)
		}
		if got.Title != "Hello" || got.Content != "<p>World</p>" {
			t.Errorf("GetPost() = %+v", got)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := factory(t, info)
		if _, err := s.GetPost(ctx, 424242); !errors.Is(err, site.ErrPostNotFound) {
			t.Fatalf("GetPost() error = %v, want ErrPostNotFound", err)
		}
	})

	t.Run("UpdateAppliesOnlySetFields", func(t *testing.T) {
		s := factory(t, info)
		p, err := s.CreatePost(ctx, site.NewPost{Title: "A", Content: "c", Excerpt: "e"})
		if err != nil {
			t.Fatalf("CreatePost() failed: %v", err)
		}

		got, err := s.UpdatePost(ctx, p.ID, site.PostPatch{Title: strp("B"), Status: statusp(site.StatusPublish)})
		if err != nil {
			t.Fatalf("UpdatePost() failed: %v", err)
		}
		if got.Title != "B" || got.Status != site.StatusPublish {
			t.Errorf("updated fields not applied: %+v", got)
		}
		if got.Content != "c" || got.Excerpt != "e" {
			t.Errorf("untouched fields changed: %+v", got)
		}

		got, err = s.UpdatePost(ctx, p.ID, site.PostPatch{Content: strp("")})
		if err != nil {
			t.Fatalf("UpdatePost() failed: %v", err)
		}
		if got.Content != "" {
			t.Errorf("content should be cleared, got %q", got.Content)
		}
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		s := factory(t, info)
		if _, err := s.UpdatePost(ctx, 424242, site.PostPatch{Title: strp("x")}); !errors.Is(err, site.ErrPostNotFound) {
			t.Fatalf("UpdatePost() error = %v, want ErrPostNotFound", err)
		}
	})

	t.Run("RejectsInvalidStatus", func(t *testing.T) {
		s := factory(t, info)
		if _, err := s.CreatePost(ctx, site.NewPost{Title: "x", Status: "trash"}); !errors.Is(err, site.ErrInvalidStatus) {
			t.Fatalf("CreatePost() error = %v, want ErrInvalidStatus", err)
		}
	})

	t.Run("PluginActivation", func(t *testing.T) {
		s := factory(t, info)

		p, err := s.ActivatePlugin(ctx, "hello-dolly")
		if err != nil {
			t.Fatalf("ActivatePlugin() failed: %v", err)
		}
		if !p.Active {
			t.Errorf("plugin not active after activation")
		}
		if _, err := s.ActivatePlugin(ctx, "hello-dolly"); err != nil {
			t.Fatalf("ActivatePlugin() is not idempotent: %v", err)
		}

		p, err = s.DeactivatePlugin(ctx, "akismet")
		if err != nil {
			t.Fatalf("DeactivatePlugin() failed: %v", err)
		}
		if p.Active {
			t.Errorf("plugin still active after deactivation")
		}

		got, err := s.Info(ctx)
		if err != nil {
			t.Fatalf("Info() failed: %v", err)
		}
		if !reflect.DeepEqual(got.ActivePlugins, []string{"hello-dolly"}) {
			t.Errorf("ActivePlugins = %v, want [hello-dolly]", got.ActivePlugins)
		}

		if _, err := s.ActivatePlugin(ctx, "missing"); !errors.Is(err, site.ErrPluginNotFound) {
			t.Errorf("ActivatePlugin(missing) error = %v, want ErrPluginNotFound", err)
		}
	})

	t.Run("ConcurrentCreates", func(t *testing.T) {
		s := factory(t, info)
		const n = 20
		var wg sync.WaitGroup
		ids := make(chan int64, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p, err := s.CreatePost(ctx, site.NewPost{Title: "concurrent"})
				if err != nil {
					t.Errorf("CreatePost() failed: %v", err)
					return
				}
				ids <- p.ID
			}()
		}
		wg.Wait()
		close(ids)

		seen := map[int64]bool{}
		for id := range ids {
			if seen[id] {
				t.Fatalf("duplicate post ID %d", id)
			}
			seen[id] = true
		}
	})
}
