package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ggoodman/sitemcp/auth"
	"github.com/ggoodman/sitemcp/auth/authtest"
	"github.com/ggoodman/sitemcp/internal/config"
	"github.com/ggoodman/sitemcp/keycache/filecache"
	"github.com/ggoodman/sitemcp/keycache/memory"
	"github.com/ggoodman/sitemcp/keycache/redis"
	sitememory "github.com/ggoodman/sitemcp/site/memory"
	"github.com/ggoodman/sitemcp/tools"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNewKeyCache(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name  string
		cfg   config.Config
		check func(t *testing.T, c any)
	}{
		{
			name: "memory",
			cfg:  config.Config{KeyCache: config.KeyCacheMemory},
			check: func(t *testing.T, c any) {
				if _, ok := c.(*memory.Cache); !ok {
					t.Errorf("got %T, want *memory.Cache", c)
				}
			},
		},
		{
			name: "file",
			cfg:  config.Config{KeyCache: config.KeyCacheFile, KeyCacheDir: t.TempDir()},
			check: func(t *testing.T, c any) {
				if _, ok := c.(*filecache.Cache); !ok {
					t.Errorf("got %T, want *filecache.Cache", c)
				}
			},
		},
		{
			name: "redis",
			cfg:  config.Config{KeyCache: config.KeyCacheRedis, RedisURL: "redis://" + mr.Addr()},
			check: func(t *testing.T, c any) {
				if _, ok := c.(*redis.Cache); !ok {
					t.Errorf("got %T, want *redis.Cache", c)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			c, err := newKeyCache(context.Background(), &cfg, discard())
			if err != nil {
				t.Fatalf("newKeyCache() failed: %v", err)
			}
			t.Cleanup(func() { _ = c.Close() })
			tt.check(t, c)
		})
	}

	t.Run("unknown", func(t *testing.T) {
		if _, err := newKeyCache(context.Background(), &config.Config{KeyCache: "etcd"}, discard()); err == nil {
			t.Fatal("newKeyCache() accepted an unknown backend")
		}
	})
}

func TestNewSiteStoreDefaultsToMemory(t *testing.T) {
	store, closeStore, err := newSiteStore(context.Background(), &config.Config{SiteName: "Mine", SiteURL: "https://mine.test"})
	if err != nil {
		t.Fatalf("newSiteStore() failed: %v", err)
	}
	defer closeStore()

	if _, ok := store.(*sitememory.Store); !ok {
		t.Fatalf("got %T, want *memory.Store", store)
	}
	info, err := store.Info(context.Background())
	if err != nil {
		t.Fatalf("Info() failed: %v", err)
	}
	if info.Name != "Mine" || info.URL != "https://mine.test" {
		t.Errorf("info = %+v", info)
	}
}

func TestNewGateUsesConfiguredEndpointAndTenant(t *testing.T) {
	iss := authtest.NewIssuer(t)
	t.Setenv(config.CustomerIDVar, "cust-1")
	t.Setenv(config.SiteIDVar, "site-1")
	t.Setenv(config.ConfigDataVar, "")

	cfg := &config.Config{
		AuthHost:        iss.Name,
		KeyEndpoint:     string(iss.Endpoint()),
		KeyFetchTimeout: 5 * time.Second,
		KeyCacheTTL:     time.Hour,
		ClockSkew:       time.Minute,
		AppCode:         "gd-mcp",
	}
	cache, err := memory.New()
	if err != nil {
		t.Fatalf("memory.New() failed: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })

	gate := newGate(cfg, cache, nil, discard())

	h := http.Header{}
	h.Set(auth.CredentialHeader, iss.Shopper(t, "cust-1", time.Hour))
	h.Set(auth.SiteHeader, "site-1")
	if !gate.IsAuthenticated(context.Background(), h) {
		t.Fatal("gate denied a credential for the configured tenant")
	}

	h.Set(auth.SiteHeader, "site-2")
	if gate.IsAuthenticated(context.Background(), h) {
		t.Fatal("gate allowed another site")
	}
}

func TestNewServerRegistersTools(t *testing.T) {
	store, closeStore, err := newSiteStore(context.Background(), &config.Config{SiteName: "Mine"})
	if err != nil {
		t.Fatalf("newSiteStore() failed: %v", err)
	}
	defer closeStore()

	server := newServer(store, nil, discard())

	st, ct := mcp.NewInMemoryTransports()
	ss, err := server.Connect(context.Background(), st, nil)
	if err != nil {
		t.Fatalf("server.Connect() failed: %v", err)
	}
	defer ss.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "test"}, nil)
	cs, err := client.Connect(context.Background(), ct, nil)
	if err != nil {
		t.Fatalf("client.Connect() failed: %v", err)
	}
	defer cs.Close()

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: tools.SiteInfo})
	if err != nil {
		t.Fatalf("CallTool(site_info) failed: %v", err)
	}
	if res.IsError {
		t.Fatalf("site_info returned a tool error: %+v", res.Content)
	}
}
