// Command sitemcp serves the site management tools over MCP streamable HTTP.
// Every tool call must carry a credential issued for this site's customer.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ggoodman/sitemcp/auth"
	"github.com/ggoodman/sitemcp/internal/config"
	"github.com/ggoodman/sitemcp/internal/jwtauth"
	"github.com/ggoodman/sitemcp/internal/keyfetch"
	"github.com/ggoodman/sitemcp/internal/logctx"
	"github.com/ggoodman/sitemcp/internal/telemetry"
	"github.com/ggoodman/sitemcp/keycache"
	"github.com/ggoodman/sitemcp/keycache/filecache"
	"github.com/ggoodman/sitemcp/keycache/memory"
	"github.com/ggoodman/sitemcp/keycache/redis"
	"github.com/ggoodman/sitemcp/site"
	sitememory "github.com/ggoodman/sitemcp/site/memory"
	"github.com/ggoodman/sitemcp/site/postgres"
	"github.com/ggoodman/sitemcp/streaminghttp"
	"github.com/ggoodman/sitemcp/tools"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	serverName    = "gd-mcp"
	serverVersion = "0.1.1"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := slog.New(logctx.Handler{Handler: slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})})
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tracing, shutdownTracing, err := telemetry.InitTracing(ctx, serverName)
	if err != nil {
		log.WarnContext(ctx, "tracing.init.fail", slog.String("err", err.Error()))
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = shutdownTracing(sctx)
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	cache, err := newKeyCache(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("key cache: %w", err)
	}
	defer cache.Close()

	gate := newGate(cfg, cache, metrics, log)

	store, closeStore, err := newSiteStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("site store: %w", err)
	}
	defer closeStore()

	server := newServer(store, metrics, log)

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: streaminghttp.New(gate, server,
			streaminghttp.WithMCPPath(cfg.MCPPath),
			streaminghttp.WithAllowedOrigins(cfg.AllowedOrigin),
			streaminghttp.WithGatherer(reg),
			streaminghttp.WithLogger(log),
			streaminghttp.WithTrustedProxy(cfg.TrustProxy),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.InfoContext(ctx, "server.ready",
		slog.String("addr", cfg.ListenAddr),
		slog.String("mcp_path", cfg.MCPPath),
		slog.String("key_cache", cfg.KeyCache),
		slog.Bool("tracing", tracing),
	)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("server.shutdown")
	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer scancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newKeyCache(ctx context.Context, cfg *config.Config, log *slog.Logger) (keycache.Cache, error) {
	switch cfg.KeyCache {
	case config.KeyCacheMemory:
		return memory.New()
	case config.KeyCacheRedis:
		return redis.NewFromURL(ctx, cfg.RedisURL)
	case config.KeyCacheFile:
		return filecache.New(cfg.KeyCacheDir, filecache.WithLogger(log))
	default:
		return nil, fmt.Errorf("unknown key cache %q", cfg.KeyCache)
	}
}

func newGate(cfg *config.Config, cache keycache.Cache, metrics *telemetry.Metrics, log *slog.Logger) *auth.Gate {
	client := keyfetch.NewHTTPClient()
	fetchOpts := []keyfetch.Option{
		keyfetch.WithHTTPClient(client),
		keyfetch.WithTimeout(cfg.KeyFetchTimeout),
		keyfetch.WithAppCode(cfg.AppCode),
		keyfetch.WithLogger(log),
		keyfetch.WithMetrics(metrics),
	}
	if cfg.KeyDiscovery {
		fetchOpts = append(fetchOpts, keyfetch.WithEndpoint(keyfetch.NewDiscoveryEndpoint(client)))
	} else {
		fetchOpts = append(fetchOpts, keyfetch.WithEndpoint(keyfetch.TemplateEndpoint(cfg.KeyEndpoint)))
	}

	resolver := jwtauth.NewKeyResolver(cache, keyfetch.New(fetchOpts...),
		jwtauth.WithKeyTTL(cfg.KeyCacheTTL),
		jwtauth.WithResolverLogger(log),
		jwtauth.WithResolverMetrics(metrics),
	)
	authn := auth.NewAuthenticator(jwtauth.NewVerifier(resolver, nil), auth.DefaultFormats(cfg.AuthHost),
		auth.WithClockSkew(cfg.ClockSkew),
		auth.WithAuthenticatorLogger(log),
	)

	tenant, origins := config.LoadTenant(os.LookupEnv)
	log.Info("tenant.loaded",
		slog.String("customer_id_origin", string(origins.CustomerID)),
		slog.String("site_id_origin", string(origins.SiteID)),
		slog.Bool("invalid", tenant.Invalid),
	)
	if tenant.CustomerID == "" || tenant.SiteID == "" {
		log.Warn("tenant.incomplete")
	}

	return auth.NewGate(authn, tenant, auth.WithGateLogger(log), auth.WithGateMetrics(metrics))
}

func newServer(store site.Store, metrics *telemetry.Metrics, log *slog.Logger) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil)
	tools.Register(server, store, tools.WithLogger(log), tools.WithMetrics(metrics))
	return server
}

func newSiteStore(ctx context.Context, cfg *config.Config) (site.Store, func(), error) {
	info := site.Info{Name: cfg.SiteName, URL: cfg.SiteURL, Version: serverVersion}

	if cfg.DatabaseURL == "" {
		return sitememory.New(info), func() {}, nil
	}

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	store := postgres.New(pool, info)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool.Close, nil
}
