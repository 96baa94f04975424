package streaminghttp

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/sitemcp/auth"
	"github.com/ggoodman/sitemcp/internal/logctx"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// DefaultMCPPath is where the MCP endpoint is mounted unless overridden.
	DefaultMCPPath = "/gd-mcp/v1/mcp"
	// DefaultAllowedOrigin is the browser origin allowed by default.
	DefaultAllowedOrigin = "https://host.godaddy.com"
	// RequestIDHeader carries the request ID in both directions.
	RequestIDHeader = "X-Request-ID"
)

var jsonMediaType = contenttype.NewMediaType("application/json")

// writeJSONError emits a transport-level error before any JSON-RPC exchange.
// Shape: {"error":{"code":<httpStatus>,"message":"<reason>"}}
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// Option configures the handler built by New.
type Option func(*config)

type config struct {
	mcpPath        string
	allowedOrigins []string
	gatherer       prometheus.Gatherer
	logger         *slog.Logger
	trustProxy     bool
}

// WithMCPPath mounts the MCP endpoint at path.
func WithMCPPath(path string) Option {
	return func(c *config) { c.mcpPath = path }
}

// WithAllowedOrigins replaces the CORS origin allow-list.
func WithAllowedOrigins(origins ...string) Option {
	return func(c *config) { c.allowedOrigins = origins }
}

// WithGatherer sets the registry served on /metrics. Defaults to the
// Prometheus default gatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(c *config) { c.gatherer = g }
}

// WithLogger sets the logger for access and rejection events.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithTrustedProxy takes the client address from X-Forwarded-For or
// X-Real-IP. Only enable it behind a proxy that overwrites those headers;
// otherwise callers choose the address that gets logged.
func WithTrustedProxy(trust bool) Option {
	return func(c *config) { c.trustProxy = trust }
}

// New builds the HTTP surface: health and metrics endpoints plus the MCP
// endpoint behind the authentication gate. The MCP server runs stateless,
// so every request is authenticated on its own and no session is kept.
func New(gate *auth.Gate, server *mcp.Server, opts ...Option) http.Handler {
	cfg := config{
		mcpPath:        DefaultMCPPath,
		allowedOrigins: []string{DefaultAllowedOrigin},
		gatherer:       prometheus.DefaultGatherer,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	r := chi.NewRouter()
	if cfg.trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(requestContext)
	r.Use(accessLog(cfg.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", auth.CredentialHeader, auth.SiteHeader},
		ExposedHeaders:   []string{RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", jsonMediaType.String())
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.HandlerFor(cfg.gatherer, promhttp.HandlerOpts{}))

	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, &mcp.StreamableHTTPOptions{
		Stateless:    true,
		JSONResponse: true,
	})
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(gate))
		r.Use(requireJSON(cfg.logger))
		r.Handle(cfg.mcpPath, mcpHandler)
	})

	return otelhttp.NewHandler(r, "sitemcp")
}

// requestContext assigns the request ID and attaches request attributes to
// the log context. A caller-supplied ID is kept only when it is a UUID.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
			RequestID:  id,
			Method:     r.Method,
			UserAgent:  r.UserAgent(),
			RemoteAddr: r.RemoteAddr,
			Path:       r.URL.Path,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func accessLog(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			log.InfoContext(r.Context(), "http.request",
				slog.Int("status", status),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("dur", time.Since(start)),
			)
		})
	}
}

// requireJSON rejects POST bodies that are not application/json.
func requireJSON(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost {
				ctype, err := contenttype.GetMediaType(r)
				if err != nil || !ctype.Matches(jsonMediaType) {
					log.WarnContext(r.Context(), "content_type.unsupported", slog.String("content_type", r.Header.Get("Content-Type")))
					writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
