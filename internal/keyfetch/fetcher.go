// Package keyfetch retrieves credential verification keys from the issuer's
// key authority over HTTP.
package keyfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ggoodman/sitemcp/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultTimeout bounds a single fetch, including endpoint discovery.
	DefaultTimeout = 5 * time.Second

	// DefaultAppCode identifies this gateway to the key authority.
	DefaultAppCode = "gd-mcp"

	// AppCodeHeader carries the app code on every fetch.
	AppCodeHeader = "X-App-Code"

	maxBodyBytes = 1 << 20
)

// Fetcher retrieves the verification key published for (issuer, kid).
type Fetcher interface {
	Fetch(ctx context.Context, issuer, kid string) ([]byte, error)
}

var _ Fetcher = (*HTTPFetcher)(nil)

// HTTPFetcher fetches keys with a bounded per-call timeout. It holds no locks
// across calls, so a slow authority only stalls the requests waiting on it.
type HTTPFetcher struct {
	client    *http.Client
	endpoint  EndpointResolver
	timeout   time.Duration
	appCode   string
	userAgent string
	log       *slog.Logger
	metrics   *telemetry.Metrics
}

// Option configures an HTTPFetcher.
type Option func(*HTTPFetcher)

// WithHTTPClient replaces the default otelhttp-instrumented client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *HTTPFetcher) { f.client = c }
}

// WithEndpoint sets how key URLs are resolved.
func WithEndpoint(r EndpointResolver) Option {
	return func(f *HTTPFetcher) { f.endpoint = r }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *HTTPFetcher) { f.timeout = d }
}

// WithAppCode sets the application code sent to the key authority.
func WithAppCode(code string) Option {
	return func(f *HTTPFetcher) { f.appCode = code }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *HTTPFetcher) { f.log = l }
}

// WithMetrics records fetch outcomes and latency.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(f *HTTPFetcher) { f.metrics = m }
}

// New creates an HTTPFetcher.
func New(opts ...Option) *HTTPFetcher {
	f := &HTTPFetcher{
		endpoint: TemplateEndpoint(DefaultEndpointTemplate),
		timeout:  DefaultTimeout,
		appCode:  DefaultAppCode,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = NewHTTPClient()
	}
	if f.userAgent == "" {
		f.userAgent = "sitemcp-keyfetch/1 (" + f.appCode + ")"
	}
	return f
}

// NewHTTPClient returns a client whose requests are traced. It is the default
// for both the fetcher and discovery.
func NewHTTPClient() *http.Client {
	return &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

// Fetch retrieves the public JWK for (issuer, kid).
//
// It returns ErrKeyNotFound when the authority does not publish kid and a
// *KeyFetchError for every other failure.
func (f *HTTPFetcher) Fetch(ctx context.Context, issuer, kid string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	ctx, span := telemetry.Tracer().Start(ctx, "keyfetch.fetch", trace.WithAttributes(
		attribute.String("auth.issuer", issuer),
		attribute.String("auth.kid", kid),
	))
	defer span.End()

	start := time.Now()
	material, err := f.fetch(ctx, issuer, kid)
	took := time.Since(start)

	switch {
	case err == nil:
		f.metrics.KeyFetch("ok", took)
		f.log.DebugContext(ctx, "keyfetch.fetch.ok", slog.String("issuer", issuer), slog.String("kid", kid), slog.Duration("took", took))
	case errors.Is(err, ErrKeyNotFound):
		f.metrics.KeyFetch("not_found", took)
		span.SetStatus(codes.Error, "key not found")
		f.log.InfoContext(ctx, "keyfetch.fetch.not_found", slog.String("issuer", issuer), slog.String("kid", kid))
	default:
		f.metrics.KeyFetch("error", took)
		span.RecordError(err)
		span.SetStatus(codes.Error, "key fetch failed")
		f.log.WarnContext(ctx, "keyfetch.fetch.error", slog.String("issuer", issuer), slog.String("kid", kid), slog.String("err", err.Error()))
	}

	return material, err
}

func (f *HTTPFetcher) fetch(ctx context.Context, issuer, kid string) ([]byte, error) {
	fail := func(url string, status int, err error) error {
		return &KeyFetchError{Issuer: issuer, KeyID: kid, URL: url, StatusCode: status, Err: err}
	}

	keyURL, err := f.endpoint.KeyURL(ctx, issuer, kid)
	if err != nil {
		return nil, fail("", 0, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, keyURL, nil)
	if err != nil {
		return nil, fail(keyURL, 0, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", f.userAgent)
	if f.appCode != "" {
		req.Header.Set(AppCodeHeader, f.appCode)
	}

	res, err := f.client.Do(req)
	if err != nil {
		return nil, fail(keyURL, 0, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxBodyBytes))
		return nil, ErrKeyNotFound
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxBodyBytes))
		return nil, fail(keyURL, res.StatusCode, fmt.Errorf("unexpected status %d", res.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fail(keyURL, 0, err)
	}
	if len(body) > maxBodyBytes {
		return nil, fail(keyURL, 0, fmt.Errorf("%w: response exceeds %d bytes", ErrMalformedResponse, maxBodyBytes))
	}

	material, err := SelectKey(body, kid)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, err
		}
		return nil, fail(keyURL, 0, err)
	}
	return material, nil
}
