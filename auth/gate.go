package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ggoodman/sitemcp/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// CredentialHeader carries the bearer credential.
	CredentialHeader = "X-GD-JWT"
	// SiteHeader carries the site the caller claims to act on.
	SiteHeader = "X-GD-SITE-ID"
)

// PrincipalAuthenticator is the part of *Authenticator the gate uses.
type PrincipalAuthenticator interface {
	Attempt(ctx context.Context, credential string) (*Principal, error)
}

var _ PrincipalAuthenticator = (*Authenticator)(nil)

// Gate is the single allow/deny decision made for every privileged request.
// Its methods never return errors and never panic.
type Gate struct {
	authn   PrincipalAuthenticator
	tenant  TenantContext
	log     *slog.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithGateLogger sets the logger used for decisions.
func WithGateLogger(l *slog.Logger) GateOption {
	return func(g *Gate) { g.log = l }
}

// WithGateMetrics records every decision.
func WithGateMetrics(m *telemetry.Metrics) GateOption {
	return func(g *Gate) { g.metrics = m }
}

// WithGateTracer overrides the tracer.
func WithGateTracer(t trace.Tracer) GateOption {
	return func(g *Gate) { g.tracer = t }
}

// NewGate creates a Gate bound to tenant.
func NewGate(authn PrincipalAuthenticator, tenant TenantContext, opts ...GateOption) *Gate {
	g := &Gate{
		authn:  authn,
		tenant: tenant,
		log:    slog.Default(),
		tracer: telemetry.Tracer(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// IsAuthenticated reports whether the request headers carry a valid
// credential bound to this process's tenant.
func (g *Gate) IsAuthenticated(ctx context.Context, h http.Header) bool {
	_, ok := g.Check(ctx, h)
	return ok
}

// Check is IsAuthenticated that also returns the principal on success.
func (g *Gate) Check(ctx context.Context, h http.Header) (p *Principal, ok bool) {
	ctx, span := g.tracer.Start(ctx, "auth.gate")
	defer span.End()

	credential := strings.TrimSpace(h.Get(CredentialHeader))
	siteID := strings.TrimSpace(h.Get(SiteHeader))

	defer func() {
		if r := recover(); r != nil {
			p, ok = nil, false
			g.deny(ctx, span, fmt.Errorf("auth: recovered panic: %v", r), credential, siteID)
		}
	}()

	p, err := g.decide(ctx, credential, siteID)
	if err != nil {
		g.deny(ctx, span, err, credential, siteID)
		return nil, false
	}

	g.metrics.Decision(true, string(KindNone))
	span.SetAttributes(
		attribute.String("auth.result", "allow"),
		attribute.String("auth.format", p.Format),
	)
	g.log.DebugContext(ctx, "auth.gate.allow",
		slog.String("format", p.Format),
		slog.String("principal", identityOf(p)),
		slog.String("site_id", siteID),
	)
	return p, true
}

func (g *Gate) decide(ctx context.Context, credential, siteID string) (*Principal, error) {
	if credential == "" || siteID == "" {
		return nil, ErrMissingHeader
	}

	p, err := g.authn.Attempt(ctx, credential)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, &NoFormatError{}
	}

	if err := CheckTenant(p, siteID, g.tenant); err != nil {
		return nil, err
	}
	return p, nil
}

func (g *Gate) deny(ctx context.Context, span trace.Span, err error, credential, siteID string) {
	kind := KindOf(err)
	g.metrics.Decision(false, string(kind))

	span.SetAttributes(
		attribute.String("auth.result", "deny"),
		attribute.String("auth.kind", string(kind)),
	)
	attrs := []any{
		slog.String("kind", string(kind)),
		slog.String("credential_fp", Fingerprint(credential)),
		slog.String("site_id", siteID),
		slog.String("err", err.Error()),
	}
	if kind.IsFault() {
		span.SetStatus(codes.Error, string(kind))
		g.log.WarnContext(ctx, "auth.gate.fault", attrs...)
		return
	}
	g.log.InfoContext(ctx, "auth.gate.deny", attrs...)
}

// Fingerprint returns a short, non-reversible identifier for credential so
// denials can be correlated without logging the credential.
func Fingerprint(credential string) string {
	if credential == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:6])
}

func identityOf(p *Principal) string {
	if p == nil || p.Claims == nil {
		return ""
	}
	return p.Claims.Identity()
}
