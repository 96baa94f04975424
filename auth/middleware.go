package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ggoodman/sitemcp/internal/logctx"
)

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal stored by Middleware.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}

// Middleware admits only requests the gate accepts. Rejected requests get a
// 401 with a fixed body; the reason is logged, never returned.
func Middleware(g *Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := g.Check(r.Context(), r.Header)
			if !ok {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
				return
			}

			ctx := WithPrincipal(r.Context(), p)
			ctx = logctx.WithAuthData(ctx, &logctx.AuthData{
				Format:    p.Format,
				Principal: identityOf(p),
				SiteID:    strings.TrimSpace(r.Header.Get(SiteHeader)),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
