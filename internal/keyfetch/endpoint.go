package keyfetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
)

// DefaultEndpointTemplate is the issuer's published per-key endpoint.
const DefaultEndpointTemplate = "https://{issuer}/v1/api/key/{kid}"

// EndpointResolver maps (issuer, kid) to the URL that publishes the key.
type EndpointResolver interface {
	KeyURL(ctx context.Context, issuer, kid string) (string, error)
}

// TemplateEndpoint expands {issuer} and {kid} placeholders. Both values are
// path-escaped.
type TemplateEndpoint string

// KeyURL implements EndpointResolver.
func (t TemplateEndpoint) KeyURL(_ context.Context, issuer, kid string) (string, error) {
	raw := strings.NewReplacer(
		"{issuer}", url.PathEscape(issuer),
		"{kid}", url.PathEscape(kid),
	).Replace(string(t))

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid key endpoint %q: %w", raw, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return "", fmt.Errorf("invalid key endpoint %q: unsupported scheme", raw)
	}
	return u.String(), nil
}

// DiscoveryEndpoint resolves the issuer's jwks_uri through OpenID Connect
// discovery. Discovery documents are cached per issuer for the life of the
// resolver; a failed discovery is not cached.
type DiscoveryEndpoint struct {
	client *http.Client

	mu      sync.Mutex
	jwksURI map[string]string
}

// NewDiscoveryEndpoint creates a discovery resolver. A nil client uses
// NewHTTPClient.
func NewDiscoveryEndpoint(client *http.Client) *DiscoveryEndpoint {
	if client == nil {
		client = NewHTTPClient()
	}
	return &DiscoveryEndpoint{client: client, jwksURI: make(map[string]string)}
}

// KeyURL implements EndpointResolver. The returned URL is the issuer's key
// set; the fetcher selects the kid from it.
func (d *DiscoveryEndpoint) KeyURL(ctx context.Context, issuer, _ string) (string, error) {
	d.mu.Lock()
	cached, ok := d.jwksURI[issuer]
	d.mu.Unlock()
	if ok {
		return cached, nil
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, d.client), IssuerURL(issuer))
	if err != nil {
		return "", fmt.Errorf("oidc discovery for %s: %w", issuer, err)
	}

	var claims struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&claims); err != nil {
		return "", fmt.Errorf("decode discovery document for %s: %w", issuer, err)
	}
	if claims.JWKSURI == "" {
		return "", fmt.Errorf("discovery document for %s has no jwks_uri", issuer)
	}

	d.mu.Lock()
	d.jwksURI[issuer] = claims.JWKSURI
	d.mu.Unlock()

	return claims.JWKSURI, nil
}

// IssuerURL turns a bare issuer host into an https URL. Issuers that already
// carry a scheme are returned unchanged.
func IssuerURL(issuer string) string {
	if strings.Contains(issuer, "://") {
		return issuer
	}
	return "https://" + issuer
}
