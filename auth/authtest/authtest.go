// Package authtest provides a fake identity authority for tests: an HTTP key
// endpoint backed by a freshly generated RSA key, and helpers to mint
// credentials it will verify.
package authtest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ggoodman/sitemcp/internal/keyfetch"
	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultIssuer is the issuer name used by NewIssuer.
const DefaultIssuer = "sso.test"

// Issuer serves one public key at /v1/api/key/{kid} and counts requests.
type Issuer struct {
	Name   string
	KeyID  string
	Key    *rsa.PrivateKey
	Server *httptest.Server

	fetches atomic.Int32
}

// NewIssuer starts a key endpoint. It is closed when the test ends.
func NewIssuer(t testing.TB) *Issuer {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("authtest: generate key: %v", err)
	}
	iss := &Issuer{Name: DefaultIssuer, KeyID: "test-key", Key: pk}

	jwk := jose.JSONWebKey{Key: &pk.PublicKey, KeyID: iss.KeyID, Algorithm: "RS256", Use: "sig"}
	body, err := json.Marshal(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}})
	if err != nil {
		t.Fatalf("authtest: marshal key set: %v", err)
	}

	iss.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		iss.fetches.Add(1)
		kid := strings.TrimPrefix(r.URL.Path, "/v1/api/key/")
		if kid != iss.KeyID {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(iss.Server.Close)
	return iss
}

// Endpoint resolves every (issuer, kid) to this server.
func (i *Issuer) Endpoint() keyfetch.TemplateEndpoint {
	return keyfetch.TemplateEndpoint(i.Server.URL + "/v1/api/key/{kid}")
}

// Fetcher returns a key fetcher wired to this server.
func (i *Issuer) Fetcher(opts ...keyfetch.Option) *keyfetch.HTTPFetcher {
	base := []keyfetch.Option{
		keyfetch.WithHTTPClient(i.Server.Client()),
		keyfetch.WithEndpoint(i.Endpoint()),
	}
	return keyfetch.New(append(base, opts...)...)
}

// Fetches reports how many key requests the server has handled.
func (i *Issuer) Fetches() int { return int(i.fetches.Load()) }

// Sign signs claims with the issuer key under kid.
func (i *Issuer) Sign(t testing.TB, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(i.Key)
	if err != nil {
		t.Fatalf("authtest: sign: %v", err)
	}
	return s
}

// Shopper mints a customer credential for cid that expires after ttl.
func (i *Issuer) Shopper(t testing.TB, cid string, ttl time.Duration) string {
	t.Helper()
	return i.Sign(t, i.KeyID, jwt.MapClaims{
		"typ":       "idp",
		"cid":       cid,
		"shopperId": "1000001",
		"plid":      1,
		"firstname": "Pat",
		"lastname":  "Doe",
		"iat":       time.Now().Unix(),
		"exp":       time.Now().Add(ttl).Unix(),
	})
}

// Employee mints a staff credential. cid may be empty.
func (i *Issuer) Employee(t testing.TB, account, cid string, ttl time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{
		"typ":         "jomax",
		"accountName": account,
		"firstname":   "Sam",
		"lastname":    "Roe",
		"groups":      []string{"Development"},
		"iat":         time.Now().Unix(),
		"exp":         time.Now().Add(ttl).Unix(),
	}
	if cid != "" {
		claims["cid"] = cid
	}
	return i.Sign(t, i.KeyID, claims)
}
