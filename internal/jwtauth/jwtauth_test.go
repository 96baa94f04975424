package jwtauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ggoodman/sitemcp/internal/keyfetch"
	"github.com/ggoodman/sitemcp/keycache/memory"
	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"pgregory.net/rapid"
)

const testIssuer = "sso.example.com"

// fakeFetcher serves JWKs from a map and counts calls.
type fakeFetcher struct {
	mu    sync.Mutex
	keys  map[string][]byte
	err   error
	block chan struct{}
	calls atomic.Int32
}

func (f *fakeFetcher) Fetch(ctx context.Context, issuer, kid string) ([]byte, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	m, ok := f.keys[kid]
	if !ok {
		return nil, keyfetch.ErrKeyNotFound
	}
	return m, nil
}

func genRSA(t testing.TB, kid string) (*rsa.PrivateKey, []byte) {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	jwk := jose.JSONWebKey{Key: &pk.PublicKey, KeyID: kid, Algorithm: "RS256", Use: "sig"}
	b, err := jwk.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal jwk: %v", err)
	}
	return pk, b
}

func signToken(t testing.TB, pk *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(pk)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

type fixture struct {
	pk       *rsa.PrivateKey
	kid      string
	fetcher  *fakeFetcher
	resolver *KeyResolver
	verifier *Verifier
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	kid := "key-1"
	pk, material := genRSA(t, kid)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	cache, err := memory.New()
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })

	f := &fakeFetcher{keys: map[string][]byte{kid: material}}
	r := NewKeyResolver(cache, f)
	cfg := DefaultConfig()
	cfg.Now = func() time.Time { return now }

	return &fixture{pk: pk, kid: kid, fetcher: f, resolver: r, verifier: NewVerifier(r, cfg), now: now}
}

func (fx *fixture) token(t *testing.T, claims jwt.MapClaims) string {
	return signToken(t, fx.pk, fx.kid, claims)
}

func TestVerify_HappyPath(t *testing.T) {
	fx := newFixture(t)
	tok := fx.token(t, jwt.MapClaims{
		"cid": "customer-1",
		"typ": "idp",
		"exp": fx.now.Add(time.Hour).Unix(),
	})

	claims, err := fx.verifier.Verify(context.Background(), tok, testIssuer, time.Minute)
	if err != nil {
		t.Fatalf("Verify() failed: %v", err)
	}
	if claims["cid"] != "customer-1" {
		t.Errorf("cid = %v, want customer-1", claims["cid"])
	}
	if got := fx.fetcher.calls.Load(); got != 1 {
		t.Errorf("fetches = %d, want 1", got)
	}
}

func TestVerify_CachesFetchedKey(t *testing.T) {
	fx := newFixture(t)
	tok := fx.token(t, jwt.MapClaims{"exp": fx.now.Add(time.Hour).Unix()})

	for i := 0; i < 3; i++ {
		if _, err := fx.verifier.Verify(context.Background(), tok, testIssuer, 0); err != nil {
			t.Fatalf("Verify() #%d failed: %v", i, err)
		}
	}
	if got := fx.fetcher.calls.Load(); got != 1 {
		t.Fatalf("fetches = %d, want 1 (cache hit on later calls)", got)
	}
}

func TestVerify_MalformedSkipsKeyResolution(t *testing.T) {
	fx := newFixture(t)
	valid := fx.token(t, jwt.MapClaims{"exp": fx.now.Add(time.Hour).Unix()})

	tests := []struct {
		name string
		cred string
	}{
		{name: "empty", cred: ""},
		{name: "one segment", cred: "abc"},
		{name: "two segments", cred: "abc.def"},
		{name: "four segments", cred: valid + ".extra"},
		{name: "header not base64", cred: "!!!." + strings.SplitN(valid, ".", 2)[1]},
		{name: "header not json", cred: "bm90IGpzb24.e30.sig"},
		{name: "header without kid", cred: "eyJhbGciOiJSUzI1NiJ9.e30.sig"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.verifier.Verify(context.Background(), tt.cred, testIssuer, 0)
			var mce *MalformedCredentialError
			if !errors.As(err, &mce) {
				t.Fatalf("Verify() error = %v, want *MalformedCredentialError", err)
			}
			if !errors.Is(err, ErrUnauthorized) {
				t.Errorf("malformed credential should match ErrUnauthorized")
			}
		})
	}

	if got := fx.fetcher.calls.Load(); got != 0 {
		t.Fatalf("fetches = %d, want 0 for malformed credentials", got)
	}
}

func TestVerify_SegmentCountProperty(t *testing.T) {
	fx := newFixture(t)

	rapid.Check(t, func(t *rapid.T) {
		segs := rapid.SliceOf(rapid.StringMatching(`[A-Za-z0-9_-]{0,12}`)).
			Filter(func(s []string) bool { return len(s) != 3 }).
			Draw(t, "segments")
		cred := strings.Join(segs, ".")

		_, err := fx.verifier.Verify(context.Background(), cred, testIssuer, 0)
		var mce *MalformedCredentialError
		if !errors.As(err, &mce) {
			t.Fatalf("Verify(%q) error = %v, want *MalformedCredentialError", cred, err)
		}
	})

	if got := fx.fetcher.calls.Load(); got != 0 {
		t.Fatalf("fetches = %d, want 0", got)
	}
}

func TestVerify_UnknownKeyID(t *testing.T) {
	fx := newFixture(t)
	other, _ := genRSA(t, "unknown-kid")
	tok := signToken(t, other, "unknown-kid", jwt.MapClaims{"exp": fx.now.Add(time.Hour).Unix()})

	_, err := fx.verifier.Verify(context.Background(), tok, testIssuer, 0)
	var sie *SignatureInvalidError
	if !errors.As(err, &sie) {
		t.Fatalf("Verify() error = %v, want *SignatureInvalidError", err)
	}
	if !errors.Is(err, keyfetch.ErrKeyNotFound) {
		t.Errorf("error should wrap keyfetch.ErrKeyNotFound")
	}
	if got := fx.fetcher.calls.Load(); got != 1 {
		t.Errorf("fetches = %d, want exactly 1", got)
	}
}

func TestVerify_SignatureFailures(t *testing.T) {
	fx := newFixture(t)
	impostor, _ := genRSA(t, fx.kid)
	exp := fx.now.Add(time.Hour).Unix()

	forged := signToken(t, impostor, fx.kid, jwt.MapClaims{"cid": "victim", "exp": exp})

	good := fx.token(t, jwt.MapClaims{"cid": "a", "exp": exp})
	parts := strings.Split(good, ".")
	otherPayload := strings.Split(fx.token(t, jwt.MapClaims{"cid": "b", "exp": exp}), ".")[1]
	tampered := parts[0] + "." + otherPayload + "." + parts[2]

	hs := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp})
	hs.Header["kid"] = fx.kid
	hmacTok, err := hs.SignedString([]byte("shared-secret"))
	if err != nil {
		t.Fatalf("sign hs256: %v", err)
	}

	noneTok := "eyJhbGciOiJub25lIiwia2lkIjoia2V5LTEifQ." + parts[1] + "."

	tests := []struct {
		name string
		cred string
	}{
		{name: "signed by another key", cred: forged},
		{name: "payload swapped", cred: tampered},
		{name: "hmac algorithm", cred: hmacTok},
		{name: "alg none", cred: noneTok},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := fx.verifier.Verify(context.Background(), tt.cred, testIssuer, 0)
			var sie *SignatureInvalidError
			if !errors.As(err, &sie) {
				t.Fatalf("Verify() error = %v, want *SignatureInvalidError", err)
			}
			if claims != nil {
				t.Fatalf("claims returned for an unverified credential")
			}
		})
	}
}

func TestVerify_Expiry(t *testing.T) {
	fx := newFixture(t)
	skew := 30 * time.Second

	tests := []struct {
		name    string
		exp     time.Time
		wantErr bool
	}{
		{name: "expired one second beyond skew", exp: fx.now.Add(-skew - time.Second), wantErr: true},
		{name: "expired but within skew", exp: fx.now.Add(-skew + time.Second)},
		{name: "not yet expired", exp: fx.now.Add(time.Minute)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := fx.token(t, jwt.MapClaims{"exp": tt.exp.Unix()})
			_, err := fx.verifier.Verify(context.Background(), tok, testIssuer, skew)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("Verify() failed: %v", err)
				}
				return
			}
			var ece *ExpiredCredentialError
			if !errors.As(err, &ece) {
				t.Fatalf("Verify() error = %v, want *ExpiredCredentialError", err)
			}
			if !ece.ExpiredAt.Equal(time.Unix(tt.exp.Unix(), 0)) {
				t.Errorf("ExpiredAt = %v, want %v", ece.ExpiredAt, tt.exp)
			}
		})
	}
}

func TestVerify_SignatureCheckedBeforeExpiry(t *testing.T) {
	fx := newFixture(t)
	impostor, _ := genRSA(t, fx.kid)
	tok := signToken(t, impostor, fx.kid, jwt.MapClaims{"exp": fx.now.Add(-time.Hour).Unix()})

	_, err := fx.verifier.Verify(context.Background(), tok, testIssuer, 0)
	var sie *SignatureInvalidError
	if !errors.As(err, &sie) {
		t.Fatalf("Verify() error = %v, want *SignatureInvalidError for a forged expired token", err)
	}
}

func TestVerify_NotYetValid(t *testing.T) {
	fx := newFixture(t)
	tok := fx.token(t, jwt.MapClaims{
		"exp": fx.now.Add(2 * time.Hour).Unix(),
		"nbf": fx.now.Add(time.Hour).Unix(),
	})

	_, err := fx.verifier.Verify(context.Background(), tok, testIssuer, time.Minute)
	var ece *ExpiredCredentialError
	if !errors.As(err, &ece) {
		t.Fatalf("Verify() error = %v, want *ExpiredCredentialError", err)
	}
}

func TestVerify_MissingExpiry(t *testing.T) {
	fx := newFixture(t)
	tok := fx.token(t, jwt.MapClaims{"cid": "c"})

	_, err := fx.verifier.Verify(context.Background(), tok, testIssuer, 0)
	var cre *ClaimsRejectedError
	if !errors.As(err, &cre) {
		t.Fatalf("Verify() error = %v, want *ClaimsRejectedError", err)
	}
}

func TestVerify_KeyFetchErrorPassesThrough(t *testing.T) {
	fx := newFixture(t)
	fx.fetcher.err = &keyfetch.KeyFetchError{Issuer: testIssuer, KeyID: fx.kid, StatusCode: 503}
	tok := fx.token(t, jwt.MapClaims{"exp": fx.now.Add(time.Hour).Unix()})

	_, err := fx.verifier.Verify(context.Background(), tok, testIssuer, 0)
	var kfe *keyfetch.KeyFetchError
	if !errors.As(err, &kfe) {
		t.Fatalf("Verify() error = %v, want *keyfetch.KeyFetchError", err)
	}
	if errors.Is(err, ErrUnauthorized) {
		t.Errorf("infrastructure faults must not match ErrUnauthorized")
	}
}

func TestVerify_UnusableCachedMaterialIsInvalidated(t *testing.T) {
	fx := newFixture(t)
	cache, err := memory.New()
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	defer cache.Close()

	if err := cache.Put(context.Background(), testIssuer, fx.kid, []byte(`{"kty":"bogus"}`), time.Hour); err != nil {
		t.Fatalf("Put: %v", err)
	}
	r := NewKeyResolver(cache, fx.fetcher)
	v := NewVerifier(r, &Config{Now: func() time.Time { return fx.now }})

	tok := fx.token(t, jwt.MapClaims{"exp": fx.now.Add(time.Hour).Unix()})
	_, err = v.Verify(context.Background(), tok, testIssuer, 0)
	var sie *SignatureInvalidError
	if !errors.As(err, &sie) {
		t.Fatalf("Verify() error = %v, want *SignatureInvalidError", err)
	}

	if entry, _ := cache.Get(context.Background(), testIssuer, fx.kid); entry != nil {
		t.Fatalf("unusable material was left in the cache")
	}

	if _, err := v.Verify(context.Background(), tok, testIssuer, 0); err != nil {
		t.Fatalf("Verify() after invalidation failed: %v", err)
	}
}

func TestParseHeader(t *testing.T) {
	h, err := ParseHeader("eyJhbGciOiJSUzI1NiIsImtpZCI6ImsxIiwidHlwIjoiSldUIn0.e30.sig")
	if err != nil {
		t.Fatalf("ParseHeader() failed: %v", err)
	}
	if h.Alg != "RS256" || h.Kid != "k1" || h.Typ != "JWT" {
		t.Errorf("ParseHeader() = %+v", h)
	}
}
