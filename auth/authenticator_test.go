package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/sitemcp/auth/authtest"
	"github.com/ggoodman/sitemcp/internal/jwtauth"
	"github.com/ggoodman/sitemcp/internal/keyfetch"
	"github.com/ggoodman/sitemcp/keycache/memory"
	"github.com/golang-jwt/jwt/v5"
)

func newAuthenticator(t *testing.T, opts ...AuthenticatorOption) (*authtest.Issuer, *Authenticator) {
	t.Helper()
	iss := authtest.NewIssuer(t)
	cache, err := memory.New()
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })

	v := jwtauth.NewVerifier(jwtauth.NewKeyResolver(cache, iss.Fetcher()), nil)
	return iss, NewAuthenticator(v, DefaultFormats(iss.Name), opts...)
}

// stubVerifier returns canned results per issuer and counts calls.
type stubVerifier struct {
	mu      sync.Mutex
	results map[string]stubResult
	calls   map[string]int
}

type stubResult struct {
	claims jwt.MapClaims
	err    error
}

func (s *stubVerifier) Verify(_ context.Context, _, issuer string, _ time.Duration) (jwt.MapClaims, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	s.calls[issuer]++
	r := s.results[issuer]
	return r.claims, r.err
}

func TestAuthenticate_Shopper(t *testing.T) {
	iss, authn := newAuthenticator(t)
	cred := iss.Shopper(t, "cust-1", time.Hour)

	p, err := authn.Authenticate(context.Background(), cred)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if p == nil {
		t.Fatal("Authenticate() returned no principal for a valid shopper credential")
	}
	if p.Format != "shopper" {
		t.Errorf("Format = %q, want shopper", p.Format)
	}
	sc, ok := p.Claims.(*ShopperClaims)
	if !ok {
		t.Fatalf("Claims = %T, want *ShopperClaims", p.Claims)
	}
	if sc.CustomerID != "cust-1" || sc.ShopperID != "1000001" || sc.PrivateLabelID != 1 {
		t.Errorf("ShopperClaims = %+v", sc)
	}
	if cid, ok := p.CustomerID(); !ok || cid != "cust-1" {
		t.Errorf("CustomerID() = %q, %v", cid, ok)
	}
}

func TestAuthenticate_EmployeeFallback(t *testing.T) {
	iss, authn := newAuthenticator(t)
	cred := iss.Employee(t, "jdoe", "", time.Hour)

	p, err := authn.Authenticate(context.Background(), cred)
	if err != nil || p == nil {
		t.Fatalf("Authenticate() = %v, %v; want employee principal", p, err)
	}
	if p.Format != "employee" {
		t.Errorf("Format = %q, want employee", p.Format)
	}
	ec := p.Claims.(*EmployeeClaims)
	if ec.AccountName != "jdoe" || len(ec.Groups) != 1 || ec.Groups[0] != "Development" {
		t.Errorf("EmployeeClaims = %+v", ec)
	}
	if _, ok := p.CustomerID(); ok {
		t.Errorf("employee credential without cid reported a customer id")
	}
	if got := iss.Fetches(); got != 1 {
		t.Errorf("fetches = %d, want 1 (formats share the issuer)", got)
	}
}

func TestAuthenticate_DenialIsNotAnError(t *testing.T) {
	iss, authn := newAuthenticator(t)
	unknownType := iss.Sign(t, iss.KeyID, jwt.MapClaims{"typ": "other", "exp": time.Now().Add(time.Hour).Unix()})

	p, err := authn.Authenticate(context.Background(), unknownType)
	if p != nil || err != nil {
		t.Fatalf("Authenticate() = %v, %v; want nil, nil", p, err)
	}

	_, err = authn.Attempt(context.Background(), unknownType)
	var nfe *NoFormatError
	if !errors.As(err, &nfe) {
		t.Fatalf("Attempt() error = %v, want *NoFormatError", err)
	}
	if len(nfe.Attempts) != 2 {
		t.Errorf("attempts = %d, want 2", len(nfe.Attempts))
	}
	if KindOf(err) != KindNoFormat {
		t.Errorf("KindOf() = %s, want %s", KindOf(err), KindNoFormat)
	}
}

func TestAuthenticate_MalformedStopsEarly(t *testing.T) {
	iss, authn := newAuthenticator(t)

	_, err := authn.Attempt(context.Background(), "not-a-credential")
	var nfe *NoFormatError
	if !errors.As(err, &nfe) {
		t.Fatalf("Attempt() error = %v, want *NoFormatError", err)
	}
	if len(nfe.Attempts) != 1 {
		t.Errorf("attempts = %d, want 1", len(nfe.Attempts))
	}
	if KindOf(err) != KindMalformedCredential {
		t.Errorf("KindOf() = %s, want %s", KindOf(err), KindMalformedCredential)
	}
	if iss.Fetches() != 0 {
		t.Errorf("malformed credential triggered %d fetches", iss.Fetches())
	}
}

func TestAuthenticate_UnknownKeyID(t *testing.T) {
	iss, authn := newAuthenticator(t)
	cred := iss.Sign(t, "rotated-away", jwt.MapClaims{"typ": "idp", "cid": "c", "exp": time.Now().Add(time.Hour).Unix()})

	p, err := authn.Authenticate(context.Background(), cred)
	if p != nil || err != nil {
		t.Fatalf("Authenticate() = %v, %v; want nil, nil", p, err)
	}
	if got := iss.Fetches(); got != 1 {
		t.Errorf("fetches = %d, want 1", got)
	}

	_, err = authn.Attempt(context.Background(), cred)
	if KindOf(err) != KindSignatureInvalid {
		t.Errorf("KindOf() = %s, want %s", KindOf(err), KindSignatureInvalid)
	}
}

func TestAuthenticate_KeyFetchFault(t *testing.T) {
	fault := &keyfetch.KeyFetchError{Issuer: "a", KeyID: "k", StatusCode: 502}
	sv := &stubVerifier{results: map[string]stubResult{"a": {err: fault}}}
	authn := NewAuthenticator(sv, DefaultFormats("a"))

	p, err := authn.Authenticate(context.Background(), "x.y.z")
	if p != nil {
		t.Fatalf("Authenticate() returned a principal on fault")
	}
	var kfe *KeyFetchError
	if !errors.As(err, &kfe) {
		t.Fatalf("Authenticate() error = %v, want *KeyFetchError", err)
	}
	if errors.Is(err, ErrUnauthorized) {
		t.Errorf("a fault must not look like a denial")
	}
	if sv.calls["a"] != 1 {
		t.Errorf("verifications for issuer a = %d, want 1", sv.calls["a"])
	}
}

func TestAuthenticate_FaultOnOneIssuerDoesNotBlockAnother(t *testing.T) {
	sv := &stubVerifier{results: map[string]stubResult{
		"a": {err: &keyfetch.KeyFetchError{Issuer: "a", Err: context.DeadlineExceeded}},
		"b": {claims: jwt.MapClaims{"typ": "jomax", "accountName": "ops"}},
	}}
	authn := NewAuthenticator(sv, []Format{ShopperFormat("a"), EmployeeFormat("b")})

	p, err := authn.Authenticate(context.Background(), "x.y.z")
	if err != nil || p == nil {
		t.Fatalf("Authenticate() = %v, %v; want employee principal", p, err)
	}
	if p.Format != "employee" {
		t.Errorf("Format = %q", p.Format)
	}
}

func TestAuthenticate_FormatOrder(t *testing.T) {
	sv := &stubVerifier{results: map[string]stubResult{
		"a": {claims: jwt.MapClaims{"typ": "idp", "cid": "c"}},
	}}
	accepting := func(name string) Format {
		return Format{Name: name, Issuer: "a", Decode: func(jwt.MapClaims) (Claims, error) {
			return &EmployeeClaims{AccountName: name}, nil
		}}
	}
	authn := NewAuthenticator(sv, []Format{accepting("first"), accepting("second")})

	p, err := authn.Authenticate(context.Background(), "x.y.z")
	if err != nil || p == nil {
		t.Fatalf("Authenticate() = %v, %v", p, err)
	}
	if p.Format != "first" {
		t.Errorf("Format = %q, want first", p.Format)
	}
}

func TestFormatDecoders(t *testing.T) {
	tests := []struct {
		name    string
		format  Format
		claims  jwt.MapClaims
		wantErr bool
	}{
		{name: "shopper accepts idp", format: ShopperFormat("i"), claims: jwt.MapClaims{"typ": "idp", "cid": "c", "shopperId": 42.0}},
		{name: "shopper rejects jomax", format: ShopperFormat("i"), claims: jwt.MapClaims{"typ": "jomax"}, wantErr: true},
		{name: "shopper rejects missing typ", format: ShopperFormat("i"), claims: jwt.MapClaims{"cid": "c"}, wantErr: true},
		{name: "employee accepts jomax", format: EmployeeFormat("i"), claims: jwt.MapClaims{"typ": "jomax", "accountName": "a", "groups": []any{"g1", "g2"}}},
		{name: "employee rejects idp", format: EmployeeFormat("i"), claims: jwt.MapClaims{"typ": "idp"}, wantErr: true},
		{name: "employee rejects bad groups", format: EmployeeFormat("i"), claims: jwt.MapClaims{"typ": "jomax", "groups": map[string]any{"x": 1}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := tt.format.Decode(tt.claims)
			if tt.wantErr {
				var cre *ClaimsRejectedError
				if !errors.As(err, &cre) {
					t.Fatalf("Decode() error = %v, want *ClaimsRejectedError", err)
				}
				if cre.Format != tt.format.Name {
					t.Errorf("Format = %q, want %q", cre.Format, tt.format.Name)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() failed: %v", err)
			}
			if c.Identity() == "" {
				t.Errorf("Identity() is empty")
			}
		})
	}
}
