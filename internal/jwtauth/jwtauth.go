// Package jwtauth verifies compact signed credentials against issuer keys
// resolved through a cache-backed key source.
package jwtauth

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/ggoodman/sitemcp/internal/keyfetch"
	"github.com/golang-jwt/jwt/v5"
)

// Config controls verification behavior.
type Config struct {
	// AllowedAlgs lists the signature algorithms accepted in credential
	// headers. Anything else is rejected before key resolution.
	AllowedAlgs []string
	// Now overrides the clock used for exp/nbf/iat validation.
	Now func() time.Time
}

// DefaultConfig returns a Config with safe defaults for algorithm and clock.
func DefaultConfig() *Config {
	return &Config{
		AllowedAlgs: []string{"RS256"},
		Now:         time.Now,
	}
}

// Header is the routing information read from a credential before its
// signature is checked. It must never be treated as verified.
type Header struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	Typ string `json:"typ,omitempty"`
}

// Verifier checks credentials for a given issuer.
type Verifier struct {
	cfg  *Config
	keys KeySource
}

// NewVerifier creates a Verifier over keys. A nil cfg uses DefaultConfig.
func NewVerifier(keys KeySource, cfg *Config) *Verifier {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = DefaultConfig().AllowedAlgs
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Verifier{cfg: cfg, keys: keys}
}

// ParseHeader splits credential and decodes its header. It performs no
// cryptographic checks.
func ParseHeader(credential string) (Header, error) {
	parts := strings.Split(credential, ".")
	if len(parts) != 3 {
		return Header{}, &MalformedCredentialError{Reason: "credential must have exactly three segments"}
	}

	raw, err := jwt.NewParser().DecodeSegment(parts[0])
	if err != nil {
		return Header{}, &MalformedCredentialError{Reason: "header is not base64url", Err: err}
	}

	var h Header
	if err := json.Unmarshal(raw, &h); err != nil {
		return Header{}, &MalformedCredentialError{Reason: "header is not a JSON object", Err: err}
	}
	if h.Alg == "" {
		return Header{}, &MalformedCredentialError{Reason: "header has no alg"}
	}
	if h.Kid == "" {
		return Header{}, &MalformedCredentialError{Reason: "header has no kid"}
	}
	return h, nil
}

// Verify checks credential against issuer's keys and returns its claims.
//
// The header is decoded only to pick the key. Claims are returned only after
// the signature verifies and exp (required) is within now+skew. Errors are one
// of *MalformedCredentialError, *SignatureInvalidError,
// *ExpiredCredentialError, *ClaimsRejectedError or *keyfetch.KeyFetchError.
func (v *Verifier) Verify(ctx context.Context, credential, issuer string, skew time.Duration) (jwt.MapClaims, error) {
	h, err := ParseHeader(credential)
	if err != nil {
		return nil, err
	}

	if !v.algAllowed(h.Alg) {
		return nil, &SignatureInvalidError{KeyID: h.Kid, Alg: h.Alg, Reason: "unsupported algorithm " + h.Alg}
	}

	material, err := v.keys.Resolve(ctx, issuer, h.Kid)
	if err != nil {
		if errors.Is(err, keyfetch.ErrKeyNotFound) {
			return nil, &SignatureInvalidError{KeyID: h.Kid, Alg: h.Alg, Reason: "unknown key id", Err: err}
		}
		return nil, err
	}

	kf, err := keyfunc.NewJWKJSON(material)
	if err != nil {
		v.keys.Invalidate(ctx, issuer, h.Kid)
		return nil, &SignatureInvalidError{KeyID: h.Kid, Alg: h.Alg, Reason: "unusable key material", Err: err}
	}

	if skew < 0 {
		skew = 0
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods(v.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(skew),
		jwt.WithTimeFunc(v.cfg.Now),
	)

	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(credential, claims, kf.KeyfuncCtx(ctx)); err != nil {
		return nil, classify(err, h, claims)
	}

	return claims, nil
}

func (v *Verifier) algAllowed(alg string) bool {
	for _, a := range v.cfg.AllowedAlgs {
		if a == alg {
			return true
		}
	}
	return false
}

// classify maps golang-jwt errors onto this package's taxonomy. Signature
// failures are checked first: jwt/v5 never validates claims of a credential
// whose signature failed.
func classify(err error, h Header, claims jwt.MapClaims) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return &MalformedCredentialError{Reason: "undecodable credential", Err: err}
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return &SignatureInvalidError{KeyID: h.Kid, Alg: h.Alg, Err: err}
	case errors.Is(err, jwt.ErrTokenExpired):
		e := &ExpiredCredentialError{Err: err}
		if exp, _ := claims.GetExpirationTime(); exp != nil {
			e.ExpiredAt = exp.Time
		}
		return e
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return &ExpiredCredentialError{Reason: "not yet valid", Err: err}
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return &ClaimsRejectedError{Reason: "missing required claim", Err: err}
	default:
		return &ClaimsRejectedError{Err: err}
	}
}
