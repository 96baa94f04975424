package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ggoodman/sitemcp/internal/jwtauth"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultClockSkew is the tolerance applied to exp, nbf and iat.
const DefaultClockSkew = 60 * time.Second

// CredentialVerifier checks a credential's signature and validity window for
// an issuer and returns its claims. *jwtauth.Verifier implements it.
type CredentialVerifier interface {
	Verify(ctx context.Context, credential, issuer string, skew time.Duration) (jwt.MapClaims, error)
}

var _ CredentialVerifier = (*jwtauth.Verifier)(nil)

// Principal is the authenticated caller.
type Principal struct {
	// Format is the name of the format that accepted the credential.
	Format string
	Claims Claims
	// Raw holds every verified claim.
	Raw jwt.MapClaims
}

// CustomerID returns the verified cid claim. Only string values count.
func (p *Principal) CustomerID() (string, bool) {
	if p == nil || p.Raw == nil {
		return "", false
	}
	cid, ok := p.Raw["cid"].(string)
	if !ok || cid == "" {
		return "", false
	}
	return cid, true
}

// Authenticator tries an ordered list of credential formats.
type Authenticator struct {
	verifier CredentialVerifier
	formats  []Format
	skew     time.Duration
	log      *slog.Logger
}

// AuthenticatorOption configures an Authenticator.
type AuthenticatorOption func(*Authenticator)

// WithClockSkew sets the tolerance for time-based claims.
func WithClockSkew(d time.Duration) AuthenticatorOption {
	return func(a *Authenticator) { a.skew = d }
}

// WithAuthenticatorLogger sets the logger used for per-format rejections.
func WithAuthenticatorLogger(l *slog.Logger) AuthenticatorOption {
	return func(a *Authenticator) { a.log = l }
}

// NewAuthenticator creates an Authenticator that tries formats in order.
func NewAuthenticator(v CredentialVerifier, formats []Format, opts ...AuthenticatorOption) *Authenticator {
	a := &Authenticator{
		verifier: v,
		formats:  append([]Format(nil), formats...),
		skew:     DefaultClockSkew,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate returns the principal of the first format that accepts
// credential.
//
// When every format rejects the credential it returns nil, nil: a denial is
// not an error. A non-nil error is always a *KeyFetchError and means the
// decision could not be made because the key authority was unreachable.
func (a *Authenticator) Authenticate(ctx context.Context, credential string) (*Principal, error) {
	p, err := a.Attempt(ctx, credential)
	if err != nil {
		var kfe *KeyFetchError
		if errors.As(err, &kfe) {
			return nil, kfe
		}
		return nil, nil
	}
	return p, nil
}

// Attempt is Authenticate with the denial reason kept. It returns either a
// principal or an error: a *KeyFetchError for infrastructure faults, or a
// *NoFormatError (which matches ErrUnauthorized) for denials.
//
// Formats sharing an issuer share one verification, so a credential is
// checked against each issuer's keys at most once per call. A malformed
// credential is rejected without trying further formats.
func (a *Authenticator) Attempt(ctx context.Context, credential string) (*Principal, error) {
	type verified struct {
		claims jwt.MapClaims
		err    error
	}
	byIssuer := make(map[string]verified, 1)

	var (
		attempts []FormatAttempt
		fault    error
	)
	for _, f := range a.formats {
		v, seen := byIssuer[f.Issuer]
		if !seen {
			v.claims, v.err = a.verifier.Verify(ctx, credential, f.Issuer, a.skew)
			byIssuer[f.Issuer] = v
		}

		err := v.err
		if err == nil {
			claims, derr := f.Decode(v.claims)
			if derr == nil {
				return &Principal{Format: f.Name, Claims: claims, Raw: v.claims}, nil
			}
			err = derr
		}

		a.log.DebugContext(ctx, "auth.format.reject",
			slog.String("format", f.Name),
			slog.String("issuer", f.Issuer),
			slog.String("kind", string(KindOf(err))),
		)
		attempts = append(attempts, FormatAttempt{Format: f.Name, Err: err})

		var kfe *KeyFetchError
		if errors.As(err, &kfe) && fault == nil {
			fault = kfe
		}
		var mce *MalformedCredentialError
		if errors.As(err, &mce) {
			break
		}
	}

	if fault != nil {
		return nil, fault
	}
	return nil, &NoFormatError{Attempts: attempts}
}
