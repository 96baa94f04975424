package jwtauth

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnauthorized is matched (via errors.Is) by every credential-level
// rejection in this package. Infrastructure faults such as
// keyfetch.KeyFetchError do not match it.
var ErrUnauthorized = errors.New("jwtauth: unauthorized")

// MalformedCredentialError reports structurally invalid input: a wrong
// segment count, bad encoding or an unreadable header.
type MalformedCredentialError struct {
	Reason string
	Err    error
}

func (e *MalformedCredentialError) Error() string {
	return describe("malformed credential", e.Reason, e.Err)
}

func (e *MalformedCredentialError) Unwrap() error        { return e.Err }
func (e *MalformedCredentialError) Is(target error) bool { return target == ErrUnauthorized }

// SignatureInvalidError reports a failed cryptographic verification, an
// unsupported algorithm, or a key identifier the issuer does not publish.
type SignatureInvalidError struct {
	KeyID  string
	Alg    string
	Reason string
	Err    error
}

func (e *SignatureInvalidError) Error() string {
	return describe("signature invalid", e.Reason, e.Err)
}

func (e *SignatureInvalidError) Unwrap() error        { return e.Err }
func (e *SignatureInvalidError) Is(target error) bool { return target == ErrUnauthorized }

// ExpiredCredentialError reports a correctly signed credential used outside
// its validity window.
type ExpiredCredentialError struct {
	ExpiredAt time.Time
	Reason    string
	Err       error
}

func (e *ExpiredCredentialError) Error() string {
	reason := e.Reason
	if reason == "" && !e.ExpiredAt.IsZero() {
		reason = "expired at " + e.ExpiredAt.UTC().Format(time.RFC3339)
	}
	return describe("credential expired", reason, e.Err)
}

func (e *ExpiredCredentialError) Unwrap() error        { return e.Err }
func (e *ExpiredCredentialError) Is(target error) bool { return target == ErrUnauthorized }

// ClaimsRejectedError reports a correctly signed, unexpired credential whose
// claims do not satisfy the requested format.
type ClaimsRejectedError struct {
	Format string
	Reason string
	Err    error
}

func (e *ClaimsRejectedError) Error() string {
	what := "claims rejected"
	if e.Format != "" {
		what = e.Format + " claims rejected"
	}
	return describe(what, e.Reason, e.Err)
}

func (e *ClaimsRejectedError) Unwrap() error        { return e.Err }
func (e *ClaimsRejectedError) Is(target error) bool { return target == ErrUnauthorized }

func describe(what, reason string, err error) string {
	msg := "jwtauth: " + what
	if reason != "" {
		msg += ": " + reason
	}
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	return msg
}
