package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ggoodman/sitemcp/internal/jwtauth"
	"github.com/ggoodman/sitemcp/internal/keyfetch"
)

// ErrUnauthorized is matched by every credential or tenant rejection.
// Infrastructure faults (KeyFetchError) do not match it.
var ErrUnauthorized = jwtauth.ErrUnauthorized

// ErrMissingHeader is reported when the credential or site header is absent.
var ErrMissingHeader = fmt.Errorf("%w: missing credential or site header", ErrUnauthorized)

// Error types produced by the verifier, re-exported for callers outside this
// module.
type (
	MalformedCredentialError = jwtauth.MalformedCredentialError
	SignatureInvalidError    = jwtauth.SignatureInvalidError
	ExpiredCredentialError   = jwtauth.ExpiredCredentialError
	ClaimsRejectedError      = jwtauth.ClaimsRejectedError
	KeyFetchError            = keyfetch.KeyFetchError
)

// TenantMismatchError reports a valid credential presented for a tenant it
// is not bound to.
type TenantMismatchError struct {
	Reason string
}

func (e *TenantMismatchError) Error() string {
	return "auth: tenant mismatch: " + e.Reason
}

func (e *TenantMismatchError) Is(target error) bool { return target == ErrUnauthorized }

// FormatAttempt records why one credential format rejected a credential.
type FormatAttempt struct {
	Format string
	Err    error
}

// NoFormatError reports that no configured format accepted the credential.
// It is a denial, not a fault.
type NoFormatError struct {
	Attempts []FormatAttempt
}

func (e *NoFormatError) Error() string {
	var b strings.Builder
	b.WriteString("auth: no credential format accepted the credential")
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, "; %s: %v", a.Format, a.Err)
	}
	return b.String()
}

func (e *NoFormatError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

func (e *NoFormatError) Is(target error) bool { return target == ErrUnauthorized }

// ErrorKind is a low-cardinality label for an authentication outcome. It is
// safe to log and to use as a metric label.
type ErrorKind string

const (
	KindNone                ErrorKind = "none"
	KindMalformedCredential ErrorKind = "malformed_credential"
	KindSignatureInvalid    ErrorKind = "signature_invalid"
	KindExpiredCredential   ErrorKind = "expired_credential"
	KindKeyFetch            ErrorKind = "key_fetch"
	KindTenantMismatch      ErrorKind = "tenant_mismatch"
	KindClaimsRejected      ErrorKind = "claims_rejected"
	KindNoFormat            ErrorKind = "no_format"
	KindMissingHeader       ErrorKind = "missing_header"
	KindInternal            ErrorKind = "internal"
)

// IsFault reports whether k denotes an infrastructure fault rather than a
// credential denial.
func (k ErrorKind) IsFault() bool {
	return k == KindKeyFetch || k == KindInternal
}

// KindOf classifies err. A nil error is KindNone. For a NoFormatError the
// first attempt that failed for a reason other than a format mismatch wins;
// when every format merely disliked the claims the kind is KindNoFormat.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	var nfe *NoFormatError
	if errors.As(err, &nfe) {
		for _, a := range nfe.Attempts {
			if k := KindOf(a.Err); k != KindClaimsRejected {
				return k
			}
		}
		return KindNoFormat
	}

	var (
		mce *MalformedCredentialError
		sie *SignatureInvalidError
		ece *ExpiredCredentialError
		cre *ClaimsRejectedError
		kfe *KeyFetchError
		tme *TenantMismatchError
	)
	switch {
	case errors.Is(err, ErrMissingHeader):
		return KindMissingHeader
	case errors.As(err, &kfe):
		return KindKeyFetch
	case errors.As(err, &mce):
		return KindMalformedCredential
	case errors.As(err, &sie):
		return KindSignatureInvalid
	case errors.As(err, &ece):
		return KindExpiredCredential
	case errors.As(err, &tme):
		return KindTenantMismatch
	case errors.As(err, &cre):
		return KindClaimsRejected
	default:
		return KindInternal
	}
}
