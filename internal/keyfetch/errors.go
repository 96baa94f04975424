package keyfetch

import (
	"errors"
	"fmt"
)

// ErrKeyNotFound reports that the key authority answered but does not publish
// the requested key identifier. It is a property of the credential, not an
// infrastructure fault.
var ErrKeyNotFound = errors.New("keyfetch: key not found")

// ErrMalformedResponse reports a response body that could not be interpreted
// as key material.
var ErrMalformedResponse = errors.New("keyfetch: malformed key response")

// KeyFetchError is an infrastructure fault reaching the key authority:
// network failure, timeout, an unexpected HTTP status or a malformed body.
type KeyFetchError struct {
	Issuer     string
	KeyID      string
	URL        string
	StatusCode int
	Err        error
}

func (e *KeyFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("keyfetch: fetch %s/%s: unexpected status %d", e.Issuer, e.KeyID, e.StatusCode)
	}
	return fmt.Sprintf("keyfetch: fetch %s/%s: %v", e.Issuer, e.KeyID, e.Err)
}

func (e *KeyFetchError) Unwrap() error { return e.Err }
