package keyfetch

import (
	"encoding/json"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// SelectKey extracts the public JWK for kid from a key authority response.
//
// Accepted shapes:
//
//	{"keys": [<jwk>, ...]}          standard JWK set
//	{"data": <jwk or JWK set>}      envelope used by the per-key endpoint
//	<jwk>                           bare key
//
// The result is the JSON encoding of the public half of the key, with its
// "kid" set. ErrKeyNotFound is returned when the response is well formed but
// does not contain kid.
func SelectKey(body []byte, kid string) ([]byte, error) {
	return selectKey(body, kid, true)
}

func selectKey(body []byte, kid string, allowEnvelope bool) ([]byte, error) {
	var doc struct {
		Keys json.RawMessage `json:"keys"`
		Data json.RawMessage `json:"data"`
		Kty  string          `json:"kty"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	switch {
	case len(doc.Keys) > 0:
		return fromSet(body, kid)
	case doc.Kty != "":
		return fromKey(body, kid)
	case allowEnvelope && len(doc.Data) > 0 && string(doc.Data) != "null":
		return selectKey(doc.Data, kid, false)
	default:
		return nil, fmt.Errorf("%w: no key material in response", ErrMalformedResponse)
	}
}

func fromSet(body []byte, kid string) ([]byte, error) {
	var set jose.JSONWebKeySet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	keys := set.Key(kid)
	if len(keys) == 0 {
		return nil, ErrKeyNotFound
	}
	return publicJSON(keys[0], kid)
}

func fromKey(body []byte, kid string) ([]byte, error) {
	var key jose.JSONWebKey
	if err := json.Unmarshal(body, &key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if key.KeyID != "" && key.KeyID != kid {
		return nil, ErrKeyNotFound
	}
	return publicJSON(key, kid)
}

func publicJSON(key jose.JSONWebKey, kid string) ([]byte, error) {
	if key.Use != "" && key.Use != "sig" {
		return nil, fmt.Errorf("%w: key %q is not a signing key", ErrMalformedResponse, kid)
	}
	if !key.IsPublic() {
		// Symmetric keys have no public half and are rejected here.
		key = key.Public()
	}
	if !key.Valid() {
		return nil, fmt.Errorf("%w: key %q is not a usable public key", ErrMalformedResponse, kid)
	}
	if key.KeyID == "" {
		key.KeyID = kid
	}

	out, err := key.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return out, nil
}
