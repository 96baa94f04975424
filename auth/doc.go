// Package auth decides whether an inbound request may invoke privileged
// tools. It verifies a signed bearer credential, recognizes which kind of
// caller presented it, and checks that the caller is bound to the tenant this
// process serves.
//
// The decision is made by a Gate. Its contract is a predicate: callers get a
// bool (or a principal and a bool) and never an error. Every rejection is
// logged with its kind and a short fingerprint of the credential.
//
// # Credential Formats
//
// A Format pairs an issuer with a ClaimsDecoder. An Authenticator tries its
// formats in order and returns the first principal that decodes. Formats
// sharing an issuer share one signature verification, so an unknown key id
// costs a single fetch no matter how many formats are configured.
//
// DefaultFormats accepts customer ("idp") credentials first and staff
// ("jomax") credentials second:
//
//	verifier := jwtauth.NewVerifier(jwtauth.NewKeyResolver(cache, fetcher), nil)
//	authn := auth.NewAuthenticator(verifier, auth.DefaultFormats("sso.godaddy.com"))
//	gate := auth.NewGate(authn, auth.TenantContext{CustomerID: cid, SiteID: site})
//
//	if !gate.IsAuthenticated(r.Context(), r.Header) {
//	    // 401
//	}
//
// # Tenant Binding
//
// A valid signature proves who issued a credential, not that its holder may
// act on this site. CheckTenant requires the verified cid claim and the
// X-GD-SITE-ID header to equal the configured TenantContext exactly.
//
// # Errors
//
// Denials match ErrUnauthorized and are classified by KindOf:
// MalformedCredentialError, SignatureInvalidError, ExpiredCredentialError,
// ClaimsRejectedError, TenantMismatchError and NoFormatError.
// KeyFetchError is an infrastructure fault. It also denies, but is logged at
// warn level and labelled key_fetch so outages are not mistaken for attacks.
package auth
