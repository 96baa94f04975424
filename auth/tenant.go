package auth

// TenantContext is the tenant this process is allowed to serve. It is loaded
// once at startup.
type TenantContext struct {
	CustomerID string
	SiteID     string
	// Invalid marks a context whose configured values could not be read as
	// strings. An invalid context matches nothing.
	Invalid bool
}

// CheckTenant reports whether p may act on the tenant tc for the claimed
// siteID. Both the verified cid claim and siteID must equal the configured
// values exactly; anything missing is a mismatch.
func CheckTenant(p *Principal, siteID string, tc TenantContext) error {
	switch {
	case tc.Invalid:
		return &TenantMismatchError{Reason: "tenant configuration is invalid"}
	case tc.CustomerID == "":
		return &TenantMismatchError{Reason: "no customer configured"}
	case tc.SiteID == "":
		return &TenantMismatchError{Reason: "no site configured"}
	}

	cid, ok := p.CustomerID()
	if !ok {
		return &TenantMismatchError{Reason: "credential has no customer id"}
	}
	if cid != tc.CustomerID {
		return &TenantMismatchError{Reason: "customer id does not match"}
	}
	if siteID == "" || siteID != tc.SiteID {
		return &TenantMismatchError{Reason: "site id does not match"}
	}
	return nil
}

// TenantMatches is the predicate form of CheckTenant.
func TenantMatches(p *Principal, siteID string, tc TenantContext) bool {
	return CheckTenant(p, siteID, tc) == nil
}
