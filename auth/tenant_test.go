package auth

import (
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"pgregory.net/rapid"
)

func principalWith(claims jwt.MapClaims) *Principal {
	return &Principal{Format: "shopper", Claims: &ShopperClaims{}, Raw: claims}
}

func TestCheckTenant(t *testing.T) {
	tc := TenantContext{CustomerID: "cust-1", SiteID: "site-1"}

	tests := []struct {
		name   string
		p      *Principal
		siteID string
		tc     TenantContext
		want   bool
	}{
		{name: "match", p: principalWith(jwt.MapClaims{"cid": "cust-1"}), siteID: "site-1", tc: tc, want: true},
		{name: "other customer", p: principalWith(jwt.MapClaims{"cid": "cust-2"}), siteID: "site-1", tc: tc},
		{name: "other site", p: principalWith(jwt.MapClaims{"cid": "cust-1"}), siteID: "site-2", tc: tc},
		{name: "case differs", p: principalWith(jwt.MapClaims{"cid": "CUST-1"}), siteID: "site-1", tc: tc},
		{name: "missing cid", p: principalWith(jwt.MapClaims{}), siteID: "site-1", tc: tc},
		{name: "numeric cid", p: principalWith(jwt.MapClaims{"cid": 1.0}), siteID: "site-1", tc: TenantContext{CustomerID: "1", SiteID: "site-1"}},
		{name: "empty site header", p: principalWith(jwt.MapClaims{"cid": "cust-1"}), siteID: "", tc: tc},
		{name: "no configured customer", p: principalWith(jwt.MapClaims{"cid": ""}), siteID: "site-1", tc: TenantContext{SiteID: "site-1"}},
		{name: "no configured site", p: principalWith(jwt.MapClaims{"cid": "cust-1"}), siteID: "", tc: TenantContext{CustomerID: "cust-1"}},
		{name: "invalid context", p: principalWith(jwt.MapClaims{"cid": "cust-1"}), siteID: "site-1", tc: TenantContext{CustomerID: "cust-1", SiteID: "site-1", Invalid: true}},
		{name: "nil principal", p: nil, siteID: "site-1", tc: tc},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckTenant(tt.p, tt.siteID, tt.tc)
			if got := err == nil; got != tt.want {
				t.Fatalf("CheckTenant() error = %v, want match=%v", err, tt.want)
			}
			if err != nil {
				var tme *TenantMismatchError
				if !errors.As(err, &tme) {
					t.Fatalf("error = %T, want *TenantMismatchError", err)
				}
				if !errors.Is(err, ErrUnauthorized) {
					t.Errorf("tenant mismatch should match ErrUnauthorized")
				}
			}
			if TenantMatches(tt.p, tt.siteID, tt.tc) != tt.want {
				t.Errorf("TenantMatches() disagrees with CheckTenant()")
			}
		})
	}
}

func TestCheckTenant_IsolationProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		id := rapid.StringMatching(`[a-z0-9-]{0,8}`)
		cfgCID, cfgSite := id.Draw(t, "cfgCID"), id.Draw(t, "cfgSite")
		claimCID, claimSite := id.Draw(t, "claimCID"), id.Draw(t, "claimSite")

		p := principalWith(jwt.MapClaims{"cid": claimCID})
		tc := TenantContext{CustomerID: cfgCID, SiteID: cfgSite}

		want := cfgCID != "" && cfgSite != "" && claimCID == cfgCID && claimSite == cfgSite
		if got := TenantMatches(p, claimSite, tc); got != want {
			t.Fatalf("TenantMatches(cid=%q site=%q, cfg=%+v) = %v, want %v", claimCID, claimSite, tc, got, want)
		}
	})
}
