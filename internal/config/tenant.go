package config

import (
	"encoding/json"

	"github.com/ggoodman/sitemcp/auth"
)

// Tenant configuration sources.
const (
	// ConfigDataVar holds a JSON object that may carry the tenant keys.
	ConfigDataVar = "CONFIG_DATA"
	// CustomerIDVar names the customer this site belongs to.
	CustomerIDVar = "GD_CUSTOMER_ID"
	// SiteIDVar names this site's account.
	SiteIDVar = "GD_ACCOUNT_UID"
)

// Origin records where a tenant value came from.
type Origin string

const (
	OriginNone       Origin = ""
	OriginConfigData Origin = "config_data"
	OriginEnv        Origin = "env"
)

// TenantOrigins reports the source of each tenant value for startup logs.
type TenantOrigins struct {
	CustomerID Origin
	SiteID     Origin
}

// LoadTenant resolves the tenant this process serves.
//
// For each of GD_CUSTOMER_ID and GD_ACCOUNT_UID, a present non-null key in
// the CONFIG_DATA object wins over the variable of the same name. A winning
// value that is not a JSON string makes the whole context invalid, so it
// matches no credential. An undecodable CONFIG_DATA is ignored.
//
// This precedence is inherited from the hosting platform: whoever can write
// CONFIG_DATA decides which tenant the process trusts.
func LoadTenant(lookup func(string) (string, bool)) (auth.TenantContext, TenantOrigins) {
	var blob map[string]any
	if raw, ok := lookup(ConfigDataVar); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &blob); err != nil {
			blob = nil
		}
	}

	var (
		tc      auth.TenantContext
		origins TenantOrigins
		valid   bool
	)
	tc.CustomerID, origins.CustomerID, valid = tenantValue(blob, lookup, CustomerIDVar)
	tc.Invalid = tc.Invalid || !valid
	tc.SiteID, origins.SiteID, valid = tenantValue(blob, lookup, SiteIDVar)
	tc.Invalid = tc.Invalid || !valid
	return tc, origins
}

func tenantValue(blob map[string]any, lookup func(string) (string, bool), key string) (string, Origin, bool) {
	if v, ok := blob[key]; ok && v != nil {
		s, isString := v.(string)
		return s, OriginConfigData, isString
	}
	if v, ok := lookup(key); ok {
		return v, OriginEnv, true
	}
	return "", OriginNone, true
}
