package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mitchellh/mapstructure"
)

const (
	// ShopperTokenType is the typ claim carried by customer credentials.
	ShopperTokenType = "idp"
	// EmployeeTokenType is the typ claim carried by staff credentials.
	EmployeeTokenType = "jomax"
)

// Claims is the format-specific view of a verified credential.
type Claims interface {
	// Identity names the caller for logs. It is not a tenant identifier.
	Identity() string
}

// ClaimsDecoder turns verified claims into a format's Claims. It returns a
// *ClaimsRejectedError when the claims do not belong to the format.
type ClaimsDecoder func(jwt.MapClaims) (Claims, error)

// Format is one accepted kind of credential: the issuer whose keys sign it
// and the decoder that recognizes its claims.
type Format struct {
	Name   string
	Issuer string
	Decode ClaimsDecoder
}

// ShopperClaims are the claims of a customer credential.
type ShopperClaims struct {
	Type           string `mapstructure:"typ"`
	CustomerID     string `mapstructure:"cid"`
	ShopperID      string `mapstructure:"shopperId"`
	PrivateLabelID int    `mapstructure:"plid"`
	FirstName      string `mapstructure:"firstname"`
	LastName       string `mapstructure:"lastname"`
	ExpiresAt      int64  `mapstructure:"exp"`
}

func (c *ShopperClaims) Identity() string { return "shopper:" + c.ShopperID }

// EmployeeClaims are the claims of a staff credential.
type EmployeeClaims struct {
	Type        string   `mapstructure:"typ"`
	AccountName string   `mapstructure:"accountName"`
	FirstName   string   `mapstructure:"firstname"`
	LastName    string   `mapstructure:"lastname"`
	Groups      []string `mapstructure:"groups"`
	ExpiresAt   int64    `mapstructure:"exp"`
}

func (c *EmployeeClaims) Identity() string { return "employee:" + c.AccountName }

// ShopperFormat accepts customer credentials signed by issuer.
func ShopperFormat(issuer string) Format {
	return Format{
		Name:   "shopper",
		Issuer: issuer,
		Decode: typedDecoder("shopper", ShopperTokenType, func() Claims { return &ShopperClaims{} }),
	}
}

// EmployeeFormat accepts staff credentials signed by issuer.
func EmployeeFormat(issuer string) Format {
	return Format{
		Name:   "employee",
		Issuer: issuer,
		Decode: typedDecoder("employee", EmployeeTokenType, func() Claims { return &EmployeeClaims{} }),
	}
}

// DefaultFormats is the shopper format followed by the employee format.
// Shopper credentials are by far the most common.
func DefaultFormats(issuer string) []Format {
	return []Format{ShopperFormat(issuer), EmployeeFormat(issuer)}
}

func typedDecoder(name, typ string, newClaims func() Claims) ClaimsDecoder {
	return func(raw jwt.MapClaims) (Claims, error) {
		got, _ := raw["typ"].(string)
		if got != typ {
			return nil, &ClaimsRejectedError{Format: name, Reason: fmt.Sprintf("typ %q is not %q", got, typ)}
		}

		out := newClaims()
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           out,
			WeaklyTypedInput: true,
		})
		if err != nil {
			return nil, err
		}
		if err := dec.Decode(map[string]any(raw)); err != nil {
			return nil, &ClaimsRejectedError{Format: name, Reason: "undecodable claims", Err: err}
		}
		return out, nil
	}
}
