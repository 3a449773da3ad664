package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Permission strings carried in access tokens. Route guards compare against
// these, so they are the single source of truth for spelling.
const (
	PermCreateOrders   = "create:orders"
	PermManageVouchers = "manage:vouchers"
	PermReadVouchers   = "read:vouchers"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID      uuid.UUID
	Permissions []string
	JTI         string
}

// AccessTokenClaims represents the typed JWT issued to clients.
type AccessTokenClaims struct {
	UserID      uuid.UUID `json:"user_id"`
	Permissions []string  `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// HasPermission reports whether the token carries the named permission.
func (c *AccessTokenClaims) HasPermission(perm string) bool {
	for _, p := range c.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}
