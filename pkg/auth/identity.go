// Package auth implements the AVA distributed authentication core: RS256
// token issuance, multi-strategy token validation against a remote JWKS
// endpoint, trusted gateway headers, per-request identity resolution, and
// role, ownership and enrollment based authorization.
//
// Resource services wire a [Validator] into a [Resolver], put
// [Middleware] (or the gRPC interceptors) in front of their handlers, and
// guard routes with [RequireAuthentication], [RequireRole] or the
// [Policy] predicates. The auth service itself uses an [Issuer].
//
// # Trusted headers
//
// X-User-Id, X-User-Email, X-User-Username and X-User-Roles are accepted
// without any cryptographic check. Only the gateway may set them, so
// services that honor them must never be reachable from untrusted
// networks.
package auth

import (
	"context"
	"strconv"
)

// Source records how an identity was established.
type Source string

const (
	// SourceJWT marks an identity taken from a verified bearer token.
	SourceJWT Source = "jwt_token"

	// SourceGatewayHeader marks an identity taken from trusted headers.
	SourceGatewayHeader Source = "gateway_header"
)

// String returns the wire name of the source.
func (s Source) String() string {
	return string(s)
}

// Identity is the resolved "current user" of a request. UserID is always
// positive and Roles is never empty.
type Identity struct {
	Source   Source  `json:"source"`
	UserID   int64   `json:"user_id"`
	Email    string  `json:"email"`
	Username string  `json:"username"`
	Roles    RoleSet `json:"roles"`
}

// ID returns the user id in decimal form.
func (i *Identity) ID() string {
	return strconv.FormatInt(i.UserID, 10)
}

// HasRole reports whether the identity carries r.
func (i *Identity) HasRole(r Role) bool {
	return i.Roles.Has(r)
}

// HasAnyRole reports whether the identity carries at least one of roles.
func (i *Identity) HasAnyRole(roles RoleSet) bool {
	return i.Roles.Intersects(roles)
}

// TokenValidator verifies a bearer token. [Validator] is the production
// implementation.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*ClaimSet, error)
}

// IdentityFromClaims builds a token-sourced identity. It reports false
// when the claims carry no positive user id.
func IdentityFromClaims(c *ClaimSet) (*Identity, bool) {
	if c == nil || c.UserID <= 0 {
		return nil, false
	}
	roles := c.Roles
	if len(roles) == 0 {
		roles = DefaultRoles()
	}
	return &Identity{
		Source:   SourceJWT,
		UserID:   c.UserID,
		Email:    c.Email,
		Username: c.Username,
		Roles:    roles,
	}, true
}
