package auth

import (
	"encoding/json"
	"strconv"
	"strings"

	"google.golang.org/grpc/metadata"
)

// Header names. gRPC metadata uses the lowercased forms.
const (
	HeaderAuthorization = "Authorization"
	HeaderRequestID     = "X-Request-Id"

	// Trusted headers injected by the gateway after it authenticated the
	// caller.
	HeaderUserID       = "X-User-Id"
	HeaderUserEmail    = "X-User-Email"
	HeaderUserUsername = "X-User-Username"
	HeaderUserRoles    = "X-User-Roles"
)

// MaxHeaderValueSize bounds a single trusted header value.
const MaxHeaderValueSize = 8192

// bearerPrefix is the standard "Bearer " prefix for authorization tokens.
const bearerPrefix = "Bearer "

// Headers is read access to request headers. http.Header satisfies it;
// wrap gRPC metadata with [MetadataHeaders].
type Headers interface {
	Get(key string) string
}

// MetadataHeaders adapts gRPC metadata to [Headers].
type MetadataHeaders metadata.MD

// Get returns the first value for key, matched case-insensitively.
func (m MetadataHeaders) Get(key string) string {
	if vals := metadata.MD(m).Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// ExtractBearerToken returns the token from an Authorization value. The
// "Bearer " prefix is matched case-insensitively. It returns "" for any
// other scheme.
func ExtractBearerToken(authHeader string) string {
	if len(authHeader) <= len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(bearerPrefix):])
}

// ExtractTrustedHeaders builds a gateway-sourced identity from the
// X-User-* headers. X-User-Id alone is enough; it must be a positive
// decimal integer. X-User-Roles may be a JSON array or the comma form and
// defaults to {student}. No signature is checked.
//
// Example:
//
//	identity, ok := auth.ExtractTrustedHeaders(r.Header)
//	if ok && identity.HasRole(auth.RoleInstructor) {
//	    // gateway-asserted instructor
//	}
func ExtractTrustedHeaders(h Headers) (*Identity, bool) {
	if h == nil {
		return nil, false
	}
	raw := strings.TrimSpace(h.Get(HeaderUserID))
	if raw == "" {
		return nil, false
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		return nil, false
	}

	roles := DefaultRoles()
	if v := h.Get(HeaderUserRoles); v != "" && len(v) <= MaxHeaderValueSize {
		roles = ParseRoles(v)
	}
	return &Identity{
		Source:   SourceGatewayHeader,
		UserID:   userID,
		Email:    truncateHeader(h.Get(HeaderUserEmail)),
		Username: truncateHeader(h.Get(HeaderUserUsername)),
		Roles:    roles,
	}, true
}

// IdentityHeaders renders identity as trusted headers for an internal
// downstream call. Roles are sent as a JSON array.
func IdentityHeaders(identity *Identity) map[string]string {
	if identity == nil || identity.UserID <= 0 {
		return nil
	}
	roles, _ := json.Marshal(identity.Roles.Strings())
	headers := map[string]string{
		HeaderUserID:    identity.ID(),
		HeaderUserRoles: string(roles),
	}
	if identity.Email != "" {
		headers[HeaderUserEmail] = identity.Email
	}
	if identity.Username != "" {
		headers[HeaderUserUsername] = identity.Username
	}
	return headers
}

func truncateHeader(v string) string {
	if len(v) > MaxHeaderValueSize {
		return v[:MaxHeaderValueSize]
	}
	return v
}
