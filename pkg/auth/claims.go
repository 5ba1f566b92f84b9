package auth

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	sserr "github.com/ava-platform/ava-core/pkg/errors"
)

// TokenType is the value of the "token_type" claim.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// ClaimSet is the verified, normalized payload of a token.
type ClaimSet struct {
	// Subject is the raw "sub" claim (or legacy "user_id") as a string.
	Subject string

	// UserID is Subject parsed as a decimal integer, or 0 when the
	// subject is not numeric.
	UserID int64

	Email     string
	Username  string
	Roles     RoleSet
	TokenType TokenType

	// ID is the "jti" claim.
	ID string

	Issuer    string
	Audience  []string
	IssuedAt  time.Time
	ExpiresAt time.Time

	// Algorithm and KeyID come from the token header. Strategy names the
	// strategy that verified the signature.
	Algorithm string
	KeyID     string
	Strategy  string
}

// normalizeClaims converts verified map claims into a ClaimSet. The "sub"
// claim may be a string or a number; tokens from older issuers carry
// "user_id" instead.
func normalizeClaims(tok *jwt.Token, mc jwt.MapClaims) (*ClaimSet, error) {
	subject, ok := subjectString(mc["sub"])
	if !ok {
		subject, ok = subjectString(mc["user_id"])
	}
	if !ok {
		return nil, sserr.New(sserr.CodeAuthenticationInvalid, "auth: token has no subject")
	}

	c := &ClaimSet{
		Subject:   subject,
		Roles:     ParseRoles(mc["roles"]),
		TokenType: TokenType(stringClaim(mc, "token_type")),
		ID:        stringClaim(mc, "jti"),
		Email:     stringClaim(mc, "email"),
		Username:  stringClaim(mc, "username"),
		Issuer:    stringClaim(mc, "iss"),
	}
	if id, err := strconv.ParseInt(subject, 10, 64); err == nil {
		c.UserID = id
	}
	if aud, err := mc.GetAudience(); err == nil {
		c.Audience = aud
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		c.IssuedAt = iat.Time
	}
	if tok != nil {
		c.Algorithm = tok.Method.Alg()
		c.KeyID, _ = tok.Header["kid"].(string)
	}
	return c, nil
}

func subjectString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		t = strings.TrimSpace(t)
		return t, t != ""
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) {
			return "", false
		}
		return strconv.FormatInt(int64(t), 10), true
	case json.Number:
		return t.String(), t != ""
	case int64:
		return strconv.FormatInt(t, 10), true
	case int:
		return strconv.Itoa(t), true
	default:
		return "", false
	}
}

func stringClaim(mc jwt.MapClaims, name string) string {
	s, _ := mc[name].(string)
	return s
}
