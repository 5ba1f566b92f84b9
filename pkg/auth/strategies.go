package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"sort"

	"github.com/golang-jwt/jwt/v5"

	sserr "github.com/ava-platform/ava-core/pkg/errors"
)

// errAlgorithmNotHandled is returned by a strategy asked to verify a token
// signed with an algorithm it does not own. The validator skips it.
var errAlgorithmNotHandled = errors.New("auth: signing algorithm not handled by strategy")

// Strategy verifies a token one way. Implementations return
// errAlgorithmNotHandled (wrapped) for foreign algorithms and a
// *sserr.Error otherwise.
type Strategy interface {
	Name() string
	Verify(ctx context.Context, token string) (*ClaimSet, error)
}

// KeyProvider supplies RS256 verification keys by kid. *keys.Manager
// satisfies it.
type KeyProvider interface {
	PublicKeys(ctx context.Context) (map[string]*rsa.PublicKey, error)
}

// verify parses token with method as the only accepted algorithm. key is
// called only after the algorithm matched.
func verify(token string, method jwt.SigningMethod, cfg *ValidatorConfig, key jwt.Keyfunc) (*ClaimSet, error) {
	mc := jwt.MapClaims{}
	tok, err := jwt.ParseWithClaims(token, mc, func(t *jwt.Token) (any, error) {
		if t.Method == nil || t.Method.Alg() != method.Alg() {
			return nil, errAlgorithmNotHandled
		}
		return key(t)
	}, cfg.parserOptions()...)
	if err != nil {
		if errors.Is(err, errAlgorithmNotHandled) {
			return nil, err
		}
		return nil, classifyError(err)
	}
	if !tok.Valid {
		return nil, sserr.New(sserr.CodeAuthenticationInvalid, "auth: invalid token")
	}
	claims, err := normalizeClaims(tok, mc)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// ---------------------------------------------------------------------------
// HMACStrategy
// ---------------------------------------------------------------------------

// HMACStrategy verifies HS256 tokens with a shared secret. It never
// touches the network.
//
// Only HS256 is accepted, so an RS256 token can never be checked against
// an HMAC secret (algorithm confusion).
type HMACStrategy struct {
	cfg    ValidatorConfig
	secret []byte
}

// NewHMACStrategy returns a strategy keyed with cfg.LocalSecret.
func NewHMACStrategy(cfg ValidatorConfig) *HMACStrategy {
	return &HMACStrategy{cfg: cfg, secret: []byte(cfg.LocalSecret.Value())}
}

// Name implements Strategy.
func (s *HMACStrategy) Name() string { return "hmac" }

// Verify implements Strategy.
func (s *HMACStrategy) Verify(_ context.Context, token string) (*ClaimSet, error) {
	return verify(token, jwt.SigningMethodHS256, &s.cfg, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
}

// ---------------------------------------------------------------------------
// JWKSStrategy
// ---------------------------------------------------------------------------

// JWKSStrategy verifies RS256 tokens against the issuer's published key
// set, fetched over HTTP and cached.
type JWKSStrategy struct {
	cfg   ValidatorConfig
	cache *jwksCache
}

// NewJWKSStrategy returns a strategy reading keys from cfg.JWKSURL.
func NewJWKSStrategy(cfg ValidatorConfig, client HTTPClient) *JWKSStrategy {
	return &JWKSStrategy{cfg: cfg, cache: newJWKSCache(cfg, client)}
}

// Name implements Strategy.
func (s *JWKSStrategy) Name() string { return "jwks" }

// Verify implements Strategy.
func (s *JWKSStrategy) Verify(ctx context.Context, token string) (*ClaimSet, error) {
	return verify(token, jwt.SigningMethodRS256, &s.cfg, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" && !s.cfg.AllowMissingKID {
			return nil, errMissingKID()
		}
		return s.cache.lookup(ctx, kid)
	})
}

// Invalidate drops the cached key set so the next token triggers a fetch.
func (s *JWKSStrategy) Invalidate() {
	s.cache.invalidate()
}

// ---------------------------------------------------------------------------
// StaticKeyStrategy
// ---------------------------------------------------------------------------

// StaticKeyStrategy verifies RS256 tokens against keys held in process.
// The issuer uses it to check its own refresh tokens.
type StaticKeyStrategy struct {
	cfg      ValidatorConfig
	provider KeyProvider
}

// NewStaticKeyStrategy returns a strategy reading keys from provider.
func NewStaticKeyStrategy(cfg ValidatorConfig, provider KeyProvider) *StaticKeyStrategy {
	return &StaticKeyStrategy{cfg: cfg, provider: provider}
}

// Name implements Strategy.
func (s *StaticKeyStrategy) Name() string { return "static" }

// Verify implements Strategy.
func (s *StaticKeyStrategy) Verify(ctx context.Context, token string) (*ClaimSet, error) {
	return verify(token, jwt.SigningMethodRS256, &s.cfg, func(t *jwt.Token) (any, error) {
		keys, err := s.provider.PublicKeys(ctx)
		if err != nil {
			return nil, sserr.Wrap(err, sserr.CodeAuthenticationUnavailable, "auth: token validation unavailable")
		}
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			if !s.cfg.AllowMissingKID || len(keys) != 1 {
				return nil, errMissingKID()
			}
			return onlyKey(keys), nil
		}
		pub, ok := keys[kid]
		if !ok {
			return nil, errKeyNotFound(kid)
		}
		return pub, nil
	})
}

func onlyKey(keys map[string]*rsa.PublicKey) *rsa.PublicKey {
	kids := make([]string, 0, len(keys))
	for kid := range keys {
		kids = append(kids, kid)
	}
	sort.Strings(kids)
	return keys[kids[0]]
}

func errMissingKID() *sserr.Error {
	return sserr.New(sserr.CodeAuthenticationInvalid, "auth: token missing key ID")
}

func errKeyNotFound(kid string) *sserr.Error {
	return sserr.New(sserr.CodeAuthenticationKeyNotFound, "auth: signing key not found").
		WithDetail("kid", kid)
}
