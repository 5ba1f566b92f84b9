package auth

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ava-platform/ava-core/pkg/config"
	sserr "github.com/ava-platform/ava-core/pkg/errors"
	"github.com/ava-platform/ava-core/pkg/keys"
)

// Token lifetimes.
const (
	DefaultAccessTTL  = 60 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// IssuerConfig configures an [Issuer]. Env names are relative to the
// enclosing prefix (AVA_TOKEN_ACCESS_TTL in the auth service).
type IssuerConfig struct {
	Issuer     string        `json:"issuer" yaml:"issuer" env:"ISSUER" envDefault:"ava-auth-service"`
	Audience   string        `json:"audience" yaml:"audience" env:"AUDIENCE" envDefault:"ava-microservices"`
	AccessTTL  time.Duration `json:"access_ttl" yaml:"access_ttl" env:"ACCESS_TTL" envDefault:"60m"`
	RefreshTTL time.Duration `json:"refresh_ttl" yaml:"refresh_ttl" env:"REFRESH_TTL" envDefault:"168h"`

	// FallbackSecret signs HS256 tokens when the RSA key pair is
	// unavailable. Without it, signing failures are returned to the
	// caller.
	FallbackSecret config.Secret `json:"-" yaml:"fallback_secret" env:"FALLBACK_SECRET" envFile:"true"`
}

// DefaultIssuerConfig returns the production token settings.
func DefaultIssuerConfig() IssuerConfig {
	return IssuerConfig{
		Issuer:     DefaultIssuer,
		Audience:   DefaultAudience,
		AccessTTL:  DefaultAccessTTL,
		RefreshTTL: DefaultRefreshTTL,
	}
}

// Validate checks the configuration. Errors carry [sserr.CodeValidation].
func (c *IssuerConfig) Validate() error {
	switch {
	case c.Issuer == "":
		return sserr.New(sserr.CodeValidation, "auth: issuer must not be empty")
	case c.Audience == "":
		return sserr.New(sserr.CodeValidation, "auth: audience must not be empty")
	case c.AccessTTL <= 0 || c.RefreshTTL <= 0:
		return sserr.New(sserr.CodeValidation, "auth: token lifetimes must be positive")
	case c.FallbackSecret.IsSet() && len(c.FallbackSecret.Value()) < minSecretLength:
		return sserr.Newf(sserr.CodeValidation, "auth: fallback secret must be at least %d bytes", minSecretLength)
	}
	return nil
}

// SigningKeys supplies the issuer's RSA key pair and its verification
// keys. *keys.Manager satisfies it.
type SigningKeys interface {
	KeyProvider
	GetOrCreateKeyPair(ctx context.Context) (*keys.KeyPair, error)
}

// Subject is a verified local user about to receive tokens.
type Subject struct {
	UserID   int64
	Email    string
	Username string
	Roles    RoleSet
}

// TokenPair is the result of a login or refresh.
type TokenPair struct {
	Access           string    `json:"access"`
	Refresh          string    `json:"refresh"`
	AccessExpiresAt  time.Time `json:"-"`
	RefreshExpiresAt time.Time `json:"-"`

	// Algorithm is "RS256", or "HS256" in fallback mode.
	Algorithm string `json:"-"`
}

// Issuer mints access/refresh token pairs and rotates refresh tokens.
// Issuer is safe for concurrent use.
type Issuer struct {
	cfg         IssuerConfig
	keys        SigningKeys
	revocations RevocationStore
	validator   *Validator
	tracer      trace.Tracer
	now         func() time.Time
}

// NewIssuer validates cfg and returns an Issuer signing with signingKeys.
// A nil revocations store keeps revocations in memory.
//
// Example:
//
//	mgr, err := keys.NewManager(keyCfg, keys.NewRedisSource(rdb, keys.DefaultRedisKey))
//	if err != nil {
//	    return err
//	}
//	issuer, err := auth.NewIssuer(auth.DefaultIssuerConfig(), mgr,
//	    auth.NewRedisRevocationStore(rdb, ""))
func NewIssuer(cfg IssuerConfig, signingKeys SigningKeys, revocations RevocationStore) (*Issuer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if signingKeys == nil {
		return nil, sserr.New(sserr.CodeValidation, "auth: issuer requires signing keys")
	}
	if revocations == nil {
		revocations = NewMemoryRevocationStore()
	}

	vcfg := DefaultValidatorConfig()
	vcfg.Issuer = cfg.Issuer
	vcfg.Audience = cfg.Audience
	vcfg.LocalSecret = cfg.FallbackSecret
	vcfg.AllowMissingKID = false
	validator, err := NewValidator(vcfg, WithKeyProvider(signingKeys))
	if err != nil {
		return nil, err
	}

	return &Issuer{
		cfg:         cfg,
		keys:        signingKeys,
		revocations: revocations,
		validator:   validator,
		tracer:      otel.Tracer(tracerName),
		now:         time.Now,
	}, nil
}

// Validator returns the validator the issuer uses for its own tokens. It
// trusts the in-process key pair and the fallback secret.
func (i *Issuer) Validator() *Validator {
	return i.validator
}

// signer is the key material selected for one token pair.
type signer struct {
	method jwt.SigningMethod
	key    any
	kid    string
}

// IssueTokens mints an access and a refresh token for sub. Both are RS256
// with the active kid. If the key pair is unavailable and a fallback
// secret is configured, both are HS256 and a security event is logged.
//
// Error codes returned:
//   - [sserr.CodeValidation]: sub has no positive user id
//   - [sserr.CodeInternalSigning]: no key pair and no fallback secret
//
// Example:
//
//	pair, err := issuer.IssueTokens(ctx, auth.Subject{
//	    UserID:   user.ID,
//	    Email:    user.Email,
//	    Username: user.Username,
//	    Roles:    user.Roles(),
//	})
//	if err != nil {
//	    return err
//	}
//	auth.WriteJSON(w, http.StatusOK, pair)
func (i *Issuer) IssueTokens(ctx context.Context, sub Subject) (_ *TokenPair, err error) {
	ctx, span := startSpan(ctx, i.tracer, "auth.IssueTokens")
	defer func() {
		finishSpan(span, err)
		span.End()
	}()

	if sub.UserID <= 0 {
		return nil, sserr.New(sserr.CodeValidation, "auth: subject must have a positive user id")
	}
	if len(sub.Roles) == 0 {
		sub.Roles = DefaultRoles()
	}
	span.SetAttributes(attribute.Int64("auth.user_id", sub.UserID))

	s, err := i.signer(ctx, sub)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("auth.alg", s.method.Alg()))

	now := i.now()
	pair := &TokenPair{
		AccessExpiresAt:  now.Add(i.cfg.AccessTTL),
		RefreshExpiresAt: now.Add(i.cfg.RefreshTTL),
		Algorithm:        s.method.Alg(),
	}
	if pair.Access, err = i.sign(s, i.claims(sub, TokenTypeAccess, now, pair.AccessExpiresAt)); err != nil {
		return nil, err
	}
	if pair.Refresh, err = i.sign(s, i.claims(sub, TokenTypeRefresh, now, pair.RefreshExpiresAt)); err != nil {
		return nil, err
	}
	return pair, nil
}

func (i *Issuer) signer(ctx context.Context, sub Subject) (signer, error) {
	kp, err := i.keys.GetOrCreateKeyPair(ctx)
	if err == nil {
		return signer{method: jwt.SigningMethodRS256, key: kp.PrivateKey(), kid: kp.KeyID()}, nil
	}
	if !i.cfg.FallbackSecret.IsSet() {
		return signer{}, sserr.Wrap(err, sserr.CodeInternalSigning, "auth: signing key unavailable")
	}
	slog.WarnContext(ctx, "auth: signing key unavailable, issuing HS256 tokens with the fallback secret",
		"event", "security.signing_fallback",
		"user_id", sub.UserID,
		"correlation_id", CorrelationIDFromContext(ctx),
		"error", err,
	)
	return signer{method: jwt.SigningMethodHS256, key: []byte(i.cfg.FallbackSecret.Value())}, nil
}

func (i *Issuer) claims(sub Subject, tt TokenType, now, exp time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":        strconv.FormatInt(sub.UserID, 10),
		"email":      sub.Email,
		"username":   sub.Username,
		"roles":      sub.Roles.Strings(),
		"aud":        i.cfg.Audience,
		"iss":        i.cfg.Issuer,
		"iat":        now.Unix(),
		"exp":        exp.Unix(),
		"token_type": string(tt),
		"jti":        uuid.NewString(),
	}
}

func (i *Issuer) sign(s signer, claims jwt.MapClaims) (string, error) {
	tok := jwt.NewWithClaims(s.method, claims)
	if s.kid != "" {
		tok.Header["kid"] = s.kid
	}
	signed, err := tok.SignedString(s.key)
	if err != nil {
		return "", sserr.Wrap(err, sserr.CodeInternalSigning, "auth: failed to sign token")
	}
	return signed, nil
}

// Refresh rotates a refresh token: it verifies the token, signs a new
// pair for the same subject, and only then revokes the old token's jti
// until its own expiry. A second use of the same refresh token fails, and
// a signing failure leaves the presented token usable.
//
// Error codes returned:
//   - AUTH_00x from validation
//   - [sserr.CodeAuthenticationInvalid]: not a refresh token
//   - [sserr.CodeAuthenticationRevoked]: the token was already used or
//     revoked
//   - [sserr.CodeInternalSigning]: no key pair and no fallback secret
//
// Example:
//
//	pair, err := issuer.Refresh(ctx, body.Refresh)
//	if err != nil {
//	    auth.WriteError(w, r, err)
//	    return
//	}
//	auth.WriteJSON(w, http.StatusOK, pair)
func (i *Issuer) Refresh(ctx context.Context, refreshToken string) (_ *TokenPair, err error) {
	ctx, span := startSpan(ctx, i.tracer, "auth.Refresh")
	defer func() {
		finishSpan(span, err)
		span.End()
	}()

	claims, err := i.verifyRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	pair, err := i.IssueTokens(ctx, Subject{
		UserID:   claims.UserID,
		Email:    claims.Email,
		Username: claims.Username,
		Roles:    claims.Roles,
	})
	if err != nil {
		return nil, err
	}
	if err := i.consume(ctx, claims); err != nil {
		return nil, err
	}
	return pair, nil
}

// Revoke blacklists a refresh token, as on logout. Revoking an already
// revoked token is not an error.
func (i *Issuer) Revoke(ctx context.Context, refreshToken string) error {
	claims, err := i.verifyRefreshToken(ctx, refreshToken)
	if err != nil {
		return err
	}
	err = i.consume(ctx, claims)
	if sserr.HasCode(err, sserr.CodeAuthenticationRevoked) {
		return nil
	}
	return err
}

func (i *Issuer) verifyRefreshToken(ctx context.Context, token string) (*ClaimSet, error) {
	claims, err := i.validator.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeRefresh {
		return nil, sserr.New(sserr.CodeAuthenticationInvalid, "auth: token is not a refresh token")
	}
	if claims.ID == "" || claims.UserID <= 0 {
		return nil, sserr.New(sserr.CodeAuthenticationInvalid, "auth: refresh token is missing required claims")
	}
	return claims, nil
}

// consume revokes the token's jti. Exactly one caller wins for a given
// jti; the others get AUTH_008.
func (i *Issuer) consume(ctx context.Context, claims *ClaimSet) error {
	revoked, err := i.revocations.Revoke(ctx, claims.ID, claims.ExpiresAt)
	if err != nil {
		return err
	}
	if !revoked {
		slog.WarnContext(ctx, "auth: revoked refresh token presented",
			"event", "security.refresh_reuse",
			"identity", claims.Subject,
			"jti", claims.ID,
			"correlation_id", CorrelationIDFromContext(ctx),
		)
		return sserr.New(sserr.CodeAuthenticationRevoked, "auth: refresh token has been revoked")
	}
	return nil
}
