package auth

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ava-platform/ava-core/pkg/config"
	sserr "github.com/ava-platform/ava-core/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope for auth spans.
const tracerName = "github.com/ava-platform/ava-core/pkg/auth"

// Token defaults shared by the issuer and validators.
const (
	DefaultIssuer   = "ava-auth-service"
	DefaultAudience = "ava-microservices"
)

// DefaultJWKSRetries is the number of retries of a failed key set fetch.
const DefaultJWKSRetries = 2

// maxTokenSize is the largest token accepted (8 KB).
const maxTokenSize = 8192

// minSecretLength is the minimum length of the shared HS256 secret.
const minSecretLength = 32

// HTTPClient is the subset of *http.Client used to fetch the key set.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ---------------------------------------------------------------------------
// ValidatorConfig
// ---------------------------------------------------------------------------

// ValidatorConfig configures a [Validator]. Env names are relative to the
// enclosing prefix (AVA_AUTH_JWKS_URL in a resource service).
type ValidatorConfig struct {
	// JWKSURL is the issuer's key set endpoint. When empty no remote
	// strategy is configured.
	JWKSURL string `json:"jwks_url,omitempty" yaml:"jwks_url" env:"JWKS_URL"`

	// JWKSTimeout bounds one key set fetch. Defaults to 5 seconds.
	JWKSTimeout time.Duration `json:"jwks_timeout" yaml:"jwks_timeout" env:"JWKS_TIMEOUT" envDefault:"5s"`

	// JWKSCacheTTL is how long a fetched key set is trusted. Defaults to
	// 1 hour.
	JWKSCacheTTL time.Duration `json:"jwks_cache_ttl" yaml:"jwks_cache_ttl" env:"JWKS_CACHE_TTL" envDefault:"1h"`

	// JWKSRetries is how many times a failed fetch (connection error or
	// 5xx) is retried within JWKSTimeout. Zero disables retries.
	JWKSRetries int `json:"jwks_retries" yaml:"jwks_retries" env:"JWKS_RETRIES" envDefault:"2"`

	// JWKSMinRefreshInterval rate-limits refetches triggered by an unknown
	// kid. Defaults to 30 seconds.
	JWKSMinRefreshInterval time.Duration `json:"jwks_min_refresh_interval" yaml:"jwks_min_refresh_interval" env:"JWKS_MIN_REFRESH_INTERVAL" envDefault:"30s"`

	// LocalSecret enables HS256 verification with a shared secret. It is
	// tried before the key set and costs no network round trip.
	LocalSecret config.Secret `json:"-" yaml:"local_secret" env:"LOCAL_SECRET" envFile:"true"`

	Audience string `json:"audience" yaml:"audience" env:"AUDIENCE" envDefault:"ava-microservices"`
	Issuer   string `json:"issuer" yaml:"issuer" env:"ISSUER" envDefault:"ava-auth-service"`

	// VerifyAudience and VerifyIssuer may be turned off by a service that
	// sits behind a gateway which already checked both.
	VerifyAudience bool `json:"verify_audience" yaml:"verify_audience" env:"VERIFY_AUDIENCE" envDefault:"true"`
	VerifyIssuer   bool `json:"verify_issuer" yaml:"verify_issuer" env:"VERIFY_ISSUER" envDefault:"true"`

	// AllowMissingKID accepts RS256 tokens without a kid header by
	// verifying them against the first published key.
	AllowMissingKID bool `json:"allow_missing_kid" yaml:"allow_missing_kid" env:"ALLOW_MISSING_KID" envDefault:"true"`

	// ClockSkew is the leeway applied to exp. Defaults to zero.
	ClockSkew time.Duration `json:"clock_skew" yaml:"clock_skew" env:"CLOCK_SKEW"`
}

// DefaultValidatorConfig returns the defaults used when a field is not
// configured.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		JWKSTimeout:            5 * time.Second,
		JWKSCacheTTL:           time.Hour,
		JWKSMinRefreshInterval: 30 * time.Second,
		JWKSRetries:            DefaultJWKSRetries,
		Audience:               DefaultAudience,
		Issuer:                 DefaultIssuer,
		VerifyAudience:         true,
		VerifyIssuer:           true,
		AllowMissingKID:        true,
	}
}

// Validate checks the configuration. Errors carry [sserr.CodeValidation].
func (c *ValidatorConfig) Validate() error {
	if c.JWKSURL != "" {
		u, err := url.Parse(c.JWKSURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return sserr.New(sserr.CodeValidation, "auth: JWKS URL must be an absolute http(s) URL")
		}
	}
	if c.LocalSecret.IsSet() && len(c.LocalSecret.Value()) < minSecretLength {
		return sserr.Newf(sserr.CodeValidation, "auth: local secret must be at least %d bytes", minSecretLength)
	}
	switch {
	case c.JWKSTimeout < 0, c.JWKSCacheTTL < 0, c.JWKSMinRefreshInterval < 0:
		return sserr.New(sserr.CodeValidation, "auth: JWKS durations must be non-negative")
	case c.JWKSRetries < 0:
		return sserr.New(sserr.CodeValidation, "auth: JWKS retries must be non-negative")
	case c.ClockSkew < 0:
		return sserr.New(sserr.CodeValidation, "auth: clock skew must be non-negative")
	case c.VerifyAudience && c.Audience == "":
		return sserr.New(sserr.CodeValidation, "auth: audience must be set when audience verification is on")
	case c.VerifyIssuer && c.Issuer == "":
		return sserr.New(sserr.CodeValidation, "auth: issuer must be set when issuer verification is on")
	}
	return nil
}

func (c *ValidatorConfig) applyDefaults() {
	if c.JWKSTimeout == 0 {
		c.JWKSTimeout = 5 * time.Second
	}
	if c.JWKSCacheTTL == 0 {
		c.JWKSCacheTTL = time.Hour
	}
}

// parserOptions returns the claim checks shared by every strategy.
func (c *ValidatorConfig) parserOptions() []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithLeeway(c.ClockSkew),
		jwt.WithExpirationRequired(),
	}
	if c.VerifyAudience {
		opts = append(opts, jwt.WithAudience(c.Audience))
	}
	if c.VerifyIssuer {
		opts = append(opts, jwt.WithIssuer(c.Issuer))
	}
	return opts
}

// ---------------------------------------------------------------------------
// Validator
// ---------------------------------------------------------------------------

// Validator verifies bearer tokens by trying an ordered list of
// strategies. The first strategy that verifies the token wins. A strategy
// that does not handle the token's algorithm is skipped; otherwise the
// error of the last strategy that handled it is returned.
//
// Validator is safe for concurrent use.
type Validator struct {
	strategies []Strategy
	tracer     trace.Tracer
}

var _ TokenValidator = (*Validator)(nil)

// ValidatorOption customizes [NewValidator].
type ValidatorOption func(*validatorOptions)

type validatorOptions struct {
	httpClient  HTTPClient
	keyProvider KeyProvider
}

// WithHTTPClient sets the client used for key set fetches. The default
// retries failed fetches JWKSRetries times with jittered backoff.
func WithHTTPClient(client HTTPClient) ValidatorOption {
	return func(o *validatorOptions) { o.httpClient = client }
}

// WithKeyProvider adds a [StaticKeyStrategy] backed by provider, tried
// after the shared secret and before the remote key set.
func WithKeyProvider(provider KeyProvider) ValidatorOption {
	return func(o *validatorOptions) { o.keyProvider = provider }
}

// NewValidator builds the strategy chain from cfg: HS256 with LocalSecret,
// then the local key provider, then the remote key set at JWKSURL.
//
// Example:
//
//	cfg := auth.DefaultValidatorConfig()
//	cfg.JWKSURL = "http://auth-service:8000/.well-known/jwks.json"
//	validator, err := auth.NewValidator(cfg)
//	if err != nil {
//	    return err
//	}
//	claims, err := validator.Validate(ctx, auth.ExtractBearerToken(r.Header.Get("Authorization")))
func NewValidator(cfg ValidatorConfig, opts ...ValidatorOption) (*Validator, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o validatorOptions
	for _, opt := range opts {
		opt(&o)
	}

	var strategies []Strategy
	if cfg.LocalSecret.IsSet() {
		strategies = append(strategies, NewHMACStrategy(cfg))
	}
	if o.keyProvider != nil {
		strategies = append(strategies, NewStaticKeyStrategy(cfg, o.keyProvider))
	}
	if cfg.JWKSURL != "" {
		client := o.httpClient
		if client == nil {
			client = newJWKSHTTPClient(cfg)
		}
		strategies = append(strategies, NewJWKSStrategy(cfg, client))
	}
	if len(strategies) == 0 {
		return nil, sserr.New(sserr.CodeValidation,
			"auth: no verification strategy configured (set a JWKS URL, a local secret, or a key provider)")
	}
	return NewValidatorFromStrategies(strategies...), nil
}

// NewValidatorFromStrategies returns a Validator trying strategies in
// order.
func NewValidatorFromStrategies(strategies ...Strategy) *Validator {
	return &Validator{strategies: strategies, tracer: otel.Tracer(tracerName)}
}

// Strategies returns the names of the configured strategies in order.
func (v *Validator) Strategies() []string {
	names := make([]string, len(v.strategies))
	for i, s := range v.strategies {
		names[i] = s.Name()
	}
	return names
}

// Validate verifies token and returns its normalized claims. Every error
// is a *[sserr.Error] in the AUTH category:
//   - [sserr.CodeAuthenticationInvalid]: empty, oversized, malformed,
//     alg none, missing kid in strict mode, bad signature, wrong aud/iss
//   - [sserr.CodeAuthenticationExpired]: exp has passed
//   - [sserr.CodeAuthenticationKeyNotFound]: kid not in the key set
//   - [sserr.CodeAuthenticationUnavailable]: the key set could not be
//     fetched
//
// Example:
//
//	claims, err := validator.Validate(ctx, token)
//	if sserr.HasCode(err, sserr.CodeAuthenticationExpired) {
//	    // ask the client to refresh
//	}
func (v *Validator) Validate(ctx context.Context, token string) (*ClaimSet, error) {
	ctx, span := startSpan(ctx, v.tracer, "auth.Validate")
	defer span.End()

	claims, err := v.validate(ctx, token)
	if err != nil {
		finishSpan(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("auth.strategy", claims.Strategy),
		attribute.String("auth.subject", claims.Subject),
		attribute.String("auth.token_type", string(claims.TokenType)),
	)
	return claims, nil
}

func (v *Validator) validate(ctx context.Context, token string) (*ClaimSet, error) {
	if token == "" {
		return nil, sserr.New(sserr.CodeAuthenticationInvalid, "auth: token must not be empty")
	}
	if len(token) > maxTokenSize {
		return nil, sserr.New(sserr.CodeAuthenticationInvalid, "auth: token exceeds maximum size")
	}

	unverified, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "auth: token is malformed")
	}
	alg, _ := unverified.Header["alg"].(string)
	if alg == "" {
		return nil, sserr.New(sserr.CodeAuthenticationInvalid, "auth: token header has no algorithm")
	}
	if strings.EqualFold(alg, "none") {
		return nil, sserr.New(sserr.CodeAuthenticationInvalid, "auth: algorithm 'none' is not permitted")
	}

	var lastErr error
	for _, s := range v.strategies {
		claims, err := s.Verify(ctx, token)
		if err == nil {
			claims.Strategy = s.Name()
			return claims, nil
		}
		if errors.Is(err, errAlgorithmNotHandled) {
			continue
		}
		lastErr = err
	}
	if lastErr == nil {
		return nil, sserr.New(sserr.CodeAuthenticationInvalid, "auth: unsupported signing algorithm").
			WithDetail("alg", alg)
	}
	return nil, classifyError(lastErr)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// classifyError converts a JWT library error to a *sserr.Error. Platform
// errors raised inside a key function pass through unchanged.
func classifyError(err error) *sserr.Error {
	if err == nil {
		return nil
	}
	var ssError *sserr.Error
	if errors.As(err, &ssError) {
		return ssError
	}

	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return sserr.Wrap(err, sserr.CodeAuthenticationExpired, "auth: token has expired")
	case errors.Is(err, jwt.ErrTokenMalformed):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "auth: token is malformed")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "auth: token signature is invalid")
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "auth: token audience is invalid")
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "auth: token issuer is invalid")
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "auth: token is missing a required claim")
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "auth: token is not yet valid")
	case errors.Is(err, jwt.ErrTokenInvalidClaims):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "auth: token claims are invalid")
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "auth: token is unverifiable")
	}
	return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "auth: token validation failed")
}

func startSpan(ctx context.Context, tracer trace.Tracer, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}

// finishSpan records err on span. It does not end the span.
func finishSpan(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
