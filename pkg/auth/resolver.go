package auth

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/ava-platform/ava-core/pkg/errors"
)

// Resolver produces the single "current user" of a request. Trusted
// gateway headers win; a bearer token is only validated when they are
// absent. Resolution never fails loudly: callers get (nil, false) and the
// authorization layer decides what that means.
type Resolver struct {
	validator TokenValidator
	tracer    trace.Tracer
}

// NewResolver returns a resolver validating bearer tokens with validator.
// A nil validator makes the resolver header-only.
//
// Example:
//
//	resolver := auth.NewResolver(validator)
//	identity, ok := resolver.Resolve(ctx, r.Header)
//	if !ok {
//	    // anonymous request
//	}
func NewResolver(validator TokenValidator) *Resolver {
	return &Resolver{validator: validator, tracer: otel.Tracer(tracerName)}
}

// Resolve returns the identity carried by h.
func (r *Resolver) Resolve(ctx context.Context, h Headers) (*Identity, bool) {
	ctx, span := startSpan(ctx, r.tracer, "auth.Resolve")
	defer span.End()

	if identity, ok := ExtractTrustedHeaders(h); ok {
		span.SetAttributes(attribute.String("auth.source", string(identity.Source)))
		return identity, true
	}
	if h != nil && h.Get(HeaderUserID) != "" {
		logAuthFailure(ctx, "auth: ignoring malformed trusted header",
			sserr.New(sserr.CodeAuthenticationInvalid, "auth: X-User-Id is not a positive integer"), "")
	}

	if r.validator == nil || h == nil {
		return nil, false
	}
	token := ExtractBearerToken(h.Get(HeaderAuthorization))
	if token == "" {
		return nil, false
	}

	claims, err := r.validator.Validate(ctx, token)
	if err != nil {
		finishSpan(span, err)
		logAuthFailure(ctx, "auth: bearer token rejected", err, "")
		return nil, false
	}
	if claims.TokenType == TokenTypeRefresh {
		logAuthFailure(ctx, "auth: refresh token presented as bearer credential",
			sserr.New(sserr.CodeAuthenticationInvalid, "auth: refresh tokens cannot authenticate requests"),
			claims.Subject)
		return nil, false
	}
	identity, ok := IdentityFromClaims(claims)
	if !ok {
		logAuthFailure(ctx, "auth: token subject is not a user id",
			sserr.New(sserr.CodeAuthenticationInvalid, "auth: token subject is not a positive integer"),
			claims.Subject)
		return nil, false
	}
	span.SetAttributes(attribute.String("auth.source", string(identity.Source)))
	return identity, true
}

// logAuthFailure writes the WARN record every authentication or
// authorization failure produces. identity is whatever is known about the
// caller, possibly "".
func logAuthFailure(ctx context.Context, msg string, err error, identity string) {
	slog.WarnContext(ctx, msg,
		"identity", identity,
		"action", ActionFromContext(ctx),
		"correlation_id", CorrelationIDFromContext(ctx),
		"code", string(sserr.GetCode(err)),
		"error", err,
	)
}
