package auth

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// contextKey is an unexported type used for context keys in this package.
type contextKey int

const (
	identityKey contextKey = iota
	correlationIDKey
	actionKey
)

// ContextWithIdentity returns a copy of ctx carrying identity.
func ContextWithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFromContext returns the identity attached by [Middleware] or the
// server interceptors. It never returns a nil identity with true.
//
//	id, ok := auth.IdentityFromContext(r.Context())
//	if !ok {
//	    auth.WriteError(w, r, sserr.AuthenticationRequired())
//	    return
//	}
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey).(*Identity)
	return identity, ok && identity != nil
}

// MustIdentityFromContext is like [IdentityFromContext] but panics when no
// identity is present. Use it only behind [RequireAuthentication].
func MustIdentityFromContext(ctx context.Context) *Identity {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		panic("auth: no identity in context; ensure RequireAuthentication is configured")
	}
	return identity
}

// ContextWithCorrelationID returns a copy of ctx carrying the request's
// correlation id.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromContext returns the correlation id, or "" when none is
// set.
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

// ContextWithAction records the action being authorized ("GET /api/courses/",
// or a gRPC full method name) for security logs.
func ContextWithAction(ctx context.Context, action string) context.Context {
	return context.WithValue(ctx, actionKey, action)
}

// ActionFromContext returns the recorded action, or "".
func ActionFromContext(ctx context.Context) string {
	action, _ := ctx.Value(actionKey).(string)
	return action
}

// TraceIDFromContext returns the active OpenTelemetry trace id.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.HasTraceID() {
		return "", false
	}
	return spanCtx.TraceID().String(), true
}
