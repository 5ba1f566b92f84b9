package auth

import (
	"context"
	"net/http"
	"strings"

	"google.golang.org/grpc/metadata"
)

// PropagatingRoundTripper forwards the caller's identity to internal
// downstream services as trusted X-User-* headers, together with the
// correlation id. It is the gateway side of [ExtractTrustedHeaders]; use
// it only for calls that stay inside the trusted network.
//
//	client := &http.Client{Transport: auth.NewPropagatingRoundTripper(nil)}
//	resp, err := client.Do(req.WithContext(r.Context()))
type PropagatingRoundTripper struct {
	wrapped http.RoundTripper
}

// NewPropagatingRoundTripper wraps transport. A nil transport selects
// [http.DefaultTransport].
func NewPropagatingRoundTripper(transport http.RoundTripper) *PropagatingRoundTripper {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &PropagatingRoundTripper{wrapped: transport}
}

// RoundTrip implements [http.RoundTripper]. The original request is never
// mutated.
func (t *PropagatingRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	headers := propagationHeaders(r.Context())
	if len(headers) == 0 {
		return t.wrapped.RoundTrip(r)
	}
	clone := r.Clone(r.Context())
	for k, v := range headers {
		clone.Header.Set(k, v)
	}
	return t.wrapped.RoundTrip(clone)
}

// propagationHeaders returns the trusted headers and correlation id for
// ctx, or nil when neither is present.
func propagationHeaders(ctx context.Context) map[string]string {
	var headers map[string]string
	if identity, ok := IdentityFromContext(ctx); ok {
		headers = IdentityHeaders(identity)
	}
	if id := CorrelationIDFromContext(ctx); id != "" {
		if headers == nil {
			headers = make(map[string]string, 1)
		}
		headers[HeaderRequestID] = id
	}
	return headers
}

// outgoingContext merges the propagation headers into the outgoing gRPC
// metadata of ctx.
func outgoingContext(ctx context.Context) context.Context {
	headers := propagationHeaders(ctx)
	if len(headers) == 0 {
		return ctx
	}
	pairs := make([]string, 0, len(headers)*2)
	for k, v := range headers {
		pairs = append(pairs, strings.ToLower(k), v)
	}
	md := metadata.Pairs(pairs...)
	if existing, ok := metadata.FromOutgoingContext(ctx); ok {
		md = metadata.Join(existing, md)
	}
	return metadata.NewOutgoingContext(ctx, md)
}
