package auth

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	sserr "github.com/ava-platform/ava-core/pkg/errors"
)

// UnaryServerInterceptor resolves the caller from incoming metadata the
// same way [Middleware] does for HTTP: trusted x-user-* entries first,
// then the authorization bearer token. Calls without an identity fail
// with codes.Unauthenticated unless their full method name is listed in
// publicMethods.
//
// Example:
//
//	srv := grpc.NewServer(
//	    grpc.UnaryInterceptor(auth.UnaryServerInterceptor(resolver, "/grpc.health.v1.Health/Check")),
//	)
func UnaryServerInterceptor(resolver *Resolver, publicMethods ...string) grpc.UnaryServerInterceptor {
	public := methodSet(publicMethods)
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctx, err := resolveGRPC(ctx, resolver, info.FullMethod, public)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor is the streaming form of
// [UnaryServerInterceptor].
func StreamServerInterceptor(resolver *Resolver, publicMethods ...string) grpc.StreamServerInterceptor {
	public := methodSet(publicMethods)
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, err := resolveGRPC(ss.Context(), resolver, info.FullMethod, public)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

// UnaryClientInterceptor forwards the identity and correlation id in ctx
// as trusted metadata on internal calls.
func UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		return invoker(outgoingContext(ctx), method, req, reply, cc, opts...)
	}
}

// StreamClientInterceptor is the streaming form of
// [UnaryClientInterceptor].
func StreamClientInterceptor() grpc.StreamClientInterceptor {
	return func(
		ctx context.Context,
		desc *grpc.StreamDesc,
		cc *grpc.ClientConn,
		method string,
		streamer grpc.Streamer,
		opts ...grpc.CallOption,
	) (grpc.ClientStream, error) {
		return streamer(outgoingContext(ctx), desc, cc, method, opts...)
	}
}

// GRPCStatus converts a platform error to a gRPC status error, mapping
// 401 to Unauthenticated and 403 to PermissionDenied. Messages of internal
// errors are not exposed.
func GRPCStatus(err error) error {
	if err == nil {
		return nil
	}
	e := sserr.FromError(err)
	switch e.HTTPStatus() {
	case http.StatusUnauthorized:
		return status.Error(codes.Unauthenticated, e.Message)
	case http.StatusForbidden:
		return status.Error(codes.PermissionDenied, e.Message)
	case http.StatusBadRequest:
		return status.Error(codes.InvalidArgument, e.Message)
	case http.StatusNotFound:
		return status.Error(codes.NotFound, e.Message)
	case http.StatusServiceUnavailable:
		return status.Error(codes.Unavailable, e.Title())
	case http.StatusGatewayTimeout:
		return status.Error(codes.DeadlineExceeded, e.Title())
	default:
		return status.Error(codes.Internal, e.Title())
	}
}

func resolveGRPC(ctx context.Context, resolver *Resolver, method string, public map[string]struct{}) (context.Context, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	headers := MetadataHeaders(md)

	correlationID := headers.Get(HeaderRequestID)
	if correlationID == "" || len(correlationID) > maxRequestIDLength {
		correlationID = uuid.NewString()
	}
	ctx = ContextWithCorrelationID(ctx, correlationID)
	ctx = ContextWithAction(ctx, method)

	identity, ok := resolver.Resolve(ctx, headers)
	if ok {
		return ContextWithIdentity(ctx, identity), nil
	}
	if _, isPublic := public[method]; isPublic {
		return ctx, nil
	}
	return ctx, GRPCStatus((Policy{}).Authenticated(ctx, nil))
}

func methodSet(methods []string) map[string]struct{} {
	set := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		set[m] = struct{}{}
	}
	return set
}

// wrappedServerStream overrides Context so handlers see the resolved
// identity.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the enriched context.
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
