package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	sserr "github.com/ava-platform/ava-core/pkg/errors"
)

const (
	testMethod   = "/ava.courses.v1.CourseService/GetCourse"
	healthMethod = "/grpc.health.v1.Health/Check"
)

func incoming(pairs ...string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs(pairs...))
}

func TestUnaryServerInterceptor_Authenticated(t *testing.T) {
	t.Parallel()

	interceptor := UnaryServerInterceptor(NewResolver(&fakeValidator{claims: accessClaimSet()}))

	var seen context.Context
	resp, err := interceptor(
		incoming("authorization", "Bearer tok", "x-request-id", "req-9"),
		"request",
		&grpc.UnaryServerInfo{FullMethod: testMethod},
		func(ctx context.Context, req any) (any, error) {
			seen = ctx
			return "response", nil
		},
	)
	require.NoError(t, err)
	assert.Equal(t, "response", resp)

	id, ok := IdentityFromContext(seen)
	require.True(t, ok)
	assert.Equal(t, int64(42), id.UserID)
	assert.Equal(t, "req-9", CorrelationIDFromContext(seen))
	assert.Equal(t, testMethod, ActionFromContext(seen))
}

func TestUnaryServerInterceptor_TrustedMetadata(t *testing.T) {
	t.Parallel()

	interceptor := UnaryServerInterceptor(NewResolver(nil))

	var seen context.Context
	_, err := interceptor(
		incoming("x-user-id", "8", "x-user-roles", `["instructor"]`),
		nil,
		&grpc.UnaryServerInfo{FullMethod: testMethod},
		func(ctx context.Context, _ any) (any, error) {
			seen = ctx
			return nil, nil
		},
	)
	require.NoError(t, err)
	id := MustIdentityFromContext(seen)
	assert.Equal(t, SourceGatewayHeader, id.Source)
	assert.True(t, id.HasRole(RoleInstructor))
	assert.NotEmpty(t, CorrelationIDFromContext(seen), "a correlation id is generated when none is sent")
}

func TestUnaryServerInterceptor_Unauthenticated(t *testing.T) {
	t.Parallel()

	interceptor := UnaryServerInterceptor(NewResolver(nil), healthMethod)
	called := false
	handler := func(context.Context, any) (any, error) {
		called = true
		return nil, nil
	}

	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: testMethod}, handler)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
	assert.False(t, called)

	_, err = interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: healthMethod}, handler)
	assert.NoError(t, err)
	assert.True(t, called, "public methods run without an identity")
}

// fakeServerStream is a ServerStream carrying only a context.
type fakeServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (f *fakeServerStream) Context() context.Context { return f.ctx }

func TestStreamServerInterceptor(t *testing.T) {
	t.Parallel()

	interceptor := StreamServerInterceptor(NewResolver(nil))
	info := &grpc.StreamServerInfo{FullMethod: testMethod}

	var seen context.Context
	err := interceptor(nil, &fakeServerStream{ctx: incoming("x-user-id", "8")}, info,
		func(_ any, ss grpc.ServerStream) error {
			seen = ss.Context()
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, int64(8), MustIdentityFromContext(seen).UserID)

	err = interceptor(nil, &fakeServerStream{ctx: context.Background()}, info,
		func(any, grpc.ServerStream) error { return nil })
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestUnaryClientInterceptor_PropagatesIdentity(t *testing.T) {
	t.Parallel()

	ctx := ContextWithIdentity(context.Background(), &Identity{
		UserID: 42, Email: "ada@example.com", Roles: NewRoleSet(RoleStudent),
	})
	ctx = ContextWithCorrelationID(ctx, "req-1")
	ctx = metadata.AppendToOutgoingContext(ctx, "x-tenant", "north")

	var md metadata.MD
	err := UnaryClientInterceptor()(ctx, testMethod, nil, nil, nil,
		func(ctx context.Context, _ string, _, _ any, _ *grpc.ClientConn, _ ...grpc.CallOption) error {
			md, _ = metadata.FromOutgoingContext(ctx)
			return nil
		})
	require.NoError(t, err)

	assert.Equal(t, []string{"42"}, md.Get("x-user-id"))
	assert.Equal(t, []string{"ada@example.com"}, md.Get("x-user-email"))
	assert.Equal(t, []string{`["student"]`}, md.Get("x-user-roles"))
	assert.Equal(t, []string{"req-1"}, md.Get("x-request-id"))
	assert.Equal(t, []string{"north"}, md.Get("x-tenant"), "existing metadata is kept")
}

func TestStreamClientInterceptor_NoIdentity(t *testing.T) {
	t.Parallel()

	var md metadata.MD
	_, err := StreamClientInterceptor()(context.Background(), &grpc.StreamDesc{}, nil, testMethod,
		func(ctx context.Context, _ *grpc.StreamDesc, _ *grpc.ClientConn, _ string, _ ...grpc.CallOption) (grpc.ClientStream, error) {
			md, _ = metadata.FromOutgoingContext(ctx)
			return nil, nil
		})
	require.NoError(t, err)
	assert.Empty(t, md)
}

func TestGRPCStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		code codes.Code
	}{
		{sserr.AuthenticationRequired(), codes.Unauthenticated},
		{sserr.Forbidden("no"), codes.PermissionDenied},
		{sserr.Validation("bad"), codes.InvalidArgument},
		{sserr.NotFound("gone"), codes.NotFound},
		{sserr.Unavailable("down"), codes.Unavailable},
		{sserr.New(sserr.CodeTimeout, "slow"), codes.DeadlineExceeded},
		{errors.New("boom"), codes.Internal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, status.Code(GRPCStatus(tt.err)), "%v", tt.err)
	}
	assert.NoError(t, GRPCStatus(nil))

	st, _ := status.FromError(GRPCStatus(errors.New("db password leaked")))
	assert.NotContains(t, st.Message(), "password")
}
