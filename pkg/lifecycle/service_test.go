package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ava-platform/ava-core/internal/testutil"
	sserr "github.com/ava-platform/ava-core/pkg/errors"
)

func mustBuild(t *testing.T, b *Builder) *Service {
	t.Helper()
	svc, err := b.Build()
	require.NoError(t, err)
	return svc
}

func okCheck(context.Context) error { return nil }

// ===========================================================================
// Builder
// ===========================================================================

func TestBuilder_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		b    *Builder
	}{
		{"empty name", NewBuilder("", "1.0.0")},
		{"empty version", NewBuilder("auth-service", "")},
		{"bad check name", NewBuilder("auth-service", "1.0.0").WithCheck("Postgres DB", okCheck)},
		{"nil check", NewBuilder("auth-service", "1.0.0").WithCheck("postgres", nil)},
		{"duplicate check", NewBuilder("auth-service", "1.0.0").
			WithCheck("redis", okCheck).WithCheck("redis", okCheck)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := tt.b.Build()
			testutil.AssertErrorCode(t, err, sserr.CodeValidation)
		})
	}
}

func TestBuilder_Defaults(t *testing.T) {
	t.Parallel()
	svc := mustBuild(t, NewBuilder("auth-service", "1.2.0"))
	assert.Equal(t, "auth-service", svc.Name())
	assert.Equal(t, "1.2.0", svc.Version())
	assert.Equal(t, StateUnknown, svc.State())
	assert.Zero(t, svc.Uptime())
}

// ===========================================================================
// Start / Stop
// ===========================================================================

func TestService_StartStop(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		order []string
		seen  []State
	)
	record := func(s string) Hook {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, s)
			return nil
		}
	}

	svc := mustBuild(t, NewBuilder("auth-service", "1.0.0").
		WithOnStart(record("start:postgres")).
		WithOnStart(record("start:redis")).
		WithOnStop(record("stop:postgres")).
		WithOnStop(record("stop:redis")).
		OnStateChange(func(_, next State) { seen = append(seen, next) }))

	require.NoError(t, svc.Start(context.Background()))
	assert.Equal(t, StateRunning, svc.State())
	assert.Eventually(t, func() bool { return svc.Uptime() > 0 }, time.Second, time.Millisecond)

	require.NoError(t, svc.Stop(context.Background()))
	assert.Equal(t, StateStopped, svc.State())
	assert.Zero(t, svc.Uptime())

	assert.Equal(t, []string{"start:postgres", "start:redis", "stop:redis", "stop:postgres"}, order,
		"stop hooks run in reverse order")
	assert.Equal(t, []State{StateStarting, StateRunning, StateStopping, StateStopped}, seen)

	require.NoError(t, svc.Stop(context.Background()), "stopping twice is a no-op")
	require.NoError(t, svc.Start(context.Background()), "a stopped service can restart")
}

func TestService_Start_HookError(t *testing.T) {
	t.Parallel()
	boom := errors.New("postgres unreachable")
	svc := mustBuild(t, NewBuilder("auth-service", "1.0.0").
		WithOnStart(func(context.Context) error { return boom }))

	err := svc.Start(context.Background())
	testutil.RequireErrorCode(t, err, sserr.CodeInternal)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateFailed, svc.State())
}

func TestService_Start_Twice(t *testing.T) {
	t.Parallel()
	svc := mustBuild(t, NewBuilder("auth-service", "1.0.0"))
	require.NoError(t, svc.Start(context.Background()))

	err := svc.Start(context.Background())
	testutil.RequireErrorCode(t, err, sserr.CodeInternal)
	assert.Equal(t, StateRunning, svc.State())
}

func TestService_Start_CanceledContext(t *testing.T) {
	t.Parallel()
	svc := mustBuild(t, NewBuilder("auth-service", "1.0.0"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := svc.Start(ctx)
	testutil.RequireErrorCode(t, err, sserr.CodeTimeout)
	assert.Equal(t, StateUnknown, svc.State())
}

func TestService_Stop_RunsEveryHook(t *testing.T) {
	t.Parallel()
	var closed bool
	svc := mustBuild(t, NewBuilder("auth-service", "1.0.0").
		WithOnStop(func(context.Context) error { closed = true; return nil }).
		WithOnStop(func(context.Context) error { return errors.New("redis close failed") }))

	require.NoError(t, svc.Start(context.Background()))
	err := svc.Stop(context.Background())
	testutil.RequireErrorCode(t, err, sserr.CodeInternal)
	assert.True(t, closed, "a failing hook does not skip the others")
	assert.Equal(t, StateFailed, svc.State())
}

func TestService_StateHandlerPanic(t *testing.T) {
	t.Parallel()
	svc := mustBuild(t, NewBuilder("auth-service", "1.0.0").
		OnStateChange(func(State, State) { panic("observer bug") }))

	require.NoError(t, svc.Start(context.Background()))
	assert.Equal(t, StateRunning, svc.State())
}

// ===========================================================================
// Health
// ===========================================================================

func TestService_Health(t *testing.T) {
	t.Parallel()
	var redisDown bool
	svc := mustBuild(t, NewBuilder("auth-service", "1.0.0").
		WithCheck("postgres", okCheck).
		WithCheck("redis", func(context.Context) error {
			if redisDown {
				return errors.New("connection refused")
			}
			return nil
		}))

	err := svc.Health(context.Background())
	testutil.RequireErrorCode(t, err, sserr.CodeUnavailable)

	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Health(context.Background()))

	redisDown = true
	err = svc.Health(context.Background())
	testutil.RequireErrorCode(t, err, sserr.CodeUnavailableDependency)
	assert.Contains(t, err.Error(), "redis")
	assert.Contains(t, err.Error(), "connection refused", "Health keeps the dependency's error")
	assert.True(t, sserr.IsRetryable(err))
}

func TestService_Report(t *testing.T) {
	t.Parallel()
	svc := mustBuild(t, NewBuilder("auth-service", "1.0.0").
		WithCheck("postgres", okCheck).
		WithCheck("redis", func(context.Context) error { return errors.New("connection refused") }))

	r := svc.Report(context.Background())
	assert.Equal(t, StatusUnavailable, r.Status)
	assert.Equal(t, StateUnknown, r.State)
	assert.Empty(t, r.Checks, "checks are skipped before start")

	require.NoError(t, svc.Start(context.Background()))
	r = svc.Report(context.Background())
	assert.False(t, r.Healthy())
	assert.Equal(t, StatusOK, r.Checks["postgres"].Status)
	assert.Equal(t, StatusUnavailable, r.Checks["redis"].Status)
	assert.Equal(t, CheckFailed, r.Checks["redis"].Error)

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "connection refused")
	assert.Contains(t, string(data), `"service":"auth-service"`)
	assert.Contains(t, string(data), `"state":"running"`)
}

func TestService_Report_CheckTimeout(t *testing.T) {
	t.Parallel()
	svc := mustBuild(t, NewBuilder("auth-service", "1.0.0").
		WithCheck("slow", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}))
	require.NoError(t, svc.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	r := svc.Report(ctx)
	assert.False(t, r.Healthy())
	assert.Equal(t, CheckTimedOut, r.Checks["slow"].Error)
}
