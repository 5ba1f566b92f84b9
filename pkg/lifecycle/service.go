package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	sserr "github.com/ava-platform/ava-core/pkg/errors"
)

const tracerName = "github.com/ava-platform/ava-core/pkg/lifecycle"

// StateChangeHandler observes transitions. Handlers run synchronously
// under the service's state lock and must not call back into the service.
// A panicking handler is recovered and logged.
type StateChangeHandler func(old, new State)

// Hook runs during Start or Stop. A failing hook moves the service to
// Failed.
type Hook func(ctx context.Context) error

// Service tracks the lifecycle of one running binary. It is safe for
// concurrent use. Build one with [NewBuilder].
type Service struct {
	name    string
	version string

	mu        sync.RWMutex
	state     State
	startedAt *time.Time

	tracer trace.Tracer
	logger *slog.Logger

	onStart       []Hook
	onStop        []Hook
	checks        []Check
	stateHandlers []StateChangeHandler
}

func (s *Service) Name() string    { return s.name }
func (s *Service) Version() string { return s.version }

// State returns the current state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Uptime is the time since the service entered Running, or zero.
func (s *Service) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startedAt == nil || s.state != StateRunning {
		return 0
	}
	return time.Since(*s.startedAt)
}

// setState validates and applies a transition, then notifies handlers.
func (s *Service) setState(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.state
	if !ValidTransition(old, next) {
		return sserr.Newf(sserr.CodeInternal,
			"lifecycle: invalid state transition from %q to %q", old, next)
	}
	s.state = next

	for _, h := range s.stateHandlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("lifecycle: state change handler panicked",
						"panic", r,
						"service", s.name,
						"old_state", string(old),
						"new_state", string(next),
					)
				}
			}()
			h(old, next)
		}()
	}
	return nil
}

// Start runs the OnStart hooks in registration order and moves the service
// to Running. It may be called from Unknown, Stopped or Failed.
func (s *Service) Start(ctx context.Context) (err error) {
	ctx, span := s.startSpan(ctx, "lifecycle.Start")
	defer func() { finishSpan(span, err) }()

	if err := ctx.Err(); err != nil {
		return sserr.Wrap(err, sserr.CodeTimeout, "lifecycle: start canceled before execution")
	}
	if err := s.setState(StateStarting); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "lifecycle: starting service",
		"service", s.name,
		"version", s.version,
	)

	for _, hook := range s.onStart {
		if err := hook(ctx); err != nil {
			s.logger.ErrorContext(ctx, "lifecycle: start hook failed", "service", s.name, "error", err)
			_ = s.setState(StateFailed)
			return sserr.Wrap(err, sserr.CodeInternal, "lifecycle: start hook failed")
		}
	}

	if err := s.setState(StateRunning); err != nil {
		return err
	}
	now := time.Now().UTC()
	s.mu.Lock()
	s.startedAt = &now
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "lifecycle: service started", "service", s.name)
	return nil
}

// Stop runs the OnStop hooks in reverse registration order and moves the
// service to Stopped. Every hook runs even if an earlier one fails; the
// first failure is returned and leaves the service Failed. Stopping a
// service in a terminal state is a no-op.
func (s *Service) Stop(ctx context.Context) (err error) {
	ctx, span := s.startSpan(ctx, "lifecycle.Stop")
	defer func() { finishSpan(span, err) }()

	if s.State().IsTerminal() {
		return nil
	}
	if err := s.setState(StateStopping); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "lifecycle: stopping service", "service", s.name)

	var first error
	for i := len(s.onStop) - 1; i >= 0; i-- {
		if err := s.onStop[i](ctx); err != nil {
			s.logger.ErrorContext(ctx, "lifecycle: stop hook failed", "service", s.name, "error", err)
			if first == nil {
				first = err
			}
		}
	}

	s.mu.Lock()
	s.startedAt = nil
	s.mu.Unlock()

	if first != nil {
		_ = s.setState(StateFailed)
		return sserr.Wrap(first, sserr.CodeInternal, "lifecycle: stop hook failed")
	}
	if err := s.setState(StateStopped); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "lifecycle: service stopped", "service", s.name)
	return nil
}

// Health returns nil when the service is Running and every check passes.
// Otherwise it returns an UNAVAIL_001 error naming the state, or the first
// failing check wrapped as UNAVAIL_002.
func (s *Service) Health(ctx context.Context) error {
	if state := s.State(); state != StateRunning {
		return sserr.Newf(sserr.CodeUnavailable,
			"lifecycle: service is not running, current state is %q", state)
	}
	results := s.runChecks(ctx)
	for _, c := range s.checks {
		if r := results[c.Name]; r.Status != StatusOK {
			return sserr.Wrapf(r.err, sserr.CodeUnavailableDependency,
				"lifecycle: dependency %q is unavailable", c.Name)
		}
	}
	return nil
}

// Report runs every check concurrently and summarizes the result. Checks
// are skipped unless the service is Running.
func (s *Service) Report(ctx context.Context) Report {
	r := Report{
		Service: s.name,
		Version: s.version,
		State:   s.State(),
		Status:  StatusUnavailable,
	}
	if r.State != StateRunning {
		return r
	}
	if up := s.Uptime(); up > 0 {
		r.Uptime = up.Truncate(time.Second).String()
	}
	r.Checks = s.runChecks(ctx)
	r.Status = StatusOK
	for _, c := range r.Checks {
		if c.Status != StatusOK {
			r.Status = StatusUnavailable
		}
	}
	return r
}

func (s *Service) runChecks(ctx context.Context) map[string]CheckResult {
	results := make(map[string]CheckResult, len(s.checks))
	if len(s.checks) == 0 {
		return results
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range s.checks {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, DefaultCheckTimeout)
			defer cancel()

			start := time.Now()
			err := c.Fn(cctx)
			res := CheckResult{Status: StatusOK, Duration: time.Since(start)}
			if err != nil {
				res.Status = StatusUnavailable
				res.Error = CheckFailed
				if errors.Is(err, context.DeadlineExceeded) {
					res.Error = CheckTimedOut
				}
				res.err = err
				s.logger.WarnContext(ctx, "lifecycle: health check failed",
					"service", s.name,
					"check", c.Name,
					"error", err,
				)
			}
			mu.Lock()
			results[c.Name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Service) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("service.name", s.name),
			attribute.String("service.version", s.version),
		),
	)
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
