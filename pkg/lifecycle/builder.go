package lifecycle

import (
	"log/slog"

	"go.opentelemetry.io/otel"

	sserr "github.com/ava-platform/ava-core/pkg/errors"
)

// Builder configures a [Service].
//
//	svc, err := lifecycle.NewBuilder("auth-service", version).
//	    WithCheck("postgres", db.Health).
//	    WithCheck("redis", rdb.Health).
//	    WithOnStop(func(ctx context.Context) error { db.Close(); return nil }).
//	    Build()
type Builder struct {
	name          string
	version       string
	logger        *slog.Logger
	onStart       []Hook
	onStop        []Hook
	checks        []Check
	stateHandlers []StateChangeHandler
}

// NewBuilder starts a builder for the named service.
func NewBuilder(name, version string) *Builder {
	return &Builder{name: name, version: version}
}

// WithLogger sets the logger. The default is slog.Default().
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithOnStart appends a start hook. Hooks run in registration order.
func (b *Builder) WithOnStart(hook Hook) *Builder {
	b.onStart = append(b.onStart, hook)
	return b
}

// WithOnStop appends a stop hook. Hooks run in reverse registration order
// so that resources are released in the opposite order they were opened.
func (b *Builder) WithOnStop(hook Hook) *Builder {
	b.onStop = append(b.onStop, hook)
	return b
}

// WithCheck registers a dependency check.
func (b *Builder) WithCheck(name string, fn CheckFunc) *Builder {
	b.checks = append(b.checks, Check{Name: name, Fn: fn})
	return b
}

// OnStateChange registers a transition observer.
func (b *Builder) OnStateChange(handler StateChangeHandler) *Builder {
	b.stateHandlers = append(b.stateHandlers, handler)
	return b
}

// Build validates the configuration and returns a service in StateUnknown.
func (b *Builder) Build() (*Service, error) {
	if b.name == "" {
		return nil, sserr.New(sserr.CodeValidation, "lifecycle: service name must not be empty")
	}
	if b.version == "" {
		return nil, sserr.New(sserr.CodeValidation, "lifecycle: service version must not be empty")
	}

	seen := make(map[string]struct{}, len(b.checks))
	for _, c := range b.checks {
		if err := validateCheck(c); err != nil {
			return nil, err
		}
		if _, dup := seen[c.Name]; dup {
			return nil, sserr.Newf(sserr.CodeValidation, "lifecycle: duplicate check %q", c.Name)
		}
		seen[c.Name] = struct{}{}
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		name:          b.name,
		version:       b.version,
		state:         StateUnknown,
		tracer:        otel.Tracer(tracerName),
		logger:        logger,
		onStart:       append([]Hook(nil), b.onStart...),
		onStop:        append([]Hook(nil), b.onStop...),
		checks:        append([]Check(nil), b.checks...),
		stateHandlers: append([]StateChangeHandler(nil), b.stateHandlers...),
	}, nil
}
