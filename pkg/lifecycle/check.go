package lifecycle

import (
	"context"
	"regexp"
	"time"

	sserr "github.com/ava-platform/ava-core/pkg/errors"
)

// DefaultCheckTimeout bounds a single dependency check when the caller's
// context has no earlier deadline.
const DefaultCheckTimeout = 3 * time.Second

// CheckFunc checks one dependency. It returns nil when the dependency is
// usable.
type CheckFunc func(ctx context.Context) error

// Check is a named dependency check, e.g. {"postgres", db.Health}.
type Check struct {
	Name string
	Fn   CheckFunc
}

var checkNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,31}$`)

func validateCheck(c Check) error {
	if !checkNamePattern.MatchString(c.Name) {
		return sserr.Newf(sserr.CodeValidation,
			"lifecycle: check name %q must be lowercase alphanumeric with '-' or '_', at most 32 characters", c.Name)
	}
	if c.Fn == nil {
		return sserr.Newf(sserr.CodeValidation, "lifecycle: check %q has no function", c.Name)
	}
	return nil
}

// CheckResult is the outcome of one check in a [Report]. Error is one of
// the generic CheckFailed and CheckTimedOut messages; the dependency's own
// error is logged but never reported, since /healthz is unauthenticated.
type CheckResult struct {
	Status   string        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`

	err error
}

// Messages reported for failed checks.
const (
	CheckFailed   = "dependency check failed"
	CheckTimedOut = "dependency check timed out"
)

const (
	StatusOK          = "ok"
	StatusUnavailable = "unavailable"
)

// Report is the health summary served on /healthz.
type Report struct {
	Service string                 `json:"service"`
	Version string                 `json:"version"`
	Status  string                 `json:"status"`
	State   State                  `json:"state"`
	Uptime  string                 `json:"uptime,omitempty"`
	Checks  map[string]CheckResult `json:"checks,omitempty"`
}

// Healthy reports whether the service and every check are ok.
func (r Report) Healthy() bool {
	return r.Status == StatusOK
}
