// Package lifecycle runs the start and stop sequence of an AVA service and
// reports its health.
//
// A [Service] moves through a small state machine:
//
//	Unknown → Starting → Running → Stopping → Stopped
//
// Any non-terminal state may move to Failed, and both terminal states may
// move back to Starting for a restart.
//
// Dependency checks registered with [Builder.WithCheck] (Postgres, Redis,
// the signing key) back both [Service.Health] and the JSON body served on
// /healthz by [Service.Report].
package lifecycle

// State is the lifecycle state of a service.
type State string

const (
	// StateUnknown is the state of a service that was never started.
	StateUnknown State = "unknown"

	// StateStarting is set while the OnStart hooks run.
	StateStarting State = "starting"

	// StateRunning is the only state in which Health can succeed.
	StateRunning State = "running"

	// StateStopping is set while the OnStop hooks run.
	StateStopping State = "stopping"

	StateStopped State = "stopped"
	StateFailed  State = "failed"
)

func (s State) String() string {
	return string(s)
}

// Valid reports whether s is a known state. The zero value is not.
func (s State) Valid() bool {
	switch s {
	case StateUnknown, StateStarting, StateRunning, StateStopping, StateStopped, StateFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s is Stopped or Failed.
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}

// validTransitions is the transition matrix:
//
//	Unknown  → Starting, Failed
//	Starting → Running, Stopping, Failed
//	Running  → Stopping, Failed
//	Stopping → Stopped, Failed
//	Stopped  → Starting
//	Failed   → Starting
var validTransitions = map[State][]State{
	StateUnknown:  {StateStarting, StateFailed},
	StateStarting: {StateRunning, StateStopping, StateFailed},
	StateRunning:  {StateStopping, StateFailed},
	StateStopping: {StateStopped, StateFailed},
	StateStopped:  {StateStarting},
	StateFailed:   {StateStarting},
}

// ValidTransition reports whether from may move to to. Same-state
// transitions are rejected.
func ValidTransition(from, to State) bool {
	if from == to {
		return false
	}
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
