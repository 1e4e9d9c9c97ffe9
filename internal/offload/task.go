package offload

import (
	"context"
	"fmt"
	"time"
)

// Kind names a job type.
type Kind string

// Job kinds.
const (
	KindParse    Kind = "parse"
	KindValidate Kind = "validate"
)

// ParseKind parses a job kind name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindParse, KindValidate:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Handler runs one job. Handlers must be pure functions of their payload.
type Handler func(ctx context.Context, payload string) (string, error)

// Handlers maps job kinds to their handlers.
type Handlers map[Kind]Handler

// Task is one submission of a job to the pool.
type Task struct {
	Kind    Kind
	Payload string
	Timeout time.Duration
	// Attempt is 1 for the first submission and grows with each retry.
	Attempt int
}

// State is a task's lifecycle position.
type State int

// Task states. Completed and Fallback are terminal.
const (
	StateSubmitted State = iota
	StateRunning
	StateBypassed
	StateTimedOut
	StateRetrying
	StateCompleted
	StateFallback
)

var stateNames = [...]string{
	StateSubmitted: "SUBMITTED",
	StateRunning:   "RUNNING",
	StateBypassed:  "BYPASSED",
	StateTimedOut:  "TIMED_OUT",
	StateRetrying:  "RETRYING",
	StateCompleted: "COMPLETED",
	StateFallback:  "FALLBACK",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}

	return stateNames[s]
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFallback
}

// Result is the resolved outcome of a job.
type Result struct {
	Value string
	// Err is the job's own error, or the context error when the caller
	// stopped waiting. Offload mechanics never surface here.
	Err      error
	Duration time.Duration
	Attempts int
	State    State
	// Fallback is set when the value was computed in-process after the pool
	// could not produce it.
	Fallback       bool
	FallbackReason string
}

// Success reports whether the job produced a value.
func (r Result) Success() bool {
	return r.Err == nil
}
