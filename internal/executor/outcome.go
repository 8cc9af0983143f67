package executor

import (
	"errors"
	"time"
)

// ErrResourceExhausted indicates the global session ceiling is reached.
// Only the triggering launch fails; running sessions are unaffected.
var ErrResourceExhausted = errors.New("session ceiling reached")

// FailureReason is the machine-readable cause of a subtask failure.
type FailureReason string

const (
	// ReasonExitError indicates the agent process exited non-zero.
	ReasonExitError FailureReason = "exit_error"
	// ReasonInactivityTimeout indicates the process produced no output for
	// the full inactivity window and was terminated.
	ReasonInactivityTimeout FailureReason = "inactivity_timeout"
	// ReasonHardTimeout indicates the process exceeded its hard execution
	// ceiling and was terminated.
	ReasonHardTimeout FailureReason = "hard_timeout"
	// ReasonCanceled indicates the launch context was cancelled.
	ReasonCanceled FailureReason = "canceled"
	// ReasonPaused indicates the session was torn down because its plan was
	// paused. The subtask is not failed; it relaunches on resume.
	ReasonPaused FailureReason = "paused"
)

// Outcome is the result of executing one subtask.
type Outcome struct {
	// SubtaskID is the subtask that was executed.
	SubtaskID string
	// SessionID is the session that ran it.
	SessionID string
	// Success is true if the agent process exited zero.
	Success bool
	// Reason is set when Success is false.
	Reason FailureReason
	// ExitCode is the process exit code, or -1 if it was terminated.
	ExitCode int
	// OutputTail is the trailing output retained for failure reporting.
	OutputTail string
	// StartedAt is when the process was launched.
	StartedAt time.Time
	// FinishedAt is when the process exited.
	FinishedAt time.Time
}

// Duration returns the session's wall-clock duration.
func (o *Outcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}
