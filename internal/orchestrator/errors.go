package orchestrator

import "errors"

// Sentinel errors for plan-level failures.
var (
	// ErrPlanDeadlock indicates no subtask is ready, none are running, and
	// unresolved subtasks remain.
	ErrPlanDeadlock = errors.New("plan deadlocked")
	// ErrPassLimit indicates the scheduling pass ceiling was reached.
	ErrPassLimit = errors.New("scheduling pass limit reached")
	// ErrPlanNotFound indicates the pool has no plan with the given ID.
	ErrPlanNotFound = errors.New("plan not found")
	// ErrPlanTerminal indicates an operation was attempted on a plan that
	// already reached a terminal state.
	ErrPlanTerminal = errors.New("plan already terminal")
)

// FailureCode is the machine-readable reason attached to a failed plan.
// Exactly one code accompanies every plan_failed event.
type FailureCode string

const (
	// FailurePartial indicates every subtask resolved but at least one failed.
	FailurePartial FailureCode = "partial_failure"
	// FailureDependencyFailed indicates an unresolved subtask transitively
	// depends on a failed one, so the plan can never finish.
	FailureDependencyFailed FailureCode = "dependency_failed"
	// FailureDependencyCycle indicates the plan stalled with no failed
	// ancestor to blame; only a dependency cycle explains the stall.
	FailureDependencyCycle FailureCode = "dependency_cycle"
	// FailurePassLimit indicates the scheduling pass ceiling was exhausted.
	FailurePassLimit FailureCode = "pass_limit"
	// FailureCheckpointCorrupt indicates a checkpoint could not be decoded.
	FailureCheckpointCorrupt FailureCode = "checkpoint_corrupt"
	// FailureCanceled indicates the plan was canceled by the caller.
	FailureCanceled FailureCode = "canceled"
)
