package models

// SubtaskStatus represents the execution state of a subtask.
type SubtaskStatus string

const (
	// SubtaskStatusPending indicates the subtask has not been attempted.
	SubtaskStatusPending SubtaskStatus = "pending"
	// SubtaskStatusRunning indicates an agent process is executing the subtask.
	SubtaskStatusRunning SubtaskStatus = "running"
	// SubtaskStatusCompleted indicates the subtask finished successfully.
	SubtaskStatusCompleted SubtaskStatus = "completed"
	// SubtaskStatusFailed indicates the subtask failed or was terminated.
	SubtaskStatusFailed SubtaskStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s SubtaskStatus) Valid() bool {
	switch s {
	case SubtaskStatusPending, SubtaskStatusRunning, SubtaskStatusCompleted, SubtaskStatusFailed:
		return true
	default:
		return false
	}
}

// Resolved returns true if the subtask reached a terminal state.
func (s SubtaskStatus) Resolved() bool {
	return s == SubtaskStatusCompleted || s == SubtaskStatusFailed
}

// Complexity classifies how much wall-clock time a subtask may need.
// High-complexity subtasks get a longer hard ceiling.
type Complexity string

const (
	// ComplexityNormal uses the base hard ceiling.
	ComplexityNormal Complexity = "normal"
	// ComplexityHigh scales the hard ceiling up for heavyweight subtasks.
	ComplexityHigh Complexity = "high"
)

// Subtask is one independently executable piece of a plan, assigned to a
// single external agent process invocation. Subtasks are immutable once the
// plan is created; execution status is tracked separately so there is a
// single source of truth for each subtask's state.
type Subtask struct {
	// ID is the unique identifier for this subtask within its plan.
	ID string `json:"id"`
	// Name is the short human-readable name of the subtask.
	Name string `json:"name"`
	// Description provides the detailed instructions for the subtask.
	Description string `json:"description,omitempty"`
	// Category selects the worker kind used to execute the subtask.
	Category string `json:"category,omitempty"`
	// DependsOn lists subtask IDs that must complete before this one runs.
	DependsOn []string `json:"depends_on,omitempty"`
	// Priority orders subtasks for display; it carries no scheduling
	// guarantee within a wave.
	Priority int `json:"priority,omitempty"`
	// EstimatedMinutes is the estimated duration of the subtask.
	EstimatedMinutes int `json:"estimated_minutes,omitempty"`
	// Complexity scales the hard execution ceiling.
	Complexity Complexity `json:"complexity,omitempty"`
}

// HighComplexity returns true if the subtask is flagged high-complexity.
func (s *Subtask) HighComplexity() bool {
	return s.Complexity == ComplexityHigh
}
