package models

import (
	"fmt"
	"sort"
	"sync"
)

// ExecutionState tracks the per-plan execution progress of subtasks. Each
// subtask carries exactly one tagged status; the completed/failed/running
// sets are derived on demand, so the sets are disjoint by construction.
type ExecutionState struct {
	mu sync.RWMutex
	// status maps subtask ID to its current status. A missing entry means
	// the subtask has not been attempted yet.
	status map[string]SubtaskStatus
	// passes counts scheduling passes, bounding pathological plans.
	passes int
}

// NewExecutionState creates an empty ExecutionState.
func NewExecutionState() *ExecutionState {
	return &ExecutionState{
		status: make(map[string]SubtaskStatus),
	}
}

// MarkRunning records that a subtask's agent process has started.
// Returns an error if the subtask is already running or resolved.
func (s *ExecutionState) MarkRunning(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.status[id]; ok {
		return fmt.Errorf("subtask %s is already %s", id, cur)
	}
	s.status[id] = SubtaskStatusRunning
	return nil
}

// MarkCompleted records that a subtask finished successfully.
func (s *ExecutionState) MarkCompleted(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[id] = SubtaskStatusCompleted
}

// MarkFailed records that a subtask failed or was terminated.
func (s *ExecutionState) MarkFailed(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[id] = SubtaskStatusFailed
}

// Reset clears a subtask's status, returning it to the unattempted pool so
// the scheduler can launch it again. Used when a running session is torn
// down by a pause: the work cannot be trusted, so the subtask restarts from
// scratch.
func (s *ExecutionState) Reset(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.status, id)
}

// StatusOf returns the subtask's status. The second return is false if the
// subtask has not been attempted.
func (s *ExecutionState) StatusOf(id string) (SubtaskStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.status[id]
	return st, ok
}

// Completed returns the sorted IDs of completed subtasks.
func (s *ExecutionState) Completed() []string {
	return s.withStatus(SubtaskStatusCompleted)
}

// Failed returns the sorted IDs of failed subtasks.
func (s *ExecutionState) Failed() []string {
	return s.withStatus(SubtaskStatusFailed)
}

// Running returns the sorted IDs of running subtasks.
func (s *ExecutionState) Running() []string {
	return s.withStatus(SubtaskStatusRunning)
}

// withStatus returns the sorted IDs of subtasks with the given status.
func (s *ExecutionState) withStatus(want SubtaskStatus) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, st := range s.status {
		if st == want {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// IsCompleted returns true if the subtask completed successfully.
func (s *ExecutionState) IsCompleted(id string) bool {
	st, ok := s.StatusOf(id)
	return ok && st == SubtaskStatusCompleted
}

// Attempted returns true if the subtask has been launched at least once.
func (s *ExecutionState) Attempted(id string) bool {
	_, ok := s.StatusOf(id)
	return ok
}

// ResolvedCount returns the number of subtasks in a terminal state.
func (s *ExecutionState) ResolvedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, st := range s.status {
		if st.Resolved() {
			count++
		}
	}
	return count
}

// NextPass increments the scheduling pass counter and returns the new value.
func (s *ExecutionState) NextPass() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passes++
	return s.passes
}

// Passes returns the number of scheduling passes taken so far.
func (s *ExecutionState) Passes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.passes
}

// StateSnapshot is the array-based representation of an ExecutionState used
// at the checkpoint boundary. The in-memory model owns set⇄array conversion.
type StateSnapshot struct {
	CompletedSubtasks []string `json:"completedSubtasks"`
	FailedSubtasks    []string `json:"failedSubtasks"`
	RunningSubtasks   []string `json:"runningSubtasks"`
	Passes            int      `json:"passes,omitempty"`
}

// Snapshot captures the current state as a StateSnapshot.
func (s *ExecutionState) Snapshot() StateSnapshot {
	return StateSnapshot{
		CompletedSubtasks: s.Completed(),
		FailedSubtasks:    s.Failed(),
		RunningSubtasks:   s.Running(),
		Passes:            s.Passes(),
	}
}

// StateFromSnapshot rebuilds an ExecutionState from a checkpoint snapshot.
// Subtasks recorded as running are reclassified as not yet attempted: their
// process handles cannot be reattached across a restart, so they must be
// relaunched from scratch.
func StateFromSnapshot(snap StateSnapshot) *ExecutionState {
	s := NewExecutionState()
	for _, id := range snap.CompletedSubtasks {
		s.status[id] = SubtaskStatusCompleted
	}
	for _, id := range snap.FailedSubtasks {
		s.status[id] = SubtaskStatusFailed
	}
	s.passes = snap.Passes
	return s
}
