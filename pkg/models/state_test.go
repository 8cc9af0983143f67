package models

import (
	"reflect"
	"testing"
)

func TestExecutionStateMarkRunning(t *testing.T) {
	s := NewExecutionState()

	if err := s.MarkRunning("a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := s.Running(); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("expected running [a], got %v", got)
	}
}

func TestExecutionStateMarkRunningTwice(t *testing.T) {
	s := NewExecutionState()

	if err := s.MarkRunning("a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.MarkRunning("a"); err == nil {
		t.Error("expected error when marking a running subtask running again")
	}
}

func TestExecutionStateSetsAreDisjoint(t *testing.T) {
	s := NewExecutionState()

	_ = s.MarkRunning("a")
	_ = s.MarkRunning("b")
	_ = s.MarkRunning("c")
	s.MarkCompleted("a")
	s.MarkFailed("b")

	assertDisjoint(t, s)

	if got := s.Completed(); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("expected completed [a], got %v", got)
	}
	if got := s.Failed(); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("expected failed [b], got %v", got)
	}
	if got := s.Running(); !reflect.DeepEqual(got, []string{"c"}) {
		t.Errorf("expected running [c], got %v", got)
	}
}

// assertDisjoint verifies the core invariant: a subtask ID appears in at
// most one of the three derived sets.
func assertDisjoint(t *testing.T, s *ExecutionState) {
	t.Helper()

	seen := make(map[string]string)
	for _, id := range s.Completed() {
		seen[id] = "completed"
	}
	for _, id := range s.Failed() {
		if prev, ok := seen[id]; ok {
			t.Errorf("subtask %s in both %s and failed", id, prev)
		}
		seen[id] = "failed"
	}
	for _, id := range s.Running() {
		if prev, ok := seen[id]; ok {
			t.Errorf("subtask %s in both %s and running", id, prev)
		}
	}
}

func TestExecutionStateResolvedCount(t *testing.T) {
	s := NewExecutionState()

	_ = s.MarkRunning("a")
	_ = s.MarkRunning("b")
	s.MarkCompleted("a")
	s.MarkFailed("b")
	_ = s.MarkRunning("c")

	if got := s.ResolvedCount(); got != 2 {
		t.Errorf("expected 2 resolved, got %d", got)
	}
}

func TestStateSnapshotRoundTrip(t *testing.T) {
	s := NewExecutionState()
	_ = s.MarkRunning("a")
	_ = s.MarkRunning("b")
	_ = s.MarkRunning("c")
	s.MarkCompleted("a")
	s.MarkFailed("b")

	snap := s.Snapshot()

	if !reflect.DeepEqual(snap.CompletedSubtasks, []string{"a"}) {
		t.Errorf("expected completed [a], got %v", snap.CompletedSubtasks)
	}
	if !reflect.DeepEqual(snap.RunningSubtasks, []string{"c"}) {
		t.Errorf("expected running [c], got %v", snap.RunningSubtasks)
	}

	restored := StateFromSnapshot(snap)

	if !reflect.DeepEqual(restored.Completed(), []string{"a"}) {
		t.Errorf("restored completed mismatch: %v", restored.Completed())
	}
	if !reflect.DeepEqual(restored.Failed(), []string{"b"}) {
		t.Errorf("restored failed mismatch: %v", restored.Failed())
	}

	// The subtask that was running at snapshot time must come back as not
	// yet attempted so it is relaunched from scratch.
	if len(restored.Running()) != 0 {
		t.Errorf("expected no running subtasks after restore, got %v", restored.Running())
	}
	if restored.Attempted("c") {
		t.Error("expected previously-running subtask to be unattempted after restore")
	}
}

func TestStateSnapshotPreservesPasses(t *testing.T) {
	s := NewExecutionState()
	s.NextPass()
	s.NextPass()

	restored := StateFromSnapshot(s.Snapshot())
	if restored.Passes() != 2 {
		t.Errorf("expected 2 passes after restore, got %d", restored.Passes())
	}
}

func TestSubtaskStatusValid(t *testing.T) {
	valid := []SubtaskStatus{SubtaskStatusPending, SubtaskStatusRunning, SubtaskStatusCompleted, SubtaskStatusFailed}
	for _, st := range valid {
		if !st.Valid() {
			t.Errorf("expected %s to be valid", st)
		}
	}
	if SubtaskStatus("bogus").Valid() {
		t.Error("expected bogus status to be invalid")
	}
}

func TestPlanStatusTerminal(t *testing.T) {
	if !PlanStatusCompleted.Terminal() || !PlanStatusFailed.Terminal() {
		t.Error("expected completed and failed to be terminal")
	}
	if PlanStatusRunning.Terminal() || PlanStatusPaused.Terminal() {
		t.Error("expected running and paused to be non-terminal")
	}
}

func TestPlanSubtaskLookup(t *testing.T) {
	p := &Plan{
		ID: "plan-1",
		Subtasks: []*Subtask{
			{ID: "a", Name: "A"},
			{ID: "b", Name: "B", DependsOn: []string{"a"}},
		},
	}

	if st := p.Subtask("b"); st == nil || st.Name != "B" {
		t.Errorf("expected subtask B, got %+v", st)
	}
	if st := p.Subtask("missing"); st != nil {
		t.Errorf("expected nil for missing subtask, got %+v", st)
	}
	if got := p.SubtaskIDs(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("expected [a b], got %v", got)
	}
}
