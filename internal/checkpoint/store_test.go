package checkpoint

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/subplot-sh/subplot/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "subplot.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func storedPlan(t *testing.T, s *Store, id string) *models.Plan {
	t.Helper()
	plan := &models.Plan{
		ID:          id,
		Description: "build the service",
		WorkingDir:  "/tmp/proj",
		Status:      models.PlanStatusPlanning,
		CreatedAt:   time.Now(),
		Subtasks: []*models.Subtask{
			{ID: "a", Name: "Schema"},
			{ID: "b", Name: "Handlers", DependsOn: []string{"a"}},
		},
	}
	if err := s.SavePlan(plan); err != nil {
		t.Fatalf("save plan: %v", err)
	}
	return plan
}

func TestSaveAndGetPlan(t *testing.T) {
	s := openTestStore(t)
	storedPlan(t, s, "plan-1")

	rec, err := s.GetPlan("plan-1")
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	if rec.Plan.Description != "build the service" {
		t.Errorf("unexpected description %q", rec.Plan.Description)
	}
	if len(rec.Plan.Subtasks) != 2 || rec.Plan.Subtasks[1].DependsOn[0] != "a" {
		t.Errorf("subtasks not round-tripped: %+v", rec.Plan.Subtasks)
	}
}

func TestGetPlanNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetPlan("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdatePlanStatus(t *testing.T) {
	s := openTestStore(t)
	storedPlan(t, s, "plan-1")

	if err := s.UpdatePlanStatus("plan-1", models.PlanStatusFailed, "partial_failure"); err != nil {
		t.Fatalf("update status: %v", err)
	}

	rec, err := s.GetPlan("plan-1")
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	if rec.Plan.Status != models.PlanStatusFailed || rec.FailureCode != "partial_failure" {
		t.Errorf("unexpected status %s / code %s", rec.Plan.Status, rec.FailureCode)
	}

	if err := s.UpdatePlanStatus("missing", models.PlanStatusFailed, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing plan, got %v", err)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	s := openTestStore(t)
	storedPlan(t, s, "plan-1")

	older := &Checkpoint{
		ID:         "cp-1",
		PlanID:     "plan-1",
		PlanStatus: models.PlanStatusRunning,
		State:      models.StateSnapshot{CompletedSubtasks: []string{"a"}},
		CreatedAt:  time.Now().Add(-time.Minute),
	}
	newer := &Checkpoint{
		ID:         "cp-2",
		PlanID:     "plan-1",
		PlanStatus: models.PlanStatusRunning,
		State: models.StateSnapshot{
			CompletedSubtasks: []string{"a"},
			RunningSubtasks:   []string{"b"},
			Passes:            3,
		},
		CreatedAt: time.Now(),
	}
	for _, cp := range []*Checkpoint{older, newer} {
		if err := s.SaveCheckpoint(cp); err != nil {
			t.Fatalf("save checkpoint: %v", err)
		}
	}

	got, err := s.LatestCheckpoint("plan-1")
	if err != nil {
		t.Fatalf("latest checkpoint: %v", err)
	}
	if got.ID != "cp-2" {
		t.Fatalf("expected latest checkpoint cp-2, got %s", got.ID)
	}
	if !reflect.DeepEqual(got.State.RunningSubtasks, []string{"b"}) || got.State.Passes != 3 {
		t.Errorf("snapshot not round-tripped: %+v", got.State)
	}
	if len(got.State.FailedSubtasks) != 0 {
		t.Errorf("expected empty failed set, got %v", got.State.FailedSubtasks)
	}
}

func TestLatestCheckpointNotFound(t *testing.T) {
	s := openTestStore(t)
	storedPlan(t, s, "plan-1")

	if _, err := s.LatestCheckpoint("plan-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLatestCheckpointCorrupt(t *testing.T) {
	s := openTestStore(t)
	storedPlan(t, s, "plan-1")

	cp := &Checkpoint{
		ID:         "cp-1",
		PlanID:     "plan-1",
		PlanStatus: models.PlanStatusRunning,
		CreatedAt:  time.Now(),
	}
	if err := s.SaveCheckpoint(cp); err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}

	if _, err := s.conn.Exec("UPDATE checkpoints SET completed_subtasks = '{not json' WHERE id = 'cp-1'"); err != nil {
		t.Fatalf("corrupt row: %v", err)
	}

	if _, err := s.LatestCheckpoint("plan-1"); !errors.Is(err, ErrCheckpointCorrupt) {
		t.Fatalf("expected ErrCheckpointCorrupt, got %v", err)
	}
}

func TestManagerSaveRestoreReclassifiesRunning(t *testing.T) {
	s := openTestStore(t)
	storedPlan(t, s, "plan-1")
	m := NewManager(s, time.Second)

	state := models.NewExecutionState()
	_ = state.MarkRunning("a")
	state.MarkCompleted("a")
	_ = state.MarkRunning("b")

	if _, err := m.Save("plan-1", models.PlanStatusRunning, state.Snapshot()); err != nil {
		t.Fatalf("save: %v", err)
	}

	restored, status, err := m.Restore("plan-1")
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if status != models.PlanStatusRunning {
		t.Errorf("expected running status, got %s", status)
	}
	if !restored.IsCompleted("a") {
		t.Error("expected a to remain completed")
	}
	if restored.Attempted("b") {
		t.Error("expected b to be relaunchable after restore")
	}
}

func TestManagerRestoreCorrupt(t *testing.T) {
	s := openTestStore(t)
	storedPlan(t, s, "plan-1")
	m := NewManager(s, time.Second)

	if _, err := m.Save("plan-1", models.PlanStatusRunning, models.StateSnapshot{}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := s.conn.Exec("UPDATE checkpoints SET running_subtasks = 'xx'"); err != nil {
		t.Fatalf("corrupt row: %v", err)
	}

	if _, _, err := m.Restore("plan-1"); !errors.Is(err, ErrCheckpointCorrupt) {
		t.Fatalf("expected ErrCheckpointCorrupt, got %v", err)
	}
}

func TestReclaimOrphans(t *testing.T) {
	s := openTestStore(t)
	plan := storedPlan(t, s, "plan-1")
	plan.Status = models.PlanStatusRunning
	if err := s.SavePlan(plan); err != nil {
		t.Fatalf("save plan: %v", err)
	}

	n, err := s.ReclaimOrphans()
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reclaimed plan, got %d", n)
	}

	rec, err := s.GetPlan("plan-1")
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	if rec.Plan.Status != models.PlanStatusPaused {
		t.Errorf("expected paused, got %s", rec.Plan.Status)
	}
}

func TestPurgeTerminal(t *testing.T) {
	s := openTestStore(t)
	storedPlan(t, s, "plan-1")
	if err := s.UpdatePlanStatus("plan-1", models.PlanStatusCompleted, ""); err != nil {
		t.Fatalf("update status: %v", err)
	}

	// Negative age puts the cutoff in the future so the fresh row qualifies.
	n, err := s.PurgeTerminal(-time.Hour)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged plan, got %d", n)
	}
	if _, err := s.GetPlan("plan-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected plan deleted, got %v", err)
	}
}

func TestSaveCheckpointRequiresPlan(t *testing.T) {
	s := openTestStore(t)

	err := s.SaveCheckpoint(&Checkpoint{
		ID:         "cp-ghost",
		PlanID:     "ghost",
		PlanStatus: models.PlanStatusRunning,
		CreatedAt:  time.Now(),
	})
	if err == nil {
		t.Fatal("expected foreign key failure for a checkpoint without a plan")
	}
}

func TestDeleteCheckpoints(t *testing.T) {
	s := openTestStore(t)
	storedPlan(t, s, "plan-1")

	for _, id := range []string{"cp-1", "cp-2"} {
		cp := &Checkpoint{
			ID:         id,
			PlanID:     "plan-1",
			PlanStatus: models.PlanStatusRunning,
			CreatedAt:  time.Now(),
		}
		if err := s.SaveCheckpoint(cp); err != nil {
			t.Fatalf("save checkpoint: %v", err)
		}
	}

	n, err := s.DeleteCheckpoints("plan-1")
	if err != nil {
		t.Fatalf("delete checkpoints: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 deleted checkpoints, got %d", n)
	}
	if _, err := s.LatestCheckpoint("plan-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected no checkpoint left, got %v", err)
	}

	// The plan row itself survives.
	if _, err := s.GetPlan("plan-1"); err != nil {
		t.Errorf("expected plan row to remain: %v", err)
	}
}
