package orchestrator

import (
	"errors"
	"testing"

	"github.com/subplot-sh/subplot/internal/graph"
	"github.com/subplot-sh/subplot/pkg/models"
)

func buildScheduler(t *testing.T, subtasks []*models.Subtask, maxPasses int) (*Scheduler, *models.ExecutionState) {
	t.Helper()
	g := graph.New()
	if err := g.Build(subtasks); err != nil {
		t.Fatalf("build graph: %v", err)
	}
	state := models.NewExecutionState()
	return NewScheduler(g, state, maxPasses), state
}

func TestSchedulerWaves(t *testing.T) {
	s, state := buildScheduler(t, []*models.Subtask{
		{ID: "a", Name: "A"},
		{ID: "b", Name: "B"},
		{ID: "c", Name: "C", DependsOn: []string{"a", "b"}},
	}, 10)

	wave, err := s.NextWave()
	if err != nil {
		t.Fatalf("next wave: %v", err)
	}
	if len(wave) != 2 {
		t.Fatalf("expected wave of 2, got %d", len(wave))
	}

	for _, st := range wave {
		_ = state.MarkRunning(st.ID)
		state.MarkCompleted(st.ID)
	}

	wave, err = s.NextWave()
	if err != nil {
		t.Fatalf("next wave: %v", err)
	}
	if len(wave) != 1 || wave[0].ID != "c" {
		t.Fatalf("expected [c], got %v", wave)
	}

	_ = state.MarkRunning("c")
	state.MarkCompleted("c")
	if !s.Done() {
		t.Error("expected scheduler done")
	}
}

func TestSchedulerWaveOrderedByPriority(t *testing.T) {
	s, _ := buildScheduler(t, []*models.Subtask{
		{ID: "a", Name: "A", Priority: 1},
		{ID: "b", Name: "B", Priority: 5},
		{ID: "c", Name: "C", Priority: 5},
	}, 10)

	wave, err := s.NextWave()
	if err != nil {
		t.Fatalf("next wave: %v", err)
	}
	want := []string{"b", "c", "a"}
	for i, st := range wave {
		if st.ID != want[i] {
			t.Fatalf("expected order %v, got position %d = %s", want, i, st.ID)
		}
	}
}

func TestSchedulerPassLimit(t *testing.T) {
	s, _ := buildScheduler(t, []*models.Subtask{{ID: "a", Name: "A"}}, 2)

	for i := 0; i < 2; i++ {
		if _, err := s.NextWave(); err != nil {
			t.Fatalf("pass %d: %v", i+1, err)
		}
	}
	if _, err := s.NextWave(); !errors.Is(err, ErrPassLimit) {
		t.Fatalf("expected ErrPassLimit, got %v", err)
	}
}

func TestSchedulerClassifyStall(t *testing.T) {
	s, state := buildScheduler(t, []*models.Subtask{
		{ID: "a", Name: "A"},
		{ID: "b", Name: "B", DependsOn: []string{"a"}},
		{ID: "c", Name: "C", DependsOn: []string{"b"}},
	}, 10)

	_ = state.MarkRunning("a")
	state.MarkFailed("a")

	if code := s.ClassifyStall(); code != FailureDependencyFailed {
		t.Errorf("expected %s, got %s", FailureDependencyFailed, code)
	}
	if got := s.StuckIDs(); len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("expected stuck [b c], got %v", got)
	}
}
