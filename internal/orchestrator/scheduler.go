package orchestrator

import (
	"fmt"
	"sort"

	"github.com/subplot-sh/subplot/internal/graph"
	"github.com/subplot-sh/subplot/pkg/models"
)

// Scheduler computes the parallel waves of a plan. Each scheduling pass
// yields the set of subtasks whose dependencies have all completed; the
// pass counter bounds pathological plans.
type Scheduler struct {
	graph     *graph.DependencyGraph
	state     *models.ExecutionState
	maxPasses int
}

// NewScheduler creates a Scheduler over a built graph and execution state.
func NewScheduler(g *graph.DependencyGraph, state *models.ExecutionState, maxPasses int) *Scheduler {
	if maxPasses == 0 {
		maxPasses = 10
	}
	return &Scheduler{graph: g, state: state, maxPasses: maxPasses}
}

// Done returns true once every subtask is resolved.
func (s *Scheduler) Done() bool {
	return s.state.ResolvedCount() == s.graph.Size()
}

// NextWave consumes one scheduling pass and returns the ready wave, ordered
// by descending priority then ID. Returns ErrPassLimit when the pass
// ceiling is exhausted.
func (s *Scheduler) NextWave() ([]*models.Subtask, error) {
	pass := s.state.NextPass()
	if pass > s.maxPasses {
		return nil, fmt.Errorf("pass %d: %w", pass, ErrPassLimit)
	}

	wave := s.graph.Ready(s.state)
	sort.Slice(wave, func(i, j int) bool {
		if wave[i].Priority != wave[j].Priority {
			return wave[i].Priority > wave[j].Priority
		}
		return wave[i].ID < wave[j].ID
	})
	return wave, nil
}

// ClassifyStall names the reason no progress is possible: subtasks remain
// unresolved, nothing is running, and the ready wave is empty.
// If any stuck subtask transitively depends on a failed one the stall is a
// failed-dependency deadlock; otherwise only a cycle can explain it.
func (s *Scheduler) ClassifyStall() FailureCode {
	for _, st := range s.stuck() {
		if s.graph.DependsOnFailed(st.ID, s.state) {
			return FailureDependencyFailed
		}
	}
	return FailureDependencyCycle
}

// StuckIDs returns the IDs of unresolved, unattempted subtasks.
func (s *Scheduler) StuckIDs() []string {
	var ids []string
	for _, st := range s.stuck() {
		ids = append(ids, st.ID)
	}
	sort.Strings(ids)
	return ids
}

func (s *Scheduler) stuck() []*models.Subtask {
	var stuck []*models.Subtask
	for _, id := range s.graph.IDs() {
		if !s.state.Attempted(id) {
			stuck = append(stuck, s.graph.Subtask(id))
		}
	}
	return stuck
}
