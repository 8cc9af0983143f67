package checkpoint

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/subplot-sh/subplot/pkg/models"
)

// Manager writes and restores execution snapshots for one plan at a time.
// The orchestrator calls Save on its periodic tick, after each subtask
// resolves, and immediately before a pause takes effect.
type Manager struct {
	store    *Store
	interval time.Duration
}

// NewManager creates a Manager writing through the given store.
func NewManager(store *Store, interval time.Duration) *Manager {
	if interval == 0 {
		interval = 30 * time.Second
	}
	return &Manager{store: store, interval: interval}
}

// Interval returns the periodic snapshot interval.
func (m *Manager) Interval() time.Duration {
	return m.interval
}

// Store returns the underlying store.
func (m *Manager) Store() *Store {
	return m.store
}

// Save writes a snapshot of the plan's current execution state.
func (m *Manager) Save(planID string, status models.PlanStatus, snap models.StateSnapshot) (*Checkpoint, error) {
	cp := &Checkpoint{
		ID:         uuid.New().String()[:8],
		PlanID:     planID,
		PlanStatus: status,
		State:      snap,
		CreatedAt:  time.Now(),
	}
	if err := m.store.SaveCheckpoint(cp); err != nil {
		return nil, err
	}
	log.Printf("[checkpoint] plan %s: snapshot %s (%d completed, %d failed, %d running)",
		planID, cp.ID, len(snap.CompletedSubtasks), len(snap.FailedSubtasks), len(snap.RunningSubtasks))
	return cp, nil
}

// Restore rebuilds execution state from the plan's latest checkpoint.
// Subtasks recorded as running come back unattempted; their processes
// cannot be reattached, so they must be relaunched.
// Returns ErrNotFound when no checkpoint exists and ErrCheckpointCorrupt
// when one exists but cannot be decoded; corruption is never downgraded to
// a fresh start.
func (m *Manager) Restore(planID string) (*models.ExecutionState, models.PlanStatus, error) {
	cp, err := m.store.LatestCheckpoint(planID)
	if err != nil {
		return nil, "", fmt.Errorf("restore plan %s: %w", planID, err)
	}

	state := models.StateFromSnapshot(cp.State)
	if n := len(cp.State.RunningSubtasks); n > 0 {
		log.Printf("[checkpoint] plan %s: %d previously running subtasks reset for relaunch", planID, n)
	}
	return state, cp.PlanStatus, nil
}
