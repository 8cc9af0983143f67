// Package models contains the shared data types for Subplot.
package models

import "time"

// PlanStatus represents the current state of a plan.
type PlanStatus string

const (
	// PlanStatusPlanning indicates the plan has been created but not started.
	PlanStatusPlanning PlanStatus = "planning"
	// PlanStatusRunning indicates the plan's scheduling loop is active.
	PlanStatusRunning PlanStatus = "running"
	// PlanStatusPaused indicates the plan is checkpointed and suspended.
	PlanStatusPaused PlanStatus = "paused"
	// PlanStatusCompleted indicates every subtask completed successfully.
	PlanStatusCompleted PlanStatus = "completed"
	// PlanStatusFailed indicates the plan terminated without full success.
	PlanStatusFailed PlanStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s PlanStatus) Valid() bool {
	switch s {
	case PlanStatusPlanning, PlanStatusRunning, PlanStatusPaused, PlanStatusCompleted, PlanStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status admits no further transitions.
func (s PlanStatus) Terminal() bool {
	return s == PlanStatusCompleted || s == PlanStatusFailed
}

// Plan is a decomposed unit of work: an ordered set of subtasks plus their
// dependency edges. A plan is owned by exactly one orchestrator for its
// lifetime.
type Plan struct {
	// ID is the unique identifier for this plan.
	ID string `json:"id"`
	// Description is the originating task description.
	Description string `json:"description"`
	// Subtasks is the ordered list of subtasks in this plan.
	Subtasks []*Subtask `json:"subtasks"`
	// WorkingDir is the directory agent processes execute in.
	WorkingDir string `json:"working_dir"`
	// EstimatedMinutes is the aggregate time estimate for the plan.
	EstimatedMinutes int `json:"estimated_minutes,omitempty"`
	// Status is the current state of the plan.
	Status PlanStatus `json:"status"`
	// CreatedAt is when the plan was created.
	CreatedAt time.Time `json:"created_at"`
}

// Subtask returns the subtask with the given ID, or nil if not found.
func (p *Plan) Subtask(id string) *Subtask {
	for _, st := range p.Subtasks {
		if st.ID == id {
			return st
		}
	}
	return nil
}

// SubtaskIDs returns the IDs of all subtasks in plan order.
func (p *Plan) SubtaskIDs() []string {
	ids := make([]string, 0, len(p.Subtasks))
	for _, st := range p.Subtasks {
		ids = append(ids, st.ID)
	}
	return ids
}
