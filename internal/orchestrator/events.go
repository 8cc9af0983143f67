// Package orchestrator coordinates the execution of plans: scheduling
// subtask waves, spawning agent processes through the executor, and
// checkpointing progress.
package orchestrator

import (
	"time"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventSubtaskStarted indicates a subtask's agent process has started.
	EventSubtaskStarted EventType = "subtask_started"
	// EventSubtaskCompleted indicates a subtask completed successfully.
	EventSubtaskCompleted EventType = "subtask_completed"
	// EventSubtaskFailed indicates a subtask failed.
	EventSubtaskFailed EventType = "subtask_failed"
	// EventPlanCompleted indicates every subtask in the plan completed.
	EventPlanCompleted EventType = "plan_completed"
	// EventPlanFailed indicates the plan terminated without full success.
	EventPlanFailed EventType = "plan_failed"
	// EventPlanPaused indicates the plan was paused after a checkpoint.
	EventPlanPaused EventType = "plan_paused"
	// EventPlanResumed indicates a paused plan resumed scheduling.
	EventPlanResumed EventType = "plan_resumed"
	// EventCheckpointCreated indicates a durable snapshot was written.
	EventCheckpointCreated EventType = "checkpoint_created"
)

// Event is emitted by the orchestrator as plans and subtasks change state.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// PlanID is the ID of the related plan.
	PlanID string
	// SubtaskID is the ID of the related subtask, if applicable.
	SubtaskID string
	// SubtaskName is the name of the related subtask, if applicable.
	SubtaskName string
	// SessionID is the ID of the executor session, if applicable.
	SessionID string
	// Code is the machine-readable failure reason for plan_failed events.
	Code FailureCode
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error error
	// Timestamp is when the event occurred.
	Timestamp time.Time
}
