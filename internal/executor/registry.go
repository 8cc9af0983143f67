package executor

import (
	"sort"
	"sync"
	"time"
)

// WorkerStatus is the lifecycle state of a registered worker.
type WorkerStatus string

const (
	// WorkerPending indicates the worker is registered but not launched.
	WorkerPending WorkerStatus = "pending"
	// WorkerRunning indicates the worker's agent process is executing.
	WorkerRunning WorkerStatus = "running"
	// WorkerCompleted indicates the worker finished successfully.
	WorkerCompleted WorkerStatus = "completed"
	// WorkerFailed indicates the worker failed or was terminated.
	WorkerFailed WorkerStatus = "failed"
)

// Worker is one registry entry: a subtask and the session executing it.
type Worker struct {
	// SubtaskID is the subtask this worker is assigned.
	SubtaskID string
	// SubtaskName is the subtask's display name.
	SubtaskName string
	// SessionID is the executor session once launched.
	SessionID string
	// Status is the worker's lifecycle state.
	Status WorkerStatus
	// Reason is the failure reason when Status is failed.
	Reason FailureReason
	// StartedAt is when the worker's process launched.
	StartedAt time.Time
	// FinishedAt is when the worker resolved.
	FinishedAt time.Time
}

// Registry tracks the workers of a plan by subtask ID. It is the queryable
// record behind status reporting.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]*Worker
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{workers: make(map[string]*Worker)}
}

// Register adds a pending worker for a subtask.
func (r *Registry) Register(subtaskID, subtaskName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[subtaskID] = &Worker{
		SubtaskID:   subtaskID,
		SubtaskName: subtaskName,
		Status:      WorkerPending,
	}
}

// MarkRunning transitions a worker to running and binds its session.
func (r *Registry) MarkRunning(subtaskID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[subtaskID]; ok {
		w.Status = WorkerRunning
		w.SessionID = sessionID
		w.StartedAt = time.Now()
	}
}

// MarkResolved transitions a worker to its terminal state from an outcome.
func (r *Registry) MarkResolved(out *Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[out.SubtaskID]
	if !ok {
		return
	}
	if out.Success {
		w.Status = WorkerCompleted
	} else {
		w.Status = WorkerFailed
		w.Reason = out.Reason
	}
	w.SessionID = out.SessionID
	w.FinishedAt = out.FinishedAt
}

// Worker returns a copy of the worker for a subtask, or nil.
func (r *Registry) Worker(subtaskID string) *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if w, ok := r.workers[subtaskID]; ok {
		copied := *w
		return &copied
	}
	return nil
}

// Workers returns copies of all workers, ordered by subtask ID.
func (r *Registry) Workers() []*Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Worker, 0, len(r.workers))
	for _, w := range r.workers {
		copied := *w
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubtaskID < out[j].SubtaskID })
	return out
}

// CountByStatus returns how many workers are in the given state.
func (r *Registry) CountByStatus(status WorkerStatus) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, w := range r.workers {
		if w.Status == status {
			count++
		}
	}
	return count
}
