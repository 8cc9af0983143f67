package orchestrator

import (
	"context"
	"errors"
	"log"
	"sync"
)

// ErrStopped is returned by WaitIfPaused once the controller is stopped;
// the plan's terminal state has already been decided by then.
var ErrStopped = errors.New("plan stopped")

// PauseController gates a plan's scheduling loop. The gate is open while
// the plan runs and closed while it is paused; Stop releases every waiter
// permanently once the plan reaches a terminal state.
type PauseController struct {
	mu     sync.Mutex
	paused bool
	// gate is closed (in the channel sense) whenever scheduling may
	// proceed. Pause swaps in a fresh open channel; Resume closes it.
	gate    chan struct{}
	stopped chan struct{}
}

// NewPauseController creates a PauseController with the gate open.
func NewPauseController() *PauseController {
	open := make(chan struct{})
	close(open)
	return &PauseController{
		gate:    open,
		stopped: make(chan struct{}),
	}
}

// Pause closes the gate. Running subtasks are not affected here; the
// orchestrator tears their sessions down separately.
func (p *PauseController) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		p.paused = true
		p.gate = make(chan struct{})
		log.Printf("[orchestrator] paused - no new subtasks will be launched")
	}
}

// Resume reopens the gate after a pause.
func (p *PauseController) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		p.paused = false
		close(p.gate)
		log.Printf("[orchestrator] resumed - subtask launching enabled")
	}
}

// Stop releases all waiters permanently. Safe to call more than once.
func (p *PauseController) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.stopped:
	default:
		close(p.stopped)
	}
}

// IsPaused returns whether scheduling is currently paused.
func (p *PauseController) IsPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// IsStopped returns whether the controller has been stopped.
func (p *PauseController) IsStopped() bool {
	select {
	case <-p.stopped:
		return true
	default:
		return false
	}
}

// WaitIfPaused blocks until the gate is open. Returns ErrStopped if the
// controller was stopped and the context's error if it was cancelled.
func (p *PauseController) WaitIfPaused(ctx context.Context) error {
	p.mu.Lock()
	gate := p.gate
	p.mu.Unlock()

	select {
	case <-p.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	case <-gate:
	}

	select {
	case <-p.stopped:
		return ErrStopped
	default:
		return nil
	}
}
