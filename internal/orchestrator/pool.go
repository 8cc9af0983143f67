package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/subplot-sh/subplot/internal/checkpoint"
	"github.com/subplot-sh/subplot/internal/executor"
	"github.com/subplot-sh/subplot/pkg/models"
)

// Pool manages the orchestrators of all live plans. It is the process-wide
// entry point for creating, pausing, resuming, and canceling plans, and it
// aggregates every plan's events into one stream.
type Pool struct {
	cfg  Config
	exec *executor.Executor
	ckpt *checkpoint.Manager

	mu    sync.RWMutex
	plans map[string]*Orchestrator

	events  chan Event
	dropped int64
	wg      sync.WaitGroup
}

// NewPool creates a Pool sharing one executor and checkpoint manager across
// all plans.
func NewPool(exec *executor.Executor, ckpt *checkpoint.Manager, cfg Config) *Pool {
	cfg = cfg.withDefaults()
	return &Pool{
		cfg:    cfg,
		exec:   exec,
		ckpt:   ckpt,
		plans:  make(map[string]*Orchestrator),
		events: make(chan Event, cfg.EventBuffer),
	}
}

// CreatePlan registers a new plan and starts executing it. The subtask set
// is validated (unique IDs, known dependencies, acyclic) before anything
// launches.
func (p *Pool) CreatePlan(ctx context.Context, description string, subtasks []*models.Subtask, workingDir string) (*models.Plan, error) {
	if len(subtasks) == 0 {
		return nil, fmt.Errorf("plan needs at least one subtask")
	}

	estimated := 0
	for _, st := range subtasks {
		estimated += st.EstimatedMinutes
	}

	plan := &models.Plan{
		ID:               uuid.New().String()[:8],
		Description:      description,
		Subtasks:         subtasks,
		WorkingDir:       workingDir,
		EstimatedMinutes: estimated,
		Status:           models.PlanStatusPlanning,
		CreatedAt:        time.Now(),
	}

	o, err := New(plan, p.exec, p.ckpt, p.cfg)
	if err != nil {
		return nil, err
	}

	if p.ckpt != nil {
		if err := p.ckpt.Store().SavePlan(plan); err != nil {
			return nil, fmt.Errorf("persist plan: %w", err)
		}
	}

	p.start(ctx, o)
	log.Printf("[pool] plan %s: created with %d subtasks", plan.ID, len(subtasks))
	return plan, nil
}

// ResumeStored loads a previously persisted plan and resumes it from its
// latest checkpoint. A corrupt checkpoint fails the plan outright; it is
// never silently restarted from zero.
func (p *Pool) ResumeStored(ctx context.Context, planID string) error {
	if p.ckpt == nil {
		return fmt.Errorf("no checkpoint store configured")
	}

	rec, err := p.ckpt.Store().GetPlan(planID)
	if err != nil {
		return err
	}
	if rec.Plan.Status.Terminal() {
		return fmt.Errorf("plan %s: %w", planID, ErrPlanTerminal)
	}

	o, err := New(rec.Plan, p.exec, p.ckpt, p.cfg)
	if err != nil {
		return err
	}

	state, _, err := p.ckpt.Restore(planID)
	switch {
	case errors.Is(err, checkpoint.ErrCheckpointCorrupt):
		o.finish(models.PlanStatusFailed, FailureCheckpointCorrupt, err)
		p.register(o)
		p.drainInto(o)
		return fmt.Errorf("resume plan %s: %w", planID, err)
	case errors.Is(err, checkpoint.ErrNotFound):
		// No snapshot yet; the plan starts from scratch.
	case err != nil:
		return fmt.Errorf("resume plan %s: %w", planID, err)
	default:
		o.RestoreState(state)
	}

	p.start(ctx, o)
	log.Printf("[pool] plan %s: resumed", planID)
	return nil
}

// start registers an orchestrator and runs it in the background.
func (p *Pool) start(ctx context.Context, o *Orchestrator) {
	p.register(o)

	runDone := make(chan struct{})
	p.wg.Add(2)

	go func() {
		defer p.wg.Done()
		defer close(runDone)
		_ = o.Run(ctx)
	}()

	// Forward the plan's events into the aggregate stream until its run
	// loop exits and the channel is drained.
	go func() {
		defer p.wg.Done()
		for {
			select {
			case ev := <-o.Events():
				p.forwardEvent(ev)
			case <-runDone:
				for {
					select {
					case ev := <-o.Events():
						p.forwardEvent(ev)
					default:
						return
					}
				}
			}
		}
	}()
}

func (p *Pool) register(o *Orchestrator) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plans[o.plan.ID] = o
}

// Get returns the orchestrator for a plan.
func (p *Pool) Get(planID string) (*Orchestrator, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if o, ok := p.plans[planID]; ok {
		return o, nil
	}
	return nil, fmt.Errorf("plan %s: %w", planID, ErrPlanNotFound)
}

// PausePlan pauses one plan.
func (p *Pool) PausePlan(planID string) error {
	o, err := p.Get(planID)
	if err != nil {
		return err
	}
	return o.Pause()
}

// ResumePlan resumes a paused plan.
func (p *Pool) ResumePlan(planID string) error {
	o, err := p.Get(planID)
	if err != nil {
		return err
	}
	return o.Resume()
}

// CancelPlan cancels one plan.
func (p *Pool) CancelPlan(planID string) error {
	o, err := p.Get(planID)
	if err != nil {
		return err
	}
	return o.Cancel()
}

// Plans returns all registered orchestrators.
func (p *Pool) Plans() []*Orchestrator {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Orchestrator, 0, len(p.plans))
	for _, o := range p.plans {
		out = append(out, o)
	}
	return out
}

// Events returns the aggregate event stream across all plans.
func (p *Pool) Events() <-chan Event {
	return p.events
}

// DroppedEventCount returns how many aggregate events were dropped.
func (p *Pool) DroppedEventCount() int64 {
	return atomic.LoadInt64(&p.dropped)
}

// Wait blocks until every started plan has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Shutdown cancels all non-terminal plans and waits for them to stop.
func (p *Pool) Shutdown() {
	for _, o := range p.Plans() {
		_ = o.Cancel()
	}
	p.wg.Wait()
}

func (p *Pool) forwardEvent(ev Event) {
	if ev.Type == "" {
		return
	}
	select {
	case p.events <- ev:
	default:
		atomic.AddInt64(&p.dropped, 1)
	}
}

// drainInto forwards the pending events of an orchestrator that never ran,
// so its terminal event still reaches the aggregate stream.
func (p *Pool) drainInto(o *Orchestrator) {
	for {
		select {
		case ev := <-o.events:
			p.forwardEvent(ev)
		default:
			return
		}
	}
}
