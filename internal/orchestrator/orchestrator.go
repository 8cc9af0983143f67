package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/subplot-sh/subplot/internal/checkpoint"
	"github.com/subplot-sh/subplot/internal/executor"
	"github.com/subplot-sh/subplot/internal/graph"
	"github.com/subplot-sh/subplot/pkg/models"
)

// Config holds the orchestrator's tunables.
type Config struct {
	// MaxPasses bounds the number of scheduling passes per plan.
	MaxPasses int
	// WaveSettleDelay is the pause between scheduling passes.
	WaveSettleDelay time.Duration
	// MaxParallel caps subtasks launched per pass for this plan.
	// Zero means unbounded (the global session ceiling still applies).
	MaxParallel int
	// EventBuffer sizes the event channel.
	EventBuffer int
}

func (c Config) withDefaults() Config {
	if c.MaxPasses == 0 {
		c.MaxPasses = 10
	}
	if c.WaveSettleDelay == 0 {
		c.WaveSettleDelay = 100 * time.Millisecond
	}
	if c.EventBuffer == 0 {
		c.EventBuffer = 100
	}
	return c
}

// Orchestrator owns one plan for its lifetime: it schedules waves, launches
// subtasks through the executor, checkpoints progress, and emits exactly
// one terminal event.
type Orchestrator struct {
	cfg      Config
	plan     *models.Plan
	graph    *graph.DependencyGraph
	state    *models.ExecutionState
	sched    *Scheduler
	exec     *executor.Executor
	registry *executor.Registry
	ckpt     *checkpoint.Manager
	pause    *PauseController

	events  chan Event
	dropped int64

	mu          sync.RWMutex
	status      models.PlanStatus
	failureCode FailureCode

	terminalOnce sync.Once
	cancelRun    context.CancelFunc
	done         chan struct{}
}

// New creates an Orchestrator for a plan. The plan's dependency graph is
// built and validated here; a cyclic or malformed plan is rejected before
// anything runs.
func New(plan *models.Plan, exec *executor.Executor, ckpt *checkpoint.Manager, cfg Config) (*Orchestrator, error) {
	g := graph.New()
	if err := g.Build(plan.Subtasks); err != nil {
		return nil, fmt.Errorf("build plan %s: %w", plan.ID, err)
	}

	state := models.NewExecutionState()
	cfg = cfg.withDefaults()

	o := &Orchestrator{
		cfg:      cfg,
		plan:     plan,
		graph:    g,
		state:    state,
		sched:    NewScheduler(g, state, cfg.MaxPasses),
		exec:     exec,
		registry: executor.NewRegistry(),
		ckpt:     ckpt,
		pause:    NewPauseController(),
		events:   make(chan Event, cfg.EventBuffer),
		status:   models.PlanStatusPlanning,
		done:     make(chan struct{}),
	}

	for _, st := range plan.Subtasks {
		o.registry.Register(st.ID, st.Name)
	}
	return o, nil
}

// RestoreState replaces the execution state before Run, typically from a
// checkpoint. Subtasks recorded as completed or failed keep their outcome;
// everything else is scheduled from scratch.
func (o *Orchestrator) RestoreState(state *models.ExecutionState) {
	o.state = state
	o.sched = NewScheduler(o.graph, state, o.cfg.MaxPasses)
	for _, id := range state.Completed() {
		o.registry.MarkResolved(&executor.Outcome{SubtaskID: id, Success: true})
	}
	for _, id := range state.Failed() {
		o.registry.MarkResolved(&executor.Outcome{SubtaskID: id})
	}
}

// Events returns the orchestrator's event stream.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}

// DroppedEventCount returns how many events were dropped because the
// channel was full.
func (o *Orchestrator) DroppedEventCount() int64 {
	return atomic.LoadInt64(&o.dropped)
}

// Status returns the plan's current status and failure code.
func (o *Orchestrator) Status() (models.PlanStatus, FailureCode) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status, o.failureCode
}

// Plan returns the plan this orchestrator owns.
func (o *Orchestrator) Plan() *models.Plan {
	return o.plan
}

// Registry returns the plan's worker registry.
func (o *Orchestrator) Registry() *executor.Registry {
	return o.registry
}

// State returns the plan's execution state.
func (o *Orchestrator) State() *models.ExecutionState {
	return o.state
}

// Done is closed when the plan reaches a terminal state.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// Run executes the plan to a terminal state. It blocks until the plan
// completes, fails, or the context is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancelRun = cancel
	o.mu.Unlock()
	defer cancel()

	o.setStatus(models.PlanStatusRunning, "")

	// The plan row must exist before the first snapshot; checkpoints
	// reference it.
	if o.ckpt != nil {
		if err := o.ckpt.Store().SavePlan(o.plan); err != nil {
			log.Printf("[orchestrator] plan %s: persist plan: %v", o.plan.ID, err)
		}
	}
	o.snapshot()
	log.Printf("[orchestrator] plan %s: running %d subtasks", o.plan.ID, o.graph.Size())

	// Periodic snapshots run for the whole life of the plan.
	tickerDone := make(chan struct{})
	defer close(tickerDone)
	go o.checkpointLoop(ctx, tickerDone)

	err := o.runLoop(ctx)

	switch {
	case err == nil:
		// Terminal state already decided inside the loop.
	case errors.Is(err, ErrStopped):
		// The terminal transition happened elsewhere (Cancel or finish).
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		o.finish(models.PlanStatusFailed, FailureCanceled, err)
	case errors.Is(err, ErrPassLimit):
		o.finish(models.PlanStatusFailed, FailurePassLimit, err)
	default:
		o.finish(models.PlanStatusFailed, FailurePartial, err)
	}
	return err
}

// runLoop drives scheduling passes until the plan resolves or stalls.
func (o *Orchestrator) runLoop(ctx context.Context) error {
	for {
		if err := o.pause.WaitIfPaused(ctx); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if o.sched.Done() {
			o.finishFromState()
			return nil
		}

		wave, err := o.sched.NextWave()
		if err != nil {
			return err
		}

		if len(wave) == 0 {
			code := o.sched.ClassifyStall()
			stuck := o.sched.StuckIDs()
			err := fmt.Errorf("%w: subtasks %v cannot run (%s)", ErrPlanDeadlock, stuck, code)
			o.finish(models.PlanStatusFailed, code, err)
			return nil
		}

		if o.cfg.MaxParallel > 0 && len(wave) > o.cfg.MaxParallel {
			wave = wave[:o.cfg.MaxParallel]
		}

		o.runWave(ctx, wave)

		select {
		case <-time.After(o.cfg.WaveSettleDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runWave launches every subtask in the wave and waits for all of them.
func (o *Orchestrator) runWave(ctx context.Context, wave []*models.Subtask) {
	var wg sync.WaitGroup
	for _, st := range wave {
		if err := o.state.MarkRunning(st.ID); err != nil {
			continue
		}

		wg.Add(1)
		go func(st *models.Subtask) {
			defer wg.Done()
			o.runSubtask(ctx, st)
		}(st)
	}
	wg.Wait()
}

// runSubtask executes one subtask and records its resolution.
func (o *Orchestrator) runSubtask(ctx context.Context, st *models.Subtask) {
	o.emitEvent(Event{Type: EventSubtaskStarted, SubtaskID: st.ID, SubtaskName: st.Name})

	out, err := o.exec.Execute(ctx, o.plan, st, func(sessionID string) {
		o.registry.MarkRunning(st.ID, sessionID)
		// A pause can land between launch and session registration; a
		// session registered into a paused plan is torn down like the rest.
		if o.pause.IsPaused() {
			o.exec.TerminatePlan(o.plan.ID, executor.ReasonPaused)
		}
	})
	if err != nil {
		// Launch failures, including a hit session ceiling, fail only this
		// subtask; the rest of the wave proceeds.
		o.state.MarkFailed(st.ID)
		o.registry.MarkResolved(&executor.Outcome{SubtaskID: st.ID, FinishedAt: time.Now()})
		msg := "launch failed"
		if errors.Is(err, executor.ErrResourceExhausted) {
			msg = "session ceiling reached"
		}
		o.emitEvent(Event{Type: EventSubtaskFailed, SubtaskID: st.ID, SubtaskName: st.Name, Message: msg, Error: err})
		o.snapshot()
		return
	}

	if out.Reason == executor.ReasonPaused {
		// The session was torn down by a pause. The subtask is not failed:
		// it returns to the unattempted pool and relaunches on resume. The
		// pre-pause snapshot already recorded it as running.
		o.state.Reset(st.ID)
		o.registry.Register(st.ID, st.Name)
		return
	}

	o.registry.MarkResolved(out)

	if out.Success {
		o.state.MarkCompleted(st.ID)
		o.emitEvent(Event{Type: EventSubtaskCompleted, SubtaskID: st.ID, SubtaskName: st.Name, SessionID: out.SessionID})
	} else {
		o.state.MarkFailed(st.ID)
		o.emitEvent(Event{
			Type:        EventSubtaskFailed,
			SubtaskID:   st.ID,
			SubtaskName: st.Name,
			SessionID:   out.SessionID,
			Message:     string(out.Reason),
			Error:       fmt.Errorf("subtask %s failed: %s", st.ID, out.Reason),
		})
	}

	// A snapshot lands after every resolution so a crash never loses a
	// finished subtask.
	o.snapshot()
}

// finishFromState decides the terminal state once every subtask resolved.
func (o *Orchestrator) finishFromState() {
	if len(o.state.Failed()) == 0 {
		o.finish(models.PlanStatusCompleted, "", nil)
		return
	}
	err := fmt.Errorf("plan %s: %d of %d subtasks failed", o.plan.ID, len(o.state.Failed()), o.graph.Size())
	o.finish(models.PlanStatusFailed, FailurePartial, err)
}

// finish transitions the plan to its terminal state exactly once.
func (o *Orchestrator) finish(status models.PlanStatus, code FailureCode, err error) {
	o.terminalOnce.Do(func() {
		o.setStatus(status, code)
		o.pause.Stop()
		o.persistStatus(string(code))

		if status == models.PlanStatusCompleted {
			// A completed plan has nothing to resume; its checkpoints are
			// deleted rather than left for the age-based purge.
			o.clearCheckpoints()
			log.Printf("[orchestrator] plan %s: completed", o.plan.ID)
			o.emitEvent(Event{Type: EventPlanCompleted})
		} else {
			o.snapshot()
			log.Printf("[orchestrator] plan %s: failed (%s): %v", o.plan.ID, code, err)
			o.emitEvent(Event{Type: EventPlanFailed, Code: code, Error: err})
		}
		close(o.done)
	})
}

// Pause checkpoints the plan, stops launching new subtasks, and terminates
// the plan's running sessions. Their subtasks return to the unattempted
// pool and relaunch from scratch on resume; the pre-pause snapshot records
// them as running so a restart reclassifies them the same way.
func (o *Orchestrator) Pause() error {
	o.mu.RLock()
	terminal := o.status.Terminal()
	o.mu.RUnlock()
	if terminal {
		return ErrPlanTerminal
	}

	// The snapshot is the resume floor; without it a pause would be a dead
	// end, so its failure aborts the pause.
	if err := o.snapshot(); err != nil {
		return fmt.Errorf("pause plan %s: %w", o.plan.ID, err)
	}
	o.pause.Pause()
	o.setStatus(models.PlanStatusPaused, "")
	o.persistStatus("")

	if n := o.exec.TerminatePlan(o.plan.ID, executor.ReasonPaused); n > 0 {
		log.Printf("[orchestrator] plan %s: paused, terminated %d running session(s)", o.plan.ID, n)
	}
	o.emitEvent(Event{Type: EventPlanPaused})
	return nil
}

// Resume restarts scheduling after a pause.
func (o *Orchestrator) Resume() error {
	o.mu.RLock()
	terminal := o.status.Terminal()
	o.mu.RUnlock()
	if terminal {
		return ErrPlanTerminal
	}

	o.setStatus(models.PlanStatusRunning, "")
	o.persistStatus("")
	o.pause.Resume()
	o.emitEvent(Event{Type: EventPlanResumed})
	return nil
}

// Cancel terminates the plan immediately. Cancel is terminal and writes no
// checkpoint: the last periodic snapshot remains the plan's final record.
func (o *Orchestrator) Cancel() error {
	o.mu.Lock()
	if o.status.Terminal() {
		o.mu.Unlock()
		return ErrPlanTerminal
	}
	cancel := o.cancelRun
	o.mu.Unlock()

	o.terminalOnce.Do(func() {
		o.setStatus(models.PlanStatusFailed, FailureCanceled)
		o.pause.Stop()
		o.persistStatus(string(FailureCanceled))
		log.Printf("[orchestrator] plan %s: canceled", o.plan.ID)
		o.emitEvent(Event{Type: EventPlanFailed, Code: FailureCanceled, Message: "canceled"})
		close(o.done)
	})
	if cancel != nil {
		cancel()
	}
	return nil
}

// IsPaused reports whether scheduling is paused.
func (o *Orchestrator) IsPaused() bool {
	return o.pause.IsPaused()
}

// checkpointLoop writes periodic snapshots while the plan runs.
func (o *Orchestrator) checkpointLoop(ctx context.Context, done <-chan struct{}) {
	if o.ckpt == nil {
		return
	}
	ticker := time.NewTicker(o.ckpt.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.snapshot()
		}
	}
}

// snapshot writes one checkpoint of the current state. A canceled plan
// takes no further snapshots; its last periodic one stands as the final
// record. Most callers tolerate a failed write; Pause does not.
func (o *Orchestrator) snapshot() error {
	if o.ckpt == nil {
		return nil
	}
	o.mu.RLock()
	status := o.status
	code := o.failureCode
	o.mu.RUnlock()
	if code == FailureCanceled {
		return nil
	}

	cp, err := o.ckpt.Save(o.plan.ID, status, o.state.Snapshot())
	if err != nil {
		log.Printf("[orchestrator] plan %s: checkpoint failed: %v", o.plan.ID, err)
		return err
	}
	o.emitEvent(Event{Type: EventCheckpointCreated, Message: cp.ID})
	return nil
}

// clearCheckpoints drops a completed plan's snapshots.
func (o *Orchestrator) clearCheckpoints() {
	if o.ckpt == nil {
		return
	}
	if _, err := o.ckpt.Store().DeleteCheckpoints(o.plan.ID); err != nil {
		log.Printf("[orchestrator] plan %s: clear checkpoints: %v", o.plan.ID, err)
	}
}

// persistStatus records the plan status in the store.
func (o *Orchestrator) persistStatus(code string) {
	if o.ckpt == nil {
		return
	}
	o.mu.RLock()
	status := o.status
	o.mu.RUnlock()

	if err := o.ckpt.Store().UpdatePlanStatus(o.plan.ID, status, code); err != nil {
		log.Printf("[orchestrator] plan %s: persist status: %v", o.plan.ID, err)
	}
}

func (o *Orchestrator) setStatus(status models.PlanStatus, code FailureCode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status = status
	o.failureCode = code
	o.plan.Status = status
}

// emitEvent delivers an event without blocking; a full channel drops the
// event and bumps the counter.
func (o *Orchestrator) emitEvent(ev Event) {
	ev.PlanID = o.plan.ID
	ev.Timestamp = time.Now()
	select {
	case o.events <- ev:
	default:
		atomic.AddInt64(&o.dropped, 1)
	}
}
