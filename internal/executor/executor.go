package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/subplot-sh/subplot/pkg/models"
)

// Profile selects the agent invocation for a subtask category.
type Profile struct {
	// Args are extra command-line arguments for this category.
	Args []string
	// Model overrides the agent's default model, if set.
	Model string
}

// Config holds the executor's tunables.
type Config struct {
	// AgentCommand is the agent binary to invoke per subtask.
	AgentCommand string
	// AgentArgs are arguments passed on every invocation.
	AgentArgs []string
	// Profiles maps subtask category to an invocation profile.
	Profiles map[string]Profile
	// HardCeiling is the wall-clock limit for a normal subtask.
	HardCeiling time.Duration
	// HardCeilingComplex is the wall-clock limit for high-complexity subtasks.
	HardCeilingComplex time.Duration
	// InactivityWindow terminates a process that produces no output for
	// this long.
	InactivityWindow time.Duration
	// TerminationGrace is the delay between SIGTERM and SIGKILL.
	TerminationGrace time.Duration
	// MaxSessions caps concurrently running agent processes across all plans.
	MaxSessions int64
	// WatchdogTick is how often session deadlines are checked.
	WatchdogTick time.Duration
}

func (c Config) withDefaults() Config {
	if c.AgentCommand == "" {
		c.AgentCommand = "claude"
	}
	if c.HardCeiling == 0 {
		c.HardCeiling = 16 * time.Minute
	}
	if c.HardCeilingComplex == 0 {
		c.HardCeilingComplex = 30 * time.Minute
	}
	if c.InactivityWindow == 0 {
		c.InactivityWindow = 5 * time.Minute
	}
	if c.TerminationGrace == 0 {
		c.TerminationGrace = 5 * time.Second
	}
	if c.MaxSessions == 0 {
		c.MaxSessions = 100
	}
	if c.WatchdogTick == 0 {
		c.WatchdogTick = time.Second
	}
	return c
}

// Executor runs subtasks as external agent processes, one process per
// subtask, enforcing the inactivity window and hard ceilings.
type Executor struct {
	cfg    Config
	runner AgentRunner
	// sem enforces the global session ceiling across all plans.
	sem *semaphore.Weighted

	mu       sync.RWMutex
	sessions map[string]*Session
}

// New creates an Executor. A nil runner defaults to the real CommandRunner.
func New(cfg Config, runner AgentRunner) *Executor {
	cfg = cfg.withDefaults()
	if runner == nil {
		runner = NewCommandRunner(cfg.TerminationGrace)
	}
	return &Executor{
		cfg:      cfg,
		runner:   runner,
		sem:      semaphore.NewWeighted(cfg.MaxSessions),
		sessions: make(map[string]*Session),
	}
}

// Execute runs one subtask to completion and returns its outcome.
// Returns ErrResourceExhausted without launching if the global session
// ceiling is reached; running sessions are never affected. Any onStart
// hooks are invoked with the session ID once it is registered, before the
// process is waited on.
func (e *Executor) Execute(ctx context.Context, plan *models.Plan, st *models.Subtask, onStart ...func(sessionID string)) (*Outcome, error) {
	if !e.sem.TryAcquire(1) {
		return nil, fmt.Errorf("launch subtask %s: %w", st.ID, ErrResourceExhausted)
	}
	defer e.sem.Release(1)

	proc, err := e.runner.Start(ctx, e.buildSpec(plan, st))
	if err != nil {
		return nil, fmt.Errorf("launch subtask %s: %w", st.ID, err)
	}

	hardLimit := e.cfg.HardCeiling
	if st.HighComplexity() {
		hardLimit = e.cfg.HardCeilingComplex
	}

	sess := newSession(uuid.New().String()[:8], plan.ID, st.ID, proc, hardLimit)
	e.register(sess)
	defer e.unregister(sess.ID)

	log.Printf("[executor] session %s: subtask %s pid=%d limit=%s", sess.ID, st.ID, proc.PID(), hardLimit)

	for _, fn := range onStart {
		fn(sess.ID)
	}

	watchdogDone := make(chan struct{})
	go e.watch(ctx, sess, watchdogDone)

	// Every output chunk resets the inactivity window.
	for chunk := range proc.Output() {
		sess.Touch(chunk)
	}

	waitErr := proc.Wait()
	sess.markExited()
	close(watchdogDone)

	out := &Outcome{
		SubtaskID:  st.ID,
		SessionID:  sess.ID,
		OutputTail: sess.OutputTail(),
		StartedAt:  sess.StartedAt(),
		FinishedAt: time.Now(),
	}

	switch {
	case sess.terminationReason() != "":
		out.Reason = sess.terminationReason()
		out.ExitCode = -1
		log.Printf("[executor] session %s: subtask %s terminated (%s)", sess.ID, st.ID, out.Reason)
	case waitErr != nil:
		if ctx.Err() != nil {
			out.Reason = ReasonCanceled
		} else {
			out.Reason = ReasonExitError
		}
		out.ExitCode = exitCodeOf(waitErr)
		log.Printf("[executor] session %s: subtask %s failed (%s exit=%d): %v", sess.ID, st.ID, out.Reason, out.ExitCode, waitErr)
	default:
		out.Success = true
		log.Printf("[executor] session %s: subtask %s completed in %s", sess.ID, st.ID, out.Duration().Round(time.Second))
	}

	return out, nil
}

// buildSpec composes the process invocation for a subtask.
func (e *Executor) buildSpec(plan *models.Plan, st *models.Subtask) ProcSpec {
	args := append([]string{}, e.cfg.AgentArgs...)
	if prof, ok := e.cfg.Profiles[st.Category]; ok {
		args = append(args, prof.Args...)
		if prof.Model != "" {
			args = append(args, "--model", prof.Model)
		}
	}
	args = append(args, "-p", BuildInstructions(plan, st))

	return ProcSpec{
		Command: e.cfg.AgentCommand,
		Args:    args,
		Dir:     plan.WorkingDir,
	}
}

// watch sweeps one session's two deadlines until the process exits.
func (e *Executor) watch(ctx context.Context, sess *Session, done <-chan struct{}) {
	ticker := time.NewTicker(e.cfg.WatchdogTick)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			// Cancellation goes through the same SIGTERM, grace, SIGKILL
			// sequence as the timeouts.
			e.terminate(sess, ReasonCanceled)
			return
		case now := <-ticker.C:
			// Hard ceiling is checked first: a process that is both past
			// its ceiling and inactive is attributed to the ceiling.
			if now.After(sess.HardDeadline()) {
				e.terminate(sess, ReasonHardTimeout)
				return
			}
			if now.Sub(sess.LastActivity()) >= e.cfg.InactivityWindow {
				e.terminate(sess, ReasonInactivityTimeout)
				return
			}
		}
	}
}

// terminate stops a session's process: SIGTERM, then SIGKILL after the
// grace period if it has not exited.
func (e *Executor) terminate(sess *Session, reason FailureReason) {
	if !sess.markTerminated(reason) {
		return
	}

	log.Printf("[executor] session %s: terminating subtask %s (%s)", sess.ID, sess.SubtaskID, reason)

	if err := sess.proc.Signal(syscall.SIGTERM); err != nil {
		_ = sess.proc.Kill()
		return
	}

	time.AfterFunc(e.cfg.TerminationGrace, func() {
		if !sess.Exited() {
			log.Printf("[executor] session %s: grace expired, killing", sess.ID)
			_ = sess.proc.Kill()
		}
	})
}

// TerminatePlan terminates every live session belonging to a plan through
// the usual SIGTERM, grace, SIGKILL sequence. Returns how many sessions
// were signaled. Used when a plan is paused: its sessions do not survive,
// their subtasks relaunch from scratch on resume.
func (e *Executor) TerminatePlan(planID string, reason FailureReason) int {
	e.mu.RLock()
	var targets []*Session
	for _, sess := range e.sessions {
		if sess.PlanID == planID {
			targets = append(targets, sess)
		}
	}
	e.mu.RUnlock()

	for _, sess := range targets {
		e.terminate(sess, reason)
	}
	return len(targets)
}

func (e *Executor) register(sess *Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessions[sess.ID] = sess
}

func (e *Executor) unregister(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, id)
}

// ActiveSessions returns the number of currently running sessions.
func (e *Executor) ActiveSessions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.sessions)
}

// SessionForSubtask returns the running session for a subtask, or nil.
func (e *Executor) SessionForSubtask(subtaskID string) *Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, sess := range e.sessions {
		if sess.SubtaskID == subtaskID {
			return sess
		}
	}
	return nil
}

func exitCodeOf(err error) int {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}
