package executor

import (
	"strings"
	"sync"
	"time"
)

// outputTailLimit bounds how much trailing output a session retains for
// failure reporting.
const outputTailLimit = 16 * 1024

// Session binds one subtask to one agent process invocation. It tracks the
// activity deadline used by the inactivity watchdog and retains a tail of
// the process output.
type Session struct {
	// ID is the unique session identifier.
	ID string
	// PlanID is the owning plan.
	PlanID string
	// SubtaskID is the subtask this session executes.
	SubtaskID string

	proc      AgentProc
	startedAt time.Time
	hardLimit time.Duration

	mu           sync.Mutex
	lastActivity time.Time
	tail         []byte
	exited       bool
	// termReason is set by the watchdog before it terminates the process,
	// so Wait errors can be attributed to the right timeout.
	termReason FailureReason
}

func newSession(id, planID, subtaskID string, proc AgentProc, hardLimit time.Duration) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		PlanID:       planID,
		SubtaskID:    subtaskID,
		proc:         proc,
		startedAt:    now,
		hardLimit:    hardLimit,
		lastActivity: now,
	}
}

// Touch records output activity, resetting the inactivity window.
func (s *Session) Touch(chunk OutputChunk) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastActivity = chunk.Time
	s.tail = append(s.tail, chunk.Data...)
	s.tail = append(s.tail, '\n')
	if len(s.tail) > outputTailLimit {
		s.tail = s.tail[len(s.tail)-outputTailLimit:]
	}
}

// LastActivity returns the time of the most recent output chunk.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// StartedAt returns when the session's process was launched.
func (s *Session) StartedAt() time.Time {
	return s.startedAt
}

// HardDeadline returns the wall-clock time at which the hard ceiling fires.
func (s *Session) HardDeadline() time.Time {
	return s.startedAt.Add(s.hardLimit)
}

// OutputTail returns the retained trailing output.
func (s *Session) OutputTail() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.TrimRight(string(s.tail), "\n")
}

// markTerminated records why the watchdog killed the process. The first
// reason wins.
func (s *Session) markTerminated(reason FailureReason) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.termReason != "" {
		return false
	}
	s.termReason = reason
	return true
}

// terminationReason returns the watchdog's recorded reason, if any.
func (s *Session) terminationReason() FailureReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.termReason
}

// markExited records that the process has been reaped; the delayed SIGKILL
// after the grace period checks this before firing.
func (s *Session) markExited() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exited = true
}

// Exited returns true once the process has been waited on.
func (s *Session) Exited() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exited
}
