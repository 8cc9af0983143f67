// Package executor manages external agent processes: one subprocess per
// subtask, with output streaming, activity tracking, and enforced
// execution ceilings.
package executor

import (
	"context"
	"os"
	"time"
)

// OutputChunk is a piece of output produced by an agent process.
type OutputChunk struct {
	// Stream identifies the source: "stdout" or "stderr".
	Stream string
	// Data is the raw chunk bytes.
	Data []byte
	// Time is when the chunk was read.
	Time time.Time
}

// ProcSpec describes an agent process to launch.
type ProcSpec struct {
	// Command is the agent binary to invoke.
	Command string
	// Args are the command-line arguments.
	Args []string
	// Dir is the working directory the process runs in.
	Dir string
	// Env is the extra environment, appended to the parent's.
	Env []string
}

// AgentProc is a handle to a launched agent process.
type AgentProc interface {
	// Output returns a channel of output chunks. The channel is closed when
	// the process's pipes are drained.
	Output() <-chan OutputChunk
	// Wait blocks until the process exits. Returns an error for non-zero
	// exit or abnormal termination.
	Wait() error
	// Signal sends a signal to the process.
	Signal(sig os.Signal) error
	// Kill terminates the process immediately.
	Kill() error
	// PID returns the process ID, or 0 if not started.
	PID() int
}

// AgentRunner launches agent processes. The production implementation spawns
// real subprocesses; tests substitute a fake.
type AgentRunner interface {
	Start(ctx context.Context, spec ProcSpec) (AgentProc, error)
}
