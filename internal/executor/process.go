package executor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// CommandRunner is the production AgentRunner. It spawns one subprocess per
// subtask and streams its stdout/stderr as output chunks.
type CommandRunner struct {
	// grace bounds how long Wait blocks after context cancellation before
	// the process is forcibly killed.
	grace time.Duration
}

// NewCommandRunner creates a CommandRunner with the given termination grace.
func NewCommandRunner(grace time.Duration) *CommandRunner {
	return &CommandRunner{grace: grace}
}

// Start launches the agent subprocess described by spec.
func (r *CommandRunner) Start(ctx context.Context, spec ProcSpec) (AgentProc, error) {
	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	// Own process group so a termination signal reaches the agent and any
	// children it forks.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// Context cancellation delivers SIGTERM to the whole group instead of
	// CommandContext's default SIGKILL of the direct child only; Wait then
	// gives the group the grace period before forcing an exit.
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = r.grace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start agent process: %w", err)
	}

	p := &commandProc{
		cmd:      cmd,
		outputCh: make(chan OutputChunk, 100),
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go p.readPipe("stdout", stdout, &readers)
	go p.readPipe("stderr", stderr, &readers)
	go func() {
		readers.Wait()
		close(p.outputCh)
	}()

	return p, nil
}

// commandProc wraps an exec.Cmd as an AgentProc.
type commandProc struct {
	cmd      *exec.Cmd
	outputCh chan OutputChunk

	mu     sync.Mutex
	waited bool
}

// readPipe reads one pipe line by line and forwards chunks.
func (p *commandProc) readPipe(stream string, pipe io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()

	scanner := bufio.NewScanner(pipe)
	// Agent output lines can be large.
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		data := make([]byte, len(line))
		copy(data, line)
		p.outputCh <- OutputChunk{
			Stream: stream,
			Data:   data,
			Time:   time.Now(),
		}
	}
}

func (p *commandProc) Output() <-chan OutputChunk {
	return p.outputCh
}

func (p *commandProc) Wait() error {
	p.mu.Lock()
	if p.waited {
		p.mu.Unlock()
		return fmt.Errorf("process already waited on")
	}
	p.waited = true
	p.mu.Unlock()

	return p.cmd.Wait()
}

// Signal delivers sig to the process group so forked children receive it too.
func (p *commandProc) Signal(sig os.Signal) error {
	if p.cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	s, ok := sig.(syscall.Signal)
	if !ok {
		return p.cmd.Process.Signal(sig)
	}
	return syscall.Kill(-p.cmd.Process.Pid, s)
}

func (p *commandProc) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	// Negative PID targets the whole process group.
	if err := syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return p.cmd.Process.Kill()
	}
	return nil
}

func (p *commandProc) PID() int {
	if p.cmd.Process != nil {
		return p.cmd.Process.Pid
	}
	return 0
}

var _ AgentRunner = (*CommandRunner)(nil)
var _ AgentProc = (*commandProc)(nil)
