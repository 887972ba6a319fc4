package process

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
)

// Options control how a child process is spawned.
type Options struct {
	// Dir is the working directory for the child.
	Dir string

	// Env replaces the child environment when non-nil.
	Env []string

	// Capture buffers stdout and stderr for retrieval after exit. A
	// captured process reports PipedIO() == true.
	Capture bool

	// Stdout and Stderr receive the child's streams when Capture is
	// false. Nil discards the stream.
	Stdout io.Writer
	Stderr io.Writer

	// NewProcessGroup places the child in its own process group so the
	// whole tree can be killed through KillGroup.
	NewProcessGroup bool
}

// Process is a running child command. It satisfies the task.Handle
// contract: non-blocking poll, post-exit output drain, idempotent kill.
type Process struct {
	cmd   *exec.Cmd
	piped bool

	stdout bytes.Buffer
	stderr bytes.Buffer

	// done is closed by the wait goroutine after code and waitErr are
	// set; readers observe them only through the channel.
	done    chan struct{}
	code    int
	waitErr error
}

// Start launches name with args and begins reaping it in the background.
func Start(name string, args []string, opts Options) (*Process, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = opts.Dir
	if opts.Env != nil {
		cmd.Env = opts.Env
	}
	if opts.NewProcessGroup {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}

	p := &Process{
		cmd:   cmd,
		piped: opts.Capture,
		done:  make(chan struct{}),
	}

	if opts.Capture {
		cmd.Stdout = &p.stdout
		cmd.Stderr = &p.stderr
	} else {
		cmd.Stdout = opts.Stdout
		cmd.Stderr = opts.Stderr
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}

	go p.reap()
	return p, nil
}

// reap waits for the child and records its exit code. os/exec has no
// non-blocking wait, so Poll is answered through the done channel.
func (p *Process) reap() {
	err := p.cmd.Wait()

	if p.cmd.ProcessState != nil {
		p.code = p.cmd.ProcessState.ExitCode()
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		// Wait failed for a reason other than the process exiting
		// non-zero, e.g. an I/O copy error.
		p.waitErr = err
	}

	close(p.done)
}

func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Poll reports the exit code once the process has terminated. It never
// blocks.
func (p *Process) Poll() (int, bool) {
	select {
	case <-p.done:
		return p.code, true
	default:
		return 0, false
	}
}

// Output blocks until the process has exited, then returns the captured
// stdout and stderr text.
func (p *Process) Output() (string, string, error) {
	<-p.done
	return p.stdout.String(), p.stderr.String(), p.waitErr
}

// PipedIO reports whether the process was spawned with captured streams.
func (p *Process) PipedIO() bool { return p.piped }

// Wait blocks until the process exits and returns its exit code.
func (p *Process) Wait() (int, error) {
	<-p.done
	return p.code, p.waitErr
}

// Kill force-terminates the process. Killing an already-exited process is
// not an error.
func (p *Process) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	err := p.cmd.Process.Kill()
	if err == nil || errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// KillGroup force-kills an entire process group by its leader pid. Used to
// take down children the leader spawned itself.
func KillGroup(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}
