package task

// Handle is the spawned-process abstraction the manager supervises. The
// launcher that created the process supplies it; the manager never learns
// how the command line was built.
//
// Poll must never block. Output may block until the process streams are
// drained, so it must only be called once Poll has reported completion.
// Kill must tolerate a process that has already exited.
type Handle interface {
	Pid() int
	Poll() (code int, done bool)
	Output() (stdout, stderr string, err error)
	PipedIO() bool
	Kill() error
}

// Task links one live process handle to the step id assigned by the
// launcher. For local launches the step id is typically derived from the
// pid; other launchers supply their own.
type Task struct {
	handle Handle
	stepID string
}

func New(handle Handle, stepID string) *Task {
	return &Task{handle: handle, stepID: stepID}
}

func (t *Task) StepID() string { return t.stepID }

func (t *Task) Pid() int { return t.handle.Pid() }

// CheckStatus pings the process and reports its exit code once finished.
func (t *Task) CheckStatus() (int, bool) {
	return t.handle.Poll()
}

// PipedIO reports whether the process was spawned with capturable streams.
func (t *Task) PipedIO() bool { return t.handle.PipedIO() }

// IO drains and returns the captured output and error text. Processes
// spawned without piped streams have nothing to return.
func (t *Task) IO() (string, string, error) {
	if !t.handle.PipedIO() {
		return "", "", nil
	}
	return t.handle.Output()
}

// Kill force-terminates the process. Safe to call more than once.
func (t *Task) Kill() error {
	return t.handle.Kill()
}
