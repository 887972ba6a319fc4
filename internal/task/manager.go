package task

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval is the time the monitor waits between status sweeps.
const DefaultInterval = 3 * time.Second

var (
	// ErrTaskNotFound means no live task carries the requested step id.
	ErrTaskNotFound = errors.New("task not found")

	// ErrStatusNotFound means no failure record exists for the requested
	// step id. The store cannot tell apart "never failed", "still
	// running" and "unknown id"; check the live set to disambiguate.
	ErrStatusNotFound = errors.New("task status not found")
)

// Manager watches processes launched through the asynchronous shell
// interface. A single background goroutine sweeps every tracked task at a
// fixed interval, evicts finished ones and keeps a failure record for each
// task that exited non-zero, keyed by step id. Failed tasks are reported
// once and never relaunched.
type Manager struct {
	mu       sync.Mutex
	tasks    []*Task
	statuses map[string]Status
	polling  bool

	interval time.Duration
	logger   *slog.Logger
}

type Option func(*Manager)

// WithInterval overrides the sweep interval.
func WithInterval(d time.Duration) Option {
	return func(m *Manager) { m.interval = d }
}

// WithLogger sets the logger used for monitor tracing.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		statuses: make(map[string]Status),
		interval: DefaultInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Add wraps handle in a Task and starts watching it. The monitor
// goroutine is launched here when it is not already running, inside the
// same critical section that inserts the task, so a task added after the
// monitor drained can never be left unwatched.
func (m *Manager) Add(handle Handle, stepID string) *Task {
	t := New(handle, stepID)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.tasks = append(m.tasks, t)
	m.logger.Debug("tracking task", "step_id", stepID, "pid", t.Pid())

	if !m.polling {
		m.polling = true
		go m.monitor()
	}
	return t
}

// monitor is the background sweep loop. It exits once the tracked set
// empties; the next Add relaunches it.
func (m *Manager) monitor() {
	m.logger.Debug("task monitor started")
	for {
		time.Sleep(m.interval)

		m.mu.Lock()
		m.sweep()
		if len(m.tasks) == 0 {
			m.polling = false
			m.mu.Unlock()
			m.logger.Debug("task monitor idle, no tasks to watch")
			return
		}
		m.mu.Unlock()
	}
}

// sweep checks every tracked task once. Caller holds m.mu.
func (m *Manager) sweep() {
	tracked := make([]*Task, len(m.tasks))
	copy(tracked, m.tasks)
	for _, t := range tracked {
		m.check(t)
	}
}

// check polls a single task, recovering from any panic a misbehaving
// handle might raise so one bad process cannot stop the sweep.
func (m *Manager) check(t *Task) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("task check failed",
				"step_id", t.StepID(), "panic", fmt.Sprint(r))
		}
	}()

	code, done := t.CheckStatus()
	if !done {
		return
	}

	if code != 0 {
		var output, errText string
		if t.PipedIO() {
			var err error
			output, errText, err = t.IO()
			if err != nil {
				m.logger.Warn("draining task output",
					"step_id", t.StepID(), "error", err)
			}
		}
		m.statuses[t.StepID()] = Status{
			State:    StateFailed,
			ExitCode: code,
			Output:   output,
			Error:    errText,
		}
		m.logger.Debug("task failed",
			"step_id", t.StepID(), "exit_code", code)
	}

	// A clean exit leaves no record behind.
	m.evict(t)
}

// evict removes t from the tracked set and force-kills its handle. The
// kill is a safety net; for a task that already exited it is a no-op.
// Caller holds m.mu.
func (m *Manager) evict(t *Task) {
	for i, cur := range m.tasks {
		if cur == t {
			m.tasks = append(m.tasks[:i], m.tasks[i+1:]...)
			break
		}
	}
	if err := t.Kill(); err != nil {
		m.logger.Warn("killing task", "step_id", t.StepID(), "error", err)
	}
	m.logger.Debug("removed task", "step_id", t.StepID(), "pid", t.Pid())
}

// Remove evicts a task before the monitor has observed it finish, killing
// the underlying process. Used for external cancellation.
func (m *Manager) Remove(t *Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(t)
}

// Get returns the live task registered under stepID.
func (m *Manager) Get(stepID string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.StepID() == stepID {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, stepID)
}

// TaskStatus returns the failure record captured for stepID. Records
// are kept for the life of the manager.
func (m *Manager) TaskStatus(stepID string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.statuses[stepID]
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrStatusNotFound, stepID)
	}
	return st, nil
}

// Active reports whether any tasks are still being watched.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks) > 0
}
