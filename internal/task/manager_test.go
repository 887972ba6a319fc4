package task

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeHandle is a controllable stand-in for a spawned process.
type fakeHandle struct {
	mu     sync.Mutex
	pid    int
	code   int
	exited bool
	piped  bool
	stdout string
	stderr string
	kills  int
}

func (h *fakeHandle) Pid() int { return h.pid }

func (h *fakeHandle) Poll() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.code, h.exited
}

func (h *fakeHandle) Output() (string, string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stdout, h.stderr, nil
}

func (h *fakeHandle) PipedIO() bool { return h.piped }

func (h *fakeHandle) Kill() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.kills++
	return nil
}

func (h *fakeHandle) finish(code int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.code = code
	h.exited = true
}

func (h *fakeHandle) killCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.kills
}

// panicHandle misbehaves on every poll.
type panicHandle struct{ fakeHandle }

func (h *panicHandle) Poll() (int, bool) { panic("broken handle") }

func newTestManager() *Manager {
	return NewManager(
		WithInterval(10*time.Millisecond),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func TestAddTracksTask(t *testing.T) {
	m := newTestManager()
	h := &fakeHandle{pid: 101}

	m.Add(h, "a1")

	got, err := m.Get("a1")
	require.NoError(t, err)
	require.Equal(t, "a1", got.StepID())
	require.Equal(t, 101, got.Pid())
}

func TestGetUnknownStepID(t *testing.T) {
	m := newTestManager()

	_, err := m.Get("nope")
	require.ErrorIs(t, err, ErrTaskNotFound)
}

func TestCleanExitLeavesNoRecord(t *testing.T) {
	m := newTestManager()
	h := &fakeHandle{pid: 7, piped: true, stdout: "all good"}

	m.Add(h, "a1")
	h.finish(0)

	require.Eventually(t, func() bool {
		_, err := m.Get("a1")
		return err != nil
	}, 2*time.Second, 5*time.Millisecond, "task should leave the live set")

	_, err := m.TaskStatus("a1")
	require.ErrorIs(t, err, ErrStatusNotFound)
	require.False(t, m.Active())
	require.GreaterOrEqual(t, h.killCount(), 1)
}

func TestFailureIsRecordedOnce(t *testing.T) {
	m := newTestManager()
	h := &fakeHandle{pid: 8, piped: true, stdout: "partial results", stderr: "err-line"}

	m.Add(h, "b1")
	h.finish(7)

	require.Eventually(t, func() bool {
		_, err := m.TaskStatus("b1")
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)

	st, err := m.TaskStatus("b1")
	require.NoError(t, err)
	require.Equal(t, StateFailed, st.State)
	require.Equal(t, 7, st.ExitCode)
	require.Equal(t, "partial results", st.Output)
	require.Contains(t, st.Error, "err-line")

	_, err = m.Get("b1")
	require.ErrorIs(t, err, ErrTaskNotFound)
}

func TestFailureWithoutPipedIO(t *testing.T) {
	m := newTestManager()
	h := &fakeHandle{pid: 9, piped: false, stdout: "never read", stderr: "never read"}

	m.Add(h, "c1")
	h.finish(3)

	require.Eventually(t, func() bool {
		_, err := m.TaskStatus("c1")
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)

	st, err := m.TaskStatus("c1")
	require.NoError(t, err)
	require.Equal(t, 3, st.ExitCode)
	require.Empty(t, st.Output)
	require.Empty(t, st.Error)
}

func TestStatusNotFoundWhileRunning(t *testing.T) {
	m := newTestManager()
	h := &fakeHandle{pid: 10}

	m.Add(h, "d1")

	_, err := m.TaskStatus("d1")
	require.ErrorIs(t, err, ErrStatusNotFound)

	_, err = m.TaskStatus("never-registered")
	require.ErrorIs(t, err, ErrStatusNotFound)

	h.finish(0)
}

func TestRemoveKillsTask(t *testing.T) {
	m := newTestManager()
	h := &fakeHandle{pid: 11}

	tk := m.Add(h, "e1")
	m.Remove(tk)

	_, err := m.Get("e1")
	require.ErrorIs(t, err, ErrTaskNotFound)
	require.Equal(t, 1, h.killCount())

	// External kill after eviction must be harmless.
	require.NoError(t, tk.Kill())
	require.Equal(t, 2, h.killCount())
}

func TestMonitorRestartsAfterIdle(t *testing.T) {
	m := newTestManager()

	first := &fakeHandle{pid: 20}
	m.Add(first, "f1")
	first.finish(0)

	require.Eventually(t, func() bool {
		_, err := m.Get("f1")
		return err != nil
	}, 2*time.Second, 5*time.Millisecond)

	// Give the monitor a chance to observe the empty set and exit.
	time.Sleep(50 * time.Millisecond)

	second := &fakeHandle{pid: 21, piped: true, stderr: "boom"}
	m.Add(second, "f2")
	second.finish(5)

	require.Eventually(t, func() bool {
		_, err := m.TaskStatus("f2")
		return err == nil
	}, 2*time.Second, 5*time.Millisecond, "task added after idle must still be polled")
}

func TestConcurrentFailuresKeepTheirRecords(t *testing.T) {
	m := newTestManager()
	const n = 16

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h := &fakeHandle{pid: 1000 + i, piped: true, stderr: fmt.Sprintf("step %d failed", i)}
			m.Add(h, fmt.Sprintf("step-%d", i))
			time.Sleep(time.Duration(i%4) * time.Millisecond)
			h.finish(i + 1)
		}(i)
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		for i := 0; i < n; i++ {
			if _, err := m.TaskStatus(fmt.Sprintf("step-%d", i)); err != nil {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	for i := 0; i < n; i++ {
		st, err := m.TaskStatus(fmt.Sprintf("step-%d", i))
		require.NoError(t, err)
		require.Equal(t, i+1, st.ExitCode, "record for step-%d carries the wrong exit code", i)
		require.Contains(t, st.Error, fmt.Sprintf("step %d failed", i))
	}
	require.False(t, m.Active())
}

func TestBrokenHandleDoesNotAbortSweep(t *testing.T) {
	m := newTestManager()

	bad := &panicHandle{fakeHandle{pid: 30}}
	good := &fakeHandle{pid: 31}

	m.Add(bad, "bad")
	badTask, err := m.Get("bad")
	require.NoError(t, err)

	m.Add(good, "good")
	good.finish(2)

	require.Eventually(t, func() bool {
		_, err := m.TaskStatus("good")
		return err == nil
	}, 2*time.Second, 5*time.Millisecond, "a panicking handle must not block the others")

	m.Remove(badTask)
	require.False(t, m.Active())
}

func TestNoTasksNoRecords(t *testing.T) {
	m := newTestManager()

	require.False(t, m.Active())
	_, err := m.TaskStatus("anything")
	require.ErrorIs(t, err, ErrStatusNotFound)
}
