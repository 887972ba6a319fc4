package task

// StateFailed tags statuses captured for tasks that exited non-zero.
const StateFailed = "failed"

// Status is the immutable outcome captured for a task that exited with a
// non-zero code. Clean exits produce no Status at all; callers that need
// success notification must watch the live set instead.
type Status struct {
	State    string
	ExitCode int
	Output   string
	Error    string
}
