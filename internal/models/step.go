package models

import "time"

type StepStatus string

const (
	StepStatusPending  StepStatus = "pending"
	StepStatusRunning  StepStatus = "running"
	StepStatusComplete StepStatus = "complete"
	StepStatusFailed   StepStatus = "failed"
)

// Step is one launched process of an experiment. Output and Error hold
// the text captured when the process exited non-zero.
type Step struct {
	ID           int64
	ExperimentID int64
	Name         string
	Status       StepStatus
	ExitCode     *int
	PID          *int
	StartedAt    *time.Time
	CompletedAt  *time.Time
	Output       string
	Error        string
	SequenceNum  int
}
