package models

import "time"

type ExperimentStatus string

const (
	ExperimentStatusPending    ExperimentStatus = "pending"
	ExperimentStatusGenerating ExperimentStatus = "generating"
	ExperimentStatusRunning    ExperimentStatus = "running"
	ExperimentStatusComplete   ExperimentStatus = "complete"
	ExperimentStatusFailed     ExperimentStatus = "failed"
)

type Experiment struct {
	ID          int64
	Name        string
	SpecName    string
	Path        string
	Status      ExperimentStatus
	CreatedAt   time.Time
	CompletedAt *time.Time
	Error       string
}
