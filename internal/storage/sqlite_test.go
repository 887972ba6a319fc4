package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rickybalin/SmartSim/internal/models"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "smartsim.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestExperimentRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	exp := &models.Experiment{
		Name:     "double-gyre",
		SpecName: "double-gyre",
		Path:     "/tmp/exp-1",
		Status:   models.ExperimentStatusPending,
	}
	id, err := s.CreateExperiment(exp)
	require.NoError(t, err)
	exp.ID = id

	got, err := s.GetExperiment(id)
	require.NoError(t, err)
	require.Equal(t, "double-gyre", got.Name)
	require.Equal(t, models.ExperimentStatusPending, got.Status)
	require.Nil(t, got.CompletedAt)

	now := time.Now()
	exp.Status = models.ExperimentStatusComplete
	exp.CompletedAt = &now
	require.NoError(t, s.UpdateExperiment(exp))

	got, err = s.GetExperiment(id)
	require.NoError(t, err)
	require.Equal(t, models.ExperimentStatusComplete, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestListExperimentsNewestFirst(t *testing.T) {
	s := newTestStorage(t)

	for _, name := range []string{"first", "second", "third"} {
		_, err := s.CreateExperiment(&models.Experiment{
			Name: name, SpecName: name, Path: "/tmp/" + name,
			Status: models.ExperimentStatusPending,
		})
		require.NoError(t, err)
	}

	exps, err := s.ListExperiments(2)
	require.NoError(t, err)
	require.Len(t, exps, 2)
}

func TestStepRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	expID, err := s.CreateExperiment(&models.Experiment{
		Name: "e", SpecName: "e", Path: "/tmp/e",
		Status: models.ExperimentStatusRunning,
	})
	require.NoError(t, err)

	step := &models.Step{
		ExperimentID: expID,
		Name:         "sim-1",
		Status:       models.StepStatusPending,
		SequenceNum:  1,
	}
	stepID, err := s.CreateStep(step)
	require.NoError(t, err)
	step.ID = stepID

	require.NoError(t, s.UpdateStepPID(stepID, 4242))

	code := 7
	now := time.Now()
	step.Status = models.StepStatusFailed
	step.ExitCode = &code
	step.CompletedAt = &now
	step.Output = "stdout text"
	step.Error = "err-line"
	require.NoError(t, s.UpdateStep(step))

	steps, err := s.GetStepsForExperiment(expID)
	require.NoError(t, err)
	require.Len(t, steps, 1)

	got := steps[0]
	require.Equal(t, "sim-1", got.Name)
	require.Equal(t, models.StepStatusFailed, got.Status)
	require.NotNil(t, got.ExitCode)
	require.Equal(t, 7, *got.ExitCode)
	require.Equal(t, "stdout text", got.Output)
	require.Equal(t, "err-line", got.Error)
}

func TestGetRunningStepForExperiment(t *testing.T) {
	s := newTestStorage(t)

	expID, err := s.CreateExperiment(&models.Experiment{
		Name: "e", SpecName: "e", Path: "/tmp/e",
		Status: models.ExperimentStatusRunning,
	})
	require.NoError(t, err)

	_, err = s.CreateStep(&models.Step{
		ExperimentID: expID, Name: "done", Status: models.StepStatusComplete, SequenceNum: 1,
	})
	require.NoError(t, err)
	_, err = s.CreateStep(&models.Step{
		ExperimentID: expID, Name: "active", Status: models.StepStatusRunning, SequenceNum: 2,
	})
	require.NoError(t, err)

	running, err := s.GetRunningStepForExperiment(expID)
	require.NoError(t, err)
	require.NotNil(t, running)
	require.Equal(t, "active", running.Name)
}

func TestDeleteExperimentCascades(t *testing.T) {
	s := newTestStorage(t)

	expID, err := s.CreateExperiment(&models.Experiment{
		Name: "e", SpecName: "e", Path: "/tmp/e",
		Status: models.ExperimentStatusComplete,
	})
	require.NoError(t, err)

	_, err = s.CreateStep(&models.Step{
		ExperimentID: expID, Name: "s", Status: models.StepStatusComplete, SequenceNum: 1,
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteExperiment(expID))

	_, err = s.GetExperiment(expID)
	require.Error(t, err)

	steps, err := s.GetStepsForExperiment(expID)
	require.NoError(t, err)
	require.Empty(t, steps)
}
