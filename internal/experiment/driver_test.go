package experiment

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rickybalin/SmartSim/internal/models"
	"github.com/rickybalin/SmartSim/internal/storage"
	"github.com/rickybalin/SmartSim/internal/task"
	"github.com/stretchr/testify/require"
)

func newTestDriver(t *testing.T) (*Driver, *storage.Storage) {
	t.Helper()

	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	manager := task.NewManager(
		task.WithInterval(20*time.Millisecond),
		task.WithLogger(logger),
	)

	return New(store, t.TempDir(), manager, logger), store
}

func stageBaseConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	nml := "&params\n    DAYMAX = 1\n/\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "input.nml"), []byte(nml), 0o644))
	return dir
}

func TestGenerateStagesEachStep(t *testing.T) {
	d, store := newTestDriver(t)
	base := stageBaseConfig(t)

	sp := &models.Spec{
		Name:    "gen-test",
		Model:   &models.ModelDef{Executable: "true", BaseConfig: base},
		Configs: []*models.ConfigDef{{Path: "input.nml", Format: "nml"}},
		Steps: []*models.StepDef{
			{Name: "short", Params: map[string]any{"DAYMAX": 2}},
			{Name: "long", Params: map[string]any{"DAYMAX": 30}},
		},
	}

	exp, err := d.Create(sp, "")
	require.NoError(t, err)
	require.NoError(t, d.Generate(exp, sp))

	shortNml, err := os.ReadFile(filepath.Join(exp.Path, "short", "input.nml"))
	require.NoError(t, err)
	require.Contains(t, string(shortNml), "DAYMAX = 2")

	longNml, err := os.ReadFile(filepath.Join(exp.Path, "long", "input.nml"))
	require.NoError(t, err)
	require.Contains(t, string(longNml), "DAYMAX = 30")

	steps, err := store.GetStepsForExperiment(exp.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	for _, step := range steps {
		require.Equal(t, models.StepStatusPending, step.Status)
	}
}

func TestRunRecordsCleanSteps(t *testing.T) {
	d, store := newTestDriver(t)

	sp := &models.Spec{
		Name:  "clean",
		Model: &models.ModelDef{Executable: "sh", Args: []string{"-c", "exit 0"}},
		Steps: []*models.StepDef{{Name: "s1"}},
	}

	exp, err := d.Create(sp, "")
	require.NoError(t, err)
	require.NoError(t, d.Generate(exp, sp))
	require.NoError(t, d.Run(exp, sp))

	require.Equal(t, models.ExperimentStatusComplete, exp.Status)

	steps, err := store.GetStepsForExperiment(exp.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	require.Equal(t, models.StepStatusComplete, steps[0].Status)
	require.NotNil(t, steps[0].ExitCode)
	require.Equal(t, 0, *steps[0].ExitCode)
	require.Empty(t, steps[0].Error)
}

func TestRunCapturesFailureOutput(t *testing.T) {
	d, store := newTestDriver(t)

	sp := &models.Spec{
		Name:  "failing",
		Model: &models.ModelDef{Executable: "sh"},
		Steps: []*models.StepDef{
			{Name: "bad", Args: []string{"-c", "echo boom >&2; exit 3"}},
			{Name: "good", Args: []string{"-c", "exit 0"}},
		},
	}

	exp, err := d.Create(sp, "")
	require.NoError(t, err)
	require.NoError(t, d.Generate(exp, sp))

	err = d.Run(exp, sp)
	require.Error(t, err)
	require.Equal(t, models.ExperimentStatusFailed, exp.Status)

	steps, err := store.GetStepsForExperiment(exp.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)

	byName := map[string]*models.Step{}
	for _, step := range steps {
		byName[step.Name] = step
	}

	bad := byName["bad"]
	require.Equal(t, models.StepStatusFailed, bad.Status)
	require.NotNil(t, bad.ExitCode)
	require.Equal(t, 3, *bad.ExitCode)
	require.Contains(t, bad.Error, "boom")

	good := byName["good"]
	require.Equal(t, models.StepStatusComplete, good.Status)
}

func TestRunMarksUnlaunchableStepFailed(t *testing.T) {
	d, store := newTestDriver(t)

	sp := &models.Spec{
		Name:  "unlaunchable",
		Model: &models.ModelDef{Executable: "definitely-not-a-binary-xyz"},
		Steps: []*models.StepDef{{Name: "s1"}},
	}

	exp, err := d.Create(sp, "")
	require.NoError(t, err)
	require.NoError(t, d.Generate(exp, sp))

	require.Error(t, d.Run(exp, sp))

	steps, err := store.GetStepsForExperiment(exp.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	require.Equal(t, models.StepStatusFailed, steps[0].Status)
	require.NotEmpty(t, steps[0].Error)
}

func TestDeleteRemovesWorkspace(t *testing.T) {
	d, _ := newTestDriver(t)

	sp := &models.Spec{
		Name:  "throwaway",
		Model: &models.ModelDef{Executable: "true"},
		Steps: []*models.StepDef{{Name: "s1"}},
	}

	exp, err := d.Create(sp, "")
	require.NoError(t, err)
	path := exp.Path
	require.DirExists(t, path)

	require.NoError(t, d.Delete(exp.ID))
	require.NoDirExists(t, path)

	_, err = d.GetExperiment(exp.ID)
	require.Error(t, err)
}
