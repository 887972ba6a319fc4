package experiment

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rickybalin/SmartSim/internal/confwriter"
	"github.com/rickybalin/SmartSim/internal/database"
	"github.com/rickybalin/SmartSim/internal/models"
	"github.com/rickybalin/SmartSim/internal/process"
	"github.com/rickybalin/SmartSim/internal/storage"
	"github.com/rickybalin/SmartSim/internal/task"
)

// checkInterval is how often Run re-checks the live set while waiting for
// step processes to drain out of the monitor.
const checkInterval = 500 * time.Millisecond

// Driver runs experiments in two phases: Generate stages per-step
// directories and applies parameter edits, Run launches the step
// processes and hands them to the task monitor, then records the captured
// outcomes.
type Driver struct {
	storage *storage.Storage
	dataDir string
	manager *task.Manager
	logger  *slog.Logger
}

func New(store *storage.Storage, dataDir string, manager *task.Manager, logger *slog.Logger) *Driver {
	return &Driver{
		storage: store,
		dataDir: dataDir,
		manager: manager,
		logger:  logger,
	}
}

// stepID builds the id a step is tracked under. Experiment-scoped so two
// experiments may reuse step names.
func stepID(expID int64, name string) string {
	return fmt.Sprintf("exp%d/%s", expID, name)
}

func (d *Driver) Create(sp *models.Spec, name string) (*models.Experiment, error) {
	if name == "" {
		name = sp.Name
	}

	exp := &models.Experiment{
		Name:     name,
		SpecName: sp.Name,
		Status:   models.ExperimentStatusPending,
	}

	id, err := d.storage.CreateExperiment(exp)
	if err != nil {
		return nil, fmt.Errorf("failed to create experiment: %w", err)
	}
	exp.ID = id

	ws, err := CreateWorkspace(d.dataDir, id)
	if err != nil {
		return nil, err
	}
	exp.Path = ws.Path
	if err := d.storage.UpdateExperiment(exp); err != nil {
		return nil, fmt.Errorf("failed to update experiment path: %w", err)
	}

	return exp, nil
}

// Generate stages every step directory and applies its parameter edits to
// the configuration files the spec names.
func (d *Driver) Generate(exp *models.Experiment, sp *models.Spec) error {
	exp.Status = models.ExperimentStatusGenerating
	if err := d.storage.UpdateExperiment(exp); err != nil {
		return err
	}

	ws := &Workspace{Path: exp.Path}
	baseConfig := ""
	if sp.Model != nil {
		baseConfig = sp.Model.BaseConfig
	}

	for i, def := range sp.Steps {
		dir, err := ws.StageStep(def.Name, baseConfig)
		if err != nil {
			return d.fail(exp, err)
		}

		if len(def.Params) > 0 {
			for _, cfg := range sp.Configs {
				err := confwriter.Apply(def.Params, filepath.Join(dir, cfg.Path), cfg.Format)
				if err != nil {
					return d.fail(exp, fmt.Errorf(
						"failed to configure %s for step %s: %w", cfg.Path, def.Name, err))
				}
			}
		}

		step := &models.Step{
			ExperimentID: exp.ID,
			Name:         def.Name,
			Status:       models.StepStatusPending,
			SequenceNum:  i + 1,
		}
		if _, err := d.storage.CreateStep(step); err != nil {
			return d.fail(exp, fmt.Errorf("failed to create step record: %w", err))
		}
	}

	d.logger.Info("generation complete", "experiment", exp.ID, "steps", len(sp.Steps))
	return nil
}

// Run launches every step, registers the processes with the task monitor
// and blocks until they have all drained out of the live set. Failure
// records captured by the monitor are persisted on the step rows; steps
// with no record finished clean.
func (d *Driver) Run(exp *models.Experiment, sp *models.Spec) error {
	exp.Status = models.ExperimentStatusRunning
	if err := d.storage.UpdateExperiment(exp); err != nil {
		return err
	}

	var dbTask *task.Task
	if sp.Settings != nil && sp.Settings.Database != "" {
		starter := database.NewStarter(sp.Settings.Interface, io.Discard, d.logger)
		proc, err := starter.Start(sp.Settings.Database)
		if err != nil {
			return d.fail(exp, fmt.Errorf("failed to start database: %w", err))
		}
		dbTask = d.manager.Add(proc, stepID(exp.ID, "database"))
	}

	steps, err := d.storage.GetStepsForExperiment(exp.ID)
	if err != nil {
		return d.fail(exp, err)
	}

	ws := &Workspace{Path: exp.Path}
	ids := make(map[int64]string, len(steps))
	failed := false

	for _, step := range steps {
		args := append([]string{}, sp.Model.Args...)
		if def := findStepDef(sp, step.Name); def != nil {
			args = append(args, def.Args...)
		}

		proc, err := process.Start(sp.Model.Executable, args, process.Options{
			Dir:             ws.StepDir(step.Name),
			Capture:         true,
			NewProcessGroup: true,
		})
		now := time.Now()
		if err != nil {
			step.Status = models.StepStatusFailed
			step.Error = err.Error()
			step.CompletedAt = &now
			d.storage.UpdateStep(step)
			failed = true
			d.logger.Error("failed to launch step",
				"experiment", exp.ID, "step", step.Name, "error", err)
			continue
		}

		pid := proc.Pid()
		step.PID = &pid
		step.StartedAt = &now
		step.Status = models.StepStatusRunning
		if err := d.storage.UpdateStep(step); err != nil {
			d.logger.Warn("failed to record step start", "step", step.Name, "error", err)
		}

		id := stepID(exp.ID, step.Name)
		d.manager.Add(proc, id)
		ids[step.ID] = id
		d.logger.Info("launched step", "experiment", exp.ID, "step", step.Name, "pid", pid)
	}

	d.waitForSteps(ids)

	for _, step := range steps {
		id, ok := ids[step.ID]
		if !ok {
			continue
		}
		now := time.Now()
		step.CompletedAt = &now

		if st, err := d.manager.TaskStatus(id); err == nil {
			code := st.ExitCode
			step.ExitCode = &code
			step.Status = models.StepStatusFailed
			step.Output = st.Output
			step.Error = st.Error
			failed = true
			d.logger.Error("step failed",
				"experiment", exp.ID, "step", step.Name, "exit_code", code)
		} else {
			// Success leaves no record in the monitor.
			zero := 0
			step.ExitCode = &zero
			step.Status = models.StepStatusComplete
		}
		if err := d.storage.UpdateStep(step); err != nil {
			d.logger.Warn("failed to record step outcome", "step", step.Name, "error", err)
		}
	}

	if dbTask != nil {
		d.manager.Remove(dbTask)
	}

	now := time.Now()
	exp.CompletedAt = &now
	if failed {
		exp.Status = models.ExperimentStatusFailed
		exp.Error = "one or more steps failed"
		if err := d.storage.UpdateExperiment(exp); err != nil {
			return err
		}
		return fmt.Errorf("experiment %d failed", exp.ID)
	}

	exp.Status = models.ExperimentStatusComplete
	return d.storage.UpdateExperiment(exp)
}

// waitForSteps blocks until none of the given step ids remain in the
// monitor's live set.
func (d *Driver) waitForSteps(ids map[int64]string) {
	for {
		running := 0
		for _, id := range ids {
			if _, err := d.manager.Get(id); err == nil {
				running++
			}
		}
		if running == 0 {
			return
		}
		time.Sleep(checkInterval)
	}
}

func findStepDef(sp *models.Spec, name string) *models.StepDef {
	for _, def := range sp.Steps {
		if def.Name == name {
			return def
		}
	}
	return nil
}

func (d *Driver) fail(exp *models.Experiment, reason error) error {
	now := time.Now()
	exp.Status = models.ExperimentStatusFailed
	exp.Error = reason.Error()
	exp.CompletedAt = &now
	if err := d.storage.UpdateExperiment(exp); err != nil {
		d.logger.Warn("failed to record experiment failure", "experiment", exp.ID, "error", err)
	}
	return reason
}

// Kill stops every running step of an experiment. Steps tracked by this
// process's monitor are evicted through it; otherwise the recorded pid's
// whole process group is killed, so children spawned by the step die too.
func (d *Driver) Kill(expID int64) error {
	exp, err := d.storage.GetExperiment(expID)
	if err != nil {
		return fmt.Errorf("failed to get experiment: %w", err)
	}

	steps, err := d.storage.GetStepsForExperiment(expID)
	if err != nil {
		return fmt.Errorf("failed to get steps: %w", err)
	}

	now := time.Now()
	for _, step := range steps {
		if step.Status != models.StepStatusRunning {
			continue
		}

		if t, err := d.manager.Get(stepID(expID, step.Name)); err == nil {
			d.manager.Remove(t)
		} else if step.PID != nil {
			if err := process.KillGroup(*step.PID); err != nil {
				d.logger.Warn("failed to kill step process group",
					"step", step.Name, "pid", *step.PID, "error", err)
			}
		}

		step.Status = models.StepStatusFailed
		step.CompletedAt = &now
		if err := d.storage.UpdateStep(step); err != nil {
			d.logger.Warn("failed to record killed step", "step", step.Name, "error", err)
		}
	}

	exp.Status = models.ExperimentStatusFailed
	exp.Error = "killed"
	exp.CompletedAt = &now
	return d.storage.UpdateExperiment(exp)
}

// Delete removes an experiment's workspace and database rows.
func (d *Driver) Delete(expID int64) error {
	exp, err := d.storage.GetExperiment(expID)
	if err != nil {
		return fmt.Errorf("failed to get experiment: %w", err)
	}

	if exp.Path != "" {
		os.RemoveAll(exp.Path)
	}

	return d.storage.DeleteExperiment(expID)
}

// Read methods for the TUI and CLI

func (d *Driver) ListExperiments(limit int) ([]*models.Experiment, error) {
	return d.storage.ListExperiments(limit)
}

func (d *Driver) GetExperiment(id int64) (*models.Experiment, error) {
	return d.storage.GetExperiment(id)
}

func (d *Driver) GetStepsForExperiment(expID int64) ([]*models.Step, error) {
	return d.storage.GetStepsForExperiment(expID)
}
