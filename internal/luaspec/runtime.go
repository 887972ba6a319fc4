package luaspec

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/rickybalin/SmartSim/internal/confwriter"
	"github.com/rickybalin/SmartSim/internal/models"
	"github.com/rickybalin/SmartSim/internal/process"
	"github.com/rickybalin/SmartSim/internal/storage"
	"github.com/rickybalin/SmartSim/internal/task"
)

// checkInterval matches the cadence used when waiting for a launched step
// to drain out of the monitor.
const checkInterval = 200 * time.Millisecond

// Runtime executes Lua experiment scripts in a sandboxed environment. A
// script defines an `experiment(name)` function and drives the phases
// itself through the registered API:
//
//	configure(path, params, format) -- edit a staged config file
//	run(name, exe, args)            -- launch a step and wait for it
//	log(msg)                        -- diagnostic output
type Runtime struct {
	storage   *storage.Storage
	exp       *models.Experiment
	manager   *task.Manager
	logger    *slog.Logger
	callIndex int
	failed    bool
}

func NewRuntime(store *storage.Storage, exp *models.Experiment, manager *task.Manager, logger *slog.Logger) *Runtime {
	return &Runtime{
		storage: store,
		exp:     exp,
		manager: manager,
		logger:  logger,
	}
}

// IsLuaSpec reports whether path looks like a Lua experiment script.
func IsLuaSpec(path string) bool {
	if !strings.HasSuffix(path, ".lua") {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// Execute runs the script's experiment function and records the outcome.
func (r *Runtime) Execute(scriptPath string) error {
	script, err := os.ReadFile(scriptPath)
	if err != nil {
		return fmt.Errorf("failed to read script: %w", err)
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs: true, // Don't load any libraries by default
	})
	defer L.Close()

	r.openSafeLibs(L)
	r.registerAPI(L)

	if err := L.DoString(string(script)); err != nil {
		return r.markFailed(fmt.Errorf("failed to load script: %w", err))
	}

	fn := L.GetGlobal("experiment")
	if fn == lua.LNil {
		return r.markFailed(fmt.Errorf("script must define an 'experiment' function"))
	}

	r.exp.Status = models.ExperimentStatusRunning
	if err := r.storage.UpdateExperiment(r.exp); err != nil {
		return err
	}

	L.Push(fn)
	L.Push(lua.LString(r.exp.Name))
	if err := L.PCall(1, 0, nil); err != nil {
		return r.markFailed(fmt.Errorf("experiment script failed: %w", err))
	}

	if r.failed {
		return r.markFailed(fmt.Errorf("one or more steps failed"))
	}
	return r.markComplete()
}

// openSafeLibs loads only the standard libraries a config script needs.
func (r *Runtime) openSafeLibs(L *lua.LState) {
	lua.OpenBase(L)

	// Remove the escape hatches
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("print", lua.LNil) // Use log() instead

	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

func (r *Runtime) registerAPI(L *lua.LState) {
	L.SetGlobal("configure", L.NewFunction(r.luaConfigure))
	L.SetGlobal("run", L.NewFunction(r.luaRun))
	L.SetGlobal("log", L.NewFunction(r.luaLog))
}

// luaConfigure implements configure(path, params, format)
func (r *Runtime) luaConfigure(L *lua.LState) int {
	path := L.CheckString(1)
	tbl := L.CheckTable(2)
	format := L.CheckString(3)

	params := tableToMap(tbl)
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.exp.Path, path)
	}

	if err := confwriter.Apply(params, path, format); err != nil {
		L.RaiseError("configure failed: %v", err)
		return 0
	}
	r.logger.Debug("configured file", "path", path, "params", len(params))
	return 0
}

// luaRun implements run(name, exe, args?). It launches the process in the
// experiment directory, hands it to the task monitor and blocks until the
// monitor has seen it finish, then returns a result table.
func (r *Runtime) luaRun(L *lua.LState) int {
	name := L.CheckString(1)
	exe := L.CheckString(2)

	var args []string
	if L.GetTop() >= 3 {
		argsTbl := L.CheckTable(3)
		argsTbl.ForEach(func(_, v lua.LValue) {
			args = append(args, lua.LVAsString(v))
		})
	}

	r.callIndex++
	step := &models.Step{
		ExperimentID: r.exp.ID,
		Name:         name,
		Status:       models.StepStatusPending,
		SequenceNum:  r.callIndex,
	}
	id, err := r.storage.CreateStep(step)
	if err != nil {
		L.RaiseError("failed to create step record: %v", err)
		return 0
	}
	step.ID = id

	proc, err := process.Start(exe, args, process.Options{
		Dir:             r.exp.Path,
		Capture:         true,
		NewProcessGroup: true,
	})
	now := time.Now()
	if err != nil {
		step.Status = models.StepStatusFailed
		step.Error = err.Error()
		step.CompletedAt = &now
		r.storage.UpdateStep(step)
		r.failed = true
		L.RaiseError("failed to launch step %s: %v", name, err)
		return 0
	}

	pid := proc.Pid()
	step.PID = &pid
	step.StartedAt = &now
	step.Status = models.StepStatusRunning
	r.storage.UpdateStep(step)

	trackID := fmt.Sprintf("exp%d/%s", r.exp.ID, name)
	r.manager.Add(proc, trackID)

	for {
		if _, err := r.manager.Get(trackID); err != nil {
			break
		}
		time.Sleep(checkInterval)
	}

	result := L.NewTable()
	completed := time.Now()
	step.CompletedAt = &completed

	if st, err := r.manager.TaskStatus(trackID); err == nil {
		code := st.ExitCode
		step.ExitCode = &code
		step.Status = models.StepStatusFailed
		step.Output = st.Output
		step.Error = st.Error
		r.failed = true

		L.SetField(result, "exit_code", lua.LNumber(code))
		L.SetField(result, "output", lua.LString(st.Output))
		L.SetField(result, "error", lua.LString(st.Error))
		L.SetField(result, "failed", lua.LTrue)
	} else {
		zero := 0
		step.ExitCode = &zero
		step.Status = models.StepStatusComplete

		L.SetField(result, "exit_code", lua.LNumber(0))
		L.SetField(result, "failed", lua.LFalse)
	}
	r.storage.UpdateStep(step)

	L.Push(result)
	return 1
}

// luaLog implements log(msg)
func (r *Runtime) luaLog(L *lua.LState) int {
	msg := L.CheckString(1)
	r.logger.Info(msg, "experiment", r.exp.ID)
	return 0
}

func (r *Runtime) markComplete() error {
	now := time.Now()
	r.exp.Status = models.ExperimentStatusComplete
	r.exp.CompletedAt = &now
	return r.storage.UpdateExperiment(r.exp)
}

func (r *Runtime) markFailed(reason error) error {
	now := time.Now()
	r.exp.Status = models.ExperimentStatusFailed
	r.exp.Error = reason.Error()
	r.exp.CompletedAt = &now
	if err := r.storage.UpdateExperiment(r.exp); err != nil {
		r.logger.Warn("failed to record experiment failure", "error", err)
	}
	return reason
}

// tableToMap converts a flat Lua table into parameter values confwriter
// understands.
func tableToMap(tbl *lua.LTable) map[string]any {
	params := make(map[string]any)
	tbl.ForEach(func(k, v lua.LValue) {
		key := lua.LVAsString(k)
		switch val := v.(type) {
		case lua.LBool:
			params[key] = bool(val)
		case lua.LNumber:
			params[key] = float64(val)
		case lua.LString:
			params[key] = string(val)
		default:
			params[key] = lua.LVAsString(v)
		}
	})
	return params
}
