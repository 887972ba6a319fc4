package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rickybalin/SmartSim/internal/experiment"
	"github.com/rickybalin/SmartSim/internal/models"
)

type View int

const (
	ViewExperimentList View = iota
	ViewExperimentDetail
	ViewStepOutput
)

type App struct {
	driver *experiment.Driver

	view            View
	experiments     []*models.Experiment
	selectedIdx     int
	selectedExp     *models.Experiment
	steps           []*models.Step
	selectedStepIdx int

	spin   spinner.Model
	width  int
	height int
	err    error
}

func NewApp(driver *experiment.Driver) *App {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = statusRunning
	return &App{
		driver: driver,
		view:   ViewExperimentList,
		spin:   s,
	}
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.loadExperiments, a.tickCmd(), a.spin.Tick)
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (a *App) hasRunningExperiments() bool {
	for _, exp := range a.experiments {
		switch exp.Status {
		case models.ExperimentStatusRunning, models.ExperimentStatusGenerating:
			return true
		}
	}
	return false
}

type tickMsg time.Time

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spin, cmd = a.spin.Update(msg)
		return a, cmd

	case experimentsLoadedMsg:
		a.experiments = msg.experiments
		a.err = msg.err
		return a, nil

	case tickMsg:
		if a.view == ViewExperimentDetail && a.selectedExp != nil {
			return a, tea.Batch(a.loadDetail(a.selectedExp.ID), a.tickCmd())
		}
		if a.hasRunningExperiments() {
			return a, tea.Batch(a.loadExperiments, a.tickCmd())
		}
		// Keep ticking to pick up new experiments
		return a, a.tickCmd()

	case detailLoadedMsg:
		if msg.err != nil {
			a.err = msg.err
			return a, nil
		}
		a.selectedExp = msg.experiment
		a.steps = msg.steps
		a.view = ViewExperimentDetail
		return a, nil

	case experimentKilledMsg:
		a.err = msg.err
		return a, a.loadExperiments

	case experimentDeletedMsg:
		a.err = msg.err
		if a.selectedIdx >= len(a.experiments)-1 && a.selectedIdx > 0 {
			a.selectedIdx--
		}
		return a, a.loadExperiments
	}

	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch a.view {
	case ViewExperimentList:
		return a.handleListKey(msg)
	case ViewExperimentDetail:
		return a.handleDetailKey(msg)
	case ViewStepOutput:
		return a.handleOutputKey(msg)
	}
	return a, nil
}

func (a *App) handleListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit

	case "up", "k":
		if a.selectedIdx > 0 {
			a.selectedIdx--
		}

	case "down", "j":
		if a.selectedIdx < len(a.experiments)-1 {
			a.selectedIdx++
		}

	case "enter":
		if len(a.experiments) > 0 && a.selectedIdx < len(a.experiments) {
			return a, a.loadDetail(a.experiments[a.selectedIdx].ID)
		}

	case "r":
		return a, a.loadExperiments

	case "x":
		if len(a.experiments) > 0 && a.selectedIdx < len(a.experiments) {
			return a, a.killExperiment(a.experiments[a.selectedIdx].ID)
		}

	case "d":
		if len(a.experiments) > 0 && a.selectedIdx < len(a.experiments) {
			return a, a.deleteExperiment(a.experiments[a.selectedIdx].ID)
		}
	}

	return a, nil
}

func (a *App) handleDetailKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		a.view = ViewExperimentList
		a.selectedExp = nil
		a.steps = nil
		a.selectedStepIdx = 0

	case "ctrl+c":
		return a, tea.Quit

	case "up", "k":
		if a.selectedStepIdx > 0 {
			a.selectedStepIdx--
		}

	case "down", "j":
		if a.selectedStepIdx < len(a.steps)-1 {
			a.selectedStepIdx++
		}

	case "enter", "o":
		if len(a.steps) > 0 && a.selectedStepIdx < len(a.steps) {
			a.view = ViewStepOutput
		}
	}

	return a, nil
}

func (a *App) handleOutputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		a.view = ViewExperimentDetail
	case "ctrl+c":
		return a, tea.Quit
	}
	return a, nil
}

func (a *App) View() string {
	switch a.view {
	case ViewExperimentDetail:
		return a.viewDetail()
	case ViewStepOutput:
		return a.viewStepOutput()
	default:
		return a.viewList()
	}
}

// Styles

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	statusRunning  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	statusComplete = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	statusFailed   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusPending  = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

func (a *App) viewList() string {
	s := titleStyle.Render("SmartSim") + "\n\n"

	if a.err != nil {
		s += fmt.Sprintf("Error: %v\n", a.err)
	}

	if len(a.experiments) == 0 {
		s += "No experiments yet. Start one with `smartsim run <spec>`.\n"
	} else {
		s += "Experiments\n"
		s += "───────────\n"

		for i, exp := range a.experiments {
			line := a.formatExperimentLine(exp)
			isSelected := i == a.selectedIdx
			isActive := exp.Status == models.ExperimentStatusRunning ||
				exp.Status == models.ExperimentStatusGenerating

			if isSelected {
				line = selectedStyle.Render("▶ " + line)
			} else if !isActive {
				line = "  " + dimStyle.Render(line)
			} else {
				line = "  " + line
			}
			s += line + "\n"
		}
	}

	s += "\n" + helpStyle.Render("[enter] view  [x] kill  [d] delete  [r] refresh  [q] quit")

	return s
}

func (a *App) formatExperimentLine(exp *models.Experiment) string {
	status := a.formatExpStatus(exp.Status)
	age := formatAge(exp.CreatedAt)
	return fmt.Sprintf("#%-3d %-18s %s  %-6s", exp.ID, truncate(exp.Name, 18), status, age)
}

func (a *App) formatExpStatus(status models.ExperimentStatus) string {
	switch status {
	case models.ExperimentStatusRunning:
		return a.spin.View() + statusRunning.Render(" running")
	case models.ExperimentStatusGenerating:
		return a.spin.View() + statusRunning.Render(" generating")
	case models.ExperimentStatusComplete:
		return statusComplete.Render("✓ complete")
	case models.ExperimentStatusFailed:
		return statusFailed.Render("✗ failed")
	default:
		return statusPending.Render(string(status))
	}
}

func (a *App) viewDetail() string {
	if a.selectedExp == nil {
		return "No experiment selected"
	}

	exp := a.selectedExp

	header := fmt.Sprintf("Experiment #%d: %s", exp.ID, exp.Name)
	s := titleStyle.Render(header) + "  " + a.formatExpStatus(exp.Status) + "\n\n"

	s += labelStyle.Render("Spec: ") + exp.SpecName + "\n"
	s += labelStyle.Render("Path: ") + dimStyle.Render(exp.Path) + "\n"
	if exp.Error != "" {
		s += labelStyle.Render("Error: ") + statusFailed.Render(exp.Error) + "\n"
	}
	s += "\nSteps\n"
	s += "─────\n"

	if len(a.steps) == 0 {
		s += "(no steps yet)\n"
	} else {
		for i, step := range a.steps {
			marker := "○"
			switch step.Status {
			case models.StepStatusComplete:
				marker = statusComplete.Render("✓")
			case models.StepStatusRunning:
				marker = statusRunning.Render("●")
			case models.StepStatusFailed:
				marker = statusFailed.Render("✗")
			}

			exitCode := ""
			if step.ExitCode != nil {
				if *step.ExitCode == 0 {
					exitCode = dimStyle.Render("exit:0")
				} else {
					exitCode = statusFailed.Render(fmt.Sprintf("exit:%d", *step.ExitCode))
				}
			}

			duration := ""
			if step.StartedAt != nil && step.CompletedAt != nil {
				duration = dimStyle.Render(formatDuration(step.CompletedAt.Sub(*step.StartedAt)))
			} else if step.StartedAt != nil && step.Status == models.StepStatusRunning {
				duration = statusRunning.Render(formatDuration(time.Since(*step.StartedAt)) + "...")
			}

			line := fmt.Sprintf("%d. %-14s %s", step.SequenceNum, step.Name, marker)
			if exitCode != "" {
				line += "  " + exitCode
			}
			if duration != "" {
				line += "  " + fmt.Sprintf("%6s", duration)
			}

			if i == a.selectedStepIdx {
				line = selectedStyle.Render("▶ " + line)
			} else {
				line = "  " + line
			}
			s += line + "\n"
		}
	}

	s += "\n" + helpStyle.Render("[↑/↓] select  [enter] output  [esc] back  [q] quit")

	return s
}

func (a *App) viewStepOutput() string {
	if len(a.steps) == 0 || a.selectedStepIdx >= len(a.steps) {
		return "No step selected"
	}
	step := a.steps[a.selectedStepIdx]

	s := titleStyle.Render("Step: "+step.Name) + "\n\n"

	if step.Output == "" && step.Error == "" {
		s += dimStyle.Render("(no captured output; only failed steps keep their output)") + "\n"
	}
	if step.Output != "" {
		s += labelStyle.Render("stdout") + "\n" + step.Output + "\n"
	}
	if step.Error != "" {
		s += labelStyle.Render("stderr") + "\n" + step.Error + "\n"
	}

	s += "\n" + helpStyle.Render("[esc] back  [q] quit")

	return s
}

// Messages

type experimentsLoadedMsg struct {
	experiments []*models.Experiment
	err         error
}

type detailLoadedMsg struct {
	experiment *models.Experiment
	steps      []*models.Step
	err        error
}

type experimentKilledMsg struct {
	id  int64
	err error
}

type experimentDeletedMsg struct {
	id  int64
	err error
}

// Commands

func (a *App) loadExperiments() tea.Msg {
	exps, err := a.driver.ListExperiments(20)
	return experimentsLoadedMsg{experiments: exps, err: err}
}

func (a *App) loadDetail(id int64) tea.Cmd {
	return func() tea.Msg {
		exp, err := a.driver.GetExperiment(id)
		if err != nil {
			return detailLoadedMsg{err: err}
		}
		steps, err := a.driver.GetStepsForExperiment(id)
		return detailLoadedMsg{experiment: exp, steps: steps, err: err}
	}
}

func (a *App) killExperiment(id int64) tea.Cmd {
	return func() tea.Msg {
		if err := a.driver.Kill(id); err != nil {
			return experimentKilledMsg{err: err}
		}
		return experimentKilledMsg{id: id}
	}
}

func (a *App) deleteExperiment(id int64) tea.Cmd {
	return func() tea.Msg {
		if err := a.driver.Delete(id); err != nil {
			return experimentDeletedMsg{err: err}
		}
		return experimentDeletedMsg{id: id}
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
