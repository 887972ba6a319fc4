package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/rickybalin/SmartSim/internal/config"
	"github.com/rickybalin/SmartSim/internal/database"
	"github.com/rickybalin/SmartSim/internal/experiment"
	"github.com/rickybalin/SmartSim/internal/luaspec"
	"github.com/rickybalin/SmartSim/internal/models"
	"github.com/rickybalin/SmartSim/internal/spec"
	"github.com/rickybalin/SmartSim/internal/storage"
	"github.com/rickybalin/SmartSim/internal/task"
	"github.com/rickybalin/SmartSim/internal/tui"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "smartsim",
		Short: "Simulation experiment launcher",
		Long:  "SmartSim stages simulation experiments, launches their processes and watches them until they finish.",
		RunE:  runTUI,
	}

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newLaunchDBCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newKillCommand())
	rootCmd.AddCommand(newDeleteCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup wires the shared pieces every command needs. The caller owns
// closing the returned store.
func setup() (*config.Config, *storage.Storage, *experiment.Driver, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.New(cfg.DBPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	logger := cfg.Logger(os.Stderr)
	manager := task.NewManager(
		task.WithInterval(cfg.PollInterval),
		task.WithLogger(cfg.MonitorLogger(os.Stderr)),
	)
	driver := experiment.New(store, cfg.ExperimentsDir(), manager, logger)

	return cfg, store, driver, nil
}

func runTUI(cmd *cobra.Command, args []string) error {
	_, store, driver, err := setup()
	if err != nil {
		return err
	}
	defer store.Close()

	app := tui.NewApp(driver)
	p := tea.NewProgram(app, tea.WithAltScreen())

	_, err = p.Run()
	return err
}

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <spec> [name]",
		Short: "Generate and run an experiment",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			specName := args[0]
			expName := ""
			if len(args) > 1 {
				expName = args[1]
			}
			noExec, _ := cmd.Flags().GetBool("no-exec")

			cfg, store, driver, err := setup()
			if err != nil {
				return err
			}
			defer store.Close()

			// Lua scripts drive both phases themselves
			if luaPath := findLuaSpec(specName, cfg); luaPath != "" {
				return runLuaSpec(cfg, store, driver, luaPath, expName)
			}

			specs, err := spec.LoadAll([]string{cfg.ProjectSpecDir, cfg.UserSpecDir})
			if err != nil {
				return err
			}

			s, ok := specs[specName]
			if !ok {
				return fmt.Errorf("spec %q not found", specName)
			}
			if err := spec.Validate(s); err != nil {
				return fmt.Errorf("invalid spec %q: %w", specName, err)
			}

			exp, err := driver.Create(s, expName)
			if err != nil {
				return fmt.Errorf("failed to create experiment: %w", err)
			}

			fmt.Printf("Created experiment #%d\n", exp.ID)
			fmt.Printf("Path: %s\n", exp.Path)

			if err := driver.Generate(exp, s); err != nil {
				return fmt.Errorf("generation failed: %w", err)
			}

			if noExec {
				fmt.Println("Skipping execution (--no-exec)")
				return nil
			}

			fmt.Printf("Running experiment %q...\n", exp.Name)
			if err := driver.Run(exp, s); err != nil {
				return fmt.Errorf("run failed: %w", err)
			}

			fmt.Printf("Experiment completed with status: %s\n", exp.Status)
			return nil
		},
	}

	cmd.Flags().Bool("no-exec", false, "Stage the experiment but don't run it")
	return cmd
}

// findLuaSpec looks for a Lua experiment script in the standard locations
func findLuaSpec(name string, cfg *config.Config) string {
	dirs := []string{cfg.ProjectSpecDir, cfg.UserSpecDir}

	for _, dir := range dirs {
		if strings.HasSuffix(name, ".lua") {
			path := filepath.Join(dir, name)
			if luaspec.IsLuaSpec(path) {
				return path
			}
		}

		path := filepath.Join(dir, name+".lua")
		if luaspec.IsLuaSpec(path) {
			return path
		}
	}

	// Allow a direct path to a script
	if luaspec.IsLuaSpec(name) {
		return name
	}

	return ""
}

func runLuaSpec(cfg *config.Config, store *storage.Storage, driver *experiment.Driver, scriptPath, expName string) error {
	if expName == "" {
		expName = strings.TrimSuffix(filepath.Base(scriptPath), ".lua")
	}

	sp := &models.Spec{Name: expName, Model: &models.ModelDef{Executable: "lua"}}
	exp, err := driver.Create(sp, expName)
	if err != nil {
		return fmt.Errorf("failed to create experiment: %w", err)
	}

	fmt.Printf("Created experiment #%d (Lua script)\n", exp.ID)
	fmt.Printf("Path: %s\n", exp.Path)
	fmt.Printf("Script: %s\n", scriptPath)

	logger := cfg.Logger(os.Stderr)
	manager := task.NewManager(
		task.WithInterval(cfg.PollInterval),
		task.WithLogger(cfg.MonitorLogger(os.Stderr)),
	)

	rt := luaspec.NewRuntime(store, exp, manager, logger)
	if err := rt.Execute(scriptPath); err != nil {
		fmt.Printf("Experiment completed with status: %s\n", exp.Status)
		return fmt.Errorf("execution failed: %w", err)
	}

	fmt.Printf("Experiment completed with status: %s\n", exp.Status)
	return nil
}

func newLaunchDBCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "launch-db -- <command...>",
		Short: "Launch a database server bound to a network interface",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ifname, _ := cmd.Flags().GetString("ifname")

			cfg, err := config.New()
			if err != nil {
				return err
			}

			starter := database.NewStarter(ifname, os.Stdout, cfg.Logger(os.Stderr))
			return starter.Run(strings.Join(args, " "))
		},
	}

	cmd.Flags().String("ifname", "lo", "Network interface to bind the server to")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <experiment-id>",
		Short: "Show experiment status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			expID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid experiment ID: %w", err)
			}

			_, store, driver, err := setup()
			if err != nil {
				return err
			}
			defer store.Close()

			exp, err := driver.GetExperiment(expID)
			if err != nil {
				return fmt.Errorf("failed to get experiment: %w", err)
			}

			fmt.Printf("Experiment #%d: %s\n", exp.ID, exp.Name)
			fmt.Printf("Spec: %s\n", exp.SpecName)
			fmt.Printf("Status: %s\n", exp.Status)
			fmt.Printf("Path: %s\n", exp.Path)
			if exp.Error != "" {
				fmt.Printf("Error: %s\n", exp.Error)
			}

			steps, err := driver.GetStepsForExperiment(expID)
			if err != nil {
				return err
			}

			if len(steps) > 0 {
				fmt.Println("\nSteps:")
				for _, step := range steps {
					status := string(step.Status)
					if step.ExitCode != nil {
						status += fmt.Sprintf(" (exit %d)", *step.ExitCode)
					}
					fmt.Printf("  %d. %s [%s]\n", step.SequenceNum, step.Name, status)
					if step.Error != "" {
						fmt.Printf("     %s\n", strings.TrimSpace(step.Error))
					}
				}
			}

			return nil
		},
	}
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recent experiments",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, driver, err := setup()
			if err != nil {
				return err
			}
			defer store.Close()

			exps, err := driver.ListExperiments(20)
			if err != nil {
				return err
			}

			if len(exps) == 0 {
				fmt.Println("No experiments found.")
				return nil
			}

			for _, exp := range exps {
				fmt.Printf("#%d %s [%s] %s\n", exp.ID, exp.Name, exp.Status, exp.SpecName)
			}

			return nil
		},
	}
}

func newKillCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "kill <experiment-id>",
		Short: "Kill a running experiment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			expID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid experiment ID: %w", err)
			}

			_, store, driver, err := setup()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := driver.Kill(expID); err != nil {
				return fmt.Errorf("failed to kill experiment: %w", err)
			}

			fmt.Printf("Killed experiment #%d\n", expID)
			return nil
		},
	}
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <experiment-id>",
		Short: "Delete an experiment and its workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			expID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid experiment ID: %w", err)
			}

			_, store, driver, err := setup()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := driver.Delete(expID); err != nil {
				return fmt.Errorf("failed to delete experiment: %w", err)
			}

			fmt.Printf("Deleted experiment #%d\n", expID)
			return nil
		},
	}
}
