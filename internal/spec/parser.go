package spec

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rickybalin/SmartSim/internal/confwriter"
	"github.com/rickybalin/SmartSim/internal/models"
	"gopkg.in/yaml.v3"
)

func Parse(path string) (*models.Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read spec file: %w", err)
	}

	var spec models.Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse spec YAML: %w", err)
	}

	if spec.Settings == nil {
		spec.Settings = &models.Settings{Interface: "lo"}
	}
	if spec.Settings.Interface == "" {
		spec.Settings.Interface = "lo"
	}

	return &spec, nil
}

func LoadAll(dirs []string) (map[string]*models.Spec, error) {
	specs := make(map[string]*models.Spec)

	for _, dir := range dirs {
		if err := loadFromDir(dir, specs); err != nil {
			// Skip directories that don't exist
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
	}

	return specs, nil
}

func loadFromDir(dir string, specs map[string]*models.Spec) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		spec, err := Parse(path)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}

		// Use spec name from file, or filename without extension
		specName := spec.Name
		if specName == "" {
			specName = strings.TrimSuffix(strings.TrimSuffix(name, ".yaml"), ".yml")
		}

		specs[specName] = spec
	}

	return nil
}

func Validate(spec *models.Spec) error {
	if spec.Name == "" {
		return fmt.Errorf("spec must have a name")
	}

	if spec.Model == nil || spec.Model.Executable == "" {
		return fmt.Errorf("spec must define a model executable")
	}

	if len(spec.Steps) == 0 {
		return fmt.Errorf("spec must define at least one step")
	}

	seen := make(map[string]bool, len(spec.Steps))
	for _, step := range spec.Steps {
		if step.Name == "" {
			return fmt.Errorf("step must have a name")
		}
		if seen[step.Name] {
			return fmt.Errorf("duplicate step name %q", step.Name)
		}
		seen[step.Name] = true
	}

	for _, cfg := range spec.Configs {
		if cfg.Path == "" {
			return fmt.Errorf("config entry must have a path")
		}
		switch cfg.Format {
		case confwriter.FormatNamelist, confwriter.FormatText:
		default:
			return fmt.Errorf("config %s has unsupported format %q", cfg.Path, cfg.Format)
		}
	}

	return nil
}
