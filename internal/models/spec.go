package models

type Spec struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Model       *ModelDef    `yaml:"model"`
	Configs     []*ConfigDef `yaml:"configs"`
	Steps       []*StepDef   `yaml:"steps"`
	Settings    *Settings    `yaml:"settings"`
}

type ModelDef struct {
	Executable string   `yaml:"executable"`
	Args       []string `yaml:"args,omitempty"`
	BaseConfig string   `yaml:"base_config,omitempty"`
}

type ConfigDef struct {
	Path   string `yaml:"path"`
	Format string `yaml:"format"`
}

type StepDef struct {
	Name   string         `yaml:"name"`
	Params map[string]any `yaml:"params,omitempty"`
	Args   []string       `yaml:"args,omitempty"`
}

type Settings struct {
	// Database is an optional server command launched alongside the
	// steps, bound to Interface.
	Database  string `yaml:"database,omitempty"`
	Interface string `yaml:"interface,omitempty"`
}
