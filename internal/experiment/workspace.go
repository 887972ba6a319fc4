package experiment

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Workspace is the on-disk home of one experiment. Each step gets its own
// subdirectory seeded from the model's base configuration tree, so edits
// made for one step never leak into another.
type Workspace struct {
	Path string
}

func CreateWorkspace(baseDir string, expID int64) (*Workspace, error) {
	path := filepath.Join(baseDir, fmt.Sprintf("exp-%d", expID))
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create experiment directory: %w", err)
	}
	return &Workspace{Path: path}, nil
}

func (w *Workspace) StepDir(name string) string {
	return filepath.Join(w.Path, name)
}

// StageStep prepares the directory a step runs in, copying the base
// configuration tree into it when one is configured.
func (w *Workspace) StageStep(name, baseConfig string) (string, error) {
	dir := w.StepDir(name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create step directory: %w", err)
	}
	if baseConfig != "" {
		if err := copyTree(baseConfig, dir); err != nil {
			return "", fmt.Errorf("failed to stage base config: %w", err)
		}
	}
	return dir, nil
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode().Perm())
	})
}
