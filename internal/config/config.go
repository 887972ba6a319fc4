package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rickybalin/SmartSim/internal/task"
)

type Config struct {
	DataDir        string
	DBPath         string
	UserSpecDir    string
	ProjectSpecDir string

	// LogLevel and Verbose come from SMARTSIM_LOG_LEVEL; the
	// "developer" level turns on monitor tracing.
	LogLevel slog.Level
	Verbose  bool

	// PollInterval is how often the task monitor sweeps its tasks.
	PollInterval time.Duration
}

func New() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	dataDir := getEnv("SMARTSIM_DATA_DIR", filepath.Join(homeDir, ".smartsim"))
	level, verbose := ParseLogLevel(os.Getenv("SMARTSIM_LOG_LEVEL"))

	interval := task.DefaultInterval
	if raw := os.Getenv("SMARTSIM_POLL_INTERVAL"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			interval = time.Duration(secs) * time.Second
		}
	}

	c := &Config{
		DataDir:        dataDir,
		DBPath:         filepath.Join(dataDir, "smartsim.db"),
		UserSpecDir:    filepath.Join(dataDir, "specs"),
		ProjectSpecDir: ".smartsim/specs",
		LogLevel:       level,
		Verbose:        verbose,
		PollInterval:   interval,
	}

	return c, nil
}

// ParseLogLevel maps a SMARTSIM_LOG_LEVEL string onto a slog level. The
// second return reports whether developer tracing was requested.
func ParseLogLevel(s string) (slog.Level, bool) {
	switch s {
	case "developer":
		return slog.LevelDebug, true
	case "debug":
		return slog.LevelDebug, false
	case "quiet":
		return slog.LevelError, false
	case "warn":
		return slog.LevelWarn, false
	default:
		return slog.LevelInfo, false
	}
}

// Logger builds the process-wide logger at the configured level.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: c.LogLevel}))
}

// MonitorLogger returns the logger handed to the task manager. Monitor
// tracing is only wanted at developer level, so everything below it is
// discarded otherwise.
func (c *Config) MonitorLogger(w io.Writer) *slog.Logger {
	level := c.LogLevel
	if !c.Verbose && level < slog.LevelInfo {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	if err := os.MkdirAll(c.UserSpecDir, 0755); err != nil {
		return err
	}
	return nil
}

func (c *Config) ExperimentsDir() string {
	return filepath.Join(c.DataDir, "experiments")
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
