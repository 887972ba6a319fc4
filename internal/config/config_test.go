package config

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input   string
		level   slog.Level
		verbose bool
	}{
		{"developer", slog.LevelDebug, true},
		{"debug", slog.LevelDebug, false},
		{"quiet", slog.LevelError, false},
		{"warn", slog.LevelWarn, false},
		{"", slog.LevelInfo, false},
		{"bogus", slog.LevelInfo, false},
	}

	for _, tt := range tests {
		t.Run("level_"+tt.input, func(t *testing.T) {
			level, verbose := ParseLogLevel(tt.input)
			require.Equal(t, tt.level, level)
			require.Equal(t, tt.verbose, verbose)
		})
	}
}

func TestNewReadsEnvironment(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("SMARTSIM_DATA_DIR", dataDir)
	t.Setenv("SMARTSIM_LOG_LEVEL", "developer")
	t.Setenv("SMARTSIM_POLL_INTERVAL", "7")

	c, err := New()
	require.NoError(t, err)

	require.Equal(t, dataDir, c.DataDir)
	require.Equal(t, filepath.Join(dataDir, "smartsim.db"), c.DBPath)
	require.Equal(t, slog.LevelDebug, c.LogLevel)
	require.True(t, c.Verbose)
	require.Equal(t, 7*time.Second, c.PollInterval)
}

func TestNewIgnoresBadPollInterval(t *testing.T) {
	t.Setenv("SMARTSIM_DATA_DIR", t.TempDir())
	t.Setenv("SMARTSIM_POLL_INTERVAL", "not-a-number")

	c, err := New()
	require.NoError(t, err)
	require.Equal(t, 3*time.Second, c.PollInterval)
}

func TestEnsureDataDir(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "nested", "data")
	t.Setenv("SMARTSIM_DATA_DIR", dataDir)

	c, err := New()
	require.NoError(t, err)
	require.NoError(t, c.EnsureDataDir())
	require.DirExists(t, dataDir)
	require.DirExists(t, c.UserSpecDir)
}
