package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8710, cfg.Server.Port)
	assert.Equal(t, 7, cfg.License.GracePeriodDays)
	assert.Equal(t, 14, cfg.License.ExpiringSoonDays)
	assert.Equal(t, 10*time.Second, cfg.License.NetworkTimeout)
	assert.Equal(t, time.Hour, cfg.License.ClockRollbackGrace)
	assert.Equal(t, 30*time.Minute, cfg.License.ServerDriftThreshold)
	assert.Equal(t, 5, cfg.Queue.DefaultMaxAttempts)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("HYDRO_LICENSE_GRACE_PERIOD_DAYS", "14")
	t.Setenv("HYDRO_LOGGING_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 14, cfg.License.GracePeriodDays)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "defaults are valid",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: true,
		},
		{
			name:    "negative grace period",
			mutate:  func(c *Config) { c.License.GracePeriodDays = -1 },
			wantErr: true,
		},
		{
			name:    "zero network timeout",
			mutate:  func(c *Config) { c.License.NetworkTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero max attempts",
			mutate:  func(c *Config) { c.Queue.DefaultMaxAttempts = 0 },
			wantErr: true,
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBuildPaths(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{}
	cfg.Paths.ExecutableDir = dir
	cfg.Paths.DataDir = filepath.Join(dir, "data")
	cfg.Paths.BackupDir = filepath.Join(dir, "backup")
	cfg.Paths.LogsDir = filepath.Join(dir, "logs")
	cfg.Queue.DatabaseFile = filepath.Join(dir, "data", "offline-queue.db")

	paths := BuildPaths(cfg)
	require.NoError(t, paths.EnsureDirs())

	assert.Equal(t, filepath.Join(dir, "data", "license.dat"), paths.LicenseFile)
	assert.Equal(t, filepath.Join(dir, "backup", "license.bak"), paths.BackupLicenseFile)
	assert.Equal(t, filepath.Join(dir, "backup", "license.bak.sum"), paths.BackupChecksumFile)

	for _, d := range []string{paths.DataDir, paths.BackupDir, paths.LogsDir} {
		info, err := os.Stat(d)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "present.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	assert.True(t, FileExists(file))
	assert.False(t, FileExists(filepath.Join(dir, "absent.txt")))
	assert.False(t, FileExists(dir))
}
