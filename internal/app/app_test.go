package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hydrocli/internal/license"
)

func TestApplicationLifecycle(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("HYDRO_PATHS_DATA_DIR", dataDir)
	t.Setenv("HYDRO_PATHS_BACKUP_DIR", t.TempDir())
	t.Setenv("HYDRO_PATHS_LOGS_DIR", t.TempDir())
	t.Setenv("HYDRO_SERVER_PORT", "0")
	t.Setenv("HYDRO_LOGGING_OUTPUT", "console")
	t.Setenv("HYDRO_LOGGING_LEVEL", "error")

	application, err := NewApplication()
	require.NoError(t, err)

	require.NotNil(t, application.Store)
	require.NotNil(t, application.Queue)
	require.NotNil(t, application.Manager)
	require.NotNil(t, application.Server)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	require.NoError(t, application.Start(ctx, errCh))

	// A fresh install has no license yet; the core still runs.
	assert.Equal(t, license.StatusNotFound, application.Manager.CurrentStatus())

	select {
	case err := <-errCh:
		t.Fatalf("server failed to start: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, application.Stop(ctx))
}

func TestConfiguredThresholdsReachStore(t *testing.T) {
	t.Setenv("HYDRO_PATHS_DATA_DIR", t.TempDir())
	t.Setenv("HYDRO_PATHS_BACKUP_DIR", t.TempDir())
	t.Setenv("HYDRO_PATHS_LOGS_DIR", t.TempDir())
	t.Setenv("HYDRO_SERVER_PORT", "0")
	t.Setenv("HYDRO_LOGGING_OUTPUT", "console")
	t.Setenv("HYDRO_LOGGING_LEVEL", "error")
	t.Setenv("HYDRO_LICENSE_CLOCK_ROLLBACK_GRACE", "2h")
	t.Setenv("HYDRO_LICENSE_SERVER_DRIFT_THRESHOLD", "45m")

	application, err := NewApplication()
	require.NoError(t, err)
	defer application.Queue.Close()

	opts := application.Store.Options()
	assert.Equal(t, 2*time.Hour, opts.ClockRollbackGrace)
	assert.Equal(t, 45*time.Minute, opts.ServerDriftThreshold)
}
