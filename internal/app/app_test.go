package app

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/repocore/repocore/internal/config"
	"github.com/repocore/repocore/internal/mocks"
)

func TestNewWiresEveryService(t *testing.T) {
	tempDir := t.TempDir()

	cfg := &config.Config{
		RepositoriesDirectory:        filepath.Join(tempDir, "repos"),
		MaxRetryAttempts:             3,
		RetryDelayMs:                 1000,
		PollingIntervalSeconds:       60,
		DefaultUpdateIntervalMinutes: 60,
		MinUpdateIntervalMinutes:     5,
		RetryBaseDelayMs:             1000,
		ManualTriggerPriority:        100,
		DatabasePath:                 filepath.Join(tempDir, "repocore.db"),
		HTTPAddr:                     ":0",
		LogLevel:                     "info",
		StartupSweepAgeMinutes:       30,
	}

	application, err := New(WithConfig(cfg), WithStore(mocks.NewStore()))
	require.NoError(t, err)
	require.NotNil(t, application.Worker)
	require.NotNil(t, application.Scheduler)
	require.NotNil(t, application.Workspace)
	require.NotNil(t, application.Logs)
	require.NoError(t, application.Close())
}
