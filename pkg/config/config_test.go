package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 1, cfg.MaxConcurrentJobs)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 60*time.Second, cfg.ShutdownGrace)
	assert.Equal(t, 3600*time.Second, cfg.JobTimeout)
	assert.Equal(t, "default", cfg.Environment)
	assert.True(t, cfg.EnableCheckpointing)
	assert.True(t, cfg.EnableCircuitBreaker)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("POSTGRES_URL", "postgres://localhost/casare")
	t.Setenv("CASARE_ROBOT_ID", "robot-env")
	t.Setenv("CASARE_MAX_CONCURRENT_JOBS", "4")
	t.Setenv("CASARE_POLL_INTERVAL", "0.5")
	t.Setenv("CASARE_ROBOT_TAGS", "browser, desktop ,")
	t.Setenv("CASARE_ENABLE_CHECKPOINTING", "false")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "robot-env", cfg.RobotID)
	assert.Equal(t, 4, cfg.MaxConcurrentJobs)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, []string{"browser", "desktop"}, cfg.Tags)
	assert.False(t, cfg.EnableCheckpointing)
}

func TestMissingBackendFailsValidation(t *testing.T) {
	t.Setenv("POSTGRES_URL", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SUPABASE_URL", "")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no backend configured")
}

func TestYAMLFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "robot.yaml")
	require.NoError(t, os.WriteFile(file, []byte(
		"postgres_url: postgres://db/casare\nmax_concurrent_jobs: 2\nenvironment: staging\n"), 0o644))

	cfg, err := Load(file)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.MaxConcurrentJobs)
	assert.Equal(t, "staging", cfg.Environment)
}

func TestEnsureRobotIDPersists(t *testing.T) {
	cfg := Default()
	cfg.DataDir = t.TempDir()

	id1, err := cfg.EnsureRobotID()
	require.NoError(t, err)
	require.NotEmpty(t, id1)

	// A fresh config in the same data dir reads the same identity back
	other := Default()
	other.DataDir = cfg.DataDir
	id2, err := other.EnsureRobotID()
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}
