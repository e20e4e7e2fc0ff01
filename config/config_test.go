package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 1000, cfg.Cache.MaxEntries)
	assert.Equal(t, 10*1024*1024, cfg.Cache.MaxEntryBytes)
	assert.Equal(t, 5000, cfg.Decomposer.MaxQueryLength)
	assert.Equal(t, 1.5, cfg.Planner.DependencyMultiplier)
	assert.Equal(t, 4, cfg.Optimizer.MaxWorkers)
	assert.Equal(t, 10, cfg.Reasoner.MaxSteps)
	assert.Equal(t, 5*time.Second, cfg.Reasoner.StepTimeout)
	assert.Equal(t, 1000, cfg.Synthesizer.MaxAnswerLength)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
cache:
  enabled: false
  max_entries: 50
optimizer:
  max_workers: 8
reasoner:
  max_steps: 3
  step_timeout: 2s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, 50, cfg.Cache.MaxEntries)
	assert.Equal(t, 8, cfg.Optimizer.MaxWorkers)
	assert.Equal(t, 3, cfg.Reasoner.MaxSteps)
	assert.Equal(t, 2*time.Second, cfg.Reasoner.StepTimeout)
	// Untouched sections keep their defaults.
	assert.Equal(t, 5000, cfg.Decomposer.MaxQueryLength)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("optimizer:\n  max_workers: 8\n"), 0o644))

	t.Setenv("QUERYFLOW_MAX_WORKERS", "2")
	t.Setenv("QUERYFLOW_CACHE_ENABLED", "false")
	t.Setenv("QUERYFLOW_STEP_TIMEOUT", "500ms")
	t.Setenv("QUERYFLOW_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Optimizer.MaxWorkers)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, 500*time.Millisecond, cfg.Reasoner.StepTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_InvalidEnvIgnored(t *testing.T) {
	t.Setenv("QUERYFLOW_MAX_WORKERS", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Optimizer.MaxWorkers)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max entries", func(c *Config) { c.Cache.MaxEntries = 0 }},
		{"zero max query length", func(c *Config) { c.Decomposer.MaxQueryLength = 0 }},
		{"multiplier at one", func(c *Config) { c.Planner.DependencyMultiplier = 1.0 }},
		{"zero workers", func(c *Config) { c.Optimizer.MaxWorkers = 0 }},
		{"zero max steps", func(c *Config) { c.Reasoner.MaxSteps = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
