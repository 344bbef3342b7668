package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0.05, cfg.Drift.KSAlpha)
	assert.Equal(t, 10, cfg.Drift.PSIBins)
	assert.Equal(t, 0.2, cfg.Drift.PSIThreshold)
	assert.Equal(t, int64(1000), cfg.Retraining.VolumeThreshold)
	assert.Equal(t, 0.05, cfg.Promotion.ImprovementThreshold)
	assert.Equal(t, "roc_auc", cfg.Promotion.PrimaryMetric)
	assert.Equal(t, 0.1, cfg.ABTesting.WinnerGap)
	assert.Equal(t, 300*time.Second, cfg.Alerting.Cooldown)
	assert.Equal(t, "memory", cfg.Storage.Backend)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"alpha out of range", func(c *Config) { c.Drift.KSAlpha = 1.5 }},
		{"too few bins", func(c *Config) { c.Drift.PSIBins = 1 }},
		{"negative psi threshold", func(c *Config) { c.Drift.PSIThreshold = -1 }},
		{"empty primary metric", func(c *Config) { c.Promotion.PrimaryMetric = "" }},
		{"zero winner gap", func(c *Config) { c.ABTesting.WinnerGap = 0 }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "cassandra" }},
		{"badger without path", func(c *Config) { c.Storage.Backend = "badger"; c.Storage.Path = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
service:
  name: guard-test
drift:
  ks_alpha: 0.01
  psi_bins: 20
retraining:
  volume_threshold: 5000
  job_timeout: 1h
storage:
  backend: badger
  path: /tmp/guard
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := NewLoader("MODELGUARD").Load(path)
	require.NoError(t, err)

	assert.Equal(t, "guard-test", cfg.Service.Name)
	assert.Equal(t, 0.01, cfg.Drift.KSAlpha)
	assert.Equal(t, 20, cfg.Drift.PSIBins)
	assert.Equal(t, int64(5000), cfg.Retraining.VolumeThreshold)
	assert.Equal(t, time.Hour, cfg.Retraining.JobTimeout)
	assert.Equal(t, "badger", cfg.Storage.Backend)

	// Untouched fields keep their defaults.
	assert.Equal(t, 0.2, cfg.Drift.PSIThreshold)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := NewLoader("MODELGUARD").Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MODELGUARD_DRIFT_PSI_THRESHOLD", "0.35")
	t.Setenv("MODELGUARD_PROMOTION_PRIMARY_METRIC", "f1")
	t.Setenv("MODELGUARD_ALERTING_COOLDOWN", "10m")
	t.Setenv("MODELGUARD_ALERTING_ENABLED", "false")

	cfg, err := NewLoader("MODELGUARD").Load("")
	require.NoError(t, err)

	assert.Equal(t, 0.35, cfg.Drift.PSIThreshold)
	assert.Equal(t, "f1", cfg.Promotion.PrimaryMetric)
	assert.Equal(t, 10*time.Minute, cfg.Alerting.Cooldown)
	assert.False(t, cfg.Alerting.Enabled)
}

func TestEnvOverrideInvalidValue(t *testing.T) {
	t.Setenv("MODELGUARD_DRIFT_PSI_BINS", "lots")

	_, err := NewLoader("MODELGUARD").Load("")
	assert.Error(t, err)
}
