package config

import (
	"fmt"
	"time"
)

// Config is the top-level configuration for the model health service
type Config struct {
	Service    ServiceConfig    `yaml:"service" json:"service"`
	Drift      DriftConfig      `yaml:"drift" json:"drift"`
	Retraining RetrainingConfig `yaml:"retraining" json:"retraining"`
	Promotion  PromotionConfig  `yaml:"promotion" json:"promotion"`
	ABTesting  ABTestingConfig  `yaml:"ab_testing" json:"ab_testing"`
	Alerting   AlertingConfig   `yaml:"alerting" json:"alerting"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Monitor    MonitorConfig    `yaml:"monitor" json:"monitor"`
}

// ServiceConfig contains process-level settings
type ServiceConfig struct {
	Name     string `yaml:"name" json:"name"`
	Version  string `yaml:"version" json:"version"`
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// DriftConfig contains drift detection thresholds
type DriftConfig struct {
	KSAlpha      float64 `yaml:"ks_alpha" json:"ks_alpha"`
	PSIBins      int     `yaml:"psi_bins" json:"psi_bins"`
	PSIThreshold float64 `yaml:"psi_threshold" json:"psi_threshold"`
	Workers      int     `yaml:"workers" json:"workers"`
}

// RetrainingConfig contains retraining trigger settings
type RetrainingConfig struct {
	VolumeThreshold      int64         `yaml:"volume_threshold" json:"volume_threshold"`
	DegradationWindow    int           `yaml:"degradation_window" json:"degradation_window"`
	DegradationThreshold float64       `yaml:"degradation_threshold" json:"degradation_threshold"`
	JobTimeout           time.Duration `yaml:"job_timeout" json:"job_timeout"`
	MaxConcurrentJobs    int           `yaml:"max_concurrent_jobs" json:"max_concurrent_jobs"`
}

// PromotionConfig contains candidate promotion settings
type PromotionConfig struct {
	ImprovementThreshold float64 `yaml:"improvement_threshold" json:"improvement_threshold"`
	PrimaryMetric        string  `yaml:"primary_metric" json:"primary_metric"`
}

// ABTestingConfig contains A/B test evaluation settings
type ABTestingConfig struct {
	WinnerGap   float64       `yaml:"winner_gap" json:"winner_gap"`
	MinSamples  int64         `yaml:"min_samples" json:"min_samples"`
	MaxDuration time.Duration `yaml:"max_duration" json:"max_duration"`
}

// AlertingConfig contains alert delivery settings
type AlertingConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Cooldown time.Duration `yaml:"cooldown" json:"cooldown"`
}

// StorageConfig selects the history store backend
type StorageConfig struct {
	Backend string `yaml:"backend" json:"backend"` // memory, badger
	Path    string `yaml:"path" json:"path"`
}

// MonitorConfig contains the scheduled health check settings
type MonitorConfig struct {
	Schedule    string `yaml:"schedule" json:"schedule"` // cron expression
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
	DataDir     string `yaml:"data_dir" json:"data_dir"`
	AutoRetrain bool   `yaml:"auto_retrain" json:"auto_retrain"`
}

// Default returns a configuration with all defaults applied
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "modelguard",
			Version:  "1.0.0",
			LogLevel: "INFO",
		},
		Drift: DriftConfig{
			KSAlpha:      0.05,
			PSIBins:      10,
			PSIThreshold: 0.2,
			Workers:      4,
		},
		Retraining: RetrainingConfig{
			VolumeThreshold:      1000,
			DegradationWindow:    5,
			DegradationThreshold: 0.05,
			JobTimeout:           30 * time.Minute,
			MaxConcurrentJobs:    2,
		},
		Promotion: PromotionConfig{
			ImprovementThreshold: 0.05,
			PrimaryMetric:        "roc_auc",
		},
		ABTesting: ABTestingConfig{
			WinnerGap:   0.1,
			MinSamples:  100,
			MaxDuration: 7 * 24 * time.Hour,
		},
		Alerting: AlertingConfig{
			Enabled:  true,
			Cooldown: 300 * time.Second,
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Monitor: MonitorConfig{
			Schedule:    "@every 5m",
			MetricsAddr: ":9090",
			DataDir:     "./data",
		},
	}
}

// Validate checks configuration invariants
func (c *Config) Validate() error {
	if c.Drift.KSAlpha <= 0 || c.Drift.KSAlpha >= 1 {
		return fmt.Errorf("drift.ks_alpha must be in (0, 1), got %v", c.Drift.KSAlpha)
	}
	if c.Drift.PSIBins < 2 {
		return fmt.Errorf("drift.psi_bins must be at least 2, got %d", c.Drift.PSIBins)
	}
	if c.Drift.PSIThreshold <= 0 {
		return fmt.Errorf("drift.psi_threshold must be positive, got %v", c.Drift.PSIThreshold)
	}
	if c.Retraining.VolumeThreshold < 0 {
		return fmt.Errorf("retraining.volume_threshold must not be negative, got %d", c.Retraining.VolumeThreshold)
	}
	if c.Promotion.ImprovementThreshold < 0 {
		return fmt.Errorf("promotion.improvement_threshold must not be negative, got %v", c.Promotion.ImprovementThreshold)
	}
	if c.Promotion.PrimaryMetric == "" {
		return fmt.Errorf("promotion.primary_metric is required")
	}
	if c.ABTesting.WinnerGap <= 0 {
		return fmt.Errorf("ab_testing.winner_gap must be positive, got %v", c.ABTesting.WinnerGap)
	}
	switch c.Storage.Backend {
	case "memory":
	case "badger":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the badger backend")
		}
	default:
		return fmt.Errorf("unsupported storage backend: %s", c.Storage.Backend)
	}
	return nil
}
