package drift

import (
	"context"
	"errors"
	"time"
)

// Method selects a two-sample drift test
type Method string

const (
	// MethodKS runs the two-sample Kolmogorov-Smirnov test
	MethodKS Method = "ks"
	// MethodPSI computes the Population Stability Index
	MethodPSI Method = "psi"
)

// ErrInsufficientData is returned when a sample has no valid values after
// missing-value removal
var ErrInsufficientData = errors.New("insufficient valid data")

// KSResult holds the outcome of one two-sample KS test
type KSResult struct {
	Statistic     float64 `json:"ks_statistic"`
	PValue        float64 `json:"ks_p_value"`
	DriftDetected bool    `json:"ks_drift"`
}

// PSIResult holds the outcome of one PSI computation
type PSIResult struct {
	Score         float64 `json:"psi_score"`
	DriftDetected bool    `json:"psi_drift"`
}

// FeatureResult aggregates the per-feature test outcomes
type FeatureResult struct {
	Feature string     `json:"feature"`
	KS      *KSResult  `json:"ks,omitempty"`
	PSI     *PSIResult `json:"psi,omitempty"`
}

// Drifted reports whether any selected method flagged the feature
func (r *FeatureResult) Drifted() bool {
	if r.KS != nil && r.KS.DriftDetected {
		return true
	}
	if r.PSI != nil && r.PSI.DriftDetected {
		return true
	}
	return false
}

// Report is the aggregate verdict of one detection run. It is read-only
// once produced.
type Report struct {
	Dataset               string                   `json:"dataset"`
	Timestamp             time.Time                `json:"timestamp"`
	Methods               []Method                 `json:"methods"`
	Features              map[string]FeatureResult `json:"features"`
	FeaturesWithDrift     []string                 `json:"features_with_drift"`
	DriftDetected         bool                     `json:"drift_detected"`
	RetrainingRecommended bool                     `json:"retraining_recommended"`
}

// ReportStore persists drift reports for later inspection
type ReportStore interface {
	AppendReport(ctx context.Context, report *Report) error
	Reports(ctx context.Context, dataset string, from, to time.Time, limit int) ([]*Report, error)
}
