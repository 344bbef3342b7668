package performance

import (
	"context"
	"time"
)

// Metrics holds the classification metrics computed for one evaluation.
// ROCAUC is nil when probabilities were not supplied or only one class was
// present.
type Metrics struct {
	Accuracy         float64  `json:"accuracy"`
	BalancedAccuracy float64  `json:"balanced_accuracy"`
	Precision        float64  `json:"precision"`
	Recall           float64  `json:"recall"`
	F1               float64  `json:"f1"`
	ROCAUC           *float64 `json:"roc_auc,omitempty"`
}

// Get returns a metric by its snake_case name
func (m Metrics) Get(name string) (float64, bool) {
	switch name {
	case "accuracy":
		return m.Accuracy, true
	case "balanced_accuracy":
		return m.BalancedAccuracy, true
	case "precision":
		return m.Precision, true
	case "recall":
		return m.Recall, true
	case "f1":
		return m.F1, true
	case "roc_auc":
		if m.ROCAUC == nil {
			return 0, false
		}
		return *m.ROCAUC, true
	default:
		return 0, false
	}
}

// Map flattens the metrics into a name-to-value map
func (m Metrics) Map() map[string]float64 {
	out := map[string]float64{
		"accuracy":          m.Accuracy,
		"balanced_accuracy": m.BalancedAccuracy,
		"precision":         m.Precision,
		"recall":            m.Recall,
		"f1":                m.F1,
	}
	if m.ROCAUC != nil {
		out["roc_auc"] = *m.ROCAUC
	}
	return out
}

// Delta compares one metric against the stored baseline
type Delta struct {
	Baseline       float64 `json:"baseline"`
	Current        float64 `json:"current"`
	AbsoluteChange float64 `json:"absolute_change"`
	RelativeChange float64 `json:"relative_change"`
	Degraded       bool    `json:"degraded"`
}

// Snapshot is one append-only entry in a model's performance history
type Snapshot struct {
	ModelName          string           `json:"model_name"`
	Dataset            string           `json:"dataset"`
	Timestamp          time.Time        `json:"timestamp"`
	SampleCount        int              `json:"sample_count"`
	Metrics            Metrics          `json:"metrics"`
	BaselineComparison map[string]Delta `json:"baseline_comparison,omitempty"`
}

// DegradationReport is the structured outcome of a degradation check
type DegradationReport struct {
	ModelName      string  `json:"model_name"`
	Metric         string  `json:"metric"`
	Window         int     `json:"window"`
	WindowAverage  float64 `json:"window_average"`
	Baseline       float64 `json:"baseline"`
	RelativeChange float64 `json:"relative_change"`
	Degraded       bool    `json:"degraded"`
	Samples        int     `json:"samples"`
}

// TrendReport describes the direction of a metric over the stored history
type TrendReport struct {
	ModelName     string    `json:"model_name"`
	Metric        string    `json:"metric"`
	MovingAverage []float64 `json:"moving_average"`
	Slope         float64   `json:"slope"`
	Direction     string    `json:"direction"` // improving, degrading, stable
	Samples       int       `json:"samples"`
}

// Store persists performance snapshots. History is returned in ascending
// timestamp order.
type Store interface {
	AppendPerformance(ctx context.Context, snapshot *Snapshot) error
	Performance(ctx context.Context, modelName string, from, to time.Time, limit int) ([]*Snapshot, error)
}
