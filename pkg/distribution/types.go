package distribution

import (
	"context"
	"time"
)

// FeatureStats contains the summary statistics for a single feature column
type FeatureStats struct {
	Count    int     `json:"count"`
	Mean     float64 `json:"mean"`
	Std      float64 `json:"std"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Median   float64 `json:"median"`
	Q25      float64 `json:"q25"`
	Q75      float64 `json:"q75"`
	Skewness float64 `json:"skewness"`
	Kurtosis float64 `json:"kurtosis"`
}

// Snapshot is an immutable per-feature statistical summary of a dataset,
// taken at a point in time
type Snapshot struct {
	Dataset   string                  `json:"dataset"`
	Timestamp time.Time               `json:"timestamp"`
	Features  map[string]FeatureStats `json:"features"`
}

// FeatureNames returns the features captured by the snapshot
func (s *Snapshot) FeatureNames() []string {
	names := make([]string, 0, len(s.Features))
	for name := range s.Features {
		names = append(names, name)
	}
	return names
}

// Comparison describes how a feature moved between two snapshots, in units
// of the reference standard deviation. Diagnostic only; the drift verdict
// comes from the statistical tests.
type Comparison struct {
	Feature    string  `json:"feature"`
	MeanChange float64 `json:"mean_change"`
	StdChange  float64 `json:"std_change"`
}

// TrendPoint is one historical observation of a feature's summary statistics
type TrendPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Mean      float64   `json:"mean"`
	Std       float64   `json:"std"`
	Median    float64   `json:"median"`
	Min       float64   `json:"min"`
	Max       float64   `json:"max"`
}

// SnapshotStore persists distribution snapshots. Implementations must return
// history in ascending timestamp order.
type SnapshotStore interface {
	SaveReference(ctx context.Context, snapshot *Snapshot) error
	Reference(ctx context.Context, dataset string) (*Snapshot, error)
	AppendSnapshot(ctx context.Context, snapshot *Snapshot) error
	Snapshots(ctx context.Context, dataset string, from, to time.Time, limit int) ([]*Snapshot, error)
}
