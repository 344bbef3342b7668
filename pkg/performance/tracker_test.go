package performance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TAS/modelguard/pkg/logger"
)

// memStore is a minimal in-memory Store for tracker tests
type memStore struct {
	snapshots []*Snapshot
}

func (s *memStore) AppendPerformance(ctx context.Context, snapshot *Snapshot) error {
	s.snapshots = append(s.snapshots, snapshot)
	return nil
}

func (s *memStore) Performance(ctx context.Context, modelName string, from, to time.Time, limit int) ([]*Snapshot, error) {
	var out []*Snapshot
	for _, snap := range s.snapshots {
		if snap.ModelName != modelName {
			continue
		}
		out = append(out, snap)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func appendHistory(t *testing.T, store *memStore, model string, values []float64) {
	t.Helper()
	for i, v := range values {
		store.snapshots = append(store.snapshots, &Snapshot{
			ModelName: model,
			Timestamp: time.Now().Add(time.Duration(i) * time.Minute),
			Metrics:   Metrics{Accuracy: v},
		})
	}
}

func TestTrackAppendsSnapshotWithBaselineComparison(t *testing.T) {
	store := &memStore{}
	tracker := NewTracker("churn", store, logger.Nop())
	tracker.SetBaseline(Metrics{Accuracy: 1.0, Precision: 1.0, Recall: 1.0, F1: 1.0, BalancedAccuracy: 1.0})

	snapshot, err := tracker.Track(context.Background(), []int{1, 0, 1, 0}, []int{1, 0, 0, 0}, nil, "orders")
	require.NoError(t, err)

	assert.Equal(t, "churn", snapshot.ModelName)
	assert.Equal(t, 4, snapshot.SampleCount)
	require.Contains(t, snapshot.BaselineComparison, "accuracy")
	delta := snapshot.BaselineComparison["accuracy"]
	assert.InDelta(t, -0.25, delta.AbsoluteChange, 1e-9)
	assert.True(t, delta.Degraded)
	assert.Len(t, store.snapshots, 1)
}

func TestDetectDegradation(t *testing.T) {
	store := &memStore{}
	tracker := NewTracker("churn", store, logger.Nop())
	tracker.SetBaseline(Metrics{Accuracy: 0.90})

	appendHistory(t, store, "churn", []float64{0.90, 0.89, 0.82, 0.81, 0.80})

	report, err := tracker.DetectDegradation(context.Background(), 3, "accuracy", 0.05)
	require.NoError(t, err)

	assert.InDelta(t, 0.81, report.WindowAverage, 1e-9)
	assert.True(t, report.Degraded)
	assert.Less(t, report.RelativeChange, -0.05)
}

func TestDetectDegradationStablePerformance(t *testing.T) {
	store := &memStore{}
	tracker := NewTracker("churn", store, logger.Nop())
	tracker.SetBaseline(Metrics{Accuracy: 0.90})

	appendHistory(t, store, "churn", []float64{0.90, 0.91, 0.89, 0.90})

	report, err := tracker.DetectDegradation(context.Background(), 3, "accuracy", 0.05)
	require.NoError(t, err)
	assert.False(t, report.Degraded)
}

func TestDetectDegradationRequiresBaseline(t *testing.T) {
	tracker := NewTracker("churn", &memStore{}, logger.Nop())
	_, err := tracker.DetectDegradation(context.Background(), 3, "accuracy", 0.05)
	assert.Error(t, err)
}

func TestTrendDirections(t *testing.T) {
	cases := []struct {
		name      string
		values    []float64
		direction string
	}{
		{"degrading", []float64{0.95, 0.92, 0.89, 0.86, 0.83, 0.80}, "degrading"},
		{"improving", []float64{0.70, 0.74, 0.78, 0.82, 0.86, 0.90}, "improving"},
		{"stable", []float64{0.85, 0.85, 0.85, 0.85, 0.85, 0.85}, "stable"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &memStore{}
			tracker := NewTracker("churn", store, logger.Nop())
			appendHistory(t, store, "churn", tc.values)

			report, err := tracker.Trend(context.Background(), "accuracy", 3)
			require.NoError(t, err)
			assert.Equal(t, tc.direction, report.Direction)
			assert.Len(t, report.MovingAverage, len(tc.values))
		})
	}
}

func TestTrendNeedsHistory(t *testing.T) {
	store := &memStore{}
	tracker := NewTracker("churn", store, logger.Nop())
	appendHistory(t, store, "churn", []float64{0.9})

	_, err := tracker.Trend(context.Background(), "accuracy", 3)
	assert.Error(t, err)
}

func TestMovingAverage(t *testing.T) {
	averages := movingAverage([]float64{1, 2, 3, 4}, 2)
	assert.InDeltaSlice(t, []float64{1, 1.5, 2.5, 3.5}, averages, 1e-9)
}
