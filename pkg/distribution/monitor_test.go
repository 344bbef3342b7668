package distribution_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TAS/modelguard/pkg/dataset"
	"github.com/TAS/modelguard/pkg/distribution"
	"github.com/TAS/modelguard/pkg/logger"
	"github.com/TAS/modelguard/pkg/storage/memory"
)

func newTestMonitor(t *testing.T) (*distribution.Monitor, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	return distribution.NewMonitor(nil, store, logger.Nop()), store
}

func TestSetReferenceComputesStats(t *testing.T) {
	monitor, _ := newTestMonitor(t)
	ctx := context.Background()

	data := dataset.Dataset{
		"amount": {10, 20, 30, 40, 50},
		"age":    {25, 35, 45},
	}

	snapshot, err := monitor.SetReference(ctx, data, "orders")
	require.NoError(t, err)

	require.Contains(t, snapshot.Features, "amount")
	amount := snapshot.Features["amount"]
	assert.Equal(t, 5, amount.Count)
	assert.InDelta(t, 30, amount.Mean, 1e-9)
	assert.InDelta(t, 10, amount.Min, 1e-9)
	assert.InDelta(t, 50, amount.Max, 1e-9)
	assert.InDelta(t, 30, amount.Median, 1e-9)
	assert.InDelta(t, 20, amount.Q25, 1e-9)
	assert.InDelta(t, 40, amount.Q75, 1e-9)

	loaded, err := monitor.Reference(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, snapshot, loaded)
}

func TestQuantilesInterpolateBetweenOrderStatistics(t *testing.T) {
	monitor, _ := newTestMonitor(t)

	snapshot, err := monitor.SetReference(context.Background(), dataset.Dataset{
		"amount": {4, 2, 1, 3},
	}, "orders")
	require.NoError(t, err)

	amount := snapshot.Features["amount"]
	assert.InDelta(t, 2.5, amount.Median, 1e-9)
	assert.InDelta(t, 1.75, amount.Q25, 1e-9)
	assert.InDelta(t, 3.25, amount.Q75, 1e-9)
}

func TestSetReferenceSkipsAllMissingFeatures(t *testing.T) {
	monitor, _ := newTestMonitor(t)
	ctx := context.Background()

	data := dataset.Dataset{
		"valid":   {1, 2, 3},
		"missing": {dataset.Missing(), dataset.Missing()},
	}

	snapshot, err := monitor.SetReference(ctx, data, "orders")
	require.NoError(t, err)
	assert.Contains(t, snapshot.Features, "valid")
	assert.NotContains(t, snapshot.Features, "missing")
}

func TestSetReferenceRejectsEmptyDataset(t *testing.T) {
	monitor, _ := newTestMonitor(t)

	_, err := monitor.SetReference(context.Background(), dataset.Dataset{}, "orders")
	assert.Error(t, err)

	_, err = monitor.SetReference(context.Background(), dataset.Dataset{
		"all_missing": {dataset.Missing()},
	}, "orders")
	assert.Error(t, err)
}

func TestReferenceFallsBackToStore(t *testing.T) {
	store := memory.NewStore()
	first := distribution.NewMonitor(nil, store, logger.Nop())

	_, err := first.SetReference(context.Background(), dataset.Dataset{"a": {1, 2, 3}}, "orders")
	require.NoError(t, err)

	// A fresh monitor sharing the store simulates a restart.
	second := distribution.NewMonitor(nil, store, logger.Nop())
	snapshot, err := second.Reference(context.Background(), "orders")
	require.NoError(t, err)
	assert.Contains(t, snapshot.Features, "a")
}

func TestCompareNormalizesByReferenceStd(t *testing.T) {
	monitor, _ := newTestMonitor(t)
	ctx := context.Background()

	reference := &distribution.Snapshot{
		Dataset: "orders",
		Features: map[string]distribution.FeatureStats{
			"amount": {Mean: 100, Std: 10},
			"flat":   {Mean: 5, Std: 0},
		},
	}
	current := &distribution.Snapshot{
		Dataset: "orders",
		Features: map[string]distribution.FeatureStats{
			"amount": {Mean: 120, Std: 15},
			"flat":   {Mean: 6, Std: 1},
			"novel":  {Mean: 1, Std: 1},
		},
	}

	comparisons, err := monitor.Compare(ctx, current, reference)
	require.NoError(t, err)

	// flat (zero std) and novel (absent from reference) are skipped.
	require.Len(t, comparisons, 1)
	assert.Equal(t, "amount", comparisons[0].Feature)
	assert.InDelta(t, 2.0, comparisons[0].MeanChange, 1e-9)
	assert.InDelta(t, 0.5, comparisons[0].StdChange, 1e-9)
}

func TestTrackAppendsHistory(t *testing.T) {
	monitor, store := newTestMonitor(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := monitor.Track(ctx, dataset.Dataset{"a": {1, 2, 3}}, "orders", base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
	}

	snapshots, err := store.Snapshots(ctx, "orders", time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, snapshots, 3)
}

func TestFeatureTrendIterator(t *testing.T) {
	monitor, _ := newTestMonitor(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	means := []float64{10, 20, 30}
	for i, mean := range means {
		data := dataset.Dataset{"amount": {mean - 1, mean, mean + 1}}
		_, err := monitor.Track(ctx, data, "orders", base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
	}

	it := monitor.FeatureTrend("orders", "amount", time.Time{}, base.Add(24*time.Hour))

	var observed []float64
	for {
		point, err := it.Next(ctx)
		if err == distribution.ErrTrendDone {
			break
		}
		require.NoError(t, err)
		observed = append(observed, point.Mean)
	}
	assert.InDeltaSlice(t, means, observed, 1e-9)

	// Reset rewinds to the start of the range.
	it.Reset()
	point, err := it.Next(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10, point.Mean, 1e-9)
}

func TestFeatureTrendEmptyHistory(t *testing.T) {
	monitor, _ := newTestMonitor(t)

	it := monitor.FeatureTrend("orders", "amount", time.Time{}, time.Now())
	_, err := it.Next(context.Background())
	assert.ErrorIs(t, err, distribution.ErrTrendDone)
}
