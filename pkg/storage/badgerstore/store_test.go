package badgerstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TAS/modelguard/pkg/distribution"
	"github.com/TAS/modelguard/pkg/drift"
	"github.com/TAS/modelguard/pkg/logger"
	"github.com/TAS/modelguard/pkg/performance"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir(), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestReferenceRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.Reference(ctx, "orders")
	assert.Error(t, err)

	snapshot := &distribution.Snapshot{
		Dataset:   "orders",
		Timestamp: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		Features: map[string]distribution.FeatureStats{
			"amount": {Count: 100, Mean: 42.5, Std: 3.2},
		},
	}
	require.NoError(t, store.SaveReference(ctx, snapshot))

	loaded, err := store.Reference(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, snapshot.Dataset, loaded.Dataset)
	assert.Equal(t, snapshot.Features["amount"].Mean, loaded.Features["amount"].Mean)
}

func TestSnapshotsReturnAscending(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	// Insert out of order; the key encoding must restore timestamp order.
	for _, offset := range []int{3, 0, 4, 1, 2} {
		require.NoError(t, store.AppendSnapshot(ctx, &distribution.Snapshot{
			Dataset:   "orders",
			Timestamp: base.Add(time.Duration(offset) * time.Hour),
		}))
	}

	snapshots, err := store.Snapshots(ctx, "orders", time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, snapshots, 5)
	for i := 1; i < len(snapshots); i++ {
		assert.True(t, snapshots[i].Timestamp.After(snapshots[i-1].Timestamp))
	}

	windowed, err := store.Snapshots(ctx, "orders", base.Add(time.Hour), base.Add(3*time.Hour), 0)
	require.NoError(t, err)
	assert.Len(t, windowed, 3)

	limited, err := store.Snapshots(ctx, "orders", time.Time{}, time.Time{}, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestReportRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	report := &drift.Report{
		Dataset:           "orders",
		Timestamp:         time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		DriftDetected:     true,
		FeaturesWithDrift: []string{"amount"},
	}
	require.NoError(t, store.AppendReport(ctx, report))

	reports, err := store.Reports(ctx, "orders", time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].DriftDetected)
	assert.Equal(t, []string{"amount"}, reports[0].FeaturesWithDrift)
}

func TestPerformanceIsolatedPerModel(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendPerformance(ctx, &performance.Snapshot{
		ModelName: "churn",
		Timestamp: time.Now().UTC(),
		Metrics:   performance.Metrics{Accuracy: 0.9},
	}))
	require.NoError(t, store.AppendPerformance(ctx, &performance.Snapshot{
		ModelName: "fraud",
		Timestamp: time.Now().UTC(),
	}))

	snapshots, err := store.Performance(ctx, "churn", time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, 0.9, snapshots[0].Metrics.Accuracy)
}

func TestRecordsSinceSkipsOlderBatches(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.AddRecords(ctx, "orders", 300, cutoff.Add(-time.Hour)))
	require.NoError(t, store.AddRecords(ctx, "orders", 500, cutoff.Add(time.Hour)))
	require.NoError(t, store.AddRecords(ctx, "orders", 200, cutoff.Add(2*time.Hour)))
	require.NoError(t, store.AddRecords(ctx, "payments", 999, cutoff.Add(time.Hour)))

	count, err := store.RecordsSince(ctx, "orders", cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(700), count)
}
