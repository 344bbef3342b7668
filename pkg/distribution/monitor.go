package distribution

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gonum.org/v1/gonum/stat"

	"github.com/TAS/modelguard/pkg/dataset"
	"github.com/TAS/modelguard/pkg/logger"
)

// MonitorConfig contains configuration for the distribution monitor
type MonitorConfig struct {
	Workers int `json:"workers"`
}

// Monitor computes and persists per-feature summary statistics for a
// dataset. It holds one reference snapshot and appends tracked snapshots to
// a time-ordered history.
type Monitor struct {
	config *MonitorConfig
	store  SnapshotStore
	log    *logger.Logger
	tracer trace.Tracer

	mu        sync.RWMutex
	reference map[string]*Snapshot // by dataset name
}

// NewMonitor creates a new distribution monitor
func NewMonitor(config *MonitorConfig, store SnapshotStore, log *logger.Logger) *Monitor {
	if config == nil {
		config = &MonitorConfig{Workers: 4}
	}
	if config.Workers <= 0 {
		config.Workers = 4
	}

	return &Monitor{
		config:    config,
		store:     store,
		log:       log,
		tracer:    otel.Tracer("distribution-monitor"),
		reference: make(map[string]*Snapshot),
	}
}

// SetReference computes and stores the reference snapshot for a dataset,
// replacing any prior reference
func (m *Monitor) SetReference(ctx context.Context, data dataset.Dataset, name string) (*Snapshot, error) {
	ctx, span := m.tracer.Start(ctx, "distribution_monitor.set_reference")
	defer span.End()

	snapshot, err := m.computeSnapshot(ctx, data, name, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.reference[name] = snapshot
	m.mu.Unlock()

	if err := m.store.SaveReference(ctx, snapshot); err != nil {
		// Persistence is best-effort; the in-memory reference still governs
		// subsequent comparisons.
		m.log.WithDataset(name).WithError(err).Warn("failed to persist reference snapshot")
	}

	span.SetAttributes(
		attribute.String("dataset", name),
		attribute.Int("features", len(snapshot.Features)),
	)

	m.log.WithDataset(name).Info("reference snapshot set with %d features", len(snapshot.Features))
	return snapshot, nil
}

// Track computes a snapshot for the current data and appends it to the
// dataset's history. The reference is not affected.
func (m *Monitor) Track(ctx context.Context, data dataset.Dataset, name string, at time.Time) (*Snapshot, error) {
	ctx, span := m.tracer.Start(ctx, "distribution_monitor.track")
	defer span.End()

	if at.IsZero() {
		at = time.Now().UTC()
	}

	snapshot, err := m.computeSnapshot(ctx, data, name, at)
	if err != nil {
		return nil, err
	}

	if err := m.store.AppendSnapshot(ctx, snapshot); err != nil {
		m.log.WithDataset(name).WithError(err).Warn("failed to persist tracked snapshot")
	}

	span.SetAttributes(
		attribute.String("dataset", name),
		attribute.Int("features", len(snapshot.Features)),
	)

	return snapshot, nil
}

// Reference returns the stored reference snapshot for a dataset
func (m *Monitor) Reference(ctx context.Context, name string) (*Snapshot, error) {
	m.mu.RLock()
	snapshot, ok := m.reference[name]
	m.mu.RUnlock()
	if ok {
		return snapshot, nil
	}

	// Fall back to the persisted reference after a restart.
	snapshot, err := m.store.Reference(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("no reference snapshot for dataset %s: %w", name, err)
	}

	m.mu.Lock()
	m.reference[name] = snapshot
	m.mu.Unlock()

	return snapshot, nil
}

// Compare reports per-feature mean and std movement of current against
// reference, normalized by the reference standard deviation. When reference
// is nil the stored reference for the current snapshot's dataset is used.
func (m *Monitor) Compare(ctx context.Context, current, reference *Snapshot) ([]Comparison, error) {
	if reference == nil {
		var err error
		reference, err = m.Reference(ctx, current.Dataset)
		if err != nil {
			return nil, err
		}
	}

	comparisons := make([]Comparison, 0, len(current.Features))
	for name, cur := range current.Features {
		ref, ok := reference.Features[name]
		if !ok {
			continue
		}
		if ref.Std == 0 {
			m.log.WithDataset(current.Dataset).Warn("feature %s has zero reference std, skipping comparison", name)
			continue
		}
		comparisons = append(comparisons, Comparison{
			Feature:    name,
			MeanChange: (cur.Mean - ref.Mean) / ref.Std,
			StdChange:  (cur.Std - ref.Std) / ref.Std,
		})
	}

	sort.Slice(comparisons, func(i, j int) bool { return comparisons[i].Feature < comparisons[j].Feature })
	return comparisons, nil
}

// FeatureTrend returns a restartable iterator over the historical summary
// statistics of one feature, backed by the persisted snapshot history
func (m *Monitor) FeatureTrend(dataset, feature string, from, to time.Time) *TrendIterator {
	return &TrendIterator{
		store:   m.store,
		dataset: dataset,
		feature: feature,
		from:    from,
		to:      to,
		cursor:  from,
	}
}

// computeSnapshot calculates summary statistics for every numeric feature,
// fanning the per-feature work out across a bounded worker pool. Features
// with no valid values after missing-value removal are skipped with a
// warning, never fatal.
func (m *Monitor) computeSnapshot(ctx context.Context, data dataset.Dataset, name string, at time.Time) (*Snapshot, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("dataset %s has no features", name)
	}

	type featureResult struct {
		name    string
		stats   FeatureStats
		skipped bool
	}

	features := data.Features()
	results := make(chan featureResult, len(features))
	semaphore := make(chan struct{}, m.config.Workers)

	for _, featureName := range features {
		go func(featureName string) {
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			values, ok := data.CleanFeature(featureName)
			if !ok {
				results <- featureResult{name: featureName, skipped: true}
				return
			}
			results <- featureResult{name: featureName, stats: computeFeatureStats(values)}
		}(featureName)
	}

	snapshot := &Snapshot{
		Dataset:   name,
		Timestamp: at,
		Features:  make(map[string]FeatureStats, len(features)),
	}

	for range features {
		select {
		case result := <-results:
			if result.skipped {
				m.log.WithDataset(name).Warn("feature %s has no valid values, skipping", result.name)
				continue
			}
			snapshot.Features[result.name] = result.stats
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if len(snapshot.Features) == 0 {
		return nil, fmt.Errorf("dataset %s has no numeric features with valid values", name)
	}

	return snapshot, nil
}

// computeFeatureStats summarizes one cleaned feature column
func computeFeatureStats(values []float64) FeatureStats {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mean := stat.Mean(sorted, nil)
	variance := stat.Variance(sorted, nil)
	if len(sorted) < 2 || math.IsNaN(variance) {
		variance = 0
	}

	stats := FeatureStats{
		Count:  len(sorted),
		Mean:   mean,
		Std:    math.Sqrt(variance),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Median: quantile(sorted, 0.5),
		Q25:    quantile(sorted, 0.25),
		Q75:    quantile(sorted, 0.75),
	}

	if len(sorted) > 2 && stats.Std > 0 {
		stats.Skewness = stat.Skew(sorted, nil)
		stats.Kurtosis = stat.ExKurtosis(sorted, nil)
	}

	return stats
}

// quantile interpolates the p-th sample quantile linearly between order
// statistics. The median of an odd-length sample is its middle element;
// gonum's stat.Quantile follows the empirical-CDF convention instead.
func quantile(sorted []float64, p float64) float64 {
	h := p * float64(len(sorted)-1)
	lo := int(math.Floor(h))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}

// ErrTrendDone signals that a trend iterator is exhausted
var ErrTrendDone = fmt.Errorf("trend iterator exhausted")

// trendBatchSize bounds how many snapshots a trend iterator loads per fetch
const trendBatchSize = 64

// TrendIterator lazily walks the persisted snapshot history of one feature
// in timestamp order. It is finite and restartable via Reset.
type TrendIterator struct {
	store   SnapshotStore
	dataset string
	feature string
	from    time.Time
	to      time.Time

	cursor  time.Time
	batch   []TrendPoint
	pos     int
	drained bool
}

// Next returns the next trend point, or ErrTrendDone when the history is
// exhausted
func (it *TrendIterator) Next(ctx context.Context) (TrendPoint, error) {
	for it.pos >= len(it.batch) {
		if it.drained {
			return TrendPoint{}, ErrTrendDone
		}
		if err := it.fetch(ctx); err != nil {
			return TrendPoint{}, err
		}
	}

	point := it.batch[it.pos]
	it.pos++
	return point, nil
}

// Reset rewinds the iterator to the start of the requested range
func (it *TrendIterator) Reset() {
	it.cursor = it.from
	it.batch = nil
	it.pos = 0
	it.drained = false
}

// fetch loads the next batch of snapshots and projects the tracked feature
func (it *TrendIterator) fetch(ctx context.Context) error {
	snapshots, err := it.store.Snapshots(ctx, it.dataset, it.cursor, it.to, trendBatchSize)
	if err != nil {
		return fmt.Errorf("failed to load snapshot history: %w", err)
	}
	if len(snapshots) == 0 {
		it.drained = true
		return nil
	}

	it.batch = it.batch[:0]
	it.pos = 0
	for _, snapshot := range snapshots {
		stats, ok := snapshot.Features[it.feature]
		if !ok {
			continue
		}
		it.batch = append(it.batch, TrendPoint{
			Timestamp: snapshot.Timestamp,
			Mean:      stats.Mean,
			Std:       stats.Std,
			Median:    stats.Median,
			Min:       stats.Min,
			Max:       stats.Max,
		})
	}

	last := snapshots[len(snapshots)-1].Timestamp
	it.cursor = last.Add(time.Nanosecond)
	if len(snapshots) < trendBatchSize {
		it.drained = true
	}

	return nil
}
