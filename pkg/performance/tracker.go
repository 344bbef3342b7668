package performance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sajari/regression"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/TAS/modelguard/pkg/logger"
)

// degradedDelta is the absolute drop against baseline that marks a single
// metric as degraded in a snapshot comparison
const degradedDelta = -0.05

// slopeStableBand treats trend slopes inside this band as flat
const slopeStableBand = 0.001

// Tracker computes classification metrics for a model's labeled outcomes,
// compares them against a stored baseline, and detects trend degradation
// over the persisted history
type Tracker struct {
	modelName string
	store     Store
	log       *logger.Logger
	tracer    trace.Tracer

	mu       sync.RWMutex
	baseline *Metrics
}

// NewTracker creates a performance tracker for one model
func NewTracker(modelName string, store Store, log *logger.Logger) *Tracker {
	return &Tracker{
		modelName: modelName,
		store:     store,
		log:       log.WithModel(modelName),
		tracer:    otel.Tracer("performance-tracker"),
	}
}

// SetBaseline stores a fixed comparison point for future snapshots
func (t *Tracker) SetBaseline(metrics Metrics) {
	t.mu.Lock()
	t.baseline = &metrics
	t.mu.Unlock()
	t.log.Info("performance baseline set")
}

// Baseline returns the stored baseline, if any
func (t *Tracker) Baseline() (Metrics, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.baseline == nil {
		return Metrics{}, false
	}
	return *t.baseline, true
}

// Track computes metrics for the given outcomes and appends a snapshot to
// the model's history. When a baseline exists the snapshot carries
// per-metric deltas.
func (t *Tracker) Track(ctx context.Context, yTrue, yPred []int, yProba []float64, datasetName string) (*Snapshot, error) {
	ctx, span := t.tracer.Start(ctx, "performance_tracker.track")
	defer span.End()

	metrics, err := ComputeMetrics(yTrue, yPred, yProba)
	if err != nil {
		return nil, fmt.Errorf("failed to compute metrics: %w", err)
	}

	snapshot := &Snapshot{
		ModelName:   t.modelName,
		Dataset:     datasetName,
		Timestamp:   time.Now().UTC(),
		SampleCount: len(yTrue),
		Metrics:     metrics,
	}

	if baseline, ok := t.Baseline(); ok {
		snapshot.BaselineComparison = compareToBaseline(baseline, metrics)
	}

	if err := t.store.AppendPerformance(ctx, snapshot); err != nil {
		// The computed snapshot is still returned; persistence is not
		// load-bearing for the caller's decision.
		t.log.WithDataset(datasetName).WithError(err).Warn("failed to persist performance snapshot")
	}

	span.SetAttributes(
		attribute.String("model_name", t.modelName),
		attribute.String("dataset", datasetName),
		attribute.Float64("accuracy", metrics.Accuracy),
		attribute.Int("samples", len(yTrue)),
	)

	return snapshot, nil
}

// DetectDegradation averages the metric over the last window snapshots and
// compares it against the baseline. Degraded when the relative change is
// below -threshold.
func (t *Tracker) DetectDegradation(ctx context.Context, window int, metric string, threshold float64) (*DegradationReport, error) {
	if window <= 0 {
		window = 5
	}
	if threshold <= 0 {
		threshold = 0.05
	}

	baseline, ok := t.Baseline()
	if !ok {
		return nil, fmt.Errorf("no baseline set for model %s", t.modelName)
	}
	baselineValue, ok := baseline.Get(metric)
	if !ok {
		return nil, fmt.Errorf("baseline has no metric %s", metric)
	}

	values, err := t.metricHistory(ctx, metric)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("no performance history for model %s", t.modelName)
	}

	if len(values) > window {
		values = values[len(values)-window:]
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	average := sum / float64(len(values))

	var relative float64
	if baselineValue != 0 {
		relative = (average - baselineValue) / baselineValue
	}

	return &DegradationReport{
		ModelName:      t.modelName,
		Metric:         metric,
		Window:         window,
		WindowAverage:  average,
		Baseline:       baselineValue,
		RelativeChange: relative,
		Degraded:       relative < -threshold,
		Samples:        len(values),
	}, nil
}

// Trend returns the moving average of a metric over the full history plus a
// linear-regression slope
func (t *Tracker) Trend(ctx context.Context, metric string, window int) (*TrendReport, error) {
	if window <= 0 {
		window = 5
	}

	values, err := t.metricHistory(ctx, metric)
	if err != nil {
		return nil, err
	}
	if len(values) < 2 {
		return nil, fmt.Errorf("not enough history for model %s: %d snapshots", t.modelName, len(values))
	}

	report := &TrendReport{
		ModelName:     t.modelName,
		Metric:        metric,
		MovingAverage: movingAverage(values, window),
		Samples:       len(values),
	}

	r := new(regression.Regression)
	r.SetObserved(metric)
	r.SetVar(0, "snapshot_index")
	for i, v := range values {
		r.Train(regression.DataPoint(v, []float64{float64(i)}))
	}
	if err := r.Run(); err != nil {
		return nil, fmt.Errorf("trend regression failed: %w", err)
	}

	report.Slope = r.Coeff(1)
	switch {
	case report.Slope > slopeStableBand:
		report.Direction = "improving"
	case report.Slope < -slopeStableBand:
		report.Direction = "degrading"
	default:
		report.Direction = "stable"
	}

	return report, nil
}

// metricHistory loads the metric values of the persisted history in
// timestamp order, skipping snapshots without that metric
func (t *Tracker) metricHistory(ctx context.Context, metric string) ([]float64, error) {
	snapshots, err := t.store.Performance(ctx, t.modelName, time.Time{}, time.Now().UTC(), 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load performance history: %w", err)
	}

	values := make([]float64, 0, len(snapshots))
	for _, snapshot := range snapshots {
		if v, ok := snapshot.Metrics.Get(metric); ok {
			values = append(values, v)
		}
	}
	return values, nil
}

// compareToBaseline builds per-metric deltas for every metric present in
// both the baseline and the current result
func compareToBaseline(baseline, current Metrics) map[string]Delta {
	deltas := make(map[string]Delta)
	for name, currentValue := range current.Map() {
		baselineValue, ok := baseline.Get(name)
		if !ok {
			continue
		}
		delta := Delta{
			Baseline:       baselineValue,
			Current:        currentValue,
			AbsoluteChange: currentValue - baselineValue,
		}
		if baselineValue != 0 {
			delta.RelativeChange = delta.AbsoluteChange / baselineValue
		}
		delta.Degraded = delta.AbsoluteChange < degradedDelta
		deltas[name] = delta
	}
	return deltas
}

// movingAverage computes the trailing window average at each point
func movingAverage(values []float64, window int) []float64 {
	averages := make([]float64, len(values))
	var sum float64
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		n := i + 1
		if n > window {
			n = window
		}
		averages[i] = sum / float64(n)
	}
	return averages
}
