package retraining

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/TAS/modelguard/pkg/drift"
	"github.com/TAS/modelguard/pkg/logger"
	"github.com/TAS/modelguard/pkg/performance"
)

// Reason names one fired retraining signal
type Reason string

const (
	// ReasonDrift fires when the latest drift report recommends retraining
	ReasonDrift Reason = "drift"
	// ReasonDataVolume fires when enough new records accumulated since the
	// last training run
	ReasonDataVolume Reason = "data_volume"
	// ReasonPerformance fires when the tracked metric degraded past the
	// threshold
	ReasonPerformance Reason = "performance_degradation"
)

// Decision is the outcome of one trigger evaluation. All fired reasons
// are recorded, not just the first.
type Decision struct {
	ModelName     string    `json:"model_name"`
	ShouldRetrain bool      `json:"should_retrain"`
	Reasons       []Reason  `json:"reasons,omitempty"`
	NewRecords    int64     `json:"new_records"`
	LastTrainedAt time.Time `json:"last_trained_at,omitempty"`
	EvaluatedAt   time.Time `json:"evaluated_at"`
}

// RecordCounter reports how many records arrived for a dataset since a
// point in time
type RecordCounter interface {
	RecordsSince(ctx context.Context, dataset string, since time.Time) (int64, error)
}

// TrainingClock reports when a model was last trained
type TrainingClock interface {
	LastTrainedAt(ctx context.Context, modelName string) (time.Time, bool)
}

// EngineConfig controls the trigger thresholds
type EngineConfig struct {
	// VolumeThreshold is the new-record count that fires the data volume
	// signal. Zero disables the signal.
	VolumeThreshold int64
	// DegradationWindow is the snapshot window for the performance check
	DegradationWindow int
	// DegradationThreshold is the relative drop that fires the
	// performance signal
	DegradationThreshold float64
	// Metric is the performance metric the degradation check runs on
	Metric string
}

// Engine combines independent retraining signals into a single decision.
// Evaluation never returns an error: a signal whose inputs are missing or
// failing simply does not fire, so the engine is safe to poll.
type Engine struct {
	config  EngineConfig
	records RecordCounter
	clock   TrainingClock
	log     *logger.Logger
	tracer  trace.Tracer
}

// NewEngine creates a retraining trigger engine. records and clock may be
// nil, disabling the data volume signal.
func NewEngine(config EngineConfig, records RecordCounter, clock TrainingClock, log *logger.Logger) *Engine {
	if config.DegradationWindow <= 0 {
		config.DegradationWindow = 5
	}
	if config.DegradationThreshold <= 0 {
		config.DegradationThreshold = 0.05
	}
	if config.Metric == "" {
		config.Metric = "accuracy"
	}
	return &Engine{
		config:  config,
		records: records,
		clock:   clock,
		log:     log,
		tracer:  otel.Tracer("retraining-engine"),
	}
}

// Evaluate checks all signals for a model. driftReport and tracker may be
// nil when the corresponding signal has no data yet.
func (e *Engine) Evaluate(ctx context.Context, modelName, dataset string, driftReport *drift.Report, tracker *performance.Tracker) *Decision {
	ctx, span := e.tracer.Start(ctx, "retraining_engine.evaluate")
	defer span.End()

	decision := &Decision{
		ModelName:   modelName,
		EvaluatedAt: time.Now().UTC(),
	}

	if driftReport != nil && driftReport.RetrainingRecommended {
		decision.Reasons = append(decision.Reasons, ReasonDrift)
	}

	e.checkDataVolume(ctx, modelName, dataset, decision)
	e.checkPerformance(ctx, modelName, tracker, decision)

	decision.ShouldRetrain = len(decision.Reasons) > 0

	span.SetAttributes(
		attribute.String("model_name", modelName),
		attribute.Bool("should_retrain", decision.ShouldRetrain),
		attribute.Int("reasons", len(decision.Reasons)),
	)

	if decision.ShouldRetrain {
		e.log.WithModel(modelName).Info("retraining recommended, %d signal(s) fired", len(decision.Reasons))
	}

	return decision
}

func (e *Engine) checkDataVolume(ctx context.Context, modelName, dataset string, decision *Decision) {
	if e.config.VolumeThreshold <= 0 || e.records == nil || e.clock == nil {
		return
	}

	lastTrained, ok := e.clock.LastTrainedAt(ctx, modelName)
	if !ok {
		return
	}
	decision.LastTrainedAt = lastTrained

	count, err := e.records.RecordsSince(ctx, dataset, lastTrained)
	if err != nil {
		e.log.WithModel(modelName).WithError(err).Warn("data volume signal unavailable")
		return
	}
	decision.NewRecords = count

	if count >= e.config.VolumeThreshold {
		decision.Reasons = append(decision.Reasons, ReasonDataVolume)
	}
}

func (e *Engine) checkPerformance(ctx context.Context, modelName string, tracker *performance.Tracker, decision *Decision) {
	if tracker == nil {
		return
	}

	report, err := tracker.DetectDegradation(ctx, e.config.DegradationWindow, e.config.Metric, e.config.DegradationThreshold)
	if err != nil {
		// No baseline or no history yet; the signal stays quiet.
		e.log.WithModel(modelName).WithError(err).Debug("performance signal unavailable")
		return
	}
	if report.Degraded {
		decision.Reasons = append(decision.Reasons, ReasonPerformance)
	}
}
