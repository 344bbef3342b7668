// Package monitor runs the scheduled health check loop: snapshot the
// current data, test it for drift, evaluate the retraining signals, and
// fire alerts on the outcomes.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/TAS/modelguard/pkg/alerting"
	"github.com/TAS/modelguard/pkg/dataset"
	"github.com/TAS/modelguard/pkg/distribution"
	"github.com/TAS/modelguard/pkg/drift"
	"github.com/TAS/modelguard/pkg/logger"
	"github.com/TAS/modelguard/pkg/metrics"
	"github.com/TAS/modelguard/pkg/performance"
	"github.com/TAS/modelguard/pkg/retraining"
)

// DataProvider supplies the current production data for a dataset. The
// reference data is held by the service via SetReference.
type DataProvider interface {
	CurrentData(ctx context.Context, name string) (dataset.Dataset, error)
}

// Target is one model-dataset pair under scheduled monitoring
type Target struct {
	ModelName string
	Dataset   string
}

// CheckResult is the outcome of one health check for one target
type CheckResult struct {
	Target      Target               `json:"target"`
	DriftReport *drift.Report        `json:"drift_report,omitempty"`
	Decision    *retraining.Decision `json:"decision,omitempty"`
	JobID       string               `json:"job_id,omitempty"`
	Err         string               `json:"error,omitempty"`
	CheckedAt   time.Time            `json:"checked_at"`
}

// Config controls the scheduled loop
type Config struct {
	// Schedule is a cron expression, including the @every form
	Schedule string
	// AutoRetrain submits a training job when the trigger engine fires
	AutoRetrain bool
}

// Service wires the detectors, trigger engine, trainer, and alerting into
// one scheduled loop
type Service struct {
	config   Config
	provider DataProvider
	monitor  *distribution.Monitor
	detector *drift.Detector
	engine   *retraining.Engine
	trainer  *retraining.Trainer
	alerts   *alerting.Manager
	metrics  *metrics.Manager
	log      *logger.Logger
	tracer   trace.Tracer

	cron    *cron.Cron
	entryID cron.EntryID

	mu         sync.RWMutex
	targets    []Target
	references map[string]dataset.Dataset
	trackers   map[string]*performance.Tracker
	results    map[string]*CheckResult
}

// NewService creates the health check service. trainer and metrics may be
// nil, disabling auto-retraining submission and instrumentation.
func NewService(
	config Config,
	provider DataProvider,
	mon *distribution.Monitor,
	detector *drift.Detector,
	engine *retraining.Engine,
	trainer *retraining.Trainer,
	alerts *alerting.Manager,
	met *metrics.Manager,
	log *logger.Logger,
) *Service {
	if config.Schedule == "" {
		config.Schedule = "@every 5m"
	}
	return &Service{
		config:     config,
		provider:   provider,
		monitor:    mon,
		detector:   detector,
		engine:     engine,
		trainer:    trainer,
		alerts:     alerts,
		metrics:    met,
		log:        log,
		tracer:     otel.Tracer("monitor-service"),
		cron:       cron.New(),
		references: make(map[string]dataset.Dataset),
		trackers:   make(map[string]*performance.Tracker),
		results:    make(map[string]*CheckResult),
	}
}

// AddTarget registers a model-dataset pair for scheduled checks. tracker
// may be nil when the model has no performance history yet.
func (s *Service) AddTarget(target Target, reference dataset.Dataset, tracker *performance.Tracker) error {
	if target.ModelName == "" || target.Dataset == "" {
		return fmt.Errorf("target needs both a model name and a dataset")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.targets {
		if existing == target {
			return fmt.Errorf("target %s/%s already registered", target.ModelName, target.Dataset)
		}
	}

	s.targets = append(s.targets, target)
	if reference != nil {
		s.references[target.Dataset] = reference
	}
	if tracker != nil {
		s.trackers[target.ModelName] = tracker
	}

	s.log.WithModel(target.ModelName).WithDataset(target.Dataset).Info("registered monitoring target")
	return nil
}

// SetReference replaces the reference data for a dataset, for use after a
// retraining run rebases the expected distribution
func (s *Service) SetReference(name string, reference dataset.Dataset) {
	s.mu.Lock()
	s.references[name] = reference
	s.mu.Unlock()
}

// Start schedules the check loop. The loop runs until Stop.
func (s *Service) Start() error {
	entryID, err := s.cron.AddFunc(s.config.Schedule, func() {
		s.RunChecks(context.Background())
	})
	if err != nil {
		return fmt.Errorf("invalid monitor schedule %q: %w", s.config.Schedule, err)
	}
	s.entryID = entryID
	s.cron.Start()
	s.log.Info("monitor started with schedule %q", s.config.Schedule)
	return nil
}

// Stop halts the schedule and waits for a running check to finish
func (s *Service) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	if s.trainer != nil {
		s.trainer.Wait()
	}
	s.log.Info("monitor stopped")
}

// RunChecks executes one health check pass over all targets and returns
// the per-target results
func (s *Service) RunChecks(ctx context.Context) []*CheckResult {
	ctx, span := s.tracer.Start(ctx, "monitor.run_checks")
	defer span.End()

	s.mu.RLock()
	targets := append([]Target(nil), s.targets...)
	s.mu.RUnlock()

	results := make([]*CheckResult, 0, len(targets))
	for _, target := range targets {
		result := s.checkTarget(ctx, target)
		results = append(results, result)

		s.mu.Lock()
		s.results[target.ModelName+"/"+target.Dataset] = result
		s.mu.Unlock()
	}

	span.SetAttributes(attribute.Int("targets", len(targets)))
	return results
}

// LastResult returns the most recent check outcome for a target
func (s *Service) LastResult(target Target) (*CheckResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[target.ModelName+"/"+target.Dataset]
	return result, ok
}

// checkTarget runs the full pipeline for one target. Failures are
// captured on the result rather than aborting the pass.
func (s *Service) checkTarget(ctx context.Context, target Target) *CheckResult {
	started := time.Now()
	result := &CheckResult{Target: target, CheckedAt: started.UTC()}
	log := s.log.WithModel(target.ModelName).WithDataset(target.Dataset)

	current, err := s.provider.CurrentData(ctx, target.Dataset)
	if err != nil {
		result.Err = fmt.Sprintf("data provider: %v", err)
		log.WithError(err).Error("health check failed to load current data")
		return result
	}

	if _, err := s.monitor.Track(ctx, current, target.Dataset, time.Now().UTC()); err != nil {
		log.WithError(err).Warn("failed to record distribution snapshot")
	} else if s.metrics != nil {
		s.metrics.Snapshots.WithLabelValues(target.Dataset).Inc()
	}

	s.mu.RLock()
	reference := s.references[target.Dataset]
	tracker := s.trackers[target.ModelName]
	s.mu.RUnlock()

	if reference == nil {
		result.Err = "no reference data configured"
		log.Warn("health check skipped, no reference data")
		return result
	}

	report, err := s.detector.DetectDrift(ctx, reference, current, target.Dataset)
	if err != nil {
		result.Err = fmt.Sprintf("drift detection: %v", err)
		log.WithError(err).Error("drift detection failed")
		return result
	}
	result.DriftReport = report

	if s.metrics != nil {
		s.metrics.DriftChecks.WithLabelValues(target.Dataset).Inc()
		if report.DriftDetected {
			for _, method := range report.Methods {
				s.metrics.DriftDetections.WithLabelValues(target.Dataset, string(method)).Inc()
			}
		}
	}

	if report.DriftDetected && s.alerts != nil {
		fired := s.alerts.Fire(ctx, &alerting.Alert{
			Type:      alerting.TypeDrift,
			Severity:  alerting.SeverityWarning,
			ModelName: target.ModelName,
			Dataset:   target.Dataset,
			Message:   fmt.Sprintf("drift detected on %d feature(s)", len(report.FeaturesWithDrift)),
			Details:   map[string]interface{}{"features": report.FeaturesWithDrift},
		})
		if fired && s.metrics != nil {
			s.metrics.Alerts.WithLabelValues(string(alerting.TypeDrift), string(alerting.SeverityWarning)).Inc()
		}
	}

	decision := s.engine.Evaluate(ctx, target.ModelName, target.Dataset, report, tracker)
	result.Decision = decision

	if decision.ShouldRetrain {
		if s.alerts != nil {
			s.alerts.Fire(ctx, &alerting.Alert{
				Type:      alerting.TypeRetraining,
				Severity:  alerting.SeverityInfo,
				ModelName: target.ModelName,
				Dataset:   target.Dataset,
				Message:   fmt.Sprintf("retraining triggered by %v", decision.Reasons),
			})
		}
		if s.config.AutoRetrain && s.trainer != nil {
			jobID, err := s.trainer.Submit(ctx, target.ModelName, target.Dataset, decision)
			if err != nil {
				log.WithError(err).Error("failed to submit retraining job")
			} else {
				result.JobID = jobID
				if s.metrics != nil {
					s.metrics.RetrainingJobs.WithLabelValues(target.ModelName, "submitted").Inc()
				}
			}
		}
	}

	if s.metrics != nil {
		s.metrics.ObserveCheck("target", time.Since(started))
	}

	return result
}
