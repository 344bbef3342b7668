package promotion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/TAS/modelguard/pkg/logger"
	"github.com/TAS/modelguard/pkg/registry"
)

// Outcome is the verdict of one promotion evaluation
type Outcome string

const (
	// OutcomeDeployed means the candidate was promoted to production
	OutcomeDeployed Outcome = "deployed"
	// OutcomeManualReview means the improvement was positive but below the
	// promotion threshold
	OutcomeManualReview Outcome = "manual_review"
	// OutcomeRejected means the candidate did not beat production
	OutcomeRejected Outcome = "rejected"
	// OutcomeRolledBack means a rollback decision was executed
	OutcomeRolledBack Outcome = "rolled_back"
)

// Decision records one evaluated candidate
type Decision struct {
	ModelName       string    `json:"model_name"`
	CandidateID     string    `json:"candidate_id"`
	ProductionID    string    `json:"production_id,omitempty"`
	Metric          string    `json:"metric"`
	CandidateValue  float64   `json:"candidate_value"`
	ProductionValue float64   `json:"production_value"`
	Improvement     float64   `json:"improvement"` // relative to production
	Outcome         Outcome   `json:"outcome"`
	Reason          string    `json:"reason"`
	Timestamp       time.Time `json:"timestamp"`
}

// Summary aggregates decision counts per outcome
type Summary struct {
	Total        int `json:"total"`
	Deployed     int `json:"deployed"`
	ManualReview int `json:"manual_review"`
	Rejected     int `json:"rejected"`
	RolledBack   int `json:"rolled_back"`
}

// Config controls the promotion rules
type Config struct {
	// ImprovementThreshold is the minimum relative improvement on the
	// primary metric required for automatic promotion
	ImprovementThreshold float64
	// PrimaryMetric is the registry metric the comparison runs on
	PrimaryMetric string
}

// Promoter evaluates candidate versions against the live production
// version and drives the registry lifecycle accordingly
type Promoter struct {
	config   Config
	registry *registry.Registry
	log      *logger.Logger
	tracer   trace.Tracer

	mu        sync.Mutex
	decisions []Decision
}

// NewPromoter creates a promoter. Zero config fields fall back to
// a 5% improvement threshold on roc_auc.
func NewPromoter(config Config, reg *registry.Registry, log *logger.Logger) *Promoter {
	if config.ImprovementThreshold <= 0 {
		config.ImprovementThreshold = 0.05
	}
	if config.PrimaryMetric == "" {
		config.PrimaryMetric = "roc_auc"
	}
	return &Promoter{
		config:   config,
		registry: reg,
		log:      log,
		tracer:   otel.Tracer("model-promoter"),
	}
}

// PromoteIfBetter compares a candidate against the current production
// version on the primary metric. With no production version the candidate
// deploys unconditionally. Otherwise the relative improvement decides:
// at or above the threshold deploys, positive but below goes to manual
// review, zero or negative rejects.
func (p *Promoter) PromoteIfBetter(ctx context.Context, modelName, candidateID string) (*Decision, error) {
	ctx, span := p.tracer.Start(ctx, "promoter.promote_if_better")
	defer span.End()

	candidate, err := p.registry.Get(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	if candidate.ModelName != modelName {
		return nil, fmt.Errorf("candidate %s belongs to model %s, not %s", candidateID, candidate.ModelName, modelName)
	}

	decision := &Decision{
		ModelName:   modelName,
		CandidateID: candidateID,
		Metric:      p.config.PrimaryMetric,
		Timestamp:   time.Now().UTC(),
	}

	candidateValue, ok := candidate.Metrics[p.config.PrimaryMetric]
	if !ok {
		return nil, fmt.Errorf("candidate %s has no metric %s", candidateID, p.config.PrimaryMetric)
	}
	decision.CandidateValue = candidateValue

	production, exists := p.registry.GetProduction(ctx, modelName)
	if !exists {
		if err := p.registry.Promote(ctx, modelName, candidateID); err != nil {
			return nil, err
		}
		decision.Outcome = OutcomeDeployed
		decision.Reason = "no production version, first deployment"
		p.record(decision)
		p.log.WithModel(modelName).Info("deployed %s as first production version", candidateID)
		return decision, nil
	}

	decision.ProductionID = production.VersionID
	productionValue, ok := production.Metrics[p.config.PrimaryMetric]
	if !ok {
		return nil, fmt.Errorf("production version %s has no metric %s", production.VersionID, p.config.PrimaryMetric)
	}
	decision.ProductionValue = productionValue

	if productionValue != 0 {
		decision.Improvement = (candidateValue - productionValue) / productionValue
	} else if candidateValue > 0 {
		decision.Improvement = 1
	}

	span.SetAttributes(
		attribute.String("model_name", modelName),
		attribute.Float64("improvement", decision.Improvement),
	)

	switch {
	case decision.Improvement >= p.config.ImprovementThreshold:
		if err := p.registry.Promote(ctx, modelName, candidateID); err != nil {
			return nil, err
		}
		decision.Outcome = OutcomeDeployed
		decision.Reason = fmt.Sprintf("%s improved %.2f%% over production", p.config.PrimaryMetric, decision.Improvement*100)
		p.log.WithModel(modelName).Info("promoted %s: %s", candidateID, decision.Reason)
	case decision.Improvement > 0:
		decision.Outcome = OutcomeManualReview
		decision.Reason = fmt.Sprintf("improvement %.2f%% is below the %.2f%% threshold", decision.Improvement*100, p.config.ImprovementThreshold*100)
		p.log.WithModel(modelName).Warn("candidate %s flagged for manual review: %s", candidateID, decision.Reason)
	default:
		decision.Outcome = OutcomeRejected
		decision.Reason = fmt.Sprintf("candidate %s does not beat production on %s", candidateID, p.config.PrimaryMetric)
		p.log.WithModel(modelName).Info("rejected candidate %s", candidateID)
	}

	p.record(decision)
	return decision, nil
}

// Rollback restores a previous production version. With an empty target
// the version deployed immediately before the current one is used.
func (p *Promoter) Rollback(ctx context.Context, modelName, targetID string) (*Decision, error) {
	ctx, span := p.tracer.Start(ctx, "promoter.rollback")
	defer span.End()

	if targetID == "" {
		previous, ok := p.registry.PreviousProduction(ctx, modelName)
		if !ok {
			return nil, fmt.Errorf("no previous production version for model %s", modelName)
		}
		targetID = previous
	}

	if err := p.registry.Rollback(ctx, modelName, targetID); err != nil {
		return nil, err
	}

	decision := &Decision{
		ModelName:   modelName,
		CandidateID: targetID,
		Metric:      p.config.PrimaryMetric,
		Outcome:     OutcomeRolledBack,
		Reason:      "rollback to previously deployed version",
		Timestamp:   time.Now().UTC(),
	}
	p.record(decision)

	p.log.WithModel(modelName).Warn("rolled back production to %s", targetID)
	return decision, nil
}

// Decisions returns a copy of the decision log, newest last
func (p *Promoter) Decisions() []Decision {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Decision, len(p.decisions))
	copy(out, p.decisions)
	return out
}

// Summarize counts decisions per outcome
func (p *Promoter) Summarize() Summary {
	p.mu.Lock()
	defer p.mu.Unlock()

	summary := Summary{Total: len(p.decisions)}
	for _, d := range p.decisions {
		switch d.Outcome {
		case OutcomeDeployed:
			summary.Deployed++
		case OutcomeManualReview:
			summary.ManualReview++
		case OutcomeRejected:
			summary.Rejected++
		case OutcomeRolledBack:
			summary.RolledBack++
		}
	}
	return summary
}

func (p *Promoter) record(decision *Decision) {
	p.mu.Lock()
	p.decisions = append(p.decisions, *decision)
	p.mu.Unlock()
}
