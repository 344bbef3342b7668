package abtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/TAS/modelguard/pkg/registry"
)

// Strategy selects how a new version takes traffic
type Strategy string

const (
	// StrategyImmediate switches all traffic at once
	StrategyImmediate Strategy = "immediate"
	// StrategyCanary starts at a small fixed slice then jumps to full
	StrategyCanary Strategy = "canary"
	// StrategyGradual ramps traffic in fixed increments
	StrategyGradual Strategy = "gradual"
	// StrategyABTest routes through a running A/B test
	StrategyABTest Strategy = "ab_test"
)

// RolloutStep is one scheduled traffic level
type RolloutStep struct {
	Step              int           `json:"step"`
	TrafficPercentage float64       `json:"traffic_percentage"`
	Delay             time.Duration `json:"delay"` // from rollout start
}

// Rollout is a scheduled traffic shift toward a new version
type Rollout struct {
	RolloutID string        `json:"rollout_id"`
	ModelName string        `json:"model_name"`
	VersionID string        `json:"version_id"`
	Strategy  Strategy      `json:"strategy"`
	Steps     []RolloutStep `json:"steps"`
	CreatedAt time.Time     `json:"created_at"`

	mu          sync.Mutex
	currentStep int
	done        bool
}

// RolloutOptions tunes the generated schedule
type RolloutOptions struct {
	// InitialTraffic is the starting fraction for canary and gradual
	InitialTraffic float64
	// Increment is the per-step fraction added under gradual
	Increment float64
	// StepInterval is the delay between consecutive steps
	StepInterval time.Duration
}

// CurrentTraffic returns the traffic percentage of the last applied step
func (r *Rollout) CurrentTraffic() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.currentStep == 0 {
		return 0
	}
	return r.Steps[r.currentStep-1].TrafficPercentage
}

// Done reports whether every step has been applied
func (r *Rollout) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// CreateRollout builds the step schedule for a version under the given
// strategy. The first step always fires immediately; later steps are
// spaced by the step interval.
func (m *Manager) CreateRollout(ctx context.Context, rolloutID, modelName, versionID string, strategy Strategy, opts RolloutOptions) (*Rollout, error) {
	_, span := m.tracer.Start(ctx, "abtest.create_rollout")
	defer span.End()

	version, err := m.registry.Get(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if version.ModelName != modelName {
		return nil, fmt.Errorf("version %s belongs to model %s, not %s", versionID, version.ModelName, modelName)
	}

	if opts.InitialTraffic <= 0 {
		opts.InitialTraffic = 0.1
	}
	if opts.Increment <= 0 {
		opts.Increment = 0.2
	}
	if opts.StepInterval <= 0 {
		opts.StepInterval = time.Hour
	}

	steps, err := buildSteps(strategy, opts)
	if err != nil {
		return nil, err
	}

	rollout := &Rollout{
		RolloutID: rolloutID,
		ModelName: modelName,
		VersionID: versionID,
		Strategy:  strategy,
		Steps:     steps,
		CreatedAt: time.Now().UTC(),
	}

	span.SetAttributes(
		attribute.String("rollout_id", rolloutID),
		attribute.String("strategy", string(strategy)),
		attribute.Int("steps", len(steps)),
	)

	m.log.WithModel(modelName).Info("created %s rollout %s for %s with %d steps", strategy, rolloutID, versionID, len(steps))
	return rollout, nil
}

// buildSteps derives the traffic schedule for each strategy
func buildSteps(strategy Strategy, opts RolloutOptions) ([]RolloutStep, error) {
	switch strategy {
	case StrategyImmediate:
		return []RolloutStep{{Step: 1, TrafficPercentage: 100, Delay: 0}}, nil

	case StrategyCanary:
		return []RolloutStep{
			{Step: 1, TrafficPercentage: opts.InitialTraffic * 100, Delay: 0},
			{Step: 2, TrafficPercentage: 100, Delay: opts.StepInterval},
		}, nil

	case StrategyGradual:
		var steps []RolloutStep
		traffic := opts.InitialTraffic
		for i := 0; traffic < 1; i++ {
			steps = append(steps, RolloutStep{
				Step:              i + 1,
				TrafficPercentage: traffic * 100,
				Delay:             time.Duration(i) * opts.StepInterval,
			})
			traffic += opts.Increment
		}
		steps = append(steps, RolloutStep{
			Step:              len(steps) + 1,
			TrafficPercentage: 100,
			Delay:             time.Duration(len(steps)) * opts.StepInterval,
		})
		return steps, nil

	case StrategyABTest:
		// A/B rollouts hold the initial slice until the test concludes.
		return []RolloutStep{{Step: 1, TrafficPercentage: opts.InitialTraffic * 100, Delay: 0}}, nil

	default:
		return nil, fmt.Errorf("unknown rollout strategy %q", strategy)
	}
}

// ExecuteRollout walks the schedule, invoking apply at each step with the
// step's traffic percentage. The final 100% step promotes the version to
// production. Cancelling the context aborts between steps.
func (m *Manager) ExecuteRollout(ctx context.Context, rollout *Rollout, apply func(step RolloutStep) error) error {
	ctx, span := m.tracer.Start(ctx, "abtest.execute_rollout")
	defer span.End()

	start := time.Now()
	for _, step := range rollout.Steps {
		if wait := step.Delay - time.Since(start); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		if apply != nil {
			if err := apply(step); err != nil {
				return fmt.Errorf("rollout %s aborted at step %d: %w", rollout.RolloutID, step.Step, err)
			}
		}

		rollout.mu.Lock()
		rollout.currentStep = step.Step
		rollout.mu.Unlock()

		m.log.WithModel(rollout.ModelName).Info("rollout %s step %d: %.0f%% traffic to %s",
			rollout.RolloutID, step.Step, step.TrafficPercentage, rollout.VersionID)

		if step.TrafficPercentage >= 100 {
			version, err := m.registry.Get(ctx, rollout.VersionID)
			if err != nil {
				return err
			}
			if version.Status != registry.StatusProduction {
				if err := m.registry.Promote(ctx, rollout.ModelName, rollout.VersionID); err != nil {
					return fmt.Errorf("failed to promote at full rollout: %w", err)
				}
			}
		}
	}

	rollout.mu.Lock()
	rollout.done = true
	rollout.mu.Unlock()

	return nil
}
