package abtest

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/TAS/modelguard/pkg/logger"
	"github.com/TAS/modelguard/pkg/registry"
)

// TestStatus is the lifecycle state of an A/B test
type TestStatus string

const (
	// StatusRunning marks an active test still routing traffic
	StatusRunning TestStatus = "running"
	// StatusCompleted marks a concluded test
	StatusCompleted TestStatus = "completed"
)

// Variant identifies one arm of a test
type Variant string

const (
	// VariantA is the control arm, normally the production version
	VariantA Variant = "a"
	// VariantB is the challenger arm
	VariantB Variant = "b"
	// VariantProduction tags a route served outside any active test
	VariantProduction Variant = "production"
)

// VariantStats accumulates recorded outcomes for one arm. Samples counts
// outcomes reported through RecordResult, not routed requests; outcomes
// for routed requests may arrive late or never.
type VariantStats struct {
	VersionID string  `json:"version_id"`
	Samples   int64   `json:"samples"`
	Successes int64   `json:"successes"`
	ScoreSum  float64 `json:"score_sum"`
}

// Average returns the mean outcome score of the arm
func (s *VariantStats) Average() float64 {
	if s.Samples == 0 {
		return 0
	}
	return s.ScoreSum / float64(s.Samples)
}

// Test is one running or completed A/B comparison between two model
// versions of the same model
type Test struct {
	TestID       string        `json:"test_id"`
	ModelName    string        `json:"model_name"`
	TrafficSplit float64       `json:"traffic_split"` // fraction routed to variant b
	MinSamples   int64         `json:"min_samples"`
	MaxDuration  time.Duration `json:"max_duration"`
	Status       TestStatus    `json:"status"`
	Winner       Variant       `json:"winner,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	EndedAt      *time.Time    `json:"ended_at,omitempty"`

	mu sync.Mutex
	a  VariantStats
	b  VariantStats
}

// StatusReport is a point-in-time evaluation of a running test
type StatusReport struct {
	TestID        string       `json:"test_id"`
	Status        TestStatus   `json:"status"`
	Elapsed       time.Duration `json:"elapsed"`
	VariantA      VariantStats `json:"variant_a"`
	VariantB      VariantStats `json:"variant_b"`
	ReadyToDecide bool         `json:"ready_to_decide"`
	Winner        Variant      `json:"winner,omitempty"`
	Reason        string       `json:"reason"`
}

// ManagerConfig controls test evaluation defaults
type ManagerConfig struct {
	// WinnerGap is the minimum absolute difference between arm averages
	// required to declare a winner
	WinnerGap float64
	// MinSamples is the per-arm sample floor before an early decision
	MinSamples int64
	// MaxDuration ends a test by elapsed time regardless of samples
	MaxDuration time.Duration
}

// Manager runs A/B tests with deterministic request routing. The same
// request id always lands on the same variant for a given test.
type Manager struct {
	config   ManagerConfig
	registry *registry.Registry
	log      *logger.Logger
	tracer   trace.Tracer

	mu     sync.RWMutex
	tests  map[string]*Test
	active map[string]string // model name -> running test id
}

// NewManager creates an A/B test manager
func NewManager(config ManagerConfig, reg *registry.Registry, log *logger.Logger) *Manager {
	if config.WinnerGap <= 0 {
		config.WinnerGap = 0.1
	}
	if config.MinSamples <= 0 {
		config.MinSamples = 100
	}
	if config.MaxDuration <= 0 {
		config.MaxDuration = 7 * 24 * time.Hour
	}
	return &Manager{
		config:   config,
		registry: reg,
		log:      log,
		tracer:   otel.Tracer("abtest-manager"),
		tests:    make(map[string]*Test),
		active:   make(map[string]string),
	}
}

// CreateTest starts a test between two versions of the same model.
// trafficSplit is the fraction of requests routed to variant b and must
// be in (0, 1).
func (m *Manager) CreateTest(ctx context.Context, testID, modelName, versionA, versionB string, trafficSplit float64) (*Test, error) {
	_, span := m.tracer.Start(ctx, "abtest.create_test")
	defer span.End()

	if trafficSplit <= 0 || trafficSplit >= 1 {
		return nil, fmt.Errorf("traffic split must be in (0, 1), got %v", trafficSplit)
	}

	for _, versionID := range []string{versionA, versionB} {
		version, err := m.registry.Get(ctx, versionID)
		if err != nil {
			return nil, err
		}
		if version.ModelName != modelName {
			return nil, fmt.Errorf("version %s belongs to model %s, not %s", versionID, version.ModelName, modelName)
		}
	}

	test := &Test{
		TestID:       testID,
		ModelName:    modelName,
		TrafficSplit: trafficSplit,
		MinSamples:   m.config.MinSamples,
		MaxDuration:  m.config.MaxDuration,
		Status:       StatusRunning,
		StartedAt:    time.Now().UTC(),
		a:            VariantStats{VersionID: versionA},
		b:            VariantStats{VersionID: versionB},
	}

	m.mu.Lock()
	if _, exists := m.tests[testID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("test %s already exists", testID)
	}
	if running, exists := m.active[modelName]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("model %s already has a running test %s", modelName, running)
	}
	m.tests[testID] = test
	m.active[modelName] = testID
	m.mu.Unlock()

	span.SetAttributes(
		attribute.String("test_id", testID),
		attribute.String("model_name", modelName),
		attribute.Float64("traffic_split", trafficSplit),
	)

	m.log.WithModel(modelName).Info("created a/b test %s: %s vs %s at %.0f%%", testID, versionA, versionB, trafficSplit*100)
	return test, nil
}

// Route returns the version id serving the given request for a model.
// With no running test for the model the production version is returned
// tagged VariantProduction. Variant assignment is a pure function of the
// test and request ids; it mutates nothing, so repeated calls for the
// same request always agree and concurrent callers never contend.
func (m *Manager) Route(ctx context.Context, modelName, requestID string) (string, Variant, error) {
	m.mu.RLock()
	test := m.tests[m.active[modelName]]
	m.mu.RUnlock()

	if test == nil {
		production, exists := m.registry.GetProduction(ctx, modelName)
		if !exists {
			return "", "", fmt.Errorf("model %s has no running test and no production version", modelName)
		}
		return production.VersionID, VariantProduction, nil
	}

	// The split and version ids are immutable after CreateTest; ending a
	// test removes it from the active index. No per-test lock is needed.
	// Hash to a uniform point in [0, 1); below the split goes to b.
	u := float64(xxhash.Sum64String(test.TestID+"/"+requestID)) / float64(math.MaxUint64)
	if u < test.TrafficSplit {
		return test.b.VersionID, VariantB, nil
	}
	return test.a.VersionID, VariantA, nil
}

// RecordResult attributes an observed outcome score to a variant and
// advances the arm's sample count. success feeds the success counter
// alongside the score sum.
func (m *Manager) RecordResult(ctx context.Context, testID string, variant Variant, score float64, success bool) error {
	m.mu.RLock()
	test, ok := m.tests[testID]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("unknown test %s", testID)
	}

	test.mu.Lock()
	defer test.mu.Unlock()

	if test.Status != StatusRunning {
		return fmt.Errorf("test %s is not running", testID)
	}

	var stats *VariantStats
	switch variant {
	case VariantA:
		stats = &test.a
	case VariantB:
		stats = &test.b
	default:
		return fmt.Errorf("unknown variant %q", variant)
	}

	stats.Samples++
	stats.ScoreSum += score
	if success {
		stats.Successes++
	}
	return nil
}

// CheckStatus evaluates whether the test can be decided. A decision is
// ready when the max duration elapsed, or when both arms reached the
// sample floor and the averages differ by more than the winner gap.
func (m *Manager) CheckStatus(ctx context.Context, testID string) (*StatusReport, error) {
	m.mu.RLock()
	test, ok := m.tests[testID]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown test %s", testID)
	}

	test.mu.Lock()
	defer test.mu.Unlock()

	report := &StatusReport{
		TestID:   testID,
		Status:   test.Status,
		Elapsed:  time.Since(test.StartedAt),
		VariantA: test.a,
		VariantB: test.b,
	}

	if test.Status != StatusRunning {
		report.Winner = test.Winner
		report.Reason = "test already completed"
		return report, nil
	}

	avgA, avgB := test.a.Average(), test.b.Average()
	gap := avgB - avgA

	switch {
	case report.Elapsed >= test.MaxDuration:
		report.ReadyToDecide = true
		report.Winner = winnerByGap(gap, m.config.WinnerGap)
		report.Reason = "max duration elapsed"
	case test.a.Samples >= test.MinSamples && test.b.Samples >= test.MinSamples && math.Abs(gap) > m.config.WinnerGap:
		report.ReadyToDecide = true
		report.Winner = winnerByGap(gap, m.config.WinnerGap)
		report.Reason = fmt.Sprintf("significant gap %.4f with both arms past %d samples", gap, test.MinSamples)
	default:
		report.Reason = "collecting samples"
	}

	return report, nil
}

// EndTest concludes a test, records the winner, and optionally promotes
// the winning version to production
func (m *Manager) EndTest(ctx context.Context, testID string, promoteWinner bool) (*StatusReport, error) {
	ctx, span := m.tracer.Start(ctx, "abtest.end_test")
	defer span.End()

	report, err := m.CheckStatus(ctx, testID)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	test := m.tests[testID]
	m.mu.RUnlock()

	test.mu.Lock()
	if test.Status != StatusRunning {
		test.mu.Unlock()
		return report, nil
	}
	now := time.Now().UTC()
	test.Status = StatusCompleted
	test.EndedAt = &now
	test.Winner = report.Winner
	winnerVersion := ""
	switch report.Winner {
	case VariantA:
		winnerVersion = test.a.VersionID
	case VariantB:
		winnerVersion = test.b.VersionID
	}
	modelName := test.ModelName
	test.mu.Unlock()

	m.mu.Lock()
	if m.active[modelName] == testID {
		delete(m.active, modelName)
	}
	m.mu.Unlock()

	report.Status = StatusCompleted

	if report.Winner == "" {
		m.log.WithModel(modelName).Info("ended a/b test %s with no clear winner", testID)
		return report, nil
	}

	m.log.WithModel(modelName).Info("ended a/b test %s, winner %s (%s)", testID, report.Winner, winnerVersion)

	if promoteWinner {
		version, err := m.registry.Get(ctx, winnerVersion)
		if err != nil {
			return report, err
		}
		if version.Status != registry.StatusProduction {
			if err := m.registry.Promote(ctx, modelName, winnerVersion); err != nil {
				return report, fmt.Errorf("failed to promote a/b winner: %w", err)
			}
			m.log.WithModel(modelName).Info("promoted a/b winner %s to production", winnerVersion)
		}
	}

	return report, nil
}

// Test returns a snapshot of a test's current state
func (m *Manager) Test(testID string) (*Test, bool) {
	m.mu.RLock()
	test, ok := m.tests[testID]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}

	test.mu.Lock()
	defer test.mu.Unlock()
	snapshot := &Test{
		TestID:       test.TestID,
		ModelName:    test.ModelName,
		TrafficSplit: test.TrafficSplit,
		MinSamples:   test.MinSamples,
		MaxDuration:  test.MaxDuration,
		Status:       test.Status,
		Winner:       test.Winner,
		StartedAt:    test.StartedAt,
		a:            test.a,
		b:            test.b,
	}
	if test.EndedAt != nil {
		endedAt := *test.EndedAt
		snapshot.EndedAt = &endedAt
	}
	return snapshot, true
}

// Stats returns the current per-arm statistics of a test
func (m *Manager) Stats(testID string) (a, b VariantStats, err error) {
	m.mu.RLock()
	test, ok := m.tests[testID]
	m.mu.RUnlock()
	if !ok {
		return VariantStats{}, VariantStats{}, fmt.Errorf("unknown test %s", testID)
	}
	test.mu.Lock()
	defer test.mu.Unlock()
	return test.a, test.b, nil
}

// winnerByGap declares b on a positive gap past the threshold, a on a
// negative one, and no winner inside the band
func winnerByGap(gap, threshold float64) Variant {
	switch {
	case gap > threshold:
		return VariantB
	case gap < -threshold:
		return VariantA
	default:
		return ""
	}
}
