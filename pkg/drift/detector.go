package drift

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/TAS/modelguard/pkg/dataset"
	"github.com/TAS/modelguard/pkg/logger"
)

// DetectorConfig contains configuration for drift detection
type DetectorConfig struct {
	KSAlpha      float64  `json:"ks_alpha"`
	PSIBins      int      `json:"psi_bins"`
	PSIThreshold float64  `json:"psi_threshold"`
	Methods      []Method `json:"methods"`
	Workers      int      `json:"workers"`
}

// Detector runs two-sample statistical tests per feature against a
// reference dataset and aggregates the results into a drift verdict
type Detector struct {
	config *DetectorConfig
	store  ReportStore
	log    *logger.Logger
	tracer trace.Tracer
}

// NewDetector creates a new drift detector. The report store may be nil, in
// which case reports are not persisted.
func NewDetector(config *DetectorConfig, store ReportStore, log *logger.Logger) *Detector {
	if config == nil {
		config = &DetectorConfig{}
	}
	if config.KSAlpha <= 0 {
		config.KSAlpha = 0.05
	}
	if config.PSIBins <= 0 {
		config.PSIBins = 10
	}
	if config.PSIThreshold <= 0 {
		config.PSIThreshold = 0.2
	}
	if len(config.Methods) == 0 {
		config.Methods = []Method{MethodKS, MethodPSI}
	}
	if config.Workers <= 0 {
		config.Workers = 4
	}

	return &Detector{
		config: config,
		store:  store,
		log:    log,
		tracer: otel.Tracer("drift-detector"),
	}
}

// KSTest computes the two-sample Kolmogorov-Smirnov statistic and its
// asymptotic p-value. Drift is flagged when p < alpha.
func (d *Detector) KSTest(refValues, curValues []float64, alpha float64) (*KSResult, error) {
	ref := dataset.Clean(refValues)
	cur := dataset.Clean(curValues)
	if len(ref) == 0 || len(cur) == 0 {
		return nil, ErrInsufficientData
	}
	if alpha <= 0 {
		alpha = d.config.KSAlpha
	}

	statistic := ksStatistic(ref, cur)
	pValue := ksPValue(statistic, len(ref), len(cur))

	return &KSResult{
		Statistic:     statistic,
		PValue:        pValue,
		DriftDetected: pValue < alpha,
	}, nil
}

// PSI computes the Population Stability Index of current against reference.
// Bin edges come from the reference histogram, with the outer edges
// extended to cover the union of both ranges; zero proportions are floored
// at epsilon to keep the logarithm finite.
func (d *Detector) PSI(refValues, curValues []float64, bins int, threshold float64) (*PSIResult, error) {
	ref := dataset.Clean(refValues)
	cur := dataset.Clean(curValues)
	if len(ref) == 0 || len(cur) == 0 {
		return nil, ErrInsufficientData
	}
	if bins <= 0 {
		bins = d.config.PSIBins
	}
	if threshold <= 0 {
		threshold = d.config.PSIThreshold
	}

	score := psiScore(ref, cur, bins)

	return &PSIResult{
		Score:         score,
		DriftDetected: score >= threshold,
	}, nil
}

// DetectDrift runs the configured methods per feature and aggregates an
// overall verdict. Features absent from either dataset, or empty after
// cleaning, are skipped rather than failing the run.
func (d *Detector) DetectDrift(ctx context.Context, reference, current dataset.Dataset, name string) (*Report, error) {
	ctx, span := d.tracer.Start(ctx, "drift_detector.detect_drift")
	defer span.End()

	if len(reference) == 0 || len(current) == 0 {
		return nil, fmt.Errorf("both reference and current datasets are required")
	}

	shared := make([]string, 0, len(current))
	for _, feature := range current.Features() {
		if _, ok := reference[feature]; ok {
			shared = append(shared, feature)
		} else {
			d.log.WithDataset(name).Warn("feature %s missing from reference, skipping", feature)
		}
	}

	type outcome struct {
		feature string
		result  FeatureResult
		skipped bool
	}

	results := make(chan outcome, len(shared))
	semaphore := make(chan struct{}, d.config.Workers)

	for _, feature := range shared {
		go func(feature string) {
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			result, err := d.testFeature(reference[feature], current[feature], feature)
			if err != nil {
				results <- outcome{feature: feature, skipped: true}
				return
			}
			results <- outcome{feature: feature, result: *result}
		}(feature)
	}

	report := &Report{
		Dataset:   name,
		Timestamp: time.Now().UTC(),
		Methods:   append([]Method(nil), d.config.Methods...),
		Features:  make(map[string]FeatureResult, len(shared)),
	}

	for range shared {
		select {
		case out := <-results:
			if out.skipped {
				d.log.WithDataset(name).Warn("feature %s has no valid values, skipping drift tests", out.feature)
				continue
			}
			report.Features[out.feature] = out.result
			if out.result.Drifted() {
				report.FeaturesWithDrift = append(report.FeaturesWithDrift, out.feature)
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	sort.Strings(report.FeaturesWithDrift)
	report.DriftDetected = len(report.FeaturesWithDrift) > 0
	report.RetrainingRecommended = report.DriftDetected

	if d.store != nil {
		if err := d.store.AppendReport(ctx, report); err != nil {
			// The verdict already computed is still returned to the caller.
			d.log.WithDataset(name).WithError(err).Warn("failed to persist drift report")
		}
	}

	span.SetAttributes(
		attribute.String("dataset", name),
		attribute.Int("features_tested", len(report.Features)),
		attribute.Int("features_with_drift", len(report.FeaturesWithDrift)),
		attribute.Bool("drift_detected", report.DriftDetected),
	)

	return report, nil
}

// testFeature runs the configured methods against one feature column
func (d *Detector) testFeature(refValues, curValues []float64, feature string) (*FeatureResult, error) {
	result := &FeatureResult{Feature: feature}

	for _, method := range d.config.Methods {
		switch method {
		case MethodKS:
			ks, err := d.KSTest(refValues, curValues, d.config.KSAlpha)
			if err != nil {
				return nil, err
			}
			result.KS = ks
		case MethodPSI:
			psi, err := d.PSI(refValues, curValues, d.config.PSIBins, d.config.PSIThreshold)
			if err != nil {
				return nil, err
			}
			result.PSI = psi
		}
	}

	return result, nil
}

// ksStatistic computes the maximum absolute difference between the two
// empirical CDFs using a merge walk over both sorted samples
func ksStatistic(ref, cur []float64) float64 {
	a := make([]float64, len(ref))
	b := make([]float64, len(cur))
	copy(a, ref)
	copy(b, cur)
	sort.Float64s(a)
	sort.Float64s(b)

	n1 := float64(len(a))
	n2 := float64(len(b))

	var maxDiff float64
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		v1, v2 := a[i], b[j]
		if v1 <= v2 {
			for i < len(a) && a[i] == v1 {
				i++
			}
		}
		if v2 <= v1 {
			for j < len(b) && b[j] == v2 {
				j++
			}
		}
		diff := math.Abs(float64(i)/n1 - float64(j)/n2)
		if diff > maxDiff {
			maxDiff = diff
		}
	}

	return maxDiff
}

// ksPValue evaluates the asymptotic Kolmogorov distribution tail for the
// two-sample statistic
func ksPValue(statistic float64, n1, n2 int) float64 {
	if statistic <= 0 {
		return 1
	}

	en := math.Sqrt(float64(n1) * float64(n2) / float64(n1+n2))
	lambda := (en + 0.12 + 0.11/en) * statistic

	// Alternating series for Q_KS; converges quickly for lambda > 0.
	sum := 0.0
	sign := 1.0
	for k := 1; k <= 100; k++ {
		term := sign * math.Exp(-2*lambda*lambda*float64(k)*float64(k))
		sum += term
		if math.Abs(term) < 1e-10 {
			break
		}
		sign = -sign
	}

	p := 2 * sum
	return math.Max(0, math.Min(1, p))
}

// psiEpsilon replaces zero bin proportions to avoid log(0)
const psiEpsilon = 0.0001

// psiScore bins both samples on reference-derived edges and sums the
// divergence contributions
func psiScore(ref, cur []float64, bins int) float64 {
	refMin, refMax := minMax(ref)
	curMin, curMax := minMax(cur)

	edges := make([]float64, bins+1)
	if refMax == refMin {
		// Degenerate reference: a single edge span over the union range.
		for i := range edges {
			edges[i] = refMin
		}
	} else {
		width := (refMax - refMin) / float64(bins)
		for i := range edges {
			edges[i] = refMin + width*float64(i)
		}
	}

	// Extend the outer edges to cover the union of both ranges.
	if curMin < edges[0] {
		edges[0] = curMin
	}
	if curMax > edges[bins] {
		edges[bins] = curMax
	}

	refPct := binProportions(ref, edges)
	curPct := binProportions(cur, edges)

	score := 0.0
	for i := 0; i < bins; i++ {
		r := refPct[i]
		c := curPct[i]
		if r == 0 {
			r = psiEpsilon
		}
		if c == 0 {
			c = psiEpsilon
		}
		score += (c - r) * math.Log(c/r)
	}

	return score
}

// binProportions assigns values to the half-open bins defined by edges,
// with the final bin closed on the right
func binProportions(values []float64, edges []float64) []float64 {
	bins := len(edges) - 1
	counts := make([]float64, bins)

	for _, v := range values {
		// Bins are [edge[i], edge[i+1]) with the final bin closed on the
		// right.
		idx := sort.SearchFloat64s(edges, v)
		var bin int
		switch {
		case idx >= len(edges):
			bin = bins - 1
		case edges[idx] == v:
			bin = idx
			if bin == bins {
				bin = bins - 1
			}
		case idx == 0:
			bin = 0
		default:
			bin = idx - 1
		}
		counts[bin]++
	}

	total := float64(len(values))
	for i := range counts {
		counts[i] /= total
	}
	return counts
}

// minMax returns the extrema of a non-empty slice
func minMax(values []float64) (float64, float64) {
	min, max := values[0], values[0]
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}
