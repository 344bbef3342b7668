package performance

import (
	"fmt"
	"sort"
)

// ComputeMetrics calculates classification metrics from labeled outcomes.
// Precision, recall and F1 are support-weighted averages across classes;
// ROC-AUC is computed only for binary problems when probabilities of the
// positive class are supplied.
func ComputeMetrics(yTrue, yPred []int, yProba []float64) (Metrics, error) {
	if len(yTrue) == 0 {
		return Metrics{}, fmt.Errorf("no samples provided")
	}
	if len(yTrue) != len(yPred) {
		return Metrics{}, fmt.Errorf("label length mismatch: %d true vs %d predicted", len(yTrue), len(yPred))
	}
	if yProba != nil && len(yProba) != len(yTrue) {
		return Metrics{}, fmt.Errorf("probability length mismatch: %d true vs %d probabilities", len(yTrue), len(yProba))
	}

	classes := distinctClasses(yTrue, yPred)

	correct := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			correct++
		}
	}

	var (
		weightedPrecision float64
		weightedRecall    float64
		weightedF1        float64
		recallSum         float64
		recallClasses     int
		total             = float64(len(yTrue))
	)

	for _, class := range classes {
		var tp, fp, fn, support float64
		for i := range yTrue {
			switch {
			case yTrue[i] == class && yPred[i] == class:
				tp++
			case yTrue[i] != class && yPred[i] == class:
				fp++
			case yTrue[i] == class && yPred[i] != class:
				fn++
			}
			if yTrue[i] == class {
				support++
			}
		}

		var precision, recall, f1 float64
		if tp+fp > 0 {
			precision = tp / (tp + fp)
		}
		if tp+fn > 0 {
			recall = tp / (tp + fn)
		}
		if precision+recall > 0 {
			f1 = 2 * precision * recall / (precision + recall)
		}

		weight := support / total
		weightedPrecision += precision * weight
		weightedRecall += recall * weight
		weightedF1 += f1 * weight

		// Balanced accuracy averages recall over classes actually present
		// in the true labels.
		if support > 0 {
			recallSum += recall
			recallClasses++
		}
	}

	metrics := Metrics{
		Accuracy:  float64(correct) / total,
		Precision: weightedPrecision,
		Recall:    weightedRecall,
		F1:        weightedF1,
	}
	if recallClasses > 0 {
		metrics.BalancedAccuracy = recallSum / float64(recallClasses)
	}

	if yProba != nil {
		if auc, ok := rocAUC(yTrue, yProba); ok {
			metrics.ROCAUC = &auc
		}
	}

	return metrics, nil
}

// rocAUC computes the binary ROC-AUC via the rank-sum formulation, with
// midranks for tied probabilities. Returns false when fewer or more than
// two classes appear in the true labels.
func rocAUC(yTrue []int, yProba []float64) (float64, bool) {
	trueClasses := distinctClasses(yTrue, nil)
	if len(trueClasses) != 2 {
		return 0, false
	}
	positive := trueClasses[1] // larger label is the positive class

	type scored struct {
		proba float64
		pos   bool
	}
	samples := make([]scored, len(yTrue))
	for i := range yTrue {
		samples[i] = scored{proba: yProba[i], pos: yTrue[i] == positive}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].proba < samples[j].proba })

	var sumRanksPos float64
	var nPos, nNeg float64
	i := 0
	for i < len(samples) {
		j := i
		for j < len(samples) && samples[j].proba == samples[i].proba {
			j++
		}
		// Midrank for the tie group [i, j).
		rank := float64(i+j+1) / 2.0
		for k := i; k < j; k++ {
			if samples[k].pos {
				sumRanksPos += rank
				nPos++
			} else {
				nNeg++
			}
		}
		i = j
	}

	if nPos == 0 || nNeg == 0 {
		return 0, false
	}

	auc := (sumRanksPos - nPos*(nPos+1)/2) / (nPos * nNeg)
	return auc, true
}

// distinctClasses returns the sorted union of class labels
func distinctClasses(yTrue, yPred []int) []int {
	seen := make(map[int]struct{})
	for _, c := range yTrue {
		seen[c] = struct{}{}
	}
	for _, c := range yPred {
		seen[c] = struct{}{}
	}
	classes := make([]int, 0, len(seen))
	for c := range seen {
		classes = append(classes, c)
	}
	sort.Ints(classes)
	return classes
}
