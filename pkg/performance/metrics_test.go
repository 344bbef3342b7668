package performance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeMetricsPerfectPrediction(t *testing.T) {
	yTrue := []int{0, 1, 0, 1, 1, 0}
	yPred := []int{0, 1, 0, 1, 1, 0}

	m, err := ComputeMetrics(yTrue, yPred, nil)
	require.NoError(t, err)

	assert.Equal(t, 1.0, m.Accuracy)
	assert.Equal(t, 1.0, m.Precision)
	assert.Equal(t, 1.0, m.Recall)
	assert.Equal(t, 1.0, m.F1)
	assert.Equal(t, 1.0, m.BalancedAccuracy)
	assert.Nil(t, m.ROCAUC)
}

func TestComputeMetricsKnownConfusion(t *testing.T) {
	// Class 1: tp=2 fp=1 fn=1. Class 0: tp=2 fp=1 fn=1.
	yTrue := []int{1, 1, 1, 0, 0, 0}
	yPred := []int{1, 1, 0, 0, 0, 1}

	m, err := ComputeMetrics(yTrue, yPred, nil)
	require.NoError(t, err)

	assert.InDelta(t, 4.0/6.0, m.Accuracy, 1e-9)
	assert.InDelta(t, 2.0/3.0, m.Precision, 1e-9)
	assert.InDelta(t, 2.0/3.0, m.Recall, 1e-9)
	assert.InDelta(t, 2.0/3.0, m.BalancedAccuracy, 1e-9)
}

func TestComputeMetricsImbalanced(t *testing.T) {
	// Majority-class guessing: high accuracy, poor balanced accuracy.
	yTrue := []int{0, 0, 0, 0, 0, 0, 0, 0, 0, 1}
	yPred := []int{0, 0, 0, 0, 0, 0, 0, 0, 0, 0}

	m, err := ComputeMetrics(yTrue, yPred, nil)
	require.NoError(t, err)

	assert.InDelta(t, 0.9, m.Accuracy, 1e-9)
	assert.InDelta(t, 0.5, m.BalancedAccuracy, 1e-9)
}

func TestComputeMetricsValidation(t *testing.T) {
	_, err := ComputeMetrics(nil, nil, nil)
	assert.Error(t, err)

	_, err = ComputeMetrics([]int{1, 0}, []int{1}, nil)
	assert.Error(t, err)

	_, err = ComputeMetrics([]int{1, 0}, []int{1, 0}, []float64{0.5})
	assert.Error(t, err)
}

func TestROCAUCPerfectSeparation(t *testing.T) {
	yTrue := []int{0, 0, 0, 1, 1, 1}
	yProba := []float64{0.1, 0.2, 0.3, 0.7, 0.8, 0.9}

	m, err := ComputeMetrics(yTrue, []int{0, 0, 0, 1, 1, 1}, yProba)
	require.NoError(t, err)
	require.NotNil(t, m.ROCAUC)
	assert.InDelta(t, 1.0, *m.ROCAUC, 1e-9)
}

func TestROCAUCInvertedScores(t *testing.T) {
	yTrue := []int{0, 0, 0, 1, 1, 1}
	yProba := []float64{0.9, 0.8, 0.7, 0.3, 0.2, 0.1}

	m, err := ComputeMetrics(yTrue, []int{1, 1, 1, 0, 0, 0}, yProba)
	require.NoError(t, err)
	require.NotNil(t, m.ROCAUC)
	assert.InDelta(t, 0.0, *m.ROCAUC, 1e-9)
}

func TestROCAUCAllTiedIsHalf(t *testing.T) {
	yTrue := []int{0, 1, 0, 1}
	yProba := []float64{0.5, 0.5, 0.5, 0.5}

	m, err := ComputeMetrics(yTrue, []int{0, 1, 0, 1}, yProba)
	require.NoError(t, err)
	require.NotNil(t, m.ROCAUC)
	assert.InDelta(t, 0.5, *m.ROCAUC, 1e-9)
}

func TestROCAUCSkippedForMulticlass(t *testing.T) {
	yTrue := []int{0, 1, 2}
	yProba := []float64{0.1, 0.5, 0.9}

	m, err := ComputeMetrics(yTrue, []int{0, 1, 2}, yProba)
	require.NoError(t, err)
	assert.Nil(t, m.ROCAUC)
}

func TestMetricsGetAndMap(t *testing.T) {
	auc := 0.85
	m := Metrics{Accuracy: 0.9, F1: 0.88, ROCAUC: &auc}

	v, ok := m.Get("accuracy")
	assert.True(t, ok)
	assert.Equal(t, 0.9, v)

	v, ok = m.Get("roc_auc")
	assert.True(t, ok)
	assert.Equal(t, 0.85, v)

	_, ok = m.Get("nonsense")
	assert.False(t, ok)

	flat := m.Map()
	assert.Equal(t, 0.85, flat["roc_auc"])

	_, ok = Metrics{}.Get("roc_auc")
	assert.False(t, ok, "nil ROCAUC must not be reported")
}
