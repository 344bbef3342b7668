package dataset

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMissingMarker(t *testing.T) {
	assert.True(t, IsMissing(Missing()))
	assert.False(t, IsMissing(0))
	assert.False(t, IsMissing(math.Inf(1)))
}

func TestFeaturesAreSorted(t *testing.T) {
	d := Dataset{"zeta": {1}, "alpha": {2}, "mid": {3}}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, d.Features())
}

func TestRows(t *testing.T) {
	d := Dataset{"a": {1, 2, 3}, "b": {1}}
	assert.Equal(t, 3, d.Rows())
	assert.Equal(t, 0, Dataset{}.Rows())
}

func TestCleanDropsInvalidValues(t *testing.T) {
	values := []float64{1, Missing(), 2, math.Inf(1), math.Inf(-1), 3}
	assert.Equal(t, []float64{1, 2, 3}, Clean(values))
}

func TestCleanFeature(t *testing.T) {
	d := Dataset{
		"ok":    {1, Missing(), 2},
		"empty": {Missing()},
	}

	cleaned, ok := d.CleanFeature("ok")
	assert.True(t, ok)
	assert.Equal(t, []float64{1, 2}, cleaned)

	_, ok = d.CleanFeature("empty")
	assert.False(t, ok)

	_, ok = d.CleanFeature("absent")
	assert.False(t, ok)
}
