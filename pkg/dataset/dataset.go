// Package dataset defines the numeric feature-matrix contract produced by
// the feature pipeline. Missing values are represented as NaN so that a
// column keeps its positional alignment after extraction.
package dataset

import (
	"math"
	"sort"
)

// Dataset maps a feature name to its column of numeric values
type Dataset map[string][]float64

// Missing is the explicit marker for an absent value
func Missing() float64 {
	return math.NaN()
}

// IsMissing reports whether a value is the absent marker
func IsMissing(v float64) bool {
	return math.IsNaN(v)
}

// Feature returns the raw column for a feature name
func (d Dataset) Feature(name string) ([]float64, bool) {
	values, ok := d[name]
	return values, ok
}

// Features returns all feature names in deterministic order
func (d Dataset) Features() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Rows returns the length of the longest column
func (d Dataset) Rows() int {
	max := 0
	for _, values := range d {
		if len(values) > max {
			max = len(values)
		}
	}
	return max
}

// Clean returns a copy of values with missing and non-finite entries removed
func Clean(values []float64) []float64 {
	cleaned := make([]float64, 0, len(values))
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		cleaned = append(cleaned, v)
	}
	return cleaned
}

// CleanFeature returns the cleaned column for a feature, reporting whether
// any valid values remain
func (d Dataset) CleanFeature(name string) ([]float64, bool) {
	values, ok := d[name]
	if !ok {
		return nil, false
	}
	cleaned := Clean(values)
	return cleaned, len(cleaned) > 0
}
