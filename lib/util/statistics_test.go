package util

import (
	"math"
	"testing"
)

func TestNewStats(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   Stats
	}{
		{"empty", nil, Stats{}},
		{"single", []float64{4}, Stats{Min: 4, Max: 4, Mean: 4, MinMaxRatio: 1, Count: 1}},
		{"spread", []float64{2, 4, 4, 4, 5, 5, 7, 9}, Stats{StdDeviation: 2, Min: 2, Max: 9, Mean: 5, MinMaxRatio: 2.0 / 9.0, Count: 8}},
		{"zeros", []float64{0, 0}, Stats{MinMaxRatio: 1, Count: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewStats(tt.values)
			if math.Abs(got.StdDeviation-tt.want.StdDeviation) > 1e-9 ||
				got.Min != tt.want.Min || got.Max != tt.want.Max ||
				math.Abs(got.Mean-tt.want.Mean) > 1e-9 ||
				math.Abs(got.MinMaxRatio-tt.want.MinMaxRatio) > 1e-9 ||
				got.Count != tt.want.Count {
				t.Errorf("NewStats(%v) = %+v, want %+v", tt.values, got, tt.want)
			}
		})
	}
}

func TestNewDistributionStats(t *testing.T) {
	even := NewDistributionStats([]float64{0.5, 0.5, 0.5})
	if even.CoefficientOfVariation != 0 || even.DistributionQuality != 1 {
		t.Errorf("even distribution: got cv %f quality %f, want 0 and 1", even.CoefficientOfVariation, even.DistributionQuality)
	}

	skewed := NewDistributionStats([]float64{0, 1})
	if skewed.CoefficientOfVariation != 1 {
		t.Errorf("skewed distribution: got cv %f, want 1", skewed.CoefficientOfVariation)
	}
	if skewed.DistributionQuality != 0 {
		t.Errorf("skewed distribution: got quality %f, want 0", skewed.DistributionQuality)
	}
}
