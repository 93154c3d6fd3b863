package util

import (
	"math"
)

// ----------------------------------------------------------------------------
// Helper functions
// ----------------------------------------------------------------------------

type Stats struct {
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	MinMaxRatio  float64 `json:"min_max_ratio"`
	Count        int     `json:"count"`
}

// NewStats computes mean, population standard deviation, minimum and maximum of
// the values
func NewStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	lo, hi := values[0], values[0]
	var sum float64
	for _, v := range values {
		sum += v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	mean := sum / float64(len(values))

	var sumSquaredDiffs float64
	for _, v := range values {
		diff := v - mean
		sumSquaredDiffs += diff * diff
	}

	minMaxRatio := 1.0
	if hi > 0 {
		minMaxRatio = lo / hi
	}

	return Stats{
		StdDeviation: math.Sqrt(sumSquaredDiffs / float64(len(values))),
		Min:          lo,
		Max:          hi,
		Mean:         mean,
		MinMaxRatio:  minMaxRatio,
		Count:        len(values),
	}
}

// DistributionStats describes how evenly values (e.g. shard fill ratios) spread
type DistributionStats struct {
	Stats
	CoefficientOfVariation float64 `json:"cv"`
	DistributionQuality    float64 `json:"distribution_quality"`
}

// NewDistributionStats computes the coefficient of variation and a quality score
// in [0, 1]; 1 means all values are equal
func NewDistributionStats(values []float64) DistributionStats {
	stats := NewStats(values)

	var cv float64
	if stats.Mean > 0 {
		cv = stats.StdDeviation / stats.Mean
	}

	// lower CV and higher min/max ratio indicate better distribution
	quality := (1.0-math.Min(1.0, cv))*0.5 + stats.MinMaxRatio*0.5

	return DistributionStats{
		Stats:                  stats,
		CoefficientOfVariation: cv,
		DistributionQuality:    quality,
	}
}
