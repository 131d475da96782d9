package multirun

import (
	"math"
	"sort"
)

// MetricStats are population statistics; StdDev divides by N.
type MetricStats struct {
	Count  int       `json:"count"`
	Mean   float64   `json:"mean"`
	Median float64   `json:"median"`
	Min    float64   `json:"min"`
	Max    float64   `json:"max"`
	StdDev float64   `json:"stdDev"`
	Values []float64 `json:"values"`
}

// CalculateStats summarizes values. Empty input yields all zeros with Count 0.
func CalculateStats(values []float64) MetricStats {
	if len(values) == 0 {
		return MetricStats{Values: []float64{}}
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	n := len(sorted)
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(n)

	var median float64
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	} else {
		median = sorted[n/2]
	}

	var sq float64
	for _, v := range sorted {
		d := v - mean
		sq += d * d
	}

	return MetricStats{
		Count:  n,
		Mean:   mean,
		Median: median,
		Min:    sorted[0],
		Max:    sorted[n-1],
		StdDev: math.Sqrt(sq / float64(n)),
		Values: append([]float64(nil), values...),
	}
}
