package execution

import (
	"math"
	"sort"
)

// LatencySummary aggregates per-leg broker call latencies for one run.
// All values are milliseconds rounded to 4 decimal places.
type LatencySummary struct {
	AverageMs float64 `json:"average_ms"`
	MaxMs     float64 `json:"max_ms"`
	Count     int     `json:"count"`
	P50Ms     float64 `json:"p50_ms"`
	P95Ms     float64 `json:"p95_ms"`
}

func summarizeLatencies(latencies []float64) *LatencySummary {
	if len(latencies) == 0 {
		return nil
	}
	sorted := make([]float64, len(latencies))
	copy(sorted, latencies)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	return &LatencySummary{
		AverageMs: round4(sum / float64(len(sorted))),
		MaxMs:     round4(sorted[len(sorted)-1]),
		Count:     len(sorted),
		P50Ms:     round4(percentile(sorted, 50)),
		P95Ms:     round4(percentile(sorted, 95)),
	}
}

// percentile interpolates linearly between the two nearest ranks of an
// ascending-sorted sample, rank = (pct/100) * (n-1).
func percentile(sorted []float64, pct float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := pct / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	frac := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*frac
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
