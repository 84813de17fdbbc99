package metrics

import (
	"math"
	"sort"
)

// Summary holds descriptive statistics for one metric kind.
type Summary struct {
	Kind  Kind    `json:"metric_type"`
	Unit  string  `json:"unit"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// Mean returns the arithmetic mean of the sample values, or 0 for no samples.
func Mean(samples []Sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, sample := range samples {
		sum += sample.Value
	}
	return sum / float64(len(samples))
}

// MinMax returns the smallest and largest sample value.
func MinMax(samples []Sample) (float64, float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, sample := range samples {
		lo = math.Min(lo, sample.Value)
		hi = math.Max(hi, sample.Value)
	}
	return lo, hi
}

// Percentile returns the p-th percentile (0-100) of sorted values using
// linear interpolation between closest ranks.
func Percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	p = math.Max(0, math.Min(100, p))
	rank := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	weight := rank - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// Aggregate computes a Summary per kind present in samples.
func Aggregate(samples []Sample) map[Kind]Summary {
	grouped := make(map[Kind][]float64)
	units := make(map[Kind]string)
	for _, sample := range samples {
		grouped[sample.Kind] = append(grouped[sample.Kind], sample.Value)
		if _, ok := units[sample.Kind]; !ok {
			units[sample.Kind] = sample.Unit
		}
	}

	out := make(map[Kind]Summary, len(grouped))
	for kind, values := range grouped {
		sort.Float64s(values)
		var sum float64
		for _, v := range values {
			sum += v
		}
		out[kind] = Summary{
			Kind:  kind,
			Unit:  units[kind],
			Min:   values[0],
			Max:   values[len(values)-1],
			Avg:   sum / float64(len(values)),
			P50:   Percentile(values, 50),
			P95:   Percentile(values, 95),
			P99:   Percentile(values, 99),
			Count: len(values),
		}
	}
	return out
}
