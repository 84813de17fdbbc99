// Package compare diffs two recorded runs: per-metric averages and how each
// detected bottleneck evolved.
package compare

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/skobkin/rigscope/internal/analysis"
	"github.com/skobkin/rigscope/internal/metrics"
	"github.com/skobkin/rigscope/internal/runs"
)

// SignificantDeltaPercent is the relative change above which a metric counts
// as changed in the summary.
const SignificantDeltaPercent = 5.0

// Status classifies a bottleneck transition between two runs.
type Status string

const (
	StatusNew       Status = "new"
	StatusResolved  Status = "resolved"
	StatusImproved  Status = "improved"
	StatusWorsened  Status = "worsened"
	StatusUnchanged Status = "unchanged"
)

// MetricDelta compares the mean of one metric kind.
type MetricDelta struct {
	Kind         string  `json:"metric_type"`
	Run1Avg      float64 `json:"run1_avg"`
	Run2Avg      float64 `json:"run2_avg"`
	Delta        float64 `json:"delta"`
	DeltaPercent float64 `json:"delta_percent"`
	Unit         string  `json:"unit"`
}

// BottleneckChange is the transition of one bottleneck type.
type BottleneckChange struct {
	Type          string `json:"bottleneck_type"`
	Run1Severity  *int   `json:"run1_severity"`
	Run2Severity  *int   `json:"run2_severity"`
	SeverityDelta int    `json:"severity_delta"`
	Status        Status `json:"status"`
}

// Result is the comparison of two runs. MetricDeltas is keyed by Kind.Key().
type Result struct {
	Run1ID            string                 `json:"run1_id"`
	Run2ID            string                 `json:"run2_id"`
	MetricDeltas      map[string]MetricDelta `json:"metric_deltas"`
	BottleneckChanges []BottleneckChange     `json:"bottleneck_changes"`
	Summary           string                 `json:"summary"`
}

type kindStats struct {
	sum   float64
	count int
	unit  string
}

// Runs compares run2 against run1. It never fails: kinds present in only one
// run are skipped and a missing analysis contributes no bottlenecks.
func Runs(run1, run2 runs.Run) Result {
	first := groupByKey(run1.Samples())
	second := groupByKey(run2.Samples())

	deltas := make(map[string]MetricDelta)
	for key, s1 := range first {
		s2, ok := second[key]
		if !ok {
			continue
		}
		avg1 := s1.sum / float64(s1.count)
		avg2 := s2.sum / float64(s2.count)
		delta := avg2 - avg1
		var pct float64
		if avg1 != 0 {
			pct = delta / avg1 * 100
		}
		deltas[key] = MetricDelta{
			Kind:         key,
			Run1Avg:      avg1,
			Run2Avg:      avg2,
			Delta:        delta,
			DeltaPercent: pct,
			Unit:         s1.unit,
		}
	}

	changes := bottleneckChanges(run1.AnalysisResult, run2.AnalysisResult)

	return Result{
		Run1ID:            run1.ID.String(),
		Run2ID:            run2.ID.String(),
		MetricDeltas:      deltas,
		BottleneckChanges: changes,
		Summary:           summarize(deltas, changes),
	}
}

// groupByKey accumulates per-kind sums. The unit comes from the first sample
// of each kind in run order.
func groupByKey(samples []metrics.Sample) map[string]*kindStats {
	out := make(map[string]*kindStats)
	for _, s := range samples {
		key := s.Kind.Key()
		st, ok := out[key]
		if !ok {
			st = &kindStats{unit: s.Unit}
			out[key] = st
		}
		st.sum += s.Value
		st.count++
	}
	return out
}

func severities(result *analysis.Result) map[analysis.Type]int {
	if result == nil {
		return nil
	}
	return result.SeverityByType()
}

func bottleneckChanges(r1, r2 *analysis.Result) []BottleneckChange {
	sev1 := severities(r1)
	sev2 := severities(r2)

	types := make(map[analysis.Type]struct{}, len(sev1)+len(sev2))
	for t := range sev1 {
		types[t] = struct{}{}
	}
	for t := range sev2 {
		types[t] = struct{}{}
	}

	ordered := make([]analysis.Type, 0, len(types))
	for t := range types {
		ordered = append(ordered, t)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Rank() != ordered[j].Rank() {
			return ordered[i].Rank() < ordered[j].Rank()
		}
		return ordered[i] < ordered[j]
	})

	changes := make([]BottleneckChange, 0, len(ordered))
	for _, t := range ordered {
		change := BottleneckChange{Type: t.Key()}
		s1, in1 := sev1[t]
		s2, in2 := sev2[t]
		if in1 {
			change.Run1Severity = &s1
		}
		if in2 {
			change.Run2Severity = &s2
		}

		var a, b int
		if in1 {
			a = s1
		}
		if in2 {
			b = s2
		}
		change.SeverityDelta = b - a

		switch {
		case !in1:
			change.Status = StatusNew
		case !in2:
			change.Status = StatusResolved
		case s2 < s1:
			change.Status = StatusImproved
		case s2 > s1:
			change.Status = StatusWorsened
		default:
			change.Status = StatusUnchanged
		}
		changes = append(changes, change)
	}
	return changes
}

func summarize(deltas map[string]MetricDelta, changes []BottleneckChange) string {
	var significant int
	for _, d := range deltas {
		if math.Abs(d.DeltaPercent) > SignificantDeltaPercent {
			significant++
		}
	}

	counts := make(map[Status]int)
	for _, c := range changes {
		counts[c.Status]++
	}

	var parts []string
	if significant > 0 {
		parts = append(parts, fmt.Sprintf("%d metric(s) changed significantly", significant))
	}
	if n := counts[StatusNew]; n > 0 {
		parts = append(parts, fmt.Sprintf("%d new bottleneck(s) detected", n))
	}
	if n := counts[StatusResolved]; n > 0 {
		parts = append(parts, fmt.Sprintf("%d bottleneck(s) resolved", n))
	}
	if n := counts[StatusImproved]; n > 0 {
		parts = append(parts, fmt.Sprintf("%d bottleneck(s) improved", n))
	}

	if len(parts) == 0 {
		return "No significant changes detected between runs."
	}
	return strings.Join(parts, ". ")
}
