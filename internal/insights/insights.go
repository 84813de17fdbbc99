// Package insights turns analysis results into user-facing summaries and
// recommendations.
package insights

import (
	"strings"

	"github.com/skobkin/rigscope/internal/analysis"
	"github.com/skobkin/rigscope/internal/metrics"
	"github.com/skobkin/rigscope/internal/profiles"
)

const (
	noBottlenecksSummary = "No significant bottlenecks detected. System appears to be performing well."
	keepMonitoring       = "Continue monitoring to identify any performance issues."
)

// Insights is the user-facing view of an analysis result. Severity is the
// highest finding severity.
type Insights struct {
	Summary         string   `json:"summary"`
	Recommendations []string `json:"recommendations"`
	Severity        int      `json:"severity"`
}

// Generate builds insights for result. profile may be nil.
func Generate(result analysis.Result, profile *profiles.Profile) Insights {
	if len(result.Findings) == 0 {
		return Insights{
			Summary:         noBottlenecksSummary,
			Recommendations: []string{keepMonitoring},
		}
	}

	var workload metrics.WorkloadType
	if profile != nil {
		workload = profile.WorkloadType
	}

	summaries := make([]string, 0, len(result.Findings))
	var recs []string
	for _, f := range result.Findings {
		summaries = append(summaries, f.Summary)
		recs = append(recs, recommendations(f.Type, workload)...)
		if f.Type == analysis.TypeGPU && workload == metrics.WorkloadGaming {
			if extra := resolutionAdvice(profile.StringParam("resolution")); extra != "" {
				recs = append(recs, extra)
			}
		}
	}

	summary := summaries[0]
	if len(summaries) > 1 {
		summary = "Multiple bottlenecks detected: " + strings.Join(summaries, "; ")
	}

	return Insights{
		Summary:         summary,
		Recommendations: recs,
		Severity:        result.MaxSeverity(),
	}
}

func resolutionAdvice(resolution string) string {
	switch {
	case strings.Contains(resolution, "3840x2160") || strings.Contains(resolution, "4K"):
		return "For 4K gaming, a high-end GPU (RTX 3080/4080 or RX 6800 XT/7800 XT) is recommended."
	case strings.Contains(resolution, "2560x1440") || strings.Contains(resolution, "1440p"):
		return "For 1440p gaming, a mid-to-high-end GPU (RTX 3070/4070 or RX 6700 XT/7700 XT) is recommended."
	}
	return ""
}

func recommendations(t analysis.Type, workload metrics.WorkloadType) []string {
	byWorkload, ok := catalog[t]
	if !ok {
		return nil
	}
	if recs, ok := byWorkload[workload]; ok {
		return recs
	}
	return byWorkload[""]
}
