package analysis

import (
	"time"

	"github.com/skobkin/rigscope/internal/metrics"
	"github.com/skobkin/rigscope/internal/profiles"
)

// DefaultWindow is used when Analyze receives a non-positive window.
const DefaultWindow = 30 * time.Second

// Global thresholds, in percent.
const (
	CPUHighThreshold  = 85.0
	GPUHighThreshold  = 90.0
	RAMHighThreshold  = 90.0
	VRAMHighThreshold = 90.0
)

// Analyze runs the rule set over samples within the last window, ending now.
func Analyze(samples []metrics.Sample, window time.Duration, profile *profiles.Profile) Result {
	return AnalyzeAt(time.Now(), samples, window, profile)
}

// AnalyzeAt is Analyze with an explicit reference time. It holds no state and
// is safe for concurrent use. A nil profile runs the generic cpu, gpu and ram
// detectors.
func AnalyzeAt(now time.Time, samples []metrics.Sample, window time.Duration, profile *profiles.Profile) Result {
	if window <= 0 {
		window = DefaultWindow
	}
	recent := metrics.InRange(samples, now.Add(-window), now)

	var findings []Finding
	add := func(f *Finding) {
		if f != nil {
			findings = append(findings, *f)
		}
	}

	temps := metrics.Filter(recent, metrics.Temperature)
	if len(temps) >= 2 {
		add(detectThermalTrend(temps))
	} else {
		add(detectThermalThrottling(temps))
	}
	add(detectPCIeSaturation(recent))
	add(detectMemoryBusSaturation(recent))
	add(detectMultiGPU(recent))

	if profile == nil {
		add(detectCPUBound(recent, CPUHighThreshold))
		add(detectGPUBound(recent, GPUHighThreshold))
		add(detectRAMBound(recent, RAMHighThreshold))
	} else {
		for _, f := range profileRules(recent, profile) {
			add(f)
		}
	}

	if findings == nil {
		findings = []Finding{}
	}
	return Result{Findings: findings, Timestamp: now}
}

func profileRules(samples []metrics.Sample, p *profiles.Profile) []*Finding {
	cpuHigh := func(t profiles.Thresholds) *float64 { return t.CPUHigh }
	gpuHigh := func(t profiles.Thresholds) *float64 { return t.GPUHigh }
	ramHigh := func(t profiles.Thresholds) *float64 { return t.RAMHigh }
	vramHigh := func(t profiles.Thresholds) *float64 { return t.VRAMHigh }

	switch p.WorkloadType {
	case metrics.WorkloadGaming:
		return []*Finding{
			detectGPUBound(samples, p.Override(gpuHigh, GPUHighThreshold)),
			detectCPUBound(samples, p.Override(cpuHigh, CPUHighThreshold)),
			detectVRAMBound(samples, p.Override(vramHigh, VRAMHighThreshold)),
		}
	case metrics.WorkloadRendering:
		return []*Finding{
			detectCPUBound(samples, p.Override(cpuHigh, 95)),
			detectGPUBound(samples, p.Override(gpuHigh, 95)),
			detectVRAMBound(samples, p.Override(vramHigh, 90)),
		}
	case metrics.WorkloadAI:
		return []*Finding{
			detectGPUStarved(samples),
			detectVRAMBound(samples, p.Override(vramHigh, 95)),
		}
	default:
		return []*Finding{
			detectRAMBound(samples, p.Override(ramHigh, RAMHighThreshold)),
			detectStorageBound(samples),
		}
	}
}

// thresholdSeverity scores a threshold rule by its observed mean.
func thresholdSeverity(mean float64) int {
	return int(min(mean, 100))
}

func newEvidence(kind metrics.Kind, threshold, actual float64, window []metrics.Sample) Evidence {
	ev := Evidence{Kind: kind, Threshold: threshold, ActualValue: actual}
	if len(window) > 0 {
		ev.TimeRangeStart = window[0].Timestamp
		ev.TimeRangeEnd = window[len(window)-1].Timestamp
	}
	return ev
}

func filterKinds(samples []metrics.Sample, kinds ...metrics.Kind) []metrics.Sample {
	var out []metrics.Sample
	for _, s := range samples {
		for _, k := range kinds {
			if s.Kind == k {
				out = append(out, s)
				break
			}
		}
	}
	return out
}
