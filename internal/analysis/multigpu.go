package analysis

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/skobkin/rigscope/internal/metrics"
)

const (
	multiGPUBusy      = 80.0
	multiGPUSpread    = 30.0
	multiGPUSaturated = 90.0
)

// detectMultiGPU compares per-device utilization means. Devices are told
// apart by source component, so it only applies when at least two distinct
// "GPU..." sources reported utilization.
func detectMultiGPU(samples []metrics.Sample) *Finding {
	gpuSamples := filterKinds(samples, metrics.GPUUtilization, metrics.GPUVRAMUsage)
	if len(gpuSamples) == 0 {
		return nil
	}

	perSource := make(map[string][]metrics.Sample)
	for _, s := range gpuSamples {
		if s.Kind != metrics.GPUUtilization || !strings.Contains(s.SourceComponent, "GPU") {
			continue
		}
		perSource[s.SourceComponent] = append(perSource[s.SourceComponent], s)
	}
	if len(perSource) < 2 {
		return nil
	}

	sources := make([]string, 0, len(perSource))
	for src := range perSource {
		sources = append(sources, src)
	}
	sort.Strings(sources)

	means := make([]float64, 0, len(sources))
	hi, lo := math.Inf(-1), math.Inf(1)
	allSaturated := true
	var sum float64
	for _, src := range sources {
		m := metrics.Mean(perSource[src])
		means = append(means, m)
		hi = max(hi, m)
		lo = min(lo, m)
		sum += m
		if m < multiGPUSaturated {
			allSaturated = false
		}
	}
	spread := hi - lo

	if hi >= multiGPUBusy && spread >= multiGPUSpread {
		severity := 45
		switch {
		case spread >= 50:
			severity = 75
		case spread >= 40:
			severity = 60
		}
		return &Finding{
			Type:     TypeGPU,
			Severity: severity,
			Evidence: []Evidence{newEvidence(metrics.GPUUtilization, multiGPUBusy, hi, gpuSamples)},
			Summary:  "Multi-GPU workload imbalance detected",
			Details: fmt.Sprintf("GPU utilization spread: %.1f%% (max: %.1f%%, min: %.1f%%). "+
				"Workload is not evenly distributed across GPUs. "+
				"This may indicate SLI/CrossFire configuration issues or application not utilizing multiple GPUs.",
				spread, hi, lo),
		}
	}

	if allSaturated {
		avg := sum / float64(len(means))
		return &Finding{
			Type:     TypeGPU,
			Severity: 85,
			Evidence: []Evidence{newEvidence(metrics.GPUUtilization, multiGPUSaturated, avg, gpuSamples)},
			Summary:  "All GPUs saturated in multi-GPU setup",
			Details: fmt.Sprintf("All %d GPUs are at %.1f%% average utilization. "+
				"System is GPU-bound. Consider reducing quality settings or upgrading GPUs.", len(means), avg),
		}
	}
	return nil
}
