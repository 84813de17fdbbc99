package analysis

import (
	"fmt"

	"github.com/skobkin/rigscope/internal/metrics"
)

const (
	// cpuBoundGPUCeiling is the GPU mean above which high CPU load is not
	// reported as CPU-bound.
	cpuBoundGPUCeiling = 70.0
	// gpuBoundCPUCeiling mirrors cpuBoundGPUCeiling for GPU-bound findings.
	gpuBoundCPUCeiling = 80.0

	storageQueueThreshold = 10.0
	starvedGPUMean        = 50.0
	starvedGPUSpread      = 30.0
)

func detectCPUBound(samples []metrics.Sample, threshold float64) *Finding {
	cpu := metrics.Filter(samples, metrics.CPUUtilization)
	if len(cpu) == 0 {
		return nil
	}
	avgCPU := metrics.Mean(cpu)
	avgGPU := metrics.Mean(metrics.Filter(samples, metrics.GPUUtilization))

	if avgCPU <= threshold || avgGPU >= cpuBoundGPUCeiling {
		return nil
	}

	return &Finding{
		Type:     TypeCPU,
		Severity: thresholdSeverity(avgCPU),
		Evidence: []Evidence{newEvidence(metrics.CPUUtilization, threshold, avgCPU, cpu)},
		Summary:  fmt.Sprintf("CPU-bound: Average CPU utilization is %.1f%% (threshold: %.1f%%)", avgCPU, threshold),
		Details: fmt.Sprintf("CPU utilization averaged %.1f%% over the analysis period, indicating CPU is the limiting factor. "+
			"GPU utilization is %.1f%%, suggesting GPU has headroom.", avgCPU, avgGPU),
	}
}

func detectGPUBound(samples []metrics.Sample, threshold float64) *Finding {
	gpu := metrics.Filter(samples, metrics.GPUUtilization)
	if len(gpu) == 0 {
		return nil
	}
	avgGPU := metrics.Mean(gpu)
	avgCPU := metrics.Mean(metrics.Filter(samples, metrics.CPUUtilization))

	if avgGPU <= threshold || avgCPU >= gpuBoundCPUCeiling {
		return nil
	}

	return &Finding{
		Type:     TypeGPU,
		Severity: thresholdSeverity(avgGPU),
		Evidence: []Evidence{newEvidence(metrics.GPUUtilization, threshold, avgGPU, gpu)},
		Summary:  fmt.Sprintf("GPU-bound: Average GPU utilization is %.1f%% (threshold: %.1f%%)", avgGPU, threshold),
		Details: fmt.Sprintf("GPU utilization averaged %.1f%% over the analysis period, indicating GPU is the limiting factor. "+
			"CPU utilization is %.1f%%, suggesting CPU has headroom.", avgGPU, avgCPU),
	}
}

func detectVRAMBound(samples []metrics.Sample, threshold float64) *Finding {
	vram := metrics.Filter(samples, metrics.GPUVRAMUsage)
	if len(vram) == 0 {
		return nil
	}
	avg := metrics.Mean(vram)
	if avg <= threshold {
		return nil
	}

	return &Finding{
		Type:     TypeVRAM,
		Severity: thresholdSeverity(avg),
		Evidence: []Evidence{newEvidence(metrics.GPUVRAMUsage, threshold, avg, vram)},
		Summary:  fmt.Sprintf("VRAM-bound: Average VRAM usage is %.1f%% (threshold: %.1f%%)", avg, threshold),
		Details: fmt.Sprintf("VRAM usage averaged %.1f%% over the analysis period. "+
			"High VRAM usage can cause stuttering and performance degradation in games and rendering workloads.", avg),
	}
}

func detectRAMBound(samples []metrics.Sample, threshold float64) *Finding {
	mem := metrics.Filter(samples, metrics.MemoryUsage)
	if len(mem) == 0 {
		return nil
	}
	avg := metrics.Mean(mem)

	swap := metrics.Filter(samples, metrics.MemorySwapUsage)
	swapping := false
	for _, s := range swap {
		if s.Value > 0 {
			swapping = true
			break
		}
	}

	if avg <= threshold && !swapping {
		return nil
	}

	f := &Finding{
		Type:     TypeRAM,
		Severity: thresholdSeverity(avg),
		Evidence: []Evidence{newEvidence(metrics.MemoryUsage, threshold, avg, mem)},
		Summary:  fmt.Sprintf("RAM-bound: Average memory usage is %.1f%% (threshold: %.1f%%)", avg, threshold),
		Details:  fmt.Sprintf("Memory usage averaged %.1f%% over the analysis period, indicating memory is approaching capacity.", avg),
	}
	if swapping {
		f.Severity = max(f.Severity, 80)
		f.Evidence = append(f.Evidence, newEvidence(metrics.MemorySwapUsage, 0, metrics.Mean(swap), swap))
		f.Details = fmt.Sprintf("Memory usage averaged %.1f%% with swap usage detected, indicating severe memory pressure. "+
			"System is likely paging to disk, causing performance degradation.", avg)
	}
	return f
}

func detectStorageBound(samples []metrics.Sample) *Finding {
	queue := metrics.Filter(samples, metrics.StorageQueueDepth)
	if len(queue) == 0 {
		return nil
	}
	if _, peak := metrics.MinMax(queue); peak <= storageQueueThreshold {
		return nil
	}
	avg := metrics.Mean(queue)

	return &Finding{
		Type:     TypeStorage,
		Severity: max(thresholdSeverity(avg), 50),
		Evidence: []Evidence{newEvidence(metrics.StorageQueueDepth, storageQueueThreshold, avg, queue)},
		Summary:  fmt.Sprintf("Storage-bound: Average I/O queue depth is %.1f (threshold: %.1f)", avg, storageQueueThreshold),
		Details: fmt.Sprintf("Storage I/O queue depth averaged %.1f over the analysis period, indicating storage is saturated. "+
			"This can cause application slowdowns and stuttering.", avg),
	}
}

// detectGPUStarved flags a GPU that idles in bursts while waiting for input.
func detectGPUStarved(samples []metrics.Sample) *Finding {
	gpu := metrics.Filter(samples, metrics.GPUUtilization)
	if len(gpu) == 0 {
		return nil
	}
	avg := metrics.Mean(gpu)
	lo, hi := metrics.MinMax(gpu)
	spread := hi - lo

	if avg >= starvedGPUMean || spread <= starvedGPUSpread {
		return nil
	}

	return &Finding{
		Type:     TypeGPU,
		Severity: int((starvedGPUMean - avg) / starvedGPUMean * 100),
		Evidence: []Evidence{newEvidence(metrics.GPUUtilization, starvedGPUMean, avg, gpu)},
		Summary: fmt.Sprintf("GPU-starved: Average GPU utilization is %.1f%% with high variance (%.1f%%), "+
			"indicating GPU is waiting for CPU/disk", avg, spread),
		Details: fmt.Sprintf("GPU utilization averaged %.1f%% with variance of %.1f%%, suggesting the GPU is frequently idle "+
			"while waiting for data from CPU or disk. This is common in AI/ML workloads when data preprocessing or I/O is the bottleneck.",
			avg, spread),
	}
}
