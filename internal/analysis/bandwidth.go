package analysis

import (
	"fmt"

	"github.com/skobkin/rigscope/internal/metrics"
)

// Theoretical x16 link and dual-channel memory maxima, in MB/s. Bandwidth is
// estimated from storage and memory throughput, not read from link counters.
const (
	PCIe3x16Max = 15760.0
	PCIe4x16Max = 31520.0
	PCIe5x16Max = 63040.0

	DDR4DualChannelMax = 51200.0
	DDR5DualChannelMax = 76800.0

	PCIeSaturationPercent      = 85.0
	MemoryBusSaturationPercent = 80.0
)

func detectPCIeSaturation(samples []metrics.Sample) *Finding {
	related := filterKinds(samples,
		metrics.GPUUtilization, metrics.GPUMemoryTransfer,
		metrics.StorageReadThroughput, metrics.StorageWriteThroughput)
	if len(related) == 0 {
		return nil
	}

	usage := lastValue(related, metrics.StorageReadThroughput) + lastValue(related, metrics.StorageWriteThroughput)
	percent := usage / PCIe3x16Max * 100
	if percent < PCIeSaturationPercent {
		return nil
	}

	severity := 60
	switch {
	case percent >= 95:
		severity = 90
	case percent >= 90:
		severity = 75
	}

	return &Finding{
		Type:     TypeBandwidth,
		Severity: severity,
		Evidence: []Evidence{newEvidence(metrics.StorageReadThroughput, PCIe3x16Max*PCIeSaturationPercent/100, usage, related)},
		Summary:  "PCIe bandwidth saturation detected",
		Details: fmt.Sprintf("Estimated PCIe bandwidth usage: %.1f%% (%.1f MB/s of %.1f MB/s max). "+
			"This may limit data transfer between CPU and GPU or storage devices.", percent, usage, PCIe3x16Max),
	}
}

func detectMemoryBusSaturation(samples []metrics.Sample) *Finding {
	related := filterKinds(samples, metrics.MemoryUsage, metrics.MemoryReadThroughput, metrics.MemoryWriteThroughput)
	if len(related) == 0 {
		return nil
	}

	usage := metrics.Mean(metrics.Filter(related, metrics.MemoryReadThroughput)) +
		metrics.Mean(metrics.Filter(related, metrics.MemoryWriteThroughput))
	percent := usage / DDR4DualChannelMax * 100
	if percent < MemoryBusSaturationPercent {
		return nil
	}

	severity := 55
	switch {
	case percent >= 95:
		severity = 85
	case percent >= 90:
		severity = 70
	}

	return &Finding{
		Type:     TypeBandwidth,
		Severity: severity,
		Evidence: []Evidence{newEvidence(metrics.MemoryReadThroughput, DDR4DualChannelMax*MemoryBusSaturationPercent/100, usage, related)},
		Summary:  "Memory bus bandwidth saturation detected",
		Details: fmt.Sprintf("Memory bus bandwidth usage: %.1f%% (%.1f MB/s of %.1f MB/s max). "+
			"This may limit memory access performance.", percent, usage, DDR4DualChannelMax),
	}
}

func lastValue(samples []metrics.Sample, kind metrics.Kind) float64 {
	for i := len(samples) - 1; i >= 0; i-- {
		if samples[i].Kind == kind {
			return samples[i].Value
		}
	}
	return 0
}
