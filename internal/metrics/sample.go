// Package metrics defines the time-series sample model shared by the
// collector, the analysis engines and the run store.
package metrics

import "time"

// Sample is a single normalized reading taken during one sampling tick.
type Sample struct {
	Timestamp       time.Time `json:"timestamp"`
	Kind            Kind      `json:"metric_type"`
	Value           float64   `json:"value"`
	Unit            string    `json:"unit"`
	SourceComponent string    `json:"source_component"`
}

// Units used by the collector.
const (
	UnitPercent  = "percent"
	UnitMB       = "MB"
	UnitMBps     = "MB/s"
	UnitRequests = "requests"
	UnitCelsius  = "Celsius"
	UnitMHz      = "MHz"
	UnitRPM      = "RPM"
)

// Kind identifies what a sample measures. Values are the snake_case tags
// used on the wire.
type Kind string

const (
	CPUUtilization         Kind = "cpu_utilization"
	CPUUtilizationPerCore  Kind = "cpu_utilization_per_core"
	GPUUtilization         Kind = "gpu_utilization"
	GPUVRAMUsage           Kind = "gpu_vram_usage"
	GPUTemperature         Kind = "gpu_temperature"
	GPUClock               Kind = "gpu_clock"
	MemoryUsage            Kind = "memory_usage"
	MemorySwapUsage        Kind = "memory_swap_usage"
	StorageReadThroughput  Kind = "storage_read_throughput"
	StorageWriteThroughput Kind = "storage_write_throughput"
	StorageQueueDepth      Kind = "storage_queue_depth"
	MemoryReadThroughput   Kind = "memory_read_throughput"
	MemoryWriteThroughput  Kind = "memory_write_throughput"
	GPUMemoryTransfer      Kind = "gpu_memory_transfer"
	Temperature            Kind = "temperature"
	FanSpeed               Kind = "fan_speed"
	FPS                    Kind = "fps"
	FrameTime              Kind = "frame_time"
	RenderTime             Kind = "render_time"
)

// kindKeys maps each kind to the key stored runs and comparison results are
// indexed by. These strings are persisted and must never change.
var kindKeys = map[Kind]string{
	CPUUtilization:         "CpuUtilization",
	CPUUtilizationPerCore:  "CpuUtilizationPerCore",
	GPUUtilization:         "GpuUtilization",
	GPUVRAMUsage:           "GpuVramUsage",
	GPUTemperature:         "GpuTemperature",
	GPUClock:               "GpuClock",
	MemoryUsage:            "MemoryUsage",
	MemorySwapUsage:        "MemorySwapUsage",
	StorageReadThroughput:  "StorageReadThroughput",
	StorageWriteThroughput: "StorageWriteThroughput",
	StorageQueueDepth:      "StorageQueueDepth",
	MemoryReadThroughput:   "MemoryReadThroughput",
	MemoryWriteThroughput:  "MemoryWriteThroughput",
	GPUMemoryTransfer:      "GpuMemoryTransfer",
	Temperature:            "Temperature",
	FanSpeed:               "FanSpeed",
	FPS:                    "Fps",
	FrameTime:              "FrameTime",
	RenderTime:             "RenderTime",
}

// AllKinds lists every known kind in declaration order.
func AllKinds() []Kind {
	return []Kind{
		CPUUtilization, CPUUtilizationPerCore,
		GPUUtilization, GPUVRAMUsage, GPUTemperature, GPUClock,
		MemoryUsage, MemorySwapUsage,
		StorageReadThroughput, StorageWriteThroughput, StorageQueueDepth,
		MemoryReadThroughput, MemoryWriteThroughput, GPUMemoryTransfer,
		Temperature, FanSpeed,
		FPS, FrameTime, RenderTime,
	}
}

// Key returns the stable map key for the kind. Unknown kinds fall back to
// their raw tag.
func (k Kind) Key() string {
	if key, ok := kindKeys[k]; ok {
		return key
	}
	return string(k)
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	_, ok := kindKeys[k]
	return ok
}

// WorkloadType selects which workload-specific rule subset the analysis
// engine applies.
type WorkloadType string

const (
	WorkloadGaming       WorkloadType = "gaming"
	WorkloadRendering    WorkloadType = "rendering"
	WorkloadAI           WorkloadType = "ai"
	WorkloadProductivity WorkloadType = "productivity"
	WorkloadGeneral      WorkloadType = "general"
)

// Valid reports whether w is a known workload type.
func (w WorkloadType) Valid() bool {
	switch w {
	case WorkloadGaming, WorkloadRendering, WorkloadAI, WorkloadProductivity, WorkloadGeneral:
		return true
	}
	return false
}

// Filter returns the samples of the given kind, preserving order.
func Filter(samples []Sample, kind Kind) []Sample {
	var out []Sample
	for _, sample := range samples {
		if sample.Kind == kind {
			out = append(out, sample)
		}
	}
	return out
}

// InRange returns the samples whose timestamps fall within [start, end].
func InRange(samples []Sample, start, end time.Time) []Sample {
	out := make([]Sample, 0, len(samples))
	for _, sample := range samples {
		if sample.Timestamp.Before(start) || sample.Timestamp.After(end) {
			continue
		}
		out = append(out, sample)
	}
	return out
}
