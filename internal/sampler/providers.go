package sampler

import "context"

// CPUMetrics is a single processor reading. Utilization values are fractions
// in the 0..1 range.
type CPUMetrics struct {
	Overall      float64
	PerCore      []float64
	TemperatureC *float64
}

// GPUMetrics describes one graphics device. Utilization is a 0..1 fraction;
// nil fields were not reported by the device.
type GPUMetrics struct {
	ID             string
	Name           string
	Utilization    *float64
	VRAMUsedMB     *uint64
	VRAMTotalMB    *uint64
	TemperatureC   *float64
	CoreClockMHz   *float64
	MemoryClockMHz *float64
	PowerW         *float64
	FanRPM         *float64
}

// MemoryMetrics is a system memory reading. Swap fields are nil when the host
// has no swap configured.
type MemoryMetrics struct {
	UsedMB      uint64
	TotalMB     uint64
	SwapUsedMB  *uint64
	SwapTotalMB *uint64
}

// StorageMetrics is an aggregate block-device reading.
type StorageMetrics struct {
	ReadMBps   float64
	WriteMBps  float64
	QueueDepth *uint32
}

// CPUProvider reports processor utilization.
type CPUProvider interface {
	CPUMetrics(ctx context.Context) (CPUMetrics, error)
}

// GPUProvider reports every graphics device it manages.
type GPUProvider interface {
	GPUMetrics(ctx context.Context) ([]GPUMetrics, error)
}

// MemoryProvider reports system memory usage.
type MemoryProvider interface {
	MemoryMetrics(ctx context.Context) (MemoryMetrics, error)
}

// StorageProvider reports block-device throughput.
type StorageProvider interface {
	StorageMetrics(ctx context.Context) (StorageMetrics, error)
}

// Providers groups the collaborators a Collector samples on each tick. Any of
// them may be nil, in which case its kinds are never produced.
type Providers struct {
	CPU     CPUProvider
	GPU     GPUProvider
	Memory  MemoryProvider
	Storage StorageProvider
}

// Names lists the configured provider names.
func (p Providers) Names() []string {
	names := make([]string, 0, 4)
	if p.CPU != nil {
		names = append(names, ProviderCPU)
	}
	if p.GPU != nil {
		names = append(names, ProviderGPU)
	}
	if p.Memory != nil {
		names = append(names, ProviderMemory)
	}
	if p.Storage != nil {
		names = append(names, ProviderStorage)
	}
	return names
}

// Provider names used in stats and logs.
const (
	ProviderCPU     = "cpu"
	ProviderGPU     = "gpu"
	ProviderMemory  = "memory"
	ProviderStorage = "storage"
)
