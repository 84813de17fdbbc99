package host

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/procfs"

	"github.com/skobkin/rigscope/internal/sampler"
)

const kbPerMB = 1024

// MemoryProvider reads /proc/meminfo.
type MemoryProvider struct {
	fs procfs.FS
}

// NewMemoryProvider opens procRoot.
func NewMemoryProvider(procRoot string) (*MemoryProvider, error) {
	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	return &MemoryProvider{fs: fs}, nil
}

// MemoryMetrics implements sampler.MemoryProvider. Used memory is
// MemTotal - MemAvailable, falling back to MemFree on old kernels.
func (p *MemoryProvider) MemoryMetrics(ctx context.Context) (sampler.MemoryMetrics, error) {
	if err := ctx.Err(); err != nil {
		return sampler.MemoryMetrics{}, err
	}

	info, err := p.fs.Meminfo()
	if err != nil {
		return sampler.MemoryMetrics{}, fmt.Errorf("read /proc/meminfo: %w", err)
	}
	if info.MemTotal == nil || *info.MemTotal == 0 {
		return sampler.MemoryMetrics{}, errors.New("meminfo: MemTotal missing")
	}

	total := *info.MemTotal
	available := total
	switch {
	case info.MemAvailable != nil:
		available = *info.MemAvailable
	case info.MemFree != nil:
		available = *info.MemFree
	}
	if available > total {
		available = total
	}

	out := sampler.MemoryMetrics{
		UsedMB:  (total - available) / kbPerMB,
		TotalMB: total / kbPerMB,
	}

	if info.SwapTotal != nil && *info.SwapTotal > 0 {
		swapTotal := *info.SwapTotal
		swapFree := uint64(0)
		if info.SwapFree != nil {
			swapFree = min(*info.SwapFree, swapTotal)
		}
		used := (swapTotal - swapFree) / kbPerMB
		totalMB := swapTotal / kbPerMB
		out.SwapUsedMB = &used
		out.SwapTotalMB = &totalMB
	}

	return out, nil
}
