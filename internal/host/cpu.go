// Package host implements the Linux CPU, memory and storage providers on top
// of /proc and /sys.
package host

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/prometheus/procfs"

	"github.com/skobkin/rigscope/internal/sampler"
)

// cpuTimes is a cumulative busy/idle split of one CPU line in /proc/stat.
//
// busy = user + nice + system + irq + softirq + steal
// idle = idle + iowait
//
// guest and guest_nice are already accounted in user and nice.
type cpuTimes struct {
	busy float64
	idle float64
}

func newCPUTimes(stat procfs.CPUStat) cpuTimes {
	return cpuTimes{
		busy: stat.User + stat.Nice + stat.System + stat.IRQ + stat.SoftIRQ + stat.Steal,
		idle: stat.Idle + stat.Iowait,
	}
}

// utilization returns the busy fraction between two readings. A zero
// previous reading yields the average since boot.
func utilization(prev, cur cpuTimes) float64 {
	busy := cur.busy - prev.busy
	total := busy + (cur.idle - prev.idle)
	if total <= 0 || busy < 0 {
		return 0
	}
	return clampFraction(busy / total)
}

// CPUProvider computes CPU utilization from successive /proc/stat readings.
type CPUProvider struct {
	fs      procfs.FS
	thermal *ThermalReader
	logger  *slog.Logger

	mu      sync.Mutex
	total   cpuTimes
	perCore map[int64]cpuTimes
}

// NewCPUProvider opens procRoot. thermal may be nil.
func NewCPUProvider(procRoot string, thermal *ThermalReader, logger *slog.Logger) (*CPUProvider, error) {
	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CPUProvider{
		fs:      fs,
		thermal: thermal,
		logger:  logger.With("component", "host_cpu"),
		perCore: make(map[int64]cpuTimes),
	}, nil
}

// CPUMetrics implements sampler.CPUProvider.
func (p *CPUProvider) CPUMetrics(ctx context.Context) (sampler.CPUMetrics, error) {
	if err := ctx.Err(); err != nil {
		return sampler.CPUMetrics{}, err
	}

	stat, err := p.fs.Stat()
	if err != nil {
		return sampler.CPUMetrics{}, fmt.Errorf("read /proc/stat: %w", err)
	}

	p.mu.Lock()
	total := newCPUTimes(stat.CPUTotal)
	out := sampler.CPUMetrics{Overall: utilization(p.total, total)}
	p.total = total

	cores := make([]int64, 0, len(stat.CPU))
	for idx := range stat.CPU {
		cores = append(cores, idx)
	}
	sort.Slice(cores, func(i, j int) bool { return cores[i] < cores[j] })

	out.PerCore = make([]float64, 0, len(cores))
	for _, idx := range cores {
		cur := newCPUTimes(stat.CPU[idx])
		out.PerCore = append(out.PerCore, utilization(p.perCore[idx], cur))
		p.perCore[idx] = cur
	}
	p.mu.Unlock()

	if p.thermal != nil {
		temp, err := p.thermal.CPUTemperature()
		if err != nil {
			p.logger.Debug("cpu temperature unavailable", "err", err)
		} else {
			out.TemperatureC = &temp
		}
	}

	return out, nil
}

func clampFraction(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
