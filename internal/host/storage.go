package host

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/procfs/blockdevice"

	"github.com/skobkin/rigscope/internal/sampler"
)

const (
	sectorSize  = 512
	bytesPerMiB = 1024 * 1024
)

var virtualDevicePrefixes = []string{"loop", "ram", "zram"}

type diskCounters struct {
	readSectors  uint64
	writeSectors uint64
}

// StorageProvider derives aggregate block-device throughput from successive
// /proc/diskstats readings.
type StorageProvider struct {
	fs  blockdevice.FS
	now func() time.Time

	mu       sync.Mutex
	prev     diskCounters
	prevTime time.Time
}

// NewStorageProvider opens procRoot and sysRoot. now may be nil.
func NewStorageProvider(procRoot, sysRoot string, now func() time.Time) (*StorageProvider, error) {
	fs, err := blockdevice.NewFS(procRoot, sysRoot)
	if err != nil {
		return nil, fmt.Errorf("open blockdevice fs: %w", err)
	}
	if now == nil {
		now = time.Now
	}
	return &StorageProvider{fs: fs, now: now}, nil
}

// StorageMetrics implements sampler.StorageProvider. The first call only
// establishes a baseline and reports zero throughput.
func (p *StorageProvider) StorageMetrics(ctx context.Context) (sampler.StorageMetrics, error) {
	if err := ctx.Err(); err != nil {
		return sampler.StorageMetrics{}, err
	}

	stats, err := p.fs.ProcDiskstats()
	if err != nil {
		return sampler.StorageMetrics{}, fmt.Errorf("read /proc/diskstats: %w", err)
	}
	now := p.now()

	var (
		cur      diskCounters
		inFlight uint64
	)
	for _, disk := range physicalDisks(stats) {
		cur.readSectors += disk.ReadSectors
		cur.writeSectors += disk.WriteSectors
		inFlight += disk.IOsInProgress
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	out := sampler.StorageMetrics{}
	queue := uint32(min(inFlight, uint64(^uint32(0))))
	out.QueueDepth = &queue

	if !p.prevTime.IsZero() {
		elapsed := now.Sub(p.prevTime).Seconds()
		if elapsed > 0 {
			out.ReadMBps = sectorRate(p.prev.readSectors, cur.readSectors, elapsed)
			out.WriteMBps = sectorRate(p.prev.writeSectors, cur.writeSectors, elapsed)
		}
	}
	p.prev = cur
	p.prevTime = now

	return out, nil
}

func sectorRate(prev, cur uint64, seconds float64) float64 {
	if cur < prev {
		// Counter reset, e.g. a device was removed.
		return 0
	}
	return float64(cur-prev) * sectorSize / bytesPerMiB / seconds
}

// physicalDisks drops virtual devices and partitions whose parent disk is
// also listed, so sectors are not counted twice.
func physicalDisks(stats []blockdevice.Diskstats) []blockdevice.Diskstats {
	names := make(map[string]struct{}, len(stats))
	for _, s := range stats {
		names[s.DeviceName] = struct{}{}
	}

	out := make([]blockdevice.Diskstats, 0, len(stats))
	for _, s := range stats {
		if isVirtualDevice(s.DeviceName) || isPartition(s.DeviceName, names) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func isVirtualDevice(name string) bool {
	for _, prefix := range virtualDevicePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// isPartition matches "sda1" under "sda" and "nvme0n1p2" under "nvme0n1".
func isPartition(name string, disks map[string]struct{}) bool {
	for disk := range disks {
		if disk == name || !strings.HasPrefix(name, disk) {
			continue
		}
		suffix := strings.TrimPrefix(name[len(disk):], "p")
		if suffix != "" && isDigits(suffix) {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
