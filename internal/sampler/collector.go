package sampler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skobkin/rigscope/internal/metrics"
)

const (
	// DefaultInterval is used when Start receives a non-positive interval.
	DefaultInterval = time.Second
	// DefaultCapacity is used when Start receives a non-positive capacity.
	DefaultCapacity = 600
	// DefaultSubscriberBuffer is the per-subscriber batch queue length.
	DefaultSubscriberBuffer = 100
)

var (
	// ErrAlreadyRunning is returned by Start while the sampling loop is active.
	ErrAlreadyRunning = errors.New("collector already running")
	// ErrClosed is returned once the collector has been closed.
	ErrClosed = errors.New("collector closed")
)

// Options tunes a Collector.
type Options struct {
	SubscriberBuffer int
	Logger           *slog.Logger
	// Now overrides the tick clock. Defaults to time.Now.
	Now func() time.Time
}

// Stats is a point-in-time view of collector activity.
type Stats struct {
	Running          bool              `json:"running"`
	Interval         time.Duration     `json:"interval"`
	Ticks            uint64            `json:"ticks"`
	ProviderErrors   map[string]uint64 `json:"provider_errors"`
	BufferLen        int               `json:"buffer_len"`
	BufferCapacity   int               `json:"buffer_capacity"`
	Subscribers      int               `json:"subscribers"`
	DroppedBatches   uint64            `json:"dropped_batches"`
	LastTick         time.Time         `json:"last_tick"`
	LastBatchSamples int               `json:"last_batch_samples"`
}

// Collector periodically samples its providers into a bounded ring buffer
// and fans each tick's batch out to subscribers.
type Collector struct {
	providers Providers
	logger    *slog.Logger
	subBuffer int
	now       func() time.Time

	runMu    sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	interval time.Duration

	bufMu      sync.RWMutex
	ring       *ring
	latest     []metrics.Sample
	latestGPUs []GPUMetrics
	lastTick   time.Time

	subMu       sync.Mutex
	subscribers map[*subscriber]struct{}
	closed      bool

	ticks          atomic.Uint64
	dropped        atomic.Uint64
	providerErrors map[string]*atomic.Uint64

	closeOnce sync.Once
	closeErr  error
}

// New builds a stopped Collector over the given providers.
func New(providers Providers, opts Options) *Collector {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	subBuffer := opts.SubscriberBuffer
	if subBuffer <= 0 {
		subBuffer = DefaultSubscriberBuffer
	}

	errs := make(map[string]*atomic.Uint64, 4)
	for _, name := range []string{ProviderCPU, ProviderGPU, ProviderMemory, ProviderStorage} {
		errs[name] = new(atomic.Uint64)
	}

	return &Collector{
		providers:      providers,
		logger:         logger.With("component", "collector"),
		subBuffer:      subBuffer,
		now:            now,
		interval:       DefaultInterval,
		ring:           newRing(DefaultCapacity),
		subscribers:    make(map[*subscriber]struct{}),
		providerErrors: errs,
	}
}

// Start launches the sampling loop. A non-positive interval or capacity
// falls back to the defaults. Changing the capacity keeps the newest samples.
func (c *Collector) Start(interval time.Duration, capacity int) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.cancel != nil {
		return ErrAlreadyRunning
	}
	c.subMu.Lock()
	closed := c.closed
	c.subMu.Unlock()
	if closed {
		return ErrClosed
	}

	c.bufMu.Lock()
	c.ring.resize(capacity)
	c.bufMu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.interval = interval

	go c.loop(ctx, interval, capacity, done)
	return nil
}

// Stop cancels the sampling loop and waits for the current tick to finish.
// It is a no-op when the collector is not running.
func (c *Collector) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.cancel = nil
	c.done = nil
}

// Running reports whether the sampling loop is active.
func (c *Collector) Running() bool {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.cancel != nil
}

// Run starts the collector, blocks until ctx is canceled and then shuts it
// down.
func (c *Collector) Run(ctx context.Context, interval time.Duration, capacity int) error {
	if err := c.Start(interval, capacity); err != nil {
		return fmt.Errorf("start collector: %w", err)
	}
	<-ctx.Done()
	return c.Close()
}

// Interval returns the interval of the current or last sampling loop.
func (c *Collector) Interval() time.Duration {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.interval
}

// Capacity returns the ring buffer capacity.
func (c *Collector) Capacity() int {
	c.bufMu.RLock()
	defer c.bufMu.RUnlock()
	return c.ring.capacity()
}

// ProviderNames lists the configured providers.
func (c *Collector) ProviderNames() []string {
	return c.providers.Names()
}

// Snapshot returns a copy of the buffered samples, oldest first.
func (c *Collector) Snapshot() []metrics.Sample {
	c.bufMu.RLock()
	defer c.bufMu.RUnlock()
	return c.ring.slice()
}

// Range returns buffered samples with timestamps in [start, end].
func (c *Collector) Range(start, end time.Time) []metrics.Sample {
	c.bufMu.RLock()
	defer c.bufMu.RUnlock()
	return c.ring.between(start, end)
}

// Latest returns the most recent tick's batch.
func (c *Collector) Latest() ([]metrics.Sample, bool) {
	c.bufMu.RLock()
	defer c.bufMu.RUnlock()
	if c.latest == nil {
		return nil, false
	}
	out := make([]metrics.Sample, len(c.latest))
	copy(out, c.latest)
	return out, true
}

// LatestGPUs returns the raw device readings from the most recent tick. It
// includes values that have no sample kind, such as board power and memory
// clock. The result is nil when the last GPU read failed.
func (c *Collector) LatestGPUs() []GPUMetrics {
	c.bufMu.RLock()
	defer c.bufMu.RUnlock()
	return slices.Clone(c.latestGPUs)
}

// Ready reports whether the collector is running and has completed a tick.
func (c *Collector) Ready() bool {
	if !c.Running() {
		return false
	}
	c.bufMu.RLock()
	defer c.bufMu.RUnlock()
	return !c.lastTick.IsZero()
}

// Subscribe registers a listener for tick batches. The latest batch, if any,
// is delivered immediately.
func (c *Collector) Subscribe() (<-chan []metrics.Sample, func(), error) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if c.closed {
		return nil, nil, ErrClosed
	}

	sub := newSubscriber(c.subBuffer)
	c.subscribers[sub] = struct{}{}

	if latest, ok := c.Latest(); ok {
		sub.send(latest)
	}

	unsubscribe := func() {
		c.removeSubscriber(sub)
	}

	return sub.channel(), unsubscribe, nil
}

// Stats returns collector counters.
func (c *Collector) Stats() Stats {
	c.runMu.Lock()
	running := c.cancel != nil
	interval := c.interval
	c.runMu.Unlock()

	c.subMu.Lock()
	subs := len(c.subscribers)
	c.subMu.Unlock()

	errs := make(map[string]uint64, len(c.providerErrors))
	for name, counter := range c.providerErrors {
		errs[name] = counter.Load()
	}

	c.bufMu.RLock()
	defer c.bufMu.RUnlock()

	return Stats{
		Running:          running,
		Interval:         interval,
		Ticks:            c.ticks.Load(),
		ProviderErrors:   errs,
		BufferLen:        c.ring.len(),
		BufferCapacity:   c.ring.capacity(),
		Subscribers:      subs,
		DroppedBatches:   c.dropped.Load(),
		LastTick:         c.lastTick,
		LastBatchSamples: len(c.latest),
	}
}

// Close stops sampling, closes all subscriber channels and releases
// providers that hold resources. Safe for repeated use.
func (c *Collector) Close() error {
	c.closeOnce.Do(func() {
		c.subMu.Lock()
		c.closed = true
		c.subMu.Unlock()

		c.Stop()

		c.subMu.Lock()
		for sub := range c.subscribers {
			sub.close()
			delete(c.subscribers, sub)
		}
		c.subMu.Unlock()

		var errs []error
		for name, provider := range map[string]any{
			ProviderCPU:     c.providers.CPU,
			ProviderGPU:     c.providers.GPU,
			ProviderMemory:  c.providers.Memory,
			ProviderStorage: c.providers.Storage,
		} {
			closer, ok := provider.(io.Closer)
			if !ok {
				continue
			}
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s provider: %w", name, err))
			}
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

func (c *Collector) loop(ctx context.Context, interval time.Duration, capacity int, done chan struct{}) {
	defer close(done)

	c.logger.Info("collector started", "interval", interval, "capacity", capacity, "providers", c.providers.Names())

	// Initial tick to prime the buffer.
	c.tick(ctx, interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("collector stopping", "reason", ctx.Err())
			return
		case <-ticker.C:
			c.tick(ctx, interval)
		}
	}
}

func (c *Collector) tick(ctx context.Context, interval time.Duration) {
	if ctx.Err() != nil {
		return
	}

	// Once started, a tick runs to completion even if Stop is called; the
	// timeout bounds how long that can take.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), interval)
	defer cancel()

	now := c.now().UTC()
	batch := make([]metrics.Sample, 0, 16)

	var cpuTemp *float64
	if c.providers.CPU != nil {
		cpu, err := c.providers.CPU.CPUMetrics(pctx)
		if err != nil {
			c.providerFailed(ProviderCPU, err)
		} else {
			batch = appendCPU(batch, now, cpu)
			cpuTemp = cpu.TemperatureC
		}
	}

	var gpuReadings []GPUMetrics
	if c.providers.GPU != nil {
		gpus, err := c.providers.GPU.GPUMetrics(pctx)
		if err != nil {
			c.providerFailed(ProviderGPU, err)
		} else {
			batch = appendGPUs(batch, now, gpus)
			gpuReadings = gpus
		}
	}

	if c.providers.Memory != nil {
		mem, err := c.providers.Memory.MemoryMetrics(pctx)
		if err != nil {
			c.providerFailed(ProviderMemory, err)
		} else {
			batch = appendMemory(batch, now, mem)
		}
	}

	if c.providers.Storage != nil {
		storage, err := c.providers.Storage.StorageMetrics(pctx)
		if err != nil {
			c.providerFailed(ProviderStorage, err)
		} else {
			batch = appendStorage(batch, now, storage)
		}
	}

	if cpuTemp != nil {
		batch = append(batch, metrics.Sample{
			Timestamp:       now,
			Kind:            metrics.Temperature,
			Value:           *cpuTemp,
			Unit:            metrics.UnitCelsius,
			SourceComponent: "CPU",
		})
	}

	c.bufMu.Lock()
	c.ring.push(batch...)
	c.latest = batch
	c.latestGPUs = gpuReadings
	c.lastTick = now
	c.bufMu.Unlock()

	c.ticks.Add(1)
	c.publish(batch)
}

func (c *Collector) providerFailed(name string, err error) {
	c.providerErrors[name].Add(1)
	c.logger.Debug("provider failed", "provider", name, "err", err)
}

func (c *Collector) publish(batch []metrics.Sample) {
	c.subMu.Lock()
	targets := make([]*subscriber, 0, len(c.subscribers))
	for sub := range c.subscribers {
		targets = append(targets, sub)
	}
	c.subMu.Unlock()

	for _, sub := range targets {
		if sub.send(batch) {
			c.dropped.Add(1)
		}
	}
}

func (c *Collector) removeSubscriber(sub *subscriber) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	delete(c.subscribers, sub)
	sub.close()
}

func appendCPU(batch []metrics.Sample, ts time.Time, cpu CPUMetrics) []metrics.Sample {
	batch = append(batch, metrics.Sample{
		Timestamp:       ts,
		Kind:            metrics.CPUUtilization,
		Value:           cpu.Overall * 100,
		Unit:            metrics.UnitPercent,
		SourceComponent: "CPU",
	})
	for idx, util := range cpu.PerCore {
		batch = append(batch, metrics.Sample{
			Timestamp:       ts,
			Kind:            metrics.CPUUtilizationPerCore,
			Value:           util * 100,
			Unit:            metrics.UnitPercent,
			SourceComponent: fmt.Sprintf("CPU Core %d", idx),
		})
	}
	return batch
}

func appendGPUs(batch []metrics.Sample, ts time.Time, gpus []GPUMetrics) []metrics.Sample {
	for _, gpu := range gpus {
		source := "GPU"
		if len(gpus) > 1 {
			source = "GPU " + gpu.ID
		}
		add := func(kind metrics.Kind, value float64, unit string) {
			batch = append(batch, metrics.Sample{
				Timestamp:       ts,
				Kind:            kind,
				Value:           value,
				Unit:            unit,
				SourceComponent: source,
			})
		}

		if gpu.Utilization != nil {
			add(metrics.GPUUtilization, *gpu.Utilization*100, metrics.UnitPercent)
		}
		if gpu.VRAMUsedMB != nil && gpu.VRAMTotalMB != nil && *gpu.VRAMTotalMB > 0 {
			add(metrics.GPUVRAMUsage, float64(*gpu.VRAMUsedMB)/float64(*gpu.VRAMTotalMB)*100, metrics.UnitPercent)
		}
		if gpu.TemperatureC != nil {
			add(metrics.GPUTemperature, *gpu.TemperatureC, metrics.UnitCelsius)
		}
		if gpu.CoreClockMHz != nil {
			add(metrics.GPUClock, *gpu.CoreClockMHz, metrics.UnitMHz)
		}
		if gpu.FanRPM != nil {
			add(metrics.FanSpeed, *gpu.FanRPM, metrics.UnitRPM)
		}
	}
	return batch
}

func appendMemory(batch []metrics.Sample, ts time.Time, mem MemoryMetrics) []metrics.Sample {
	if mem.TotalMB > 0 {
		batch = append(batch, metrics.Sample{
			Timestamp:       ts,
			Kind:            metrics.MemoryUsage,
			Value:           float64(mem.UsedMB) / float64(mem.TotalMB) * 100,
			Unit:            metrics.UnitPercent,
			SourceComponent: "Memory",
		})
	}
	if mem.SwapUsedMB != nil && mem.SwapTotalMB != nil && *mem.SwapTotalMB > 0 {
		batch = append(batch, metrics.Sample{
			Timestamp:       ts,
			Kind:            metrics.MemorySwapUsage,
			Value:           float64(*mem.SwapUsedMB),
			Unit:            metrics.UnitMB,
			SourceComponent: "Memory",
		})
	}
	return batch
}

func appendStorage(batch []metrics.Sample, ts time.Time, storage StorageMetrics) []metrics.Sample {
	batch = append(batch,
		metrics.Sample{
			Timestamp:       ts,
			Kind:            metrics.StorageReadThroughput,
			Value:           storage.ReadMBps,
			Unit:            metrics.UnitMBps,
			SourceComponent: "Storage",
		},
		metrics.Sample{
			Timestamp:       ts,
			Kind:            metrics.StorageWriteThroughput,
			Value:           storage.WriteMBps,
			Unit:            metrics.UnitMBps,
			SourceComponent: "Storage",
		},
	)
	if storage.QueueDepth != nil {
		batch = append(batch, metrics.Sample{
			Timestamp:       ts,
			Kind:            metrics.StorageQueueDepth,
			Value:           float64(*storage.QueueDepth),
			Unit:            metrics.UnitRequests,
			SourceComponent: "Storage",
		})
	}
	return batch
}
