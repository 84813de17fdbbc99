package httpserver

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skobkin/rigscope/internal/analysis"
	"github.com/skobkin/rigscope/internal/profiles"
	"github.com/skobkin/rigscope/internal/sampler"
)

type collectorMetrics struct {
	collector *sampler.Collector
	window    time.Duration
	profile   func() *profiles.Profile

	running        *prometheus.Desc
	ticks          *prometheus.Desc
	bufferLen      *prometheus.Desc
	bufferCapacity *prometheus.Desc
	subscribers    *prometheus.Desc
	dropped        *prometheus.Desc
	providerErrors *prometheus.Desc
	lastTick       *prometheus.Desc
	sampleValue    *prometheus.Desc
	sampleAge      *prometheus.Desc
	gpuMemoryClock *prometheus.Desc
	gpuPower       *prometheus.Desc
	severity       *prometheus.Desc
}

func newCollectorMetrics(collector *sampler.Collector, window time.Duration, profile func() *profiles.Profile) prometheus.Collector {
	if collector == nil {
		return nil
	}

	desc := func(subsystem, name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName("rigscope", subsystem, name),
			help,
			labels,
			nil,
		)
	}

	return &collectorMetrics{
		collector: collector,
		window:    window,
		profile:   profile,

		running:        desc("collector", "running", "Whether the sampling loop is active."),
		ticks:          desc("collector", "ticks_total", "Sampling ticks completed since start."),
		bufferLen:      desc("collector", "buffer_samples", "Samples currently held in the ring buffer."),
		bufferCapacity: desc("collector", "buffer_capacity", "Ring buffer capacity in samples."),
		subscribers:    desc("collector", "subscribers", "Live tick subscribers."),
		dropped:        desc("collector", "dropped_batches_total", "Batches discarded because a subscriber fell behind."),
		providerErrors: desc("collector", "provider_errors_total", "Failed provider reads.", "provider"),
		lastTick:       desc("collector", "last_tick_timestamp_seconds", "Unix timestamp of the latest completed tick."),
		sampleValue:    desc("sample", "value", "Latest sampled value per kind and source.", "kind", "source", "unit"),
		sampleAge:      desc("sample", "age_seconds", "Seconds elapsed since the latest tick was sampled."),
		gpuMemoryClock: desc("gpu", "memory_clock_mhz", "Current GPU memory clock in MHz.", "gpu"),
		gpuPower:       desc("gpu", "power_watts", "Current GPU board power draw in watts.", "gpu"),
		severity:       desc("analysis", "bottleneck_severity", "Highest finding severity per bottleneck type over the analysis window.", "type"),
	}
}

func (c *collectorMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, desc := range []*prometheus.Desc{
		c.running, c.ticks, c.bufferLen, c.bufferCapacity, c.subscribers,
		c.dropped, c.providerErrors, c.lastTick, c.sampleValue, c.sampleAge,
		c.gpuMemoryClock, c.gpuPower, c.severity,
	} {
		ch <- desc
	}
}

func (c *collectorMetrics) Collect(ch chan<- prometheus.Metric) {
	stats := c.collector.Stats()

	running := 0.0
	if stats.Running {
		running = 1
	}
	ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, running)
	ch <- prometheus.MustNewConstMetric(c.ticks, prometheus.CounterValue, float64(stats.Ticks))
	ch <- prometheus.MustNewConstMetric(c.bufferLen, prometheus.GaugeValue, float64(stats.BufferLen))
	ch <- prometheus.MustNewConstMetric(c.bufferCapacity, prometheus.GaugeValue, float64(stats.BufferCapacity))
	ch <- prometheus.MustNewConstMetric(c.subscribers, prometheus.GaugeValue, float64(stats.Subscribers))
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(stats.DroppedBatches))
	for provider, count := range stats.ProviderErrors {
		ch <- prometheus.MustNewConstMetric(c.providerErrors, prometheus.CounterValue, float64(count), provider)
	}
	if !stats.LastTick.IsZero() {
		ch <- prometheus.MustNewConstMetric(c.lastTick, prometheus.GaugeValue, float64(stats.LastTick.Unix()))
	}

	if latest, ok := c.collector.Latest(); ok && len(latest) > 0 {
		type seriesKey struct{ kind, source string }
		seen := make(map[seriesKey]struct{}, len(latest))
		for _, sample := range latest {
			key := seriesKey{string(sample.Kind), sample.SourceComponent}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			ch <- prometheus.MustNewConstMetric(c.sampleValue, prometheus.GaugeValue, sample.Value,
				string(sample.Kind), sample.SourceComponent, sample.Unit)
		}
		age := time.Since(latest[0].Timestamp).Seconds()
		if age < 0 {
			age = 0
		}
		ch <- prometheus.MustNewConstMetric(c.sampleAge, prometheus.GaugeValue, age)
	}

	for _, gpu := range c.collector.LatestGPUs() {
		if gpu.MemoryClockMHz != nil {
			ch <- prometheus.MustNewConstMetric(c.gpuMemoryClock, prometheus.GaugeValue, *gpu.MemoryClockMHz, gpu.ID)
		}
		if gpu.PowerW != nil {
			ch <- prometheus.MustNewConstMetric(c.gpuPower, prometheus.GaugeValue, *gpu.PowerW, gpu.ID)
		}
	}

	var profile *profiles.Profile
	if c.profile != nil {
		profile = c.profile()
	}
	result := analysis.Analyze(c.collector.Snapshot(), c.window, profile)
	bySeverity := result.SeverityByType()
	for _, typ := range analysis.Types() {
		ch <- prometheus.MustNewConstMetric(c.severity, prometheus.GaugeValue, float64(bySeverity[typ]), string(typ))
	}
}
