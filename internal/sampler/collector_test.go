package sampler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/skobkin/rigscope/internal/metrics"
)

type fakeCPU struct {
	mu      sync.Mutex
	metrics CPUMetrics
	err     error
}

func (f *fakeCPU) CPUMetrics(context.Context) (CPUMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.metrics, f.err
}

func (f *fakeCPU) set(overall float64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics.Overall = overall
	f.err = err
}

type fakeGPU struct {
	gpus []GPUMetrics
	err  error
}

func (f *fakeGPU) GPUMetrics(context.Context) ([]GPUMetrics, error) {
	return f.gpus, f.err
}

type fakeMemory struct {
	metrics MemoryMetrics
	err     error
}

func (f *fakeMemory) MemoryMetrics(context.Context) (MemoryMetrics, error) {
	return f.metrics, f.err
}

type fakeStorage struct {
	metrics StorageMetrics
}

func (f *fakeStorage) StorageMetrics(context.Context) (StorageMetrics, error) {
	return f.metrics, nil
}

type closingProvider struct {
	fakeMemory
	closed bool
}

func (c *closingProvider) Close() error {
	c.closed = true
	return errors.New("boom")
}

func TestCollectorTickNormalizesProviders(t *testing.T) {
	t.Parallel()

	providers := Providers{
		CPU: &fakeCPU{metrics: CPUMetrics{
			Overall:      0.5,
			PerCore:      []float64{0.25, 0.75},
			TemperatureC: float64Ptr(61),
		}},
		GPU: &fakeGPU{gpus: []GPUMetrics{{
			ID:             "card0",
			Utilization:    float64Ptr(0.4),
			VRAMUsedMB:     uint64Ptr(2048),
			VRAMTotalMB:    uint64Ptr(8192),
			TemperatureC:   float64Ptr(70),
			CoreClockMHz:   float64Ptr(1800),
			MemoryClockMHz: float64Ptr(1000),
			PowerW:         float64Ptr(185.5),
			FanRPM:         float64Ptr(1500),
		}}},
		Memory: &fakeMemory{metrics: MemoryMetrics{
			UsedMB:      4096,
			TotalMB:     16384,
			SwapUsedMB:  uint64Ptr(128),
			SwapTotalMB: uint64Ptr(2048),
		}},
		Storage: &fakeStorage{metrics: StorageMetrics{ReadMBps: 12, WriteMBps: 3, QueueDepth: uint32Ptr(4)}},
	}

	collector := New(providers, Options{Logger: testLogger()})
	t.Cleanup(func() { _ = collector.Close() })

	if err := collector.Start(time.Hour, 100); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	waitFor(t, time.Second, collector.Ready)

	batch, ok := collector.Latest()
	if !ok {
		t.Fatalf("expected latest batch")
	}

	want := []struct {
		kind   metrics.Kind
		value  float64
		unit   string
		source string
	}{
		{metrics.CPUUtilization, 50, metrics.UnitPercent, "CPU"},
		{metrics.CPUUtilizationPerCore, 25, metrics.UnitPercent, "CPU Core 0"},
		{metrics.CPUUtilizationPerCore, 75, metrics.UnitPercent, "CPU Core 1"},
		{metrics.GPUUtilization, 40, metrics.UnitPercent, "GPU"},
		{metrics.GPUVRAMUsage, 25, metrics.UnitPercent, "GPU"},
		{metrics.GPUTemperature, 70, metrics.UnitCelsius, "GPU"},
		{metrics.GPUClock, 1800, metrics.UnitMHz, "GPU"},
		{metrics.FanSpeed, 1500, metrics.UnitRPM, "GPU"},
		{metrics.MemoryUsage, 25, metrics.UnitPercent, "Memory"},
		{metrics.MemorySwapUsage, 128, metrics.UnitMB, "Memory"},
		{metrics.StorageReadThroughput, 12, metrics.UnitMBps, "Storage"},
		{metrics.StorageWriteThroughput, 3, metrics.UnitMBps, "Storage"},
		{metrics.StorageQueueDepth, 4, metrics.UnitRequests, "Storage"},
		{metrics.Temperature, 61, metrics.UnitCelsius, "CPU"},
	}

	if len(batch) != len(want) {
		t.Fatalf("expected %d samples, got %d: %+v", len(want), len(batch), batch)
	}
	ts := batch[0].Timestamp
	for i, w := range want {
		got := batch[i]
		if got.Kind != w.kind || got.Unit != w.unit || got.SourceComponent != w.source {
			t.Fatalf("sample %d: got %+v, want %+v", i, got, w)
		}
		if diff := got.Value - w.value; diff < -0.0001 || diff > 0.0001 {
			t.Fatalf("sample %d (%s): got value %.4f, want %.4f", i, got.Kind, got.Value, w.value)
		}
		if !got.Timestamp.Equal(ts) {
			t.Fatalf("sample %d has a different timestamp", i)
		}
	}

	gpus := collector.LatestGPUs()
	if len(gpus) != 1 || gpus[0].ID != "card0" {
		t.Fatalf("unexpected latest gpu readings: %+v", gpus)
	}
	if gpus[0].PowerW == nil || *gpus[0].PowerW != 185.5 {
		t.Fatalf("expected power 185.5, got %v", gpus[0].PowerW)
	}
	if gpus[0].MemoryClockMHz == nil || *gpus[0].MemoryClockMHz != 1000 {
		t.Fatalf("expected memory clock 1000, got %v", gpus[0].MemoryClockMHz)
	}
}

func TestCollectorCloseRacingStartLeavesNoLoop(t *testing.T) {
	t.Parallel()

	for i := 0; i < 50; i++ {
		collector := New(Providers{CPU: &fakeCPU{}}, Options{Logger: testLogger()})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = collector.Start(time.Millisecond, 10)
		}()
		go func() {
			defer wg.Done()
			_ = collector.Close()
		}()
		wg.Wait()

		if collector.Running() {
			collector.Stop()
			t.Fatalf("iteration %d: sampling loop still running after Close", i)
		}
		if err := collector.Start(time.Millisecond, 10); !errors.Is(err, ErrClosed) {
			t.Fatalf("iteration %d: expected ErrClosed after Close, got %v", i, err)
		}
	}
}

func TestCollectorProviderFailureDropsOnlyThatProvider(t *testing.T) {
	t.Parallel()

	cpu := &fakeCPU{}
	cpu.set(0, errors.New("no stat"))
	collector := New(Providers{
		CPU:    cpu,
		Memory: &fakeMemory{metrics: MemoryMetrics{UsedMB: 1, TotalMB: 4}},
		GPU:    &fakeGPU{err: errors.New("gpu gone")},
	}, Options{Logger: testLogger()})
	t.Cleanup(func() { _ = collector.Close() })

	if err := collector.Start(time.Hour, 10); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	waitFor(t, time.Second, collector.Ready)

	batch, _ := collector.Latest()
	if len(batch) != 1 || batch[0].Kind != metrics.MemoryUsage || batch[0].Value != 25 {
		t.Fatalf("unexpected batch %+v", batch)
	}

	stats := collector.Stats()
	if stats.ProviderErrors[ProviderCPU] != 1 || stats.ProviderErrors[ProviderGPU] != 1 {
		t.Fatalf("unexpected provider errors %+v", stats.ProviderErrors)
	}
	if stats.ProviderErrors[ProviderMemory] != 0 {
		t.Fatalf("memory provider should not report errors")
	}
	if stats.Ticks != 1 || !stats.Running {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestCollectorStartStopLifecycle(t *testing.T) {
	t.Parallel()

	collector := New(Providers{CPU: &fakeCPU{}}, Options{Logger: testLogger()})
	t.Cleanup(func() { _ = collector.Close() })

	// Stop before Start is a no-op.
	collector.Stop()
	if collector.Running() {
		t.Fatalf("collector should not be running")
	}

	if err := collector.Start(10*time.Millisecond, 5); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := collector.Start(time.Second, 50); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if collector.Capacity() != 5 || collector.Interval() != 10*time.Millisecond {
		t.Fatalf("second Start must not change settings: capacity=%d interval=%s", collector.Capacity(), collector.Interval())
	}

	collector.Stop()
	collector.Stop()
	if collector.Running() {
		t.Fatalf("collector should be stopped")
	}

	if err := collector.Start(0, 0); err != nil {
		t.Fatalf("restart returned error: %v", err)
	}
	if collector.Capacity() != DefaultCapacity || collector.Interval() != DefaultInterval {
		t.Fatalf("defaults not applied: capacity=%d interval=%s", collector.Capacity(), collector.Interval())
	}
	collector.Stop()
}

func TestCollectorBufferNeverExceedsCapacity(t *testing.T) {
	t.Parallel()

	collector := New(Providers{CPU: &fakeCPU{metrics: CPUMetrics{Overall: 0.1}}}, Options{Logger: testLogger()})
	t.Cleanup(func() { _ = collector.Close() })

	if err := collector.Start(2*time.Millisecond, 3); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return collector.Stats().Ticks >= 6 })
	collector.Stop()

	snapshot := collector.Snapshot()
	if len(snapshot) != 3 {
		t.Fatalf("expected 3 buffered samples, got %d", len(snapshot))
	}
	for i := 1; i < len(snapshot); i++ {
		if snapshot[i].Timestamp.Before(snapshot[i-1].Timestamp) {
			t.Fatalf("snapshot not in insertion order")
		}
	}
}

func TestCollectorRangeInclusive(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var (
		mu    sync.Mutex
		calls int
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		ts := base.Add(time.Duration(calls) * time.Second)
		calls++
		return ts
	}

	collector := New(Providers{CPU: &fakeCPU{metrics: CPUMetrics{Overall: 0.2}}}, Options{Logger: testLogger(), Now: clock})
	t.Cleanup(func() { _ = collector.Close() })

	if err := collector.Start(2*time.Millisecond, 100); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return collector.Stats().Ticks >= 4 })
	collector.Stop()

	got := collector.Range(base.Add(time.Second), base.Add(2*time.Second))
	if len(got) != 2 {
		t.Fatalf("expected 2 samples in range, got %d", len(got))
	}
	if !got[0].Timestamp.Equal(base.Add(time.Second)) || !got[1].Timestamp.Equal(base.Add(2*time.Second)) {
		t.Fatalf("unexpected range %+v", got)
	}
}

func TestCollectorSubscribeReceivesBatches(t *testing.T) {
	t.Parallel()

	cpu := &fakeCPU{}
	cpu.set(0.1, nil)
	collector := New(Providers{CPU: cpu}, Options{Logger: testLogger()})
	t.Cleanup(func() { _ = collector.Close() })

	ch, unsubscribe, err := collector.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	defer unsubscribe()

	if err := collector.Start(10*time.Millisecond, 100); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	first := awaitBatch(t, ch)
	if len(first) != 1 || first[0].Value != 10 {
		t.Fatalf("unexpected first batch %+v", first)
	}

	cpu.set(0.6, nil)
	waitForBatch(t, ch, func(batch []metrics.Sample) bool {
		return len(batch) == 1 && batch[0].Value == 60
	})

	if collector.Stats().Subscribers != 1 {
		t.Fatalf("expected one subscriber")
	}
	unsubscribe()
	if collector.Stats().Subscribers != 0 {
		t.Fatalf("expected subscriber to be removed")
	}
}

func TestCollectorMultiGPUSourceLabels(t *testing.T) {
	t.Parallel()

	collector := New(Providers{GPU: &fakeGPU{gpus: []GPUMetrics{
		{ID: "card0", Utilization: float64Ptr(0.9)},
		{ID: "card1", Utilization: float64Ptr(0.92), VRAMUsedMB: uint64Ptr(1)},
	}}}, Options{Logger: testLogger()})
	t.Cleanup(func() { _ = collector.Close() })

	if err := collector.Start(time.Hour, 10); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	waitFor(t, time.Second, collector.Ready)

	batch, _ := collector.Latest()
	if len(batch) != 2 {
		t.Fatalf("VRAM without a total must not be emitted: %+v", batch)
	}
	if batch[0].SourceComponent != "GPU card0" || batch[1].SourceComponent != "GPU card1" {
		t.Fatalf("unexpected sources %q, %q", batch[0].SourceComponent, batch[1].SourceComponent)
	}
}

func TestCollectorCloseReleasesProviders(t *testing.T) {
	t.Parallel()

	memory := &closingProvider{}
	collector := New(Providers{Memory: memory}, Options{Logger: testLogger()})

	ch, _, err := collector.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- collector.Run(ctx, 5*time.Millisecond, 10) }()

	waitFor(t, time.Second, collector.Ready)
	cancel()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("expected close error from provider")
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if !memory.closed {
		t.Fatalf("provider was not closed")
	}

	for range ch {
	}
	if _, _, err := collector.Subscribe(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := collector.Start(time.Second, 1); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from Start, got %v", err)
	}
}

func TestSubscriberDropsOldestOnBackpressure(t *testing.T) {
	t.Parallel()

	sub := newSubscriber(2)
	batch := func(v float64) []metrics.Sample {
		return []metrics.Sample{{Kind: metrics.CPUUtilization, Value: v}}
	}

	if sub.send(batch(1)) || sub.send(batch(2)) {
		t.Fatalf("no drop expected while buffer has room")
	}
	if !sub.send(batch(3)) {
		t.Fatalf("expected drop when buffer is full")
	}

	first := <-sub.channel()
	second := <-sub.channel()
	if first[0].Value != 2 || second[0].Value != 3 {
		t.Fatalf("expected newest batches 2 and 3, got %v and %v", first[0].Value, second[0].Value)
	}

	sub.close()
	sub.close()
	if sub.send(batch(4)) {
		t.Fatalf("send on closed subscriber must be ignored")
	}
}

func TestRingEvictsFIFOAndResizes(t *testing.T) {
	t.Parallel()

	r := newRing(3)
	for i := 1; i <= 5; i++ {
		r.push(metrics.Sample{Value: float64(i)})
	}
	assertValues(t, r.slice(), 3, 4, 5)

	r.resize(2)
	assertValues(t, r.slice(), 4, 5)

	r.resize(4)
	r.push(metrics.Sample{Value: 6})
	assertValues(t, r.slice(), 4, 5, 6)
	if r.capacity() != 4 || r.len() != 3 {
		t.Fatalf("unexpected ring state capacity=%d len=%d", r.capacity(), r.len())
	}
}

func assertValues(t *testing.T, samples []metrics.Sample, want ...float64) {
	t.Helper()
	if len(samples) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(samples))
	}
	for i, sample := range samples {
		if sample.Value != want[i] {
			t.Fatalf("sample %d: expected %v, got %v", i, want[i], sample.Value)
		}
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func awaitBatch(t *testing.T, ch <-chan []metrics.Sample) []metrics.Sample {
	t.Helper()
	select {
	case batch, ok := <-ch:
		if !ok {
			t.Fatal("subscription channel closed unexpectedly")
		}
		return batch
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for batch")
		return nil
	}
}

func waitForBatch(t *testing.T, ch <-chan []metrics.Sample, match func([]metrics.Sample) bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case batch, ok := <-ch:
			if !ok {
				t.Fatal("subscription channel closed unexpectedly")
			}
			if match(batch) {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for matching batch")
		}
	}
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func float64Ptr(v float64) *float64 { return &v }

func uint64Ptr(v uint64) *uint64 { return &v }

func uint32Ptr(v uint32) *uint32 { return &v }
