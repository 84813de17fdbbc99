package analysis

import (
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/skobkin/rigscope/internal/metrics"
	"github.com/skobkin/rigscope/internal/profiles"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestAnalyzeEmptyInput(t *testing.T) {
	t.Parallel()

	result := AnalyzeAt(testNow, nil, 0, nil)
	if result.Findings == nil || len(result.Findings) != 0 {
		t.Fatalf("expected empty non-nil findings, got %#v", result.Findings)
	}
	if !result.Timestamp.Equal(testNow) {
		t.Fatalf("unexpected timestamp %v", result.Timestamp)
	}
}

func TestAnalyzeCPUBound(t *testing.T) {
	t.Parallel()

	samples := append(
		series(metrics.CPUUtilization, "CPU", 95, 95, 95),
		series(metrics.GPUUtilization, "GPU", 30, 30, 30)...,
	)

	result := AnalyzeAt(testNow, samples, 0, nil)
	f := findOne(t, result, TypeCPU)
	if f.Severity < 85 {
		t.Fatalf("expected severity >= 85, got %d", f.Severity)
	}
	if !strings.HasPrefix(f.Summary, "CPU-bound: Average CPU utilization is 95.0%") {
		t.Fatalf("unexpected summary %q", f.Summary)
	}
	if f.Evidence[0].Threshold != CPUHighThreshold || f.Evidence[0].ActualValue != 95 {
		t.Fatalf("unexpected evidence %+v", f.Evidence[0])
	}
	if f.Evidence[0].TimeRangeEnd.After(testNow) || !f.Evidence[0].TimeRangeStart.Before(f.Evidence[0].TimeRangeEnd) {
		t.Fatalf("unexpected evidence range %+v", f.Evidence[0])
	}
	if countType(result, TypeGPU) != 0 {
		t.Fatalf("did not expect a gpu finding")
	}
}

func TestAnalyzeMutualGuards(t *testing.T) {
	t.Parallel()

	cpuHeavy := append(
		series(metrics.CPUUtilization, "CPU", 95, 95),
		series(metrics.GPUUtilization, "GPU", 75, 75)...,
	)
	if n := countType(AnalyzeAt(testNow, cpuHeavy, 0, nil), TypeCPU); n != 0 {
		t.Fatalf("cpu finding must require GPU < 70, got %d", n)
	}

	gpuHeavy := append(
		series(metrics.GPUUtilization, "GPU", 95, 95),
		series(metrics.CPUUtilization, "CPU", 85, 85)...,
	)
	if n := countType(AnalyzeAt(testNow, gpuHeavy, 0, nil), TypeGPU); n != 0 {
		t.Fatalf("gpu finding must require CPU < 80, got %d", n)
	}

	gpuOnly := series(metrics.GPUUtilization, "GPU", 97, 99)
	f := findOne(t, AnalyzeAt(testNow, gpuOnly, 0, nil), TypeGPU)
	if f.Severity != 98 {
		t.Fatalf("expected severity 98, got %d", f.Severity)
	}
}

func TestAnalyzeWindowExcludesOldSamples(t *testing.T) {
	t.Parallel()

	old := metrics.Sample{Timestamp: testNow.Add(-time.Minute), Kind: metrics.CPUUtilization, Value: 99, SourceComponent: "CPU"}
	recent := metrics.Sample{Timestamp: testNow.Add(-time.Second), Kind: metrics.CPUUtilization, Value: 10, SourceComponent: "CPU"}
	future := metrics.Sample{Timestamp: testNow.Add(time.Second), Kind: metrics.CPUUtilization, Value: 99, SourceComponent: "CPU"}

	result := AnalyzeAt(testNow, []metrics.Sample{old, recent, future}, 30*time.Second, nil)
	if len(result.Findings) != 0 {
		t.Fatalf("expected no findings, got %+v", result.Findings)
	}

	// With both samples in the window the mean drops to 54.5.
	wide := AnalyzeAt(testNow, []metrics.Sample{old, recent}, 2*time.Minute, nil)
	if countType(wide, TypeCPU) != 0 {
		t.Fatalf("unexpected cpu finding")
	}
}

func TestThermalPartitions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		values   []float64
		summary  string
		severity int
	}{
		{name: "critical", values: []float64{88, 90}, summary: "Critical thermal throttling detected", severity: 85},
		{name: "critical clamp", values: []float64{99, 100}, summary: "Critical thermal throttling detected", severity: 95},
		{name: "warning", values: []float64{76, 76}, summary: "High temperature warning", severity: 50},
		{name: "cool", values: []float64{72, 72}},
		{name: "legacy single sample", values: []float64{92}, summary: "Thermal throttling: Maximum temperature reached 92.0°C (threshold: 90.0°C)", severity: 70},
		{name: "legacy critical", values: []float64{97}, summary: "Thermal throttling: Maximum temperature reached 97.0°C (threshold: 90.0°C)", severity: 100},
		{name: "legacy cool", values: []float64{80}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			result := AnalyzeAt(testNow, series(metrics.Temperature, "CPU", tc.values...), 0, nil)
			if tc.summary == "" {
				if countType(result, TypeThermal) != 0 {
					t.Fatalf("expected no thermal finding, got %+v", result.Findings)
				}
				return
			}
			f := findOne(t, result, TypeThermal)
			if f.Summary != tc.summary || f.Severity != tc.severity {
				t.Fatalf("got %q severity %d, want %q severity %d", f.Summary, f.Severity, tc.summary, tc.severity)
			}
		})
	}
}

func TestThermalPredictive(t *testing.T) {
	t.Parallel()

	// 70°C to 84°C over five minutes: 2.8°C/min, throttling in well under
	// five minutes.
	start := testNow.Add(-5 * time.Minute)
	var samples []metrics.Sample
	for i := 0; i <= 5; i++ {
		samples = append(samples, metrics.Sample{
			Timestamp:       start.Add(time.Duration(i) * time.Minute),
			Kind:            metrics.Temperature,
			Value:           70 + 2.8*float64(i),
			Unit:            metrics.UnitCelsius,
			SourceComponent: "CPU",
		})
	}

	result := AnalyzeAt(testNow, samples, 10*time.Minute, nil)
	f := findOne(t, result, TypeThermal)
	if f.Summary != "Predictive thermal warning" {
		t.Fatalf("unexpected summary %q", f.Summary)
	}
	if f.Severity != 40 && f.Severity != 55 && f.Severity != 70 {
		t.Fatalf("unexpected severity %d", f.Severity)
	}
	if f.Severity != 70 {
		t.Fatalf("expected severity 70, got %d", f.Severity)
	}
	if !strings.Contains(f.Details, "Predicted time to throttling") {
		t.Fatalf("details missing prediction: %q", f.Details)
	}
	if f.Evidence[0].Threshold != TempPredictive {
		t.Fatalf("unexpected threshold %v", f.Evidence[0].Threshold)
	}

	// A slow rise from 70 to 72 over ten minutes is below the rate limit.
	slow := []metrics.Sample{
		{Timestamp: testNow.Add(-10 * time.Minute), Kind: metrics.Temperature, Value: 70, SourceComponent: "CPU"},
		{Timestamp: testNow, Kind: metrics.Temperature, Value: 72, SourceComponent: "CPU"},
	}
	if n := countType(AnalyzeAt(testNow, slow, 15*time.Minute, nil), TypeThermal); n != 0 {
		t.Fatalf("expected no thermal finding for slow rise, got %d", n)
	}
}

func TestThermalTrendSortsByTime(t *testing.T) {
	t.Parallel()

	// Out-of-order input: the latest reading is 60, so nothing fires.
	samples := []metrics.Sample{
		{Timestamp: testNow, Kind: metrics.Temperature, Value: 60},
		{Timestamp: testNow.Add(-time.Minute), Kind: metrics.Temperature, Value: 88},
	}
	if n := countType(AnalyzeAt(testNow, samples, 0, nil), TypeThermal); n != 0 {
		t.Fatalf("expected no thermal finding, got %d", n)
	}
}

func TestMultiGPU(t *testing.T) {
	t.Parallel()

	saturated := append(
		series(metrics.GPUUtilization, "GPU card0", 90, 90),
		series(metrics.GPUUtilization, "GPU card1", 92, 92)...,
	)
	result := AnalyzeAt(testNow, saturated, 0, nil)
	var all, imbalance int
	for _, f := range result.Findings {
		switch f.Summary {
		case "All GPUs saturated in multi-GPU setup":
			all++
			if f.Severity != 85 || f.Evidence[0].ActualValue != 91 {
				t.Fatalf("unexpected saturated finding %+v", f)
			}
		case "Multi-GPU workload imbalance detected":
			imbalance++
		}
	}
	if all != 1 || imbalance != 0 {
		t.Fatalf("expected exactly one all-saturated finding, got all=%d imbalance=%d", all, imbalance)
	}

	unbalanced := append(
		series(metrics.GPUUtilization, "GPU card0", 95, 95),
		series(metrics.GPUUtilization, "GPU card1", 40, 40)...,
	)
	result = AnalyzeAt(testNow, unbalanced, 0, nil)
	f := findBySummary(t, result, "Multi-GPU workload imbalance detected")
	if f.Severity != 75 || f.Evidence[0].ActualValue != 95 {
		t.Fatalf("unexpected imbalance finding %+v", f)
	}
	for _, other := range result.Findings {
		if other.Summary == "All GPUs saturated in multi-GPU setup" {
			t.Fatalf("imbalance and all-saturated must be exclusive")
		}
	}

	overRange := append(
		series(metrics.GPUUtilization, "GPU card0", 150, 150),
		series(metrics.GPUUtilization, "GPU card1", 120, 120)...,
	)
	f = findBySummary(t, AnalyzeAt(testNow, overRange, 0, nil), "Multi-GPU workload imbalance detected")
	if f.Severity != 45 || !strings.Contains(f.Details, "min: 120.0%") {
		t.Fatalf("spread must use the lowest device mean, got %+v", f)
	}

	single := series(metrics.GPUUtilization, "GPU", 95, 95)
	for _, f := range AnalyzeAt(testNow, single, 0, nil).Findings {
		if strings.Contains(f.Summary, "Multi-GPU") || strings.Contains(f.Summary, "All GPUs") {
			t.Fatalf("single GPU must not produce multi-GPU findings: %+v", f)
		}
	}
}

func TestBandwidthRules(t *testing.T) {
	t.Parallel()

	pcie := append(
		series(metrics.StorageReadThroughput, "Storage", 100, 10000),
		series(metrics.StorageWriteThroughput, "Storage", 4000)...,
	)
	f := findBySummary(t, AnalyzeAt(testNow, pcie, 0, nil), "PCIe bandwidth saturation detected")
	if f.Type != TypeBandwidth || f.Severity != 60 {
		t.Fatalf("unexpected pcie finding %+v", f)
	}
	if f.Evidence[0].ActualValue != 14000 || math.Abs(f.Evidence[0].Threshold-PCIe3x16Max*0.85) > 1e-9 {
		t.Fatalf("unexpected pcie evidence %+v", f.Evidence[0])
	}

	membus := append(
		series(metrics.MemoryReadThroughput, "Memory", 30000, 30000),
		series(metrics.MemoryWriteThroughput, "Memory", 18000, 20000)...,
	)
	f = findBySummary(t, AnalyzeAt(testNow, membus, 0, nil), "Memory bus bandwidth saturation detected")
	// 49000 of 51200 MB/s is 95.7%.
	if f.Severity != 85 {
		t.Fatalf("unexpected memory bus severity %d", f.Severity)
	}

	quiet := series(metrics.StorageReadThroughput, "Storage", 500)
	if n := countType(AnalyzeAt(testNow, quiet, 0, nil), TypeBandwidth); n != 0 {
		t.Fatalf("expected no bandwidth finding, got %d", n)
	}
}

func TestProfileRules(t *testing.T) {
	t.Parallel()

	store, err := profiles.NewStore()
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}
	get := func(id string) *profiles.Profile {
		p, err := store.Get(id)
		if err != nil {
			t.Fatalf("Get(%s) returned error: %v", id, err)
		}
		return &p
	}

	gaming := append(
		series(metrics.CPUUtilization, "CPU", 80, 80),
		series(metrics.GPUUtilization, "GPU", 30, 30)...,
	)
	gaming = append(gaming, series(metrics.GPUVRAMUsage, "GPU", 96, 96)...)
	result := AnalyzeAt(testNow, gaming, 0, get("gaming_4k_60fps"))
	if f := findOne(t, result, TypeCPU); f.Severity != 80 || f.Evidence[0].Threshold != 75 {
		t.Fatalf("unexpected cpu finding %+v", f)
	}
	if f := findOne(t, result, TypeVRAM); f.Severity != 96 {
		t.Fatalf("unexpected vram finding %+v", f)
	}
	if got := result.Findings[0].Type; got != TypeCPU {
		t.Fatalf("gaming checks gpu first, then cpu; got first %s", got)
	}

	rendering := append(
		series(metrics.CPUUtilization, "CPU", 92, 92),
		series(metrics.GPUUtilization, "GPU", 10, 10)...,
	)
	if n := countType(AnalyzeAt(testNow, rendering, 0, get("rendering_3d")), TypeCPU); n != 0 {
		t.Fatalf("rendering threshold is 95, got %d cpu findings", n)
	}

	starved := series(metrics.GPUUtilization, "GPU", 10, 60, 20, 30)
	f := findBySummary(t, AnalyzeAt(testNow, starved, 0, get("ai_ml_small")), "GPU-starved: Average GPU utilization is 30.0% with high variance (50.0%), indicating GPU is waiting for CPU/disk")
	if f.Severity != 40 || f.Evidence[0].Threshold != 50 {
		t.Fatalf("unexpected starved finding %+v", f)
	}

	memory := append(
		series(metrics.MemoryUsage, "Memory", 50, 50),
		series(metrics.MemorySwapUsage, "Memory", 0, 200)...,
	)
	ram := findOne(t, AnalyzeAt(testNow, memory, 0, get("productivity_general")), TypeRAM)
	if ram.Severity != 80 || len(ram.Evidence) != 2 {
		t.Fatalf("unexpected ram finding %+v", ram)
	}
	if ram.Evidence[1].Kind != metrics.MemorySwapUsage || ram.Evidence[1].Threshold != 0 || ram.Evidence[1].ActualValue != 100 {
		t.Fatalf("unexpected swap evidence %+v", ram.Evidence[1])
	}

	storage := series(metrics.StorageQueueDepth, "Storage", 12, 4)
	st := findOne(t, AnalyzeAt(testNow, storage, 0, get("productivity_general")), TypeStorage)
	if st.Severity != 50 || st.Evidence[0].ActualValue != 8 {
		t.Fatalf("unexpected storage finding %+v", st)
	}
}

func TestAnalyzeConcurrent(t *testing.T) {
	t.Parallel()

	samples := append(
		series(metrics.CPUUtilization, "CPU", 95, 96, 97),
		series(metrics.Temperature, "CPU", 86, 87, 88)...,
	)
	want := AnalyzeAt(testNow, samples, 0, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got := AnalyzeAt(testNow, samples, 0, nil)
			if len(got.Findings) != len(want.Findings) {
				t.Errorf("non-deterministic result: %d vs %d findings", len(got.Findings), len(want.Findings))
			}
		}()
	}
	wg.Wait()
}

func TestAnalyzeOddInputsDoNotPanic(t *testing.T) {
	t.Parallel()

	samples := []metrics.Sample{
		{Timestamp: testNow, Kind: metrics.CPUUtilization, Value: math.NaN()},
		{Timestamp: testNow, Kind: metrics.Temperature, Value: math.Inf(1)},
		{Timestamp: testNow, Kind: metrics.Temperature, Value: -40},
		{Timestamp: testNow, Kind: metrics.StorageQueueDepth, Value: 1e12},
		{Timestamp: testNow, Kind: "unknown", Value: 1},
	}
	for _, wt := range []metrics.WorkloadType{
		metrics.WorkloadGaming, metrics.WorkloadRendering, metrics.WorkloadAI,
		metrics.WorkloadProductivity, metrics.WorkloadGeneral,
	} {
		p := &profiles.Profile{ID: "x", WorkloadType: wt}
		_ = AnalyzeAt(testNow, samples, -time.Second, p)
	}
	_ = Analyze(samples, 0, nil)
}

func TestTypeKeys(t *testing.T) {
	t.Parallel()

	want := map[Type]string{
		TypeCPU: "Cpu", TypeGPU: "Gpu", TypeRAM: "Ram", TypeVRAM: "Vram",
		TypeStorage: "Storage", TypeThermal: "Thermal", TypeBandwidth: "Bandwidth",
	}
	for typ, key := range want {
		if typ.Key() != key {
			t.Errorf("%s.Key() = %q, want %q", typ, typ.Key(), key)
		}
		back, ok := TypeFromKey(key)
		if !ok || back != typ {
			t.Errorf("TypeFromKey(%q) = %q, %v", key, back, ok)
		}
	}
	if TypeCPU.Rank() >= TypeBandwidth.Rank() || Type("other").Rank() <= TypeBandwidth.Rank() {
		t.Fatalf("unexpected rank order")
	}
}

// series returns one sample per value, one second apart, ending a second
// before testNow.
func series(kind metrics.Kind, source string, values ...float64) []metrics.Sample {
	out := make([]metrics.Sample, 0, len(values))
	start := testNow.Add(-time.Duration(len(values)) * time.Second)
	for i, v := range values {
		out = append(out, metrics.Sample{
			Timestamp:       start.Add(time.Duration(i) * time.Second),
			Kind:            kind,
			Value:           v,
			SourceComponent: source,
		})
	}
	return out
}

func countType(result Result, typ Type) int {
	var n int
	for _, f := range result.Findings {
		if f.Type == typ {
			n++
		}
	}
	return n
}

func findOne(t *testing.T, result Result, typ Type) Finding {
	t.Helper()
	var found []Finding
	for _, f := range result.Findings {
		if f.Type == typ {
			found = append(found, f)
		}
	}
	if len(found) != 1 {
		t.Fatalf("expected one %s finding, got %+v", typ, result.Findings)
	}
	return found[0]
}

func findBySummary(t *testing.T, result Result, summary string) Finding {
	t.Helper()
	for _, f := range result.Findings {
		if f.Summary == summary {
			return f
		}
	}
	t.Fatalf("no finding with summary %q in %+v", summary, result.Findings)
	return Finding{}
}
