package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/skobkin/rigscope/internal/compare"
	"github.com/skobkin/rigscope/internal/metrics"
	"github.com/skobkin/rigscope/internal/profiles"
	"github.com/skobkin/rigscope/internal/runs"
)

func TestLoadRunExportEnvelope(t *testing.T) {
	t.Parallel()

	run := testRun("baseline", 40)
	path := writeFile(t, "export.json", runs.NewExport(run, time.Now()))

	got, err := loadRun(path)
	if err != nil {
		t.Fatalf("loadRun returned error: %v", err)
	}
	if got.ID != run.ID || got.Name != "baseline" {
		t.Fatalf("unexpected run: %+v", got.Summary())
	}
}

func TestLoadRunRawDocument(t *testing.T) {
	t.Parallel()

	run := testRun("raw", 40)
	run.ID = uuid.Nil
	path := writeFile(t, "raw.json", run)

	got, err := loadRun(path)
	if err != nil {
		t.Fatalf("loadRun returned error: %v", err)
	}
	if got.ID == uuid.Nil {
		t.Fatalf("expected a generated id")
	}
	if len(got.Samples()) != len(run.Samples()) {
		t.Fatalf("expected %d samples, got %d", len(run.Samples()), len(got.Samples()))
	}
}

func TestLoadRunRejectsOtherExportVersion(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "v2.json", map[string]any{
		"export_version": 2,
		"run":            testRun("future", 10),
	})

	_, err := loadRun(path)
	if !errors.Is(err, runs.ErrUnsupportedExport) {
		t.Fatalf("expected ErrUnsupportedExport, got %v", err)
	}
}

func TestParseFlags(t *testing.T) {
	t.Parallel()

	opts, done, err := parseFlags([]string{"--sample", "--duration", "2s", "--profile", "gaming_1440p_60fps", "--json"})
	if err != nil {
		t.Fatalf("parseFlags returned error: %v", err)
	}
	if done {
		t.Fatalf("expected parse to continue")
	}
	if !opts.sample || !opts.jsonOutput || opts.duration != 2*time.Second || opts.profileID != "gaming_1440p_60fps" {
		t.Fatalf("unexpected options: %+v", opts)
	}

	if _, _, err := parseFlags([]string{"--run1", "a.json"}); err == nil {
		t.Fatalf("expected error for lone --run1")
	}
	if _, _, err := parseFlags([]string{"extra"}); err == nil {
		t.Fatalf("expected error for positional argument")
	}
}

func TestHelpExamplesUseKnownProfiles(t *testing.T) {
	t.Parallel()

	var help bytes.Buffer
	printHelp(&help, pflag.NewFlagSet("rigscope-probe", pflag.ContinueOnError))

	store, err := profiles.NewStore()
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}

	found := 0
	fields := strings.Fields(help.String())
	for i, field := range fields {
		if field != "--profile" || i+1 >= len(fields) {
			continue
		}
		found++
		if _, err := store.Get(fields[i+1]); err != nil {
			t.Fatalf("help example uses unknown profile %q: %v", fields[i+1], err)
		}
	}
	if found == 0 {
		t.Fatalf("expected a --profile example in help text")
	}
}

func TestRunCompareJSON(t *testing.T) {
	t.Parallel()

	run1 := testRun("before", 40)
	run2 := testRun("after", 60)

	opts := options{
		run1File:   writeFile(t, "before.json", runs.NewExport(run1, time.Now())),
		run2File:   writeFile(t, "after.json", runs.NewExport(run2, time.Now())),
		jsonOutput: true,
	}

	var out bytes.Buffer
	if err := run(context.Background(), opts, discardLogger(), &out); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	var result compare.Result
	if err := json.Unmarshal(out.Bytes(), &result); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if result.Run1ID != run1.ID.String() || result.Run2ID != run2.ID.String() {
		t.Fatalf("unexpected run ids: %s %s", result.Run1ID, result.Run2ID)
	}
	delta, ok := result.MetricDeltas[metrics.CPUUtilization.Key()]
	if !ok {
		t.Fatalf("missing cpu delta in %v", result.MetricDeltas)
	}
	if delta.Run1Avg != 40 || delta.Run2Avg != 60 {
		t.Fatalf("unexpected delta: %+v", delta)
	}
}

func TestRunAnalyzeText(t *testing.T) {
	t.Parallel()

	opts := options{analyzeFile: writeFile(t, "busy.json", runs.NewExport(testRun("busy", 97), time.Now()))}

	var out bytes.Buffer
	if err := run(context.Background(), opts, discardLogger(), &out); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "Run busy") || !strings.Contains(text, "cpu") {
		t.Fatalf("unexpected output:\n%s", text)
	}
}

func TestRunDiscoveryWithoutGPUs(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	if err := run(context.Background(), options{sysfsRoot: t.TempDir()}, discardLogger(), &out); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if strings.TrimSpace(out.String()) != "No GPUs detected" {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func testRun(name string, cpu float64) runs.Run {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var samples []metrics.Sample
	for i := range 10 {
		samples = append(samples, metrics.Sample{
			Timestamp:       start.Add(time.Duration(i) * time.Second),
			Kind:            metrics.CPUUtilization,
			Value:           cpu,
			Unit:            metrics.UnitPercent,
			SourceComponent: "cpu",
		})
	}
	return runs.Run{
		ID:             uuid.New(),
		Name:           name,
		StartedAt:      start,
		EndedAt:        start.Add(10 * time.Second),
		MetricsStreams: runs.GroupBySource(samples),
	}
}

func writeFile(t *testing.T, name string, v any) string {
	t.Helper()

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %s: %v", name, err)
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
