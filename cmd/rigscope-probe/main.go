package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/skobkin/rigscope/internal/analysis"
	"github.com/skobkin/rigscope/internal/app"
	"github.com/skobkin/rigscope/internal/compare"
	"github.com/skobkin/rigscope/internal/config"
	"github.com/skobkin/rigscope/internal/gpu"
	"github.com/skobkin/rigscope/internal/insights"
	"github.com/skobkin/rigscope/internal/metrics"
	"github.com/skobkin/rigscope/internal/profiles"
	"github.com/skobkin/rigscope/internal/runs"
	"github.com/skobkin/rigscope/internal/sampler"
)

type options struct {
	sysfsRoot    string
	debugfsRoot  string
	procRoot     string
	gpuBackend   string
	nvidiaSMI    string
	sample       bool
	duration     time.Duration
	interval     time.Duration
	jsonOutput   bool
	analyzeFile  string
	run1File     string
	run2File     string
	profileID    string
	profilesFile string
	window       time.Duration
}

func parseFlags(args []string) (options, bool, error) {
	var opts options

	flagSet := pflag.NewFlagSet("rigscope-probe", pflag.ContinueOnError)
	flagSet.StringVar(&opts.sysfsRoot, "sysfs", envOrDefault("APP_SYSFS_ROOT", "/sys"), "path to sysfs root")
	flagSet.StringVar(&opts.debugfsRoot, "debugfs", envOrDefault("APP_DEBUGFS_ROOT", "/sys/kernel/debug"), "path to debugfs root")
	flagSet.StringVar(&opts.procRoot, "proc", envOrDefault("APP_PROC_ROOT", "/proc"), "path to procfs root")
	flagSet.StringVar(&opts.gpuBackend, "gpu", envOrDefault("APP_GPU_BACKEND", "auto"), "GPU backend: auto, amdgpu, nvidia or none")
	flagSet.StringVar(&opts.nvidiaSMI, "nvidia-smi", envOrDefault("APP_NVIDIA_SMI", "nvidia-smi"), "nvidia-smi binary")
	flagSet.BoolVar(&opts.sample, "sample", false, "sample all providers and analyze the result")
	flagSet.DurationVar(&opts.duration, "duration", 5*time.Second, "how long to sample with --sample")
	flagSet.DurationVar(&opts.interval, "interval", 500*time.Millisecond, "sampling interval with --sample")
	flagSet.BoolVar(&opts.jsonOutput, "json", false, "emit JSON instead of text")
	flagSet.StringVar(&opts.analyzeFile, "analyze", "", "analyze a recorded run file (export envelope or raw run)")
	flagSet.StringVar(&opts.run1File, "run1", "", "baseline run file for comparison")
	flagSet.StringVar(&opts.run2File, "run2", "", "run file compared against --run1")
	flagSet.StringVar(&opts.profileID, "profile", envOrDefault("APP_DEFAULT_PROFILE", ""), "workload profile id")
	flagSet.StringVar(&opts.profilesFile, "profiles-file", envOrDefault("APP_PROFILES_FILE", ""), "YAML file with extra profiles")
	flagSet.DurationVar(&opts.window, "window", 0, "analysis window (default: whole sample or run)")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(os.Stderr, flagSet)
			return options{}, true, nil
		}
		return options{}, false, err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(os.Stderr, flagSet)
		return options{}, true, nil
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return options{}, false, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	if (opts.run1File == "") != (opts.run2File == "") {
		return options{}, false, errors.New("--run1 and --run2 must be given together")
	}
	if opts.duration <= 0 || opts.interval <= 0 {
		return options{}, false, errors.New("--duration and --interval must be positive")
	}
	return opts, false, nil
}

func printHelp(out io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(out, `rigscope-probe inspects the local machine without starting the server.

Without mode flags it lists the GPUs found under sysfs. --sample collects
live samples from every provider and prints the latest values with an
analysis. --analyze and --run1/--run2 work on exported run files.

Usage:
  rigscope-probe [flags]

Examples:
  rigscope-probe --json
  rigscope-probe --sample --duration 10s --profile gaming_1440p_60fps
  rigscope-probe --analyze run.json
  rigscope-probe --run1 before.json --run2 after.json

Flags:
`)
	flagSet.SetOutput(out)
	flagSet.PrintDefaults()
}

func main() {
	opts, done, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	if done {
		return
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, logger, os.Stdout); err != nil {
		logger.Error("probe failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, logger *slog.Logger, out io.Writer) error {
	switch {
	case opts.run1File != "":
		return compareRuns(opts, out)
	case opts.analyzeFile != "":
		return analyzeRun(opts, out)
	}

	devices, err := gpu.Discover(opts.sysfsRoot, logger.With("component", "gpu_discovery"))
	if err != nil {
		return fmt.Errorf("gpu discovery: %w", err)
	}
	if !opts.sample {
		return printDevices(out, devices, opts.jsonOutput)
	}
	if !opts.jsonOutput {
		if err := printDevices(out, devices, false); err != nil {
			return err
		}
	}
	return sampleOnce(ctx, opts, logger, out)
}

func printDevices(out io.Writer, devices []gpu.Device, asJSON bool) error {
	if asJSON {
		if devices == nil {
			devices = []gpu.Device{}
		}
		return writeJSON(out, devices)
	}
	if len(devices) == 0 {
		fmt.Fprintln(out, "No GPUs detected")
		return nil
	}
	fmt.Fprintln(out, "Discovered GPUs:")
	for _, d := range devices {
		fmt.Fprintf(out, "- %s (PCI: %s, PCIID: %s, Vendor: %s, Render: %s, Name: %s)\n",
			d.ID, d.PCI, d.PCIID, d.Vendor(), d.RenderNode, d.Name)
	}
	return nil
}

type sampleReport struct {
	Providers []string          `json:"providers"`
	Ticks     uint64            `json:"ticks"`
	Latest    []metrics.Sample  `json:"latest"`
	Analysis  analysis.Result   `json:"analysis"`
	Insights  insights.Insights `json:"insights"`
}

func sampleOnce(ctx context.Context, opts options, logger *slog.Logger, out io.Writer) error {
	profile, err := loadProfile(opts)
	if err != nil {
		return err
	}

	cfg := config.Config{
		SysfsRoot:   opts.sysfsRoot,
		DebugfsRoot: opts.debugfsRoot,
		ProcRoot:    opts.procRoot,
		GPU: config.GPUConfig{
			Backend:   opts.gpuBackend,
			NVIDIASMI: opts.nvidiaSMI,
		},
	}
	providers, _, err := app.BuildProviders(cfg, logger)
	if err != nil {
		return err
	}
	if len(providers.Names()) == 0 {
		return errors.New("no providers available")
	}

	collector := sampler.New(providers, sampler.Options{Logger: logger})
	defer collector.Close()

	capacity := int(opts.duration/opts.interval+1) * 64
	if err := collector.Start(opts.interval, capacity); err != nil {
		return fmt.Errorf("start collector: %w", err)
	}

	if !opts.jsonOutput {
		fmt.Fprintf(out, "\nSampling %s for %s every %s\n", strings.Join(providers.Names(), ", "), opts.duration, opts.interval)
		fmt.Fprintln(out, strings.Repeat("-", 60))
	}

	select {
	case <-ctx.Done():
	case <-time.After(opts.duration):
	}
	collector.Stop()

	window := opts.window
	if window <= 0 {
		window = opts.duration
	}
	latest, _ := collector.Latest()
	result := analysis.Analyze(collector.Snapshot(), window, profile)
	report := sampleReport{
		Providers: providers.Names(),
		Ticks:     collector.Stats().Ticks,
		Latest:    latest,
		Analysis:  result,
		Insights:  insights.Generate(result, profile),
	}

	if opts.jsonOutput {
		return writeJSON(out, report)
	}

	fmt.Fprintf(out, "Ticks: %d\n\nLatest values:\n", report.Ticks)
	for _, s := range latest {
		fmt.Fprintf(out, "  %-22s %-10s %10.2f %s\n", s.Kind, s.SourceComponent, s.Value, s.Unit)
	}
	fmt.Fprintln(out)
	printInsights(out, result, report.Insights)
	return nil
}

func analyzeRun(opts options, out io.Writer) error {
	profile, err := loadProfile(opts)
	if err != nil {
		return err
	}

	run, err := loadRun(opts.analyzeFile)
	if err != nil {
		return err
	}
	if profile == nil && run.ProfileID != "" {
		store, err := profiles.LoadFile(opts.profilesFile)
		if err != nil {
			return fmt.Errorf("load profiles: %w", err)
		}
		if p, err := store.Get(run.ProfileID); err == nil {
			profile = &p
		}
	}

	window := opts.window
	if window <= 0 {
		window = run.Duration()
	}
	end := run.EndedAt
	if end.IsZero() {
		end = latestTimestamp(run)
	}

	result := analysis.AnalyzeAt(end, run.Samples(), window, profile)
	advice := insights.Generate(result, profile)

	if opts.jsonOutput {
		return writeJSON(out, struct {
			Run      runs.Summary      `json:"run"`
			Analysis analysis.Result   `json:"analysis"`
			Insights insights.Insights `json:"insights"`
		}{run.Summary(), result, advice})
	}

	fmt.Fprintf(out, "Run %s (%s), %s, %d samples\n\n", run.Name, run.ID, run.Duration(), len(run.Samples()))
	printInsights(out, result, advice)
	return nil
}

func compareRuns(opts options, out io.Writer) error {
	run1, err := loadRun(opts.run1File)
	if err != nil {
		return err
	}
	run2, err := loadRun(opts.run2File)
	if err != nil {
		return err
	}

	result := compare.Runs(run1, run2)
	if opts.jsonOutput {
		return writeJSON(out, result)
	}

	fmt.Fprintf(out, "Comparing %s (%s) -> %s (%s)\n\n", run1.Name, result.Run1ID, run2.Name, result.Run2ID)

	keys := make([]string, 0, len(result.MetricDeltas))
	for key := range result.MetricDeltas {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		d := result.MetricDeltas[key]
		fmt.Fprintf(out, "  %-22s %10.2f -> %10.2f %s (%+.1f%%)\n", key, d.Run1Avg, d.Run2Avg, d.Unit, d.DeltaPercent)
	}
	if len(result.BottleneckChanges) > 0 {
		fmt.Fprintln(out, "\nBottlenecks:")
		for _, c := range result.BottleneckChanges {
			fmt.Fprintf(out, "  %-10s %-9s %s -> %s\n", c.Type, c.Status, severityText(c.Run1Severity), severityText(c.Run2Severity))
		}
	}
	fmt.Fprintf(out, "\n%s\n", result.Summary)
	return nil
}

func printInsights(out io.Writer, result analysis.Result, advice insights.Insights) {
	if len(result.Findings) == 0 {
		fmt.Fprintln(out, advice.Summary)
		return
	}
	fmt.Fprintln(out, "Bottlenecks:")
	for _, f := range result.Findings {
		fmt.Fprintf(out, "  [%3d] %-9s %s\n", f.Severity, f.Type, f.Summary)
	}
	fmt.Fprintf(out, "\n%s\n", advice.Summary)
	for _, rec := range advice.Recommendations {
		fmt.Fprintf(out, "  * %s\n", rec)
	}
}

func severityText(severity *int) string {
	if severity == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *severity)
}

func loadProfile(opts options) (*profiles.Profile, error) {
	if opts.profileID == "" {
		return nil, nil
	}
	store, err := profiles.LoadFile(opts.profilesFile)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	p, err := store.Get(opts.profileID)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// loadRun reads an export envelope, falling back to a bare run document.
func loadRun(path string) (runs.Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return runs.Run{}, fmt.Errorf("read run file: %w", err)
	}

	run, err := runs.DecodeExport(bytes.NewReader(data))
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, runs.ErrUnsupportedExport) {
		return runs.Run{}, fmt.Errorf("%s: %w", path, err)
	}

	var probe struct {
		ExportVersion *int `json:"export_version"`
	}
	if jsonErr := json.Unmarshal(data, &probe); jsonErr == nil && probe.ExportVersion != nil {
		return runs.Run{}, fmt.Errorf("%s: %w", path, err)
	}
	if err := json.Unmarshal(data, &run); err != nil {
		return runs.Run{}, fmt.Errorf("%s: decode run: %w", path, err)
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	return run, nil
}

func latestTimestamp(run runs.Run) time.Time {
	var latest time.Time
	for _, s := range run.Samples() {
		if s.Timestamp.After(latest) {
			latest = s.Timestamp
		}
	}
	return latest
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
