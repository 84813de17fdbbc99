// Package app wires up and runs the application services.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skobkin/rigscope/internal/config"
	"github.com/skobkin/rigscope/internal/gpu"
	"github.com/skobkin/rigscope/internal/host"
	"github.com/skobkin/rigscope/internal/httpserver"
	"github.com/skobkin/rigscope/internal/profiles"
	"github.com/skobkin/rigscope/internal/runs"
	"github.com/skobkin/rigscope/internal/sampler"
)

const shutdownTimeout = 10 * time.Second

// Run bootstraps the application lifecycle and blocks until ctx is canceled
// or a service fails.
func Run(ctx context.Context, baseLogger *slog.Logger, cfg config.Config) error {
	appLogger := baseLogger.With("component", "app")

	providers, gpus, err := BuildProviders(cfg, baseLogger)
	if err != nil {
		return err
	}
	appLogger.Info("providers ready", "providers", providers.Names(), "gpus", len(gpus))

	profileStore, err := profiles.LoadFile(cfg.Analysis.ProfilesFile)
	if err != nil {
		return fmt.Errorf("load profiles: %w", err)
	}
	if cfg.Analysis.DefaultProfile != "" {
		if _, err := profileStore.Get(cfg.Analysis.DefaultProfile); err != nil {
			return fmt.Errorf("default profile: %w", err)
		}
	}

	runStore, err := OpenRunStore(cfg.RunsDir)
	if err != nil {
		return err
	}
	if cfg.RunsDir == "" {
		appLogger.Warn("APP_RUNS_DIR not set, recorded runs are kept in memory only")
	}

	collector := sampler.New(providers, sampler.Options{
		SubscriberBuffer: cfg.Sampler.SubscriberBuffer,
		Logger:           baseLogger,
	})
	recorder := runs.NewRecorder(collector, profileStore, runStore, baseLogger)

	srv := httpserver.New(cfg, baseLogger, httpserver.Deps{
		Collector: collector,
		GPUs:      gpus,
		Profiles:  profileStore,
		Recorder:  recorder,
		Runs:      runStore,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := collector.Run(gctx, cfg.Sampler.Interval, cfg.Sampler.BufferCapacity); err != nil {
			return fmt.Errorf("collector: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		appLogger.Info("starting HTTP server", "listen_addr", cfg.ListenAddr)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("shutdown initiated", "reason", context.Cause(gctx))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	finalizeRuns(recorder, appLogger)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	appLogger.Info("shutdown complete")
	return nil
}

// BuildProviders constructs the host and GPU providers for cfg. Host
// providers that cannot be opened are skipped with a warning.
func BuildProviders(cfg config.Config, baseLogger *slog.Logger) (sampler.Providers, []gpu.Device, error) {
	logger := baseLogger.With("component", "app")
	var providers sampler.Providers

	thermal, err := host.NewThermalReader(cfg.SysfsRoot)
	if err != nil {
		logger.Warn("cpu temperature unavailable", "err", err)
	}

	if cpu, err := host.NewCPUProvider(cfg.ProcRoot, thermal, baseLogger); err != nil {
		logger.Warn("cpu provider unavailable", "err", err)
	} else {
		providers.CPU = cpu
	}

	if mem, err := host.NewMemoryProvider(cfg.ProcRoot); err != nil {
		logger.Warn("memory provider unavailable", "err", err)
	} else {
		providers.Memory = mem
	}

	if storage, err := host.NewStorageProvider(cfg.ProcRoot, cfg.SysfsRoot, nil); err != nil {
		logger.Warn("storage provider unavailable", "err", err)
	} else {
		providers.Storage = storage
	}

	gpuProvider, gpus, err := gpu.NewProvider(gpu.ProviderConfig{
		Backend:     cfg.GPU.Backend,
		SysfsRoot:   cfg.SysfsRoot,
		DebugfsRoot: cfg.DebugfsRoot,
		NVIDIASMI:   cfg.GPU.NVIDIASMI,
	}, baseLogger)
	if err != nil {
		return sampler.Providers{}, nil, fmt.Errorf("init gpu provider: %w", err)
	}
	if gpuProvider != nil {
		providers.GPU = gpuProvider
	}
	if gpus == nil {
		gpus = []gpu.Device{}
	}

	return providers, gpus, nil
}

// OpenRunStore returns a file store under dir, or a memory store when dir is
// empty.
func OpenRunStore(dir string) (runs.Store, error) {
	if dir == "" {
		return runs.NewMemoryStore(), nil
	}
	store, err := runs.NewFileStore(dir)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	return store, nil
}

// finalizeRuns stores runs still recording at shutdown.
func finalizeRuns(recorder *runs.Recorder, logger *slog.Logger) {
	for _, run := range recorder.Active() {
		if _, err := recorder.Stop(run.ID); err != nil {
			logger.Warn("failed to finalize run", "run_id", run.ID, "err", err)
		}
	}
}
