package gpu

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/skobkin/rigscope/internal/sampler"
)

// Backend names accepted by NewProvider.
const (
	BackendAuto   = "auto"
	BackendAMDGPU = "amdgpu"
	BackendNVIDIA = "nvidia"
	BackendNone   = "none"
)

// ProviderConfig selects and locates the GPU telemetry backend.
type ProviderConfig struct {
	Backend     string
	SysfsRoot   string
	DebugfsRoot string
	NVIDIASMI   string
}

// SysfsProvider reads amdgpu cards through sysfs.
type SysfsProvider struct {
	readers []*Reader
}

// NewSysfsProvider wraps pre-built readers.
func NewSysfsProvider(readers []*Reader) *SysfsProvider {
	return &SysfsProvider{readers: readers}
}

// GPUMetrics implements sampler.GPUProvider.
func (p *SysfsProvider) GPUMetrics(ctx context.Context) ([]sampler.GPUMetrics, error) {
	out := make([]sampler.GPUMetrics, 0, len(p.readers))
	for _, reader := range p.readers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, reader.Read())
	}
	return out, nil
}

// NewProvider discovers devices and builds the provider for the configured
// backend. A nil provider with a nil error means no GPU telemetry is
// available.
func NewProvider(cfg ProviderConfig, logger *slog.Logger) (sampler.GPUProvider, []Device, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "gpu")

	backend := cfg.Backend
	if backend == "" {
		backend = BackendAuto
	}
	if backend == BackendNone {
		return nil, nil, nil
	}

	devices, err := Discover(cfg.SysfsRoot, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("discover gpus: %w", err)
	}

	switch backend {
	case BackendAMDGPU:
		provider, err := newAMDGPUProvider(devices, cfg, logger)
		if err != nil {
			return nil, devices, err
		}
		if provider == nil {
			logger.Warn("no amdgpu devices found")
			return nil, devices, nil
		}
		return provider, devices, nil
	case BackendNVIDIA:
		provider, err := NewNVIDIAProvider(cfg.NVIDIASMI, logger)
		if err != nil {
			return nil, devices, err
		}
		return provider, devices, nil
	case BackendAuto:
		provider, err := newAMDGPUProvider(devices, cfg, logger)
		if err != nil {
			return nil, devices, err
		}
		if provider != nil {
			return provider, devices, nil
		}
		nvidia, err := NewNVIDIAProvider(cfg.NVIDIASMI, logger)
		if err != nil {
			logger.Info("no gpu telemetry backend available", "err", err)
			return nil, devices, nil
		}
		return nvidia, devices, nil
	default:
		return nil, nil, fmt.Errorf("unknown gpu backend %q", backend)
	}
}

func newAMDGPUProvider(devices []Device, cfg ProviderConfig, logger *slog.Logger) (*SysfsProvider, error) {
	var readers []*Reader
	for _, device := range devices {
		if device.Driver != BackendAMDGPU && device.Vendor() != "amd" {
			continue
		}
		reader, err := NewReader(device, cfg.SysfsRoot, cfg.DebugfsRoot, logger)
		if err != nil {
			return nil, fmt.Errorf("init reader for %s: %w", device.ID, err)
		}
		readers = append(readers, reader)
	}
	if len(readers) == 0 {
		return nil, nil
	}
	return NewSysfsProvider(readers), nil
}
