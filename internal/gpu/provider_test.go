package gpu

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseNVIDIASMI(t *testing.T) {
	t.Parallel()

	out := []byte("0, NVIDIA GeForce RTX 4090, 87, 20480, 24564, 71, 2520, 10501, 410.25\n" +
		"1, NVIDIA T4, [N/A], 1024, 15360, 45, 585, 5000, [Not Supported]\n")

	gpus, err := parseNVIDIASMI(out)
	if err != nil {
		t.Fatalf("parseNVIDIASMI returned error: %v", err)
	}
	if len(gpus) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(gpus))
	}

	first := gpus[0]
	if first.ID != "nvidia0" || first.Name != "NVIDIA GeForce RTX 4090" {
		t.Fatalf("unexpected identity %+v", first)
	}
	assertFloatEqual(t, first.Utilization, 0.87)
	assertUintEqual(t, first.VRAMUsedMB, 20480)
	assertUintEqual(t, first.VRAMTotalMB, 24564)
	assertFloatEqual(t, first.TemperatureC, 71)
	assertFloatEqual(t, first.CoreClockMHz, 2520)
	assertFloatEqual(t, first.MemoryClockMHz, 10501)
	assertFloatEqual(t, first.PowerW, 410.25)

	second := gpus[1]
	if second.Utilization != nil || second.PowerW != nil {
		t.Fatalf("unsupported fields should be nil: %+v", second)
	}
}

func TestParseNVIDIASMIErrors(t *testing.T) {
	t.Parallel()

	if _, err := parseNVIDIASMI(nil); err == nil {
		t.Fatalf("expected error for empty output")
	}
	if _, err := parseNVIDIASMI([]byte("0, short\n")); err == nil {
		t.Fatalf("expected error for wrong column count")
	}
}

func TestNVIDIAProviderUsesRunner(t *testing.T) {
	t.Parallel()

	var gotArgs []string
	provider := &NVIDIAProvider{
		binary: "nvidia-smi",
		logger: discardLogger(),
		run: func(_ context.Context, name string, args ...string) ([]byte, error) {
			gotArgs = append([]string{name}, args...)
			return []byte("0, GPU, 50, 1, 2, 3, 4, 5, 6\n"), nil
		},
	}

	gpus, err := provider.GPUMetrics(context.Background())
	if err != nil {
		t.Fatalf("GPUMetrics returned error: %v", err)
	}
	if len(gpus) != 1 {
		t.Fatalf("expected 1 device, got %d", len(gpus))
	}
	if !strings.Contains(strings.Join(gotArgs, " "), "--query-gpu=index,name,utilization.gpu,memory.used,memory.total") {
		t.Fatalf("unexpected args %v", gotArgs)
	}

	provider.run = func(context.Context, string, ...string) ([]byte, error) {
		return nil, errors.New("driver not loaded")
	}
	if _, err := provider.GPUMetrics(context.Background()); err == nil {
		t.Fatalf("expected runner error to propagate")
	}
}

func TestNewProviderAMDGPU(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	device := filepath.Join(root, "class", "drm", "card0", "device")
	writeFile(t, filepath.Join(device, "uevent"), "DRIVER=amdgpu\nPCI_ID=1002:744C\n")
	writeFile(t, filepath.Join(device, gpuBusyFilename), "30\n")

	provider, devices, err := NewProvider(ProviderConfig{
		Backend:     BackendAMDGPU,
		SysfsRoot:   root,
		DebugfsRoot: t.TempDir(),
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewProvider returned error: %v", err)
	}
	if len(devices) != 1 || provider == nil {
		t.Fatalf("expected amdgpu provider, got %v and %+v", provider, devices)
	}

	gpus, err := provider.GPUMetrics(context.Background())
	if err != nil {
		t.Fatalf("GPUMetrics returned error: %v", err)
	}
	if len(gpus) != 1 {
		t.Fatalf("expected 1 gpu, got %d", len(gpus))
	}
	assertFloatEqual(t, gpus[0].Utilization, 0.3)
}

func TestNewProviderNoneAndUnknown(t *testing.T) {
	t.Parallel()

	provider, devices, err := NewProvider(ProviderConfig{Backend: BackendNone}, discardLogger())
	if err != nil || provider != nil || devices != nil {
		t.Fatalf("none backend should yield nothing: %v %v %v", provider, devices, err)
	}

	if _, _, err := NewProvider(ProviderConfig{Backend: "glide", SysfsRoot: t.TempDir()}, discardLogger()); err == nil {
		t.Fatalf("expected error for unknown backend")
	}

	provider, _, err = NewProvider(ProviderConfig{Backend: BackendAMDGPU, SysfsRoot: t.TempDir()}, discardLogger())
	if err != nil || provider != nil {
		t.Fatalf("amdgpu without devices should yield no provider: %v %v", provider, err)
	}
}
