package profiles

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/skobkin/rigscope/internal/metrics"
)

func TestPresets(t *testing.T) {
	t.Parallel()

	store, err := NewStore()
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}

	list := store.List()
	if len(list) != 8 {
		t.Fatalf("expected 8 presets, got %d", len(list))
	}
	if list[0].ID != "gaming_1080p_60fps" || list[7].ID != "productivity_general" {
		t.Fatalf("unexpected preset order: first=%s last=%s", list[0].ID, list[7].ID)
	}

	p, err := store.Get("gaming_4k_60fps")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if p.WorkloadType != metrics.WorkloadGaming || p.StringParam("resolution") != "3840x2160" {
		t.Fatalf("unexpected profile %+v", p)
	}
	if got := p.Override(func(th Thresholds) *float64 { return th.GPUHigh }, 90); got != 98 {
		t.Fatalf("expected gpu override 98, got %v", got)
	}
	if p.StringParam("target_fps") != "60" {
		t.Fatalf("numeric parameter should render as string, got %q", p.StringParam("target_fps"))
	}

	productivity, _ := store.Get("productivity_general")
	if got := productivity.Override(func(th Thresholds) *float64 { return th.VRAMHigh }, 90); got != 90 {
		t.Fatalf("unset override should fall back to default, got %v", got)
	}

	for _, preset := range list {
		if err := preset.Validate(); err != nil {
			t.Fatalf("preset %s invalid: %v", preset.ID, err)
		}
	}
}

func TestGetUnknown(t *testing.T) {
	t.Parallel()

	store, err := NewStore()
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}
	if _, err := store.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNilProfileOverride(t *testing.T) {
	t.Parallel()

	var p *Profile
	if got := p.Override(func(th Thresholds) *float64 { return th.CPUHigh }, 85); got != 85 {
		t.Fatalf("expected default, got %v", got)
	}
	if p.StringParam("resolution") != "" {
		t.Fatalf("expected empty param")
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "profiles.yaml")
	contents := `profiles:
  - id: streaming
    name: Game Streaming
    workload_type: gaming
    parameters:
      resolution: 2560x1440
      encoder: nvenc
    threshold_overrides:
      cpu_high: 70
  - id: rendering_3d
    name: Blender Cycles
    workload_type: rendering
    threshold_overrides:
      gpu_high: 97
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write profiles: %v", err)
	}

	store, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile returned error: %v", err)
	}
	if len(store.List()) != 9 {
		t.Fatalf("expected 9 profiles, got %d", len(store.List()))
	}

	streaming, err := store.Get("streaming")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if streaming.StringParam("encoder") != "nvenc" {
		t.Fatalf("unexpected parameters %+v", streaming.Parameters)
	}
	if got := streaming.Override(func(th Thresholds) *float64 { return th.CPUHigh }, 85); got != 70 {
		t.Fatalf("expected cpu override 70, got %v", got)
	}

	replaced, _ := store.Get("rendering_3d")
	if replaced.Name != "Blender Cycles" {
		t.Fatalf("preset not replaced: %+v", replaced)
	}
	if replaced.Parameters == nil {
		t.Fatalf("parameters should default to an empty map")
	}
}

func TestLoadFileErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if _, err := LoadFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}

	cases := map[string]string{
		"bad yaml":      "profiles: [",
		"no id":         "profiles:\n  - name: x\n    workload_type: gaming\n",
		"bad workload":  "profiles:\n  - id: x\n    workload_type: mining\n",
		"bad threshold": "profiles:\n  - id: x\n    workload_type: ai\n    threshold_overrides:\n      vram_high: 150\n",
	}
	for name, contents := range cases {
		path := filepath.Join(dir, name+".yaml")
		if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		if _, err := LoadFile(path); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}

	store, err := LoadFile("")
	if err != nil || len(store.List()) != 8 {
		t.Fatalf("empty path should load presets only: %v", err)
	}
}
