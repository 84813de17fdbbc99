// Package profiles provides workload profiles: named threshold overrides and
// parameters that select which bottleneck rules apply.
package profiles

import (
	"fmt"

	"github.com/skobkin/rigscope/internal/metrics"
)

// Thresholds overrides the default high-water marks, in percent. Nil fields
// keep the rule default.
type Thresholds struct {
	CPUHigh  *float64 `json:"cpu_high,omitempty" yaml:"cpu_high,omitempty"`
	GPUHigh  *float64 `json:"gpu_high,omitempty" yaml:"gpu_high,omitempty"`
	RAMHigh  *float64 `json:"ram_high,omitempty" yaml:"ram_high,omitempty"`
	VRAMHigh *float64 `json:"vram_high,omitempty" yaml:"vram_high,omitempty"`
}

// Profile describes a usage pattern.
type Profile struct {
	ID                 string               `json:"id" yaml:"id"`
	Name               string               `json:"name" yaml:"name"`
	WorkloadType       metrics.WorkloadType `json:"workload_type" yaml:"workload_type"`
	Parameters         map[string]any       `json:"parameters" yaml:"parameters"`
	ThresholdOverrides *Thresholds          `json:"threshold_overrides,omitempty" yaml:"threshold_overrides,omitempty"`
}

// Override returns the selected override or def when it is unset.
func (p *Profile) Override(pick func(Thresholds) *float64, def float64) float64 {
	if p == nil || p.ThresholdOverrides == nil {
		return def
	}
	if v := pick(*p.ThresholdOverrides); v != nil {
		return *v
	}
	return def
}

// StringParam returns a parameter rendered as a string, or "" when absent.
func (p *Profile) StringParam(key string) string {
	if p == nil || p.Parameters == nil {
		return ""
	}
	v, ok := p.Parameters[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Validate checks the fields a rule set depends on.
func (p Profile) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("profile id is required")
	}
	if !p.WorkloadType.Valid() {
		return fmt.Errorf("profile %s: unknown workload type %q", p.ID, p.WorkloadType)
	}
	if t := p.ThresholdOverrides; t != nil {
		for name, v := range map[string]*float64{
			"cpu_high":  t.CPUHigh,
			"gpu_high":  t.GPUHigh,
			"ram_high":  t.RAMHigh,
			"vram_high": t.VRAMHigh,
		} {
			if v != nil && (*v <= 0 || *v > 100) {
				return fmt.Errorf("profile %s: %s must be in (0, 100]", p.ID, name)
			}
		}
	}
	return nil
}

func pct(v float64) *float64 {
	return &v
}

// Presets returns the built-in profiles in display order.
func Presets() []Profile {
	return []Profile{
		{
			ID:           "gaming_1080p_60fps",
			Name:         "1080p 60 FPS Gaming",
			WorkloadType: metrics.WorkloadGaming,
			Parameters:   map[string]any{"resolution": "1920x1080", "target_fps": 60},
			ThresholdOverrides: &Thresholds{
				CPUHigh: pct(85), GPUHigh: pct(90), RAMHigh: pct(80), VRAMHigh: pct(85),
			},
		},
		{
			ID:           "gaming_1440p_60fps",
			Name:         "1440p 60 FPS Gaming",
			WorkloadType: metrics.WorkloadGaming,
			Parameters:   map[string]any{"resolution": "2560x1440", "target_fps": 60},
			ThresholdOverrides: &Thresholds{
				CPUHigh: pct(80), GPUHigh: pct(95), RAMHigh: pct(80), VRAMHigh: pct(90),
			},
		},
		{
			ID:           "gaming_4k_60fps",
			Name:         "4K 60 FPS Gaming",
			WorkloadType: metrics.WorkloadGaming,
			Parameters:   map[string]any{"resolution": "3840x2160", "target_fps": 60},
			ThresholdOverrides: &Thresholds{
				CPUHigh: pct(75), GPUHigh: pct(98), RAMHigh: pct(75), VRAMHigh: pct(95),
			},
		},
		{
			ID:           "video_editing_4k",
			Name:         "4K Video Editing",
			WorkloadType: metrics.WorkloadRendering,
			Parameters:   map[string]any{"resolution": "3840x2160", "codec": "H.264/H.265"},
			ThresholdOverrides: &Thresholds{
				CPUHigh: pct(90), GPUHigh: pct(85), RAMHigh: pct(85), VRAMHigh: pct(80),
			},
		},
		{
			ID:           "rendering_3d",
			Name:         "3D Rendering",
			WorkloadType: metrics.WorkloadRendering,
			Parameters:   map[string]any{"render_type": "CPU/GPU"},
			ThresholdOverrides: &Thresholds{
				CPUHigh: pct(95), GPUHigh: pct(95), RAMHigh: pct(90), VRAMHigh: pct(90),
			},
		},
		{
			ID:           "ai_ml_small",
			Name:         "AI/ML Inference (Small Model)",
			WorkloadType: metrics.WorkloadAI,
			Parameters:   map[string]any{"model_size": "Small (<4GB)", "batch_size": "Medium"},
			ThresholdOverrides: &Thresholds{
				CPUHigh: pct(70), GPUHigh: pct(85), RAMHigh: pct(70), VRAMHigh: pct(85),
			},
		},
		{
			ID:           "ai_ml_large",
			Name:         "AI/ML Inference (Large Model)",
			WorkloadType: metrics.WorkloadAI,
			Parameters:   map[string]any{"model_size": "Large (>8GB)", "batch_size": "Small"},
			ThresholdOverrides: &Thresholds{
				CPUHigh: pct(60), GPUHigh: pct(90), RAMHigh: pct(80), VRAMHigh: pct(95),
			},
		},
		{
			ID:           "productivity_general",
			Name:         "Productivity/General",
			WorkloadType: metrics.WorkloadProductivity,
			Parameters:   map[string]any{},
			ThresholdOverrides: &Thresholds{
				CPUHigh: pct(70), GPUHigh: pct(50), RAMHigh: pct(85),
			},
		},
	}
}
