// Package analysis implements the rule-based bottleneck engine that runs over
// a time window of collected samples.
package analysis

import (
	"time"

	"github.com/skobkin/rigscope/internal/metrics"
)

// Type names the constrained resource.
type Type string

const (
	TypeCPU       Type = "cpu"
	TypeGPU       Type = "gpu"
	TypeRAM       Type = "ram"
	TypeVRAM      Type = "vram"
	TypeStorage   Type = "storage"
	TypeThermal   Type = "thermal"
	TypeBandwidth Type = "bandwidth"
)

var typeKeys = map[Type]string{
	TypeCPU:       "Cpu",
	TypeGPU:       "Gpu",
	TypeRAM:       "Ram",
	TypeVRAM:      "Vram",
	TypeStorage:   "Storage",
	TypeThermal:   "Thermal",
	TypeBandwidth: "Bandwidth",
}

var typeOrder = map[Type]int{
	TypeCPU:       0,
	TypeGPU:       1,
	TypeRAM:       2,
	TypeVRAM:      3,
	TypeStorage:   4,
	TypeThermal:   5,
	TypeBandwidth: 6,
}

// Types lists every finding type in rank order.
func Types() []Type {
	return []Type{TypeCPU, TypeGPU, TypeRAM, TypeVRAM, TypeStorage, TypeThermal, TypeBandwidth}
}

// Key returns the persisted comparison key for the type.
func (t Type) Key() string {
	if key, ok := typeKeys[t]; ok {
		return key
	}
	return string(t)
}

// Rank orders types for stable output. Unknown types sort last.
func (t Type) Rank() int {
	if rank, ok := typeOrder[t]; ok {
		return rank
	}
	return len(typeOrder)
}

// TypeFromKey resolves a comparison key back to its type.
func TypeFromKey(key string) (Type, bool) {
	for t, k := range typeKeys {
		if k == key {
			return t, true
		}
	}
	return "", false
}

// Evidence is one metric observation backing a finding.
type Evidence struct {
	Kind           metrics.Kind `json:"metric_type"`
	Threshold      float64      `json:"threshold"`
	ActualValue    float64      `json:"actual_value"`
	TimeRangeStart time.Time    `json:"time_range_start"`
	TimeRangeEnd   time.Time    `json:"time_range_end"`
}

// Finding is a single detected bottleneck. Severity is 0-100.
type Finding struct {
	Type     Type       `json:"bottleneck_type"`
	Severity int        `json:"severity"`
	Evidence []Evidence `json:"evidence"`
	Summary  string     `json:"summary"`
	Details  string     `json:"details"`
}

// Result is the output of one analysis pass.
type Result struct {
	Findings  []Finding `json:"bottlenecks"`
	Timestamp time.Time `json:"timestamp"`
}

// MaxSeverity returns the highest severity in the result, or 0.
func (r Result) MaxSeverity() int {
	var out int
	for _, f := range r.Findings {
		out = max(out, f.Severity)
	}
	return out
}

// SeverityByType returns the highest severity per finding type.
func (r Result) SeverityByType() map[Type]int {
	out := make(map[Type]int, len(r.Findings))
	for _, f := range r.Findings {
		if cur, ok := out[f.Type]; !ok || f.Severity > cur {
			out[f.Type] = f.Severity
		}
	}
	return out
}
