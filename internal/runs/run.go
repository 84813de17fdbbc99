// Package runs records named measurement runs on top of the sample collector
// and persists them for later comparison.
package runs

import (
	"errors"
	"maps"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/skobkin/rigscope/internal/analysis"
	"github.com/skobkin/rigscope/internal/metrics"
)

var (
	// ErrNotFound reports an unknown run id.
	ErrNotFound = errors.New("run not found")
	// ErrNotRecording is returned when stopping a run that is not active.
	ErrNotRecording = errors.New("run is not recording")
	// ErrAlreadyRecording is returned when an active run already uses the name.
	ErrAlreadyRecording = errors.New("a run with this name is already recording")
)

// Run is one recorded measurement session. MetricsStreams is keyed by
// sample source component.
type Run struct {
	ID             uuid.UUID                   `json:"id"`
	Name           string                      `json:"name"`
	ProfileID      string                      `json:"profile_id,omitempty"`
	StartedAt      time.Time                   `json:"started_at"`
	EndedAt        time.Time                   `json:"ended_at"`
	MetricsStreams map[string][]metrics.Sample `json:"metrics_streams"`
	AnalysisResult *analysis.Result            `json:"analysis_result,omitempty"`
	Notes          string                      `json:"notes,omitempty"`
}

// Summary is the listing view of a run.
type Summary struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	ProfileID   string    `json:"profile_id,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	Samples     int       `json:"samples"`
	Findings    int       `json:"bottlenecks"`
	MaxSeverity int       `json:"max_severity"`
	Notes       string    `json:"notes,omitempty"`
}

// Summary returns the listing view of the run.
func (r Run) Summary() Summary {
	s := Summary{
		ID:        r.ID,
		Name:      r.Name,
		ProfileID: r.ProfileID,
		StartedAt: r.StartedAt,
		EndedAt:   r.EndedAt,
		Notes:     r.Notes,
	}
	for _, stream := range r.MetricsStreams {
		s.Samples += len(stream)
	}
	if r.AnalysisResult != nil {
		s.Findings = len(r.AnalysisResult.Findings)
		s.MaxSeverity = r.AnalysisResult.MaxSeverity()
	}
	return s
}

// Samples flattens the streams, ordered by source and then by time.
func (r Run) Samples() []metrics.Sample {
	sources := slices.Sorted(maps.Keys(r.MetricsStreams))
	var out []metrics.Sample
	for _, src := range sources {
		stream := slices.Clone(r.MetricsStreams[src])
		sort.SliceStable(stream, func(i, j int) bool {
			return stream[i].Timestamp.Before(stream[j].Timestamp)
		})
		out = append(out, stream...)
	}
	return out
}

// Aggregates returns per-kind statistics over all streams.
func (r Run) Aggregates() map[metrics.Kind]metrics.Summary {
	return metrics.Aggregate(r.Samples())
}

// Duration is the recorded wall-clock span.
func (r Run) Duration() time.Duration {
	if r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// GroupBySource splits samples into streams keyed by source component.
func GroupBySource(samples []metrics.Sample) map[string][]metrics.Sample {
	streams := make(map[string][]metrics.Sample)
	for _, s := range samples {
		streams[s.SourceComponent] = append(streams[s.SourceComponent], s)
	}
	return streams
}

func cloneRun(r Run) Run {
	out := r
	if r.MetricsStreams != nil {
		out.MetricsStreams = make(map[string][]metrics.Sample, len(r.MetricsStreams))
		for k, v := range r.MetricsStreams {
			out.MetricsStreams[k] = slices.Clone(v)
		}
	}
	if r.AnalysisResult != nil {
		res := *r.AnalysisResult
		res.Findings = slices.Clone(res.Findings)
		out.AnalysisResult = &res
	}
	return out
}
