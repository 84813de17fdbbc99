package runs

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skobkin/rigscope/internal/analysis"
	"github.com/skobkin/rigscope/internal/metrics"
	"github.com/skobkin/rigscope/internal/profiles"
)

// SampleSource yields the samples collected between two instants, inclusive.
type SampleSource interface {
	Range(start, end time.Time) []metrics.Sample
}

// ProfileLookup resolves a profile id.
type ProfileLookup interface {
	Get(id string) (profiles.Profile, error)
}

// StartRequest describes a run to begin recording.
type StartRequest struct {
	Name      string `json:"name"`
	ProfileID string `json:"profile_id,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// Recorder marks run boundaries on a live sample source. Samples are taken
// from the source when the run stops, so the source must retain at least a
// run's duration worth of data.
type Recorder struct {
	source   SampleSource
	profiles ProfileLookup
	store    Store
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	active map[uuid.UUID]Run
}

func NewRecorder(source SampleSource, lookup ProfileLookup, store Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		source:   source,
		profiles: lookup,
		store:    store,
		logger:   logger.With("component", "recorder"),
		now:      time.Now,
		active:   make(map[uuid.UUID]Run),
	}
}

// Start begins a run. An unknown profile id fails with profiles.ErrNotFound.
func (r *Recorder) Start(req StartRequest) (Run, error) {
	if req.ProfileID != "" && r.profiles != nil {
		if _, err := r.profiles.Get(req.ProfileID); err != nil {
			return Run{}, err
		}
	}

	now := r.now()
	if req.Name == "" {
		req.Name = "Run " + now.Format("2006-01-02 15:04:05")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, run := range r.active {
		if run.Name == req.Name {
			return Run{}, fmt.Errorf("%w: %s", ErrAlreadyRecording, req.Name)
		}
	}

	run := Run{
		ID:        uuid.New(),
		Name:      req.Name,
		ProfileID: req.ProfileID,
		StartedAt: now,
		Notes:     req.Notes,
	}
	r.active[run.ID] = run
	r.logger.Info("run started", "run_id", run.ID, "name", run.Name, "profile", run.ProfileID)
	return run, nil
}

// Stop finishes a run: it collects the samples recorded since Start,
// analyzes them over the run's span and stores the result.
func (r *Recorder) Stop(id uuid.UUID) (Run, error) {
	r.mu.Lock()
	run, ok := r.active[id]
	if ok {
		delete(r.active, id)
	}
	r.mu.Unlock()
	if !ok {
		return Run{}, fmt.Errorf("%w: %s", ErrNotRecording, id)
	}

	run.EndedAt = r.now()
	samples := r.source.Range(run.StartedAt, run.EndedAt)
	run.MetricsStreams = GroupBySource(samples)

	var profile *profiles.Profile
	if run.ProfileID != "" && r.profiles != nil {
		p, err := r.profiles.Get(run.ProfileID)
		if err != nil {
			r.logger.Warn("profile lookup failed, analyzing without profile", "run_id", run.ID, "profile", run.ProfileID, "err", err)
		} else {
			profile = &p
		}
	}

	window := run.EndedAt.Sub(run.StartedAt)
	if window <= 0 {
		window = time.Nanosecond
	}
	result := analysis.AnalyzeAt(run.EndedAt, samples, window, profile)
	run.AnalysisResult = &result

	if err := r.store.Save(run); err != nil {
		r.mu.Lock()
		run.EndedAt = time.Time{}
		run.MetricsStreams = nil
		run.AnalysisResult = nil
		r.active[run.ID] = run
		r.mu.Unlock()
		return Run{}, fmt.Errorf("store run %s: %w", run.ID, err)
	}

	r.logger.Info("run stopped",
		"run_id", run.ID,
		"duration", window,
		"samples", len(samples),
		"bottlenecks", len(result.Findings),
	)
	return run, nil
}

// Active lists runs that are still recording, oldest first.
func (r *Recorder) Active() []Run {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Run, 0, len(r.active))
	for _, run := range r.active {
		out = append(out, run)
	}
	sortRuns(out)
	return out
}

// IsActive reports whether id is recording.
func (r *Recorder) IsActive(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[id]
	return ok
}
