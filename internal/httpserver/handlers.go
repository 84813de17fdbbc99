package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/skobkin/rigscope/internal/analysis"
	"github.com/skobkin/rigscope/internal/compare"
	"github.com/skobkin/rigscope/internal/insights"
	"github.com/skobkin/rigscope/internal/metrics"
	"github.com/skobkin/rigscope/internal/profiles"
	"github.com/skobkin/rigscope/internal/runs"
)

const (
	maxStartBodyBytes  = 64 << 10
	maxImportBodyBytes = 64 << 20
)

var (
	errCollectorUnavailable = errors.New("collector unavailable")
	errInvalidRunID         = errors.New("invalid run id")

	openRangeEnd = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)
)

type analysisResponse struct {
	Window    string            `json:"window"`
	ProfileID string            `json:"profile_id,omitempty"`
	Result    analysis.Result   `json:"result"`
	Insights  insights.Insights `json:"insights"`
}

type runListResponse struct {
	Runs   []runs.Summary `json:"runs"`
	Active []runs.Summary `json:"active"`
}

type runDetailResponse struct {
	Run        runs.Run                         `json:"run"`
	Aggregates map[metrics.Kind]metrics.Summary `json:"aggregates"`
	Recording  bool                             `json:"recording"`
}

type stoppedRunResponse struct {
	Run      runs.Summary      `json:"run"`
	Analysis *analysis.Result  `json:"analysis"`
	Insights insights.Insights `json:"insights"`
}

func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.collector == nil {
		http.Error(w, errCollectorUnavailable.Error(), http.StatusServiceUnavailable)
		return
	}

	query := r.URL.Query()
	sinceRaw, untilRaw := query.Get("since"), query.Get("until")

	var samples []metrics.Sample
	if sinceRaw == "" && untilRaw == "" {
		samples = s.collector.Snapshot()
	} else {
		// Without until the range is open-ended.
		var since time.Time
		until := openRangeEnd
		if sinceRaw != "" {
			parsed, err := time.Parse(time.RFC3339Nano, sinceRaw)
			if err != nil {
				http.Error(w, "invalid since: expected RFC3339 timestamp", http.StatusBadRequest)
				return
			}
			since = parsed
		}
		if untilRaw != "" {
			parsed, err := time.Parse(time.RFC3339Nano, untilRaw)
			if err != nil {
				http.Error(w, "invalid until: expected RFC3339 timestamp", http.StatusBadRequest)
				return
			}
			until = parsed
		}
		if sinceRaw != "" && untilRaw != "" && until.Before(since) {
			http.Error(w, "until must not be before since", http.StatusBadRequest)
			return
		}
		samples = s.collector.Range(since, until)
	}
	if samples == nil {
		samples = []metrics.Sample{}
	}

	s.writeJSON(w, r, http.StatusOK, samples, "samples")
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	var window time.Duration
	if raw := query.Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid window: expected positive duration", http.StatusBadRequest)
			return
		}
		window = parsed
	}

	profileID := s.cfg.Analysis.DefaultProfile
	if query.Has("profile") {
		profileID = query.Get("profile")
	}

	result, advice, err := s.analyze(window, profileID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	window = s.analysisWindow(window)
	s.writeJSON(w, r, http.StatusOK, analysisResponse{
		Window:    window.String(),
		ProfileID: profileID,
		Result:    result,
		Insights:  advice,
	}, "analysis")
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.profiles == nil {
		http.Error(w, "profiles unavailable", http.StatusServiceUnavailable)
		return
	}

	s.writeJSON(w, r, http.StatusOK, s.profiles.List(), "profile list")
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.profiles == nil {
		http.Error(w, "profiles unavailable", http.StatusServiceUnavailable)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/profiles/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	profile, err := s.profiles.Get(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, profile, "profile")
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil || s.runs == nil {
		http.Error(w, "run recording unavailable", http.StatusServiceUnavailable)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.listRuns(w, r)
	case http.MethodPost:
		s.startRun(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	stored, err := s.runs.List()
	if err != nil {
		s.writeError(w, r, fmt.Errorf("list runs: %w", err))
		return
	}

	resp := runListResponse{
		Runs:   make([]runs.Summary, 0, len(stored)),
		Active: []runs.Summary{},
	}
	for _, run := range stored {
		resp.Runs = append(resp.Runs, run.Summary())
	}
	for _, run := range s.recorder.Active() {
		resp.Active = append(resp.Active, run.Summary())
	}

	s.writeJSON(w, r, http.StatusOK, resp, "run list")
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var req runs.StartRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxStartBodyBytes))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid run request", http.StatusBadRequest)
		return
	}

	run, err := s.recorder.Start(req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.loggerFromContext(r.Context()).Info("run started", "run_id", run.ID, "name", run.Name)
	s.writeJSON(w, r, http.StatusCreated, run.Summary(), "started run")
}

func (s *Server) handleRunSubresource(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil || s.runs == nil {
		http.Error(w, "run recording unavailable", http.StatusServiceUnavailable)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/runs/")
	if rest == "import" {
		s.handleRunImport(w, r)
		return
	}

	segments := strings.Split(rest, "/")
	if len(segments) > 2 || segments[0] == "" {
		http.NotFound(w, r)
		return
	}
	id, err := uuid.Parse(segments[0])
	if err != nil {
		http.Error(w, errInvalidRunID.Error(), http.StatusBadRequest)
		return
	}

	if len(segments) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.getRun(w, r, id)
		case http.MethodDelete:
			s.deleteRun(w, r, id)
		default:
			w.Header().Set("Allow", "GET, DELETE")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	switch segments[1] {
	case "stop":
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.stopRun(w, r, id)
	case "export":
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.exportRun(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	run, err := s.runs.Get(id)
	if errors.Is(err, runs.ErrNotFound) {
		for _, active := range s.recorder.Active() {
			if active.ID == id {
				s.writeJSON(w, r, http.StatusOK, runDetailResponse{
					Run:        active,
					Aggregates: map[metrics.Kind]metrics.Summary{},
					Recording:  true,
				}, "active run")
				return
			}
		}
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, r, http.StatusOK, runDetailResponse{
		Run:        run,
		Aggregates: run.Aggregates(),
	}, "run")
}

func (s *Server) deleteRun(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if err := s.runs.Delete(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.loggerFromContext(r.Context()).Info("run deleted", "run_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) stopRun(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	run, err := s.recorder.Stop(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var advice insights.Insights
	if run.AnalysisResult != nil {
		profile, _ := s.lookupProfile(run.ProfileID)
		advice = insights.Generate(*run.AnalysisResult, profile)
	}

	s.writeJSON(w, r, http.StatusOK, stoppedRunResponse{
		Run:      run.Summary(),
		Analysis: run.AnalysisResult,
		Insights: advice,
	}, "stopped run")
}

func (s *Server) exportRun(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	run, err := s.runs.Get(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="run-%s.json"`, id))
	s.writeJSON(w, r, http.StatusOK, runs.NewExport(run, time.Now()), "run export")
}

func (s *Server) handleRunImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	run, err := runs.DecodeExport(http.MaxBytesReader(w, r.Body, maxImportBodyBytes))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.runs.Save(run); err != nil {
		s.writeError(w, r, fmt.Errorf("save imported run: %w", err))
		return
	}

	s.loggerFromContext(r.Context()).Info("run imported", "run_id", run.ID, "name", run.Name)
	s.writeJSON(w, r, http.StatusCreated, run.Summary(), "imported run")
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.runs == nil {
		http.Error(w, "run store unavailable", http.StatusServiceUnavailable)
		return
	}

	query := r.URL.Query()
	id1, err1 := uuid.Parse(query.Get("run1"))
	id2, err2 := uuid.Parse(query.Get("run2"))
	if err1 != nil || err2 != nil {
		http.Error(w, "run1 and run2 must be run ids", http.StatusBadRequest)
		return
	}

	run1, err := s.runs.Get(id1)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	run2, err := s.runs.Get(id2)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, r, http.StatusOK, compare.Runs(run1, run2), "comparison")
}

// analyze runs the rule engine over the live buffer.
func (s *Server) analyze(window time.Duration, profileID string) (analysis.Result, insights.Insights, error) {
	if s.collector == nil {
		return analysis.Result{}, insights.Insights{}, errCollectorUnavailable
	}
	profile, err := s.lookupProfile(profileID)
	if err != nil {
		return analysis.Result{}, insights.Insights{}, err
	}

	result := analysis.Analyze(s.collector.Snapshot(), s.analysisWindow(window), profile)
	return result, insights.Generate(result, profile), nil
}

func (s *Server) analysisWindow(window time.Duration) time.Duration {
	if window > 0 {
		return window
	}
	if s.cfg.Analysis.Window > 0 {
		return s.cfg.Analysis.Window
	}
	return analysis.DefaultWindow
}

// lookupProfile resolves an optional profile id. An empty id means no
// profile.
func (s *Server) lookupProfile(id string) (*profiles.Profile, error) {
	if id == "" {
		return nil, nil
	}
	if s.profiles == nil {
		return nil, fmt.Errorf("%w: %s", profiles.ErrNotFound, id)
	}
	profile, err := s.profiles.Get(id)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (s *Server) defaultProfile() *profiles.Profile {
	profile, err := s.lookupProfile(s.cfg.Analysis.DefaultProfile)
	if err != nil {
		return nil
	}
	return profile
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any, what string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.loggerFromContext(r.Context()).Error("failed to encode "+what, "err", err)
	}
}

// writeError maps domain sentinels onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, profiles.ErrNotFound), errors.Is(err, runs.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, runs.ErrNotRecording), errors.Is(err, runs.ErrAlreadyRecording):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, runs.ErrUnsupportedExport):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, errCollectorUnavailable):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		s.loggerFromContext(r.Context()).Error("request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
