package runs

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// ExportVersion is the only envelope version Import accepts.
const ExportVersion = 1

// ErrUnsupportedExport is returned for envelopes with another version.
var ErrUnsupportedExport = errors.New("unsupported export version")

// Export wraps a run for transfer between installations.
type Export struct {
	ExportVersion int       `json:"export_version"`
	ExportedAt    time.Time `json:"exported_at"`
	Run           Run       `json:"run"`
}

func NewExport(run Run, now time.Time) Export {
	return Export{ExportVersion: ExportVersion, ExportedAt: now.UTC(), Run: run}
}

// DecodeExport reads an envelope and returns its run. A run without an id
// gets a fresh one.
func DecodeExport(r io.Reader) (Run, error) {
	var env Export
	dec := json.NewDecoder(r)
	if err := dec.Decode(&env); err != nil {
		return Run{}, fmt.Errorf("decode export: %w", err)
	}
	if env.ExportVersion != ExportVersion {
		return Run{}, fmt.Errorf("%w: %d", ErrUnsupportedExport, env.ExportVersion)
	}
	run := env.Run
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Name == "" {
		return Run{}, fmt.Errorf("decode export: run name is empty")
	}
	return run, nil
}
