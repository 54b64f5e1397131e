package pipeline

import (
	"os"
	"path/filepath"
)

// Paths computes the per-session locations of a run's persisted
// artifacts: the append-only state snapshot, the compact summary, and
// the final rendered document.
type Paths struct {
	Root      string
	SessionID string
}

// SessionDir is the directory holding all files for one session.
func (p Paths) SessionDir() string {
	return filepath.Join(p.Root, "sessions", p.SessionID)
}

// StateFile is the serialized PipelineState snapshot.
func (p Paths) StateFile() string {
	return filepath.Join(p.SessionDir(), "pipeline_state.json")
}

// SummaryFile is the compact PipelineSummary projection.
func (p Paths) SummaryFile() string {
	return filepath.Join(p.SessionDir(), "pipeline_summary.json")
}

// ReportFile is the final rendered research document.
func (p Paths) ReportFile() string {
	return filepath.Join(p.SessionDir(), "research_report.md")
}

// EnsureDir creates the session directory if needed.
func (p Paths) EnsureDir() error {
	return os.MkdirAll(p.SessionDir(), 0o755)
}
