package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Snapshot is the serialized form of State. Optional fields carry
// omitempty so snapshots written by older versions round-trip without
// default-value injection.
type Snapshot struct {
	SessionID         string              `json:"session_id"`
	AgentSlug         string              `json:"agent_slug"`
	PreviousSessionID string              `json:"previous_session_id,omitempty"`
	Events            []Event             `json:"events"`
	StageOutputs      map[int]StageResult `json:"stage_outputs,omitempty"`
}

// ToSnapshot converts the state to its serializable form.
func (s *State) ToSnapshot() Snapshot {
	snap := Snapshot{
		SessionID:         s.SessionID,
		AgentSlug:         s.AgentSlug,
		PreviousSessionID: s.PreviousSessionID,
		Events:            s.Events,
	}
	if len(s.StageOutputs) > 0 {
		snap.StageOutputs = s.StageOutputs
	}
	return snap
}

// FromSnapshot reconstructs a State from its serialized form.
func FromSnapshot(snap Snapshot) *State {
	st := &State{
		SessionID:         snap.SessionID,
		AgentSlug:         snap.AgentSlug,
		PreviousSessionID: snap.PreviousSessionID,
		Events:            snap.Events,
		StageOutputs:      snap.StageOutputs,
	}
	if st.Events == nil {
		st.Events = []Event{}
	}
	if st.StageOutputs == nil {
		st.StageOutputs = map[int]StageResult{}
	}
	return st
}

// SaveTo persists the state atomically (write temp file, then rename) so
// a crash mid-write never leaves a truncated snapshot behind.
func (s *State) SaveTo(path string) error {
	data, err := json.MarshalIndent(s.ToSnapshot(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadFrom reads a persisted state. A missing or malformed snapshot is
// treated as "no prior state" and returns nil; it is never fatal.
func LoadFrom(path string) *State {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil
	}
	if snap.SessionID == "" {
		return nil
	}
	return FromSnapshot(snap)
}
