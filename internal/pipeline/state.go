package pipeline

import "sort"

// Fixed stage ids for the research pipeline. The pipeline shape is linear;
// repair loops may re-enter the synthesis stage but never reorder stages.
const (
	StageAnalyze    = 0
	StageCalibrate  = 1
	StageRetrieve   = 2
	StageSynthesize = 3
	StageVerify     = 4
	StageRender     = 5
)

// Usage records token consumption for one model call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// StageResult is the output of one stage attempt. A repair iteration
// produces a new StageResult for the same stage id; the latest one wins.
type StageResult struct {
	Text    string                 `json:"text"`
	Summary string                 `json:"summary,omitempty"`
	Usage   Usage                  `json:"usage"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// State is the event-sourced record of everything a run has done. It is
// the single source of truth for resume/pause/breakout/repair decisions.
// All mutators return a new State; the receiver is never modified.
type State struct {
	SessionID         string
	AgentSlug         string
	PreviousSessionID string
	Events            []Event
	StageOutputs      map[int]StageResult
}

// New creates the state for a fresh run. previousSessionID chains a
// follow-up run to the session it continues; pass "" for a first run.
func New(sessionID, agentSlug, previousSessionID string) *State {
	return &State{
		SessionID:         sessionID,
		AgentSlug:         agentSlug,
		PreviousSessionID: previousSessionID,
		Events:            []Event{},
		StageOutputs:      map[int]StageResult{},
	}
}

// AddEvent returns a new State with evt appended to the log.
func (s *State) AddEvent(evt Event) *State {
	next := s.clone()
	next.Events = append(next.Events, evt)
	return next
}

// SetStageOutput returns a new State with the latest result for stageID.
func (s *State) SetStageOutput(stageID int, result StageResult) *State {
	next := s.clone()
	next.StageOutputs[stageID] = result
	return next
}

func (s *State) clone() *State {
	events := make([]Event, len(s.Events), len(s.Events)+1)
	copy(events, s.Events)
	outputs := make(map[int]StageResult, len(s.StageOutputs)+1)
	for k, v := range s.StageOutputs {
		outputs[k] = v
	}
	return &State{
		SessionID:         s.SessionID,
		AgentSlug:         s.AgentSlug,
		PreviousSessionID: s.PreviousSessionID,
		Events:            events,
		StageOutputs:      outputs,
	}
}

// IsPaused reports whether the last pause_requested is still unresolved.
// A pause is resolved by either a resumed or a breakout event.
func (s *State) IsPaused() bool {
	pauses, resolutions := 0, 0
	for _, e := range s.Events {
		switch e.Type {
		case EventPauseRequested:
			pauses++
		case EventResumed, EventBreakout:
			resolutions++
		}
	}
	return pauses > resolutions
}

// IsBreakoutPending reports whether the host has flagged the inbound
// message as a probable breakout that has not yet been resolved by a
// resumed or breakout event.
func (s *State) IsBreakoutPending() bool {
	for i := len(s.Events) - 1; i >= 0; i-- {
		switch s.Events[i].Type {
		case EventBreakoutPending:
			return true
		case EventResumed, EventBreakout:
			return false
		}
	}
	return false
}

// HasBreakout reports whether the run has ever broken out. Monotonic.
func (s *State) HasBreakout() bool {
	for _, e := range s.Events {
		if e.Type == EventBreakout {
			return true
		}
	}
	return false
}

// LastCompletedStageIndex returns the highest stage id with a
// stage_completed event, or -1 when no stage has completed.
func (s *State) LastCompletedStageIndex() int {
	last := -1
	for _, e := range s.Events {
		if e.Type == EventStageCompleted && e.Stage > last {
			last = e.Stage
		}
	}
	return last
}

// CompletedStages returns the ascending list of stage ids that completed.
func (s *State) CompletedStages() []int {
	seen := map[int]bool{}
	for _, e := range s.Events {
		if e.Type == EventStageCompleted {
			seen[e.Stage] = true
		}
	}
	out := make([]int, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// IsResumableAfterBreakout reports whether a broken-out run can be picked
// up again: it must have broken out, not be paused, have at least one
// completed stage, and not already have been resumed after the most
// recent breakout.
func (s *State) IsResumableAfterBreakout() bool {
	if !s.HasBreakout() || s.IsPaused() || s.LastCompletedStageIndex() < 0 {
		return false
	}
	for i := len(s.Events) - 1; i >= 0; i-- {
		switch s.Events[i].Type {
		case EventBreakout:
			return true
		case EventResumeFromBreakout:
			return false
		}
	}
	return false
}

// AccumulatedCostUSD sums the recorded cost of every completed stage
// attempt. Resumed runs seed their cost tracker from this so that spend
// is never under-counted across process restarts.
func (s *State) AccumulatedCostUSD() float64 {
	total := 0.0
	for _, e := range s.Events {
		if e.Type != EventStageCompleted || e.Data == nil {
			continue
		}
		if v, ok := e.Data["cost_usd"].(float64); ok {
			total += v
		}
	}
	return total
}
