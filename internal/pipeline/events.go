package pipeline

import "time"

// EventType enumerates the lifecycle events appended to a run's event log.
type EventType string

const (
	EventStageStarted          EventType = "stage_started"
	EventStageCompleted        EventType = "stage_completed"
	EventStageFailed           EventType = "stage_failed"
	EventPauseRequested        EventType = "pause_requested"
	EventResumed               EventType = "resumed"
	EventBreakoutPending       EventType = "breakout_pending"
	EventBreakout              EventType = "breakout"
	EventBreakoutResumePending EventType = "breakout_resume_pending"
	EventResumeFromBreakout    EventType = "resume_from_breakout"
)

// Event is one immutable entry in a run's append-only log. Every fact
// derived about a run is a pure function of the event sequence; no status
// flags are stored anywhere else.
type Event struct {
	Type      EventType              `json:"type"`
	Stage     int                    `json:"stage"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewEvent builds an event stamped with the current time.
func NewEvent(t EventType, stage int, data map[string]interface{}) Event {
	return Event{Type: t, Stage: stage, Data: data, Timestamp: time.Now().UTC()}
}
