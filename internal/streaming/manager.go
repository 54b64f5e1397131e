package streaming

import (
	"encoding/json"
	"sync"
	"time"
)

// EventType enumerates live stream events consumed by the host for
// UI/telemetry. These are distinct from pipeline log events: they are
// ephemeral and carry no correctness guarantees.
type EventType string

const (
	EventStageStart     EventType = "stage_start"
	EventStageComplete  EventType = "stage_complete"
	EventSubstep        EventType = "substep"
	EventRepairStart    EventType = "repair_start"
	EventPause          EventType = "pause"
	EventComplete       EventType = "complete"
	EventBudgetExceeded EventType = "budget_exceeded"
	EventError          EventType = "error"
	EventText           EventType = "text"
)

// Substep kinds carried by EventSubstep.
const (
	SubstepMCPStart    = "mcp_start"
	SubstepMCPResult   = "mcp_result"
	SubstepLLMStart    = "llm_start"
	SubstepLLMComplete = "llm_complete"
	SubstepStatus      = "status"
)

// Event is one entry on a run's live stream.
type Event struct {
	SessionID string                 `json:"session_id"`
	Type      EventType              `json:"type"`
	Stage     int                    `json:"stage"`
	Substep   string                 `json:"substep,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Seq       uint64                 `json:"seq"`
}

// Marshal returns the event as JSON for SSE payloads or logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Manager provides in-memory pub/sub for run events with a per-run ring
// buffer so late subscribers can replay recent history.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int
}

// NewManager creates a manager whose per-run replay rings hold capacity
// events (a non-positive capacity gets a sensible default).
func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = 256
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
	}
}

// Subscribe adds a subscriber channel for a session; the caller must
// drain it and call Unsubscribe when done. An empty sessionID subscribes
// to every session's events, for hosts that attach before the run's
// generated id is known.
func (m *Manager) Subscribe(sessionID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[sessionID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[sessionID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (m *Manager) Unsubscribe(sessionID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[sessionID]; ok {
		if _, member := subs[ch]; member {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(m.subscribers, sessionID)
		}
	}
}

// Publish sends an event to all subscribers of the session without
// blocking; slow subscribers drop events rather than stall the run.
func (m *Manager) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	m.mu.Lock()
	rg := m.history[evt.SessionID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[evt.SessionID] = rg
	}
	evt.Seq = rg.nextSeq
	rg.nextSeq++
	rg.push(evt)
	targets := make([]chan Event, 0, 4)
	for ch := range m.subscribers[evt.SessionID] {
		targets = append(targets, ch)
	}
	if evt.SessionID != "" {
		for ch := range m.subscribers[""] {
			targets = append(targets, ch)
		}
	}
	m.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- evt:
		default:
		}
	}
}

// ReplaySince returns events with Seq > since, best-effort within the
// ring's capacity.
func (m *Manager) ReplaySince(sessionID string, since uint64) []Event {
	m.mu.RLock()
	rg := m.history[sessionID]
	m.mu.RUnlock()
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Forget drops a finished run's replay history.
func (m *Manager) Forget(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.history, sessionID)
}

// ring is a fixed-capacity buffer of recent events.
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
