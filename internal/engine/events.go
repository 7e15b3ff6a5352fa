package engine

import (
	"math"
	"sync"
	"time"
)

// EventType tags a progress event.
type EventType string

const (
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// TotalSteps is the fixed 20-step display space: 3 setup steps, 16 analysis
// steps, 1 synthesis step.
const TotalSteps = 20

// Display step numbers. Setup occupies 1..3, analysis i (0-based) maps to
// i+4 giving 4..19, synthesis is 20. A setup failure reports step 0.
const (
	stepSetupInit      = 1
	stepSetupArtifacts = 2
	stepSetupSynthesis = 3
	stepSynthesis      = TotalSteps

	// FirstAnalysisStep is the display number of analysis index 0.
	FirstAnalysisStep = 4
)

// AnalysisStep maps a 0-based analysis index to its display step number.
func AnalysisStep(i int) int { return i + FirstAnalysisStep }

// ProgressEvent is one frame of the progress protocol. Within a run, Step is
// non-decreasing and exactly one terminal event (complete or error) is
// emitted, always last.
type ProgressEvent struct {
	Type         EventType `json:"type"`
	Step         int       `json:"step"`
	Total        int       `json:"total"`
	Message      string    `json:"message"`
	ResearchType string    `json:"researchType,omitempty"`
	NotionURL    string    `json:"notionUrl,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Terminal reports whether the event ends the stream.
func (e ProgressEvent) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// Percent returns the display completion percentage.
func (e ProgressEvent) Percent() int {
	if e.Total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(e.Step) / float64(e.Total)))
}

// Sink receives events synchronously from the orchestrator; the caller owns
// transport. A nil sink is valid.
type Sink func(ProgressEvent)

// EventBus fans run events out to subscribers (WebSocket hub, tests).
type EventBus struct {
	mu          sync.RWMutex
	subscribers []chan ProgressEvent
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe returns a channel that receives published events.
func (eb *EventBus) Subscribe() chan ProgressEvent {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	ch := make(chan ProgressEvent, 100)
	eb.subscribers = append(eb.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (eb *EventBus) Unsubscribe(ch chan ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for i, sub := range eb.subscribers {
		if sub == ch {
			eb.subscribers = append(eb.subscribers[:i], eb.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

// Publish sends an event to all subscribers (non-blocking).
func (eb *EventBus) Publish(evt ProgressEvent) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	for _, ch := range eb.subscribers {
		select {
		case ch <- evt:
		default:
			// Drop if subscriber is full
		}
	}
}
