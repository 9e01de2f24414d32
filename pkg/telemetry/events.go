package telemetry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one entry on a run's timeline.
type Event struct {
	ID        string         `json:"id" yaml:"id"`
	Timestamp time.Time      `json:"timestamp" yaml:"timestamp"`
	Type      string         `json:"type" yaml:"type"`
	Source    string         `json:"source" yaml:"source"`
	RunID     string         `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Phase     string         `json:"phase,omitempty" yaml:"phase,omitempty"`
	Message   string         `json:"message" yaml:"message"`
	Level     string         `json:"level" yaml:"level"`
	Data      map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

// Event types published during a run.
const (
	EventTypeRunStarted       = "run.started"
	EventTypeRunCompleted     = "run.completed"
	EventTypeRunFailed        = "run.failed"
	EventTypeClassified       = "classify.completed"
	EventTypeAppStopRequested = "app.stop_requested"
	EventTypeAppStopSkipped   = "app.stop_skipped"
	EventTypeAppStopped       = "app.stopped"
	EventTypeAppStopFailed    = "app.stop_failed"
	EventTypeSampled          = "converge.sampled"
	EventTypeCommandSent      = "converge.command_sent"
	EventTypeConverged        = "converge.converged"
	EventTypeEscalated        = "converge.escalated"
)

// Event severity levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles a delivered event.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be delivered.
type EventFilter func(event Event) bool

// EventPublisher delivers events to subscribers synchronously, in publish
// order. A nil or disabled publisher drops everything.
type EventPublisher struct {
	config EventsConfig

	mu          sync.RWMutex
	nextID      int
	subscribers map[int]subscriberEntry
	order       []int
	filters     []EventFilter
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) *EventPublisher {
	return &EventPublisher{
		config:      cfg,
		subscribers: make(map[int]subscriberEntry),
	}
}

// Publish stamps event with an ID and timestamp if missing and delivers it.
func (ep *EventPublisher) Publish(event Event) {
	if ep == nil || !ep.config.Enabled {
		return
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	ep.mu.RLock()
	filters := append([]EventFilter(nil), ep.filters...)
	entries := make([]subscriberEntry, 0, len(ep.order))
	for _, id := range ep.order {
		entries = append(entries, ep.subscribers[id])
	}
	ep.mu.RUnlock()

	for _, filter := range filters {
		if !filter(event) {
			return
		}
	}

	for _, entry := range entries {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Subscribe registers subscriber, optionally filtered. The returned function
// removes the subscription.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) func() {
	if ep == nil {
		return func() {}
	}

	ep.mu.Lock()
	defer ep.mu.Unlock()

	id := ep.nextID
	ep.nextID++
	ep.subscribers[id] = subscriberEntry{subscriber: subscriber, filter: filter}
	ep.order = append(ep.order, id)

	return func() {
		ep.mu.Lock()
		defer ep.mu.Unlock()
		if _, ok := ep.subscribers[id]; !ok {
			return
		}
		delete(ep.subscribers, id)
		for i, v := range ep.order {
			if v == id {
				ep.order = append(ep.order[:i], ep.order[i+1:]...)
				break
			}
		}
	}
}

// AddFilter adds a filter applied before any subscriber sees an event.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	if ep == nil {
		return
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.filters = append(ep.filters, filter)
}

// FilterByLevel allows events at minLevel or above.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}
	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType allows events of the given types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}
	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByRunID allows events for one run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}

// Recorder is a subscriber that keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Record appends event. It has the EventSubscriber signature.
func (r *Recorder) Record(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
