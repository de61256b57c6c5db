package telemetry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrHandlerNotFound is returned when unsubscribing an unknown handler.
var ErrHandlerNotFound = errors.New("event handler not found")

// Event types published during diff and apply.
const (
	EventRunStarted          = "run.started"
	EventRunCompleted        = "run.completed"
	EventRunFailed           = "run.failed"
	EventResourceCreated     = "resource.created"
	EventResourceUpdated     = "resource.updated"
	EventResourceDeleted     = "resource.deleted"
	EventVersionIncompatible = "version.incompatible"
)

// Event is a notification about something that happened to a run or a
// resource.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id,omitempty"`
	Resource  string         `json:"resource,omitempty"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventHandler receives published events.
type EventHandler func(Event)

// EventFilter selects the events a handler receives.
type EventFilter func(Event) bool

type subscription struct {
	handler EventHandler
	filter  EventFilter
}

// EventPublisher delivers events synchronously, in subscription order, to
// every matching handler. A nil *EventPublisher discards events.
type EventPublisher struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]subscription
}

// NewEventPublisher creates a publisher with no subscribers.
func NewEventPublisher() *EventPublisher {
	return &EventPublisher{subs: make(map[int]subscription)}
}

// Subscribe attaches a handler. A nil filter receives every event. The
// returned ID detaches the handler again.
func (p *EventPublisher) Subscribe(handler EventHandler, filter EventFilter) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	p.subs[p.nextID] = subscription{handler: handler, filter: filter}
	return p.nextID
}

// Unsubscribe detaches a handler.
func (p *EventPublisher) Unsubscribe(id int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.subs[id]; !ok {
		return ErrHandlerNotFound
	}
	delete(p.subs, id)
	return nil
}

// Publish stamps the event and hands it to every matching handler.
func (p *EventPublisher) Publish(event Event) {
	if p == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	p.mu.RLock()
	ids := make([]int, 0, len(p.subs))
	for id := range p.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]subscription, 0, len(ids))
	for _, id := range ids {
		subs = append(subs, p.subs[id])
	}
	p.mu.RUnlock()

	for _, s := range subs {
		if s.filter != nil && !s.filter(event) {
			continue
		}
		s.handler(event)
	}
}

// FilterByType selects events of the given types.
func FilterByType(types ...string) EventFilter {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(e Event) bool { return set[e.Type] }
}

// FilterByResource selects events about one resource path.
func FilterByResource(path string) EventFilter {
	return func(e Event) bool { return e.Resource == path }
}
