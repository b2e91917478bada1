package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Lifecycle event types.
const (
	EventTypeTaskStarted  = "task.started"
	EventTypeTaskFinished = "task.finished"
	EventTypeTaskFailed   = "task.failed"
	EventTypeStoreOpened  = "store.opened"
	EventTypeStoreClosed  = "store.closed"
)

var (
	ErrPublisherClosed = errors.New("event publisher closed")
	ErrEventQueueFull  = errors.New("event queue full")
)

// Event is a lifecycle notification from the object store or the task
// manager.
type Event struct {
	ID      string         `json:"id"`
	Time    time.Time      `json:"time"`
	Type    string         `json:"type"`
	Source  string         `json:"source"`
	TaskID  int64          `json:"task_id,omitempty"`
	Target  string         `json:"target,omitempty"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// EventFilter reports whether a subscriber wants an event.
type EventFilter func(Event) bool

type subscription struct {
	fn     func(Event)
	filter EventFilter
}

// EventPublisher fans events out to subscribers. In async mode events are
// queued and delivered in order by a single goroutine; otherwise Publish
// delivers before returning. Subscribers must not block.
type EventPublisher struct {
	enabled bool
	queue   chan Event
	done    chan struct{}

	mu     sync.RWMutex
	subs   []subscription
	closed bool
}

// NewEventPublisher starts a publisher. A disabled config yields one that
// drops everything.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	ep := &EventPublisher{enabled: cfg.Enabled}
	if !cfg.Enabled || !cfg.Async {
		return ep, nil
	}
	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("async events need a positive buffer size, got %d", cfg.BufferSize)
	}

	ep.queue = make(chan Event, cfg.BufferSize)
	ep.done = make(chan struct{})
	go ep.loop()
	return ep, nil
}

// NewNopEventPublisher returns a publisher that drops every event.
func NewNopEventPublisher() *EventPublisher {
	return &EventPublisher{}
}

func (ep *EventPublisher) loop() {
	defer close(ep.done)
	for e := range ep.queue {
		ep.deliver(e)
	}
}

// Publish stamps e with an id and time, when missing, and hands it to the
// subscribers. An async publisher never blocks: it returns ErrEventQueueFull
// instead.
func (ep *EventPublisher) Publish(e Event) error {
	if !ep.enabled {
		return nil
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	ep.mu.RLock()
	if ep.closed {
		ep.mu.RUnlock()
		return ErrPublisherClosed
	}
	if ep.queue == nil {
		ep.mu.RUnlock()
		ep.deliver(e)
		return nil
	}
	defer ep.mu.RUnlock()

	select {
	case ep.queue <- e:
		return nil
	default:
		return ErrEventQueueFull
	}
}

func (ep *EventPublisher) deliver(e Event) {
	ep.mu.RLock()
	subs := ep.subs
	ep.mu.RUnlock()

	for _, s := range subs {
		if s.filter == nil || s.filter(e) {
			s.fn(e)
		}
	}
}

// Subscribe registers fn for the events accepted by filter. A nil filter
// accepts everything.
func (ep *EventPublisher) Subscribe(fn func(Event), filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subs = append(ep.subs[:len(ep.subs):len(ep.subs)], subscription{fn: fn, filter: filter})
}

// Shutdown stops accepting events and waits until queued ones are delivered.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	ep.mu.Lock()
	if ep.closed {
		ep.mu.Unlock()
		return nil
	}
	ep.closed = true
	if ep.queue != nil {
		close(ep.queue)
	}
	ep.mu.Unlock()

	if ep.done == nil {
		return nil
	}
	select {
	case <-ep.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("events not drained: %w", ctx.Err())
	}
}

func (ep *EventPublisher) PublishTaskStarted(id int64, target string) error {
	return ep.Publish(Event{
		Type:    EventTypeTaskStarted,
		Source:  "tasks",
		TaskID:  id,
		Target:  target,
		Message: fmt.Sprintf("Task %d started on %s", id, target),
	})
}

func (ep *EventPublisher) PublishTaskFinished(id int64, target, message string, took time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeTaskFinished,
		Source:  "tasks",
		TaskID:  id,
		Target:  target,
		Message: message,
		Data:    map[string]any{"duration_seconds": took.Seconds()},
	})
}

func (ep *EventPublisher) PublishTaskFailed(id int64, target, message string, took time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeTaskFailed,
		Source:  "tasks",
		TaskID:  id,
		Target:  target,
		Message: message,
		Data:    map[string]any{"duration_seconds": took.Seconds()},
	})
}

func (ep *EventPublisher) PublishStoreOpened(path string, poolSize int) error {
	return ep.Publish(Event{
		Type:    EventTypeStoreOpened,
		Source:  "objectstore",
		Message: "Object store opened",
		Data:    map[string]any{"path": path, "pool_size": poolSize},
	})
}

func (ep *EventPublisher) PublishStoreClosed(path string) error {
	return ep.Publish(Event{
		Type:    EventTypeStoreClosed,
		Source:  "objectstore",
		Message: "Object store closed",
		Data:    map[string]any{"path": path},
	})
}

// FilterByType accepts events of the given types.
func FilterByType(types ...string) EventFilter {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(e Event) bool {
		_, ok := set[e.Type]
		return ok
	}
}

// FilterByTaskID accepts events about one task.
func FilterByTaskID(id int64) EventFilter {
	return func(e Event) bool { return e.TaskID == id }
}
