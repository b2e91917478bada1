package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/burnet/burnet/pkg/errdefs"
	"github.com/burnet/burnet/pkg/telemetry"
)

const (
	// MessageNoReport is recorded when a body returns without reporting.
	MessageNoReport = "task exited without reporting status"

	// MessageAborted is recorded when a body stops its goroutine with
	// runtime.Goexit before reporting.
	MessageAborted = "task aborted before reporting status"
)

// Manager runs task bodies in the background and tracks their records.
// Records are kept in memory for the lifetime of the Manager.
type Manager struct {
	logger  *telemetry.Logger
	tracer  *telemetry.Tracer
	metrics *telemetry.Metrics
	events  *telemetry.EventPublisher

	// mu guards nextID and records; ids are allocated and registered under it
	mu      sync.Mutex
	nextID  int64
	records map[int64]*Record

	wg sync.WaitGroup
}

// Option customizes a Manager.
type Option func(*Manager)

// WithTelemetry attaches logging, tracing, metrics and events to the manager.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(m *Manager) {
		if tel == nil {
			return
		}
		m.logger = tel.Logger.NewComponentLogger("tasks")
		m.tracer = tel.Tracer
		m.metrics = tel.Metrics
		m.events = tel.Events
	}
}

// WithLogger overrides the manager logger.
func WithLogger(logger *telemetry.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a Manager with no tasks. The first task gets id 1.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		logger:  telemetry.NewNopLogger(),
		tracer:  telemetry.NewNopTracer(),
		metrics: telemetry.NewNopMetrics(),
		events:  telemetry.NewNopEventPublisher(),
		records: make(map[int64]*Record),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddTask registers a running task for target and starts body on its own
// goroutine. It returns the new task id without waiting for the body.
//
// Faults in body never reach the caller: a panic, runtime.Goexit, or a return
// without reporting marks the task failed.
func (m *Manager) AddTask(ctx context.Context, target string, body Body, params any) int64 {
	now := time.Now()

	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.records[id] = &Record{
		ID:        id,
		Target:    target,
		Status:    StatusRunning,
		Message:   InitialMessage,
		CreatedAt: now,
	}
	m.wg.Add(1)
	m.mu.Unlock()

	m.metrics.RecordTaskStarted(target)
	_ = m.events.PublishTaskStarted(id, target)
	m.logger.Zerolog().Debug().
		Int64("task_id", id).
		Str("target", target).
		Msg("task started")

	go m.run(context.WithoutCancel(ctx), id, target, body, params)

	return id
}

// run executes one body and applies the safety net once it stops.
func (m *Manager) run(ctx context.Context, id int64, target string, body Body, params any) {
	defer m.wg.Done()

	ctx, span := m.tracer.StartTaskSpan(ctx, id, target)
	defer span.End()

	logger := m.logger.WithTaskID(id).WithField("target", target)
	ctx = logger.WithContext(ctx)

	report := func(message string, success bool) {
		status := StatusFailed
		if success {
			status = StatusFinished
		}
		m.complete(id, status, message, span)
	}

	returned := false
	defer func() {
		if r := recover(); r != nil {
			logger.Zerolog().Error().Interface("panic", r).Msg("task body panicked")
			m.complete(id, StatusFailed, fmt.Sprintf("task panicked: %v", r), span)
			return
		}
		if !returned {
			m.complete(id, StatusFailed, MessageAborted, span)
			return
		}
		// No-op when the body already reported
		m.complete(id, StatusFailed, MessageNoReport, span)
	}()

	body(ctx, report, params)
	returned = true
}

// complete moves a running task to a terminal status. Later calls for the
// same task are ignored.
func (m *Manager) complete(id int64, status Status, message string, span trace.Span) {
	now := time.Now()

	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok || rec.Status.IsTerminal() {
		m.mu.Unlock()
		return
	}
	rec.Status = status
	rec.Message = message
	rec.CompletedAt = &now
	snapshot := *rec
	m.mu.Unlock()

	duration := snapshot.Duration()
	m.metrics.RecordTaskCompleted(string(status), duration)
	span.SetAttributes(telemetry.AttrTaskStatus.String(string(status)))

	event := m.logger.Zerolog().Info()
	if status == StatusFailed {
		event = m.logger.Zerolog().Warn()
		telemetry.RecordError(span, errors.New(message))
		_ = m.events.PublishTaskFailed(id, snapshot.Target, message, duration)
	} else {
		telemetry.RecordSuccess(span)
		_ = m.events.PublishTaskFinished(id, snapshot.Target, message, duration)
	}
	event.
		Int64("task_id", id).
		Str("target", snapshot.Target).
		Str("status", string(status)).
		Str("message", message).
		Dur("duration", duration).
		Msg("task completed")
}

// Lookup returns a copy of the task's current record.
func (m *Manager) Lookup(id int64) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return Record{}, errdefs.NotFound("task %d not found", id).
			WithResource(fmt.Sprintf("task/%d", id)).
			WithOperation("lookup")
	}
	return *rec, nil
}

// List returns copies of all records ordered by id.
func (m *Manager) List() []Record {
	m.mu.Lock()
	records := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		records = append(records, *rec)
	}
	m.mu.Unlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].ID < records[j].ID
	})
	return records
}

// Wait blocks until every started body has stopped or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Lookuper finds task records by id. *Manager implements it.
type Lookuper interface {
	Lookup(id int64) (Record, error)
}

// Poll looks the task up every interval until it reaches a terminal status
// and returns that record. It gives up when ctx is done, returning the last
// record seen along with the context error.
func Poll(ctx context.Context, tasks Lookuper, id int64, interval time.Duration) (Record, error) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		rec, err := tasks.Lookup(id)
		if err != nil {
			return Record{}, err
		}
		if rec.Status.IsTerminal() {
			return rec, nil
		}

		select {
		case <-ctx.Done():
			return rec, fmt.Errorf("task %d still %s: %w", id, rec.Status, ctx.Err())
		case <-ticker.C:
		}
	}
}
