package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "test", mutate: func(c *Config) { *c = *TestConfig() }},
		{name: "missing service name", mutate: func(c *Config) { c.ServiceName = "" }, field: "ServiceName"},
		{name: "unknown level", mutate: func(c *Config) { c.Logging.Level = "loud" }, field: "Level"},
		{name: "unknown format", mutate: func(c *Config) { c.Logging.Format = "xml" }, field: "Format"},
		{name: "unknown exporter", mutate: func(c *Config) { c.Tracing.Exporter = "jaeger" }, field: "Exporter"},
		{name: "otlp without endpoint", mutate: func(c *Config) { c.Tracing.Exporter = "otlp" }, field: "Endpoint"},
		{name: "sampling above one", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, field: "SamplingRate"},
		{name: "metrics without address", mutate: func(c *Config) { c.Metrics.ListenAddress = "" }, field: "ListenAddress"},
		{name: "async events without buffer", mutate: func(c *Config) { c.Events.BufferSize = 0 }, field: "BufferSize"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerFrom(zerolog.New(&buf)).
		NewComponentLogger("tasks").
		WithTaskID(42).
		WithRecord("templates", "fedora").
		WithError(errors.New("boom"))

	logger.Info("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "tasks", entry["component"])
	assert.Equal(t, float64(42), entry["task_id"])
	assert.Equal(t, "templates", entry["record_type"])
	assert.Equal(t, "fedora", entry["record_ident"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "hello", entry["message"])
}

func TestLoggerContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerFrom(zerolog.New(&buf)).WithSessionID("s-1")

	ctx := logger.WithContext(context.Background())
	FromContext(ctx).Warn("from context")
	assert.Contains(t, buf.String(), `"session_id":"s-1"`)

	// A bare context yields a logger that writes nothing.
	FromContext(context.Background()).Error("dropped")
	assert.NotContains(t, buf.String(), "dropped")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.TraceLevel, ParseLevel("trace"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("loud"))
}

func TestLoggerTypedEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerFrom(zerolog.New(&buf)).NewComponentLogger("objectstore")

	logger.Zerolog().Info().Str("path", "/tmp/objects.db").Int("pool_size", 4).Msg("object store opened")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "objectstore", entry["component"])
	assert.Equal(t, "/tmp/objects.db", entry["path"])
	assert.Equal(t, float64(4), entry["pool_size"])
	assert.Equal(t, "info", entry["level"])
}

func TestNewLoggerDiscard(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{Level: "debug", Format: "json", Output: "discard"})
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, logger.Zerolog().GetLevel())
	logger.Debugf("value %d", 1)
}

func TestMetricsRecording(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	require.NoError(t, err)

	m.SetPoolStats(10, 3, 2)
	m.RecordPoolWait()
	m.RecordStoreOperation("store", "ok", time.Millisecond)
	m.RecordStoreOperation("get", "not_found", time.Millisecond)
	m.RecordSessionFinished("commit")
	m.RecordTaskStarted("import")
	m.RecordTaskStarted("import")
	m.RecordTaskCompleted("finished", time.Second)

	assert.Equal(t, 10.0, testutil.ToFloat64(m.poolCapacity))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.poolCreated))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.poolInUse))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.poolWaits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeOps.WithLabelValues("get", "not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeSessions.WithLabelValues("commit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.tasksStarted.WithLabelValues("import")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasksDone.WithLabelValues("finished")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasksRunning))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "burnet_tasks_started_total")
}

func TestMetricsServer(t *testing.T) {
	cfg := DefaultConfig().Metrics
	cfg.ListenAddress = "127.0.0.1:0"

	m, err := NewMetrics(cfg)
	require.NoError(t, err)
	require.NoError(t, m.StartMetricsServer())
	assert.NoError(t, m.Shutdown(context.Background()))
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestDisabledMetricsAreNoop(t *testing.T) {
	m := NewNopMetrics()

	m.SetPoolStats(1, 1, 1)
	m.RecordPoolWait()
	m.RecordStoreOperation("get", "ok", time.Millisecond)
	m.RecordSessionFinished("rollback")
	m.RecordTaskStarted("x")
	m.RecordTaskCompleted("failed", time.Millisecond)

	assert.Nil(t, m.Registry())
	assert.NoError(t, m.StartMetricsServer())
	assert.NoError(t, m.Shutdown(context.Background()))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}

func TestSpanHelpers(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tr := &Tracer{provider: provider, tracer: provider.Tracer("test")}

	_, span := tr.StartSessionSpan(context.Background(), "s-1", true)
	AddOperationEvent(span, "get", "not_found")
	RecordError(span, errors.New("missing"))
	span.End()

	_, span = tr.StartTaskSpan(context.Background(), 7, "fedora")
	RecordError(span, nil)
	RecordSuccess(span)
	span.End()

	require.NoError(t, tr.Shutdown(context.Background()))

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	session := spans[0]
	assert.Equal(t, "objectstore.session", session.Name())
	assert.Equal(t, codes.Error, session.Status().Code)
	require.NotEmpty(t, session.Events())
	assert.Equal(t, "get", session.Events()[0].Name)

	task := spans[1]
	assert.Equal(t, "tasks.run", task.Name())
	assert.Equal(t, codes.Ok, task.Status().Code)
	assert.Contains(t, task.Attributes(), AttrTaskID.Int64(7))
}

func TestDisabledTracer(t *testing.T) {
	tr, err := NewTracer(TracingConfig{Enabled: false}, "burnet", "test")
	require.NoError(t, err)
	_, span := tr.StartTaskSpan(context.Background(), 1, "x")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, tr.Shutdown(context.Background()))
}

func TestAsyncEventPublisher(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 16, Async: true})
	require.NoError(t, err)

	var (
		mu     sync.Mutex
		events []Event
	)
	ep.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}, FilterByType(EventTypeTaskFailed))

	require.NoError(t, ep.PublishTaskStarted(1, "a"))
	require.NoError(t, ep.PublishTaskFailed(1, "a", "boom", time.Millisecond))
	require.NoError(t, ep.Shutdown(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, int64(1), events[0].TaskID)
	assert.Equal(t, "boom", events[0].Message)
	assert.NotEmpty(t, events[0].ID)
	assert.False(t, events[0].Time.IsZero())

	assert.ErrorIs(t, ep.PublishTaskStarted(2, "a"), ErrPublisherClosed)
	assert.NoError(t, ep.Shutdown(context.Background()))
}

func TestEventQueueFull(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 1, Async: true})
	require.NoError(t, err)

	release := make(chan struct{})
	ep.Subscribe(func(Event) { <-release }, nil)

	// The first event occupies the subscriber, the second fills the queue.
	require.NoError(t, ep.PublishStoreOpened("/tmp/a.db", 1))
	require.Eventually(t, func() bool {
		return ep.PublishStoreClosed("/tmp/a.db") == nil
	}, time.Second, time.Millisecond)
	assert.ErrorIs(t, ep.PublishStoreClosed("/tmp/a.db"), ErrEventQueueFull)

	close(release)
	require.NoError(t, ep.Shutdown(context.Background()))
}

func TestNopTelemetry(t *testing.T) {
	tel := Nop()
	assert.NoError(t, tel.Events.PublishTaskStarted(1, "noop"))
	assert.NoError(t, tel.StartMetricsServer())
	assert.NoError(t, tel.Shutdown(context.Background()))
}
