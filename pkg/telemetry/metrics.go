package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics holds the Prometheus collectors for the connection pool, store
// operations and tasks. When metrics are disabled no collector exists and
// every Record/Set method does nothing.
type Metrics struct {
	cfg      MetricsConfig
	registry *prometheus.Registry

	poolCapacity prometheus.Gauge
	poolCreated  prometheus.Gauge
	poolInUse    prometheus.Gauge
	poolWaits    prometheus.Counter

	storeOps      *prometheus.CounterVec
	storeOpTime   *prometheus.HistogramVec
	storeSessions *prometheus.CounterVec

	tasksStarted  *prometheus.CounterVec
	tasksDone     *prometheus.CounterVec
	tasksDuration *prometheus.HistogramVec
	tasksRunning  prometheus.Gauge

	mu     sync.Mutex
	server *http.Server
}

// NewMetrics registers the burnet collectors on a private registry.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	m := &Metrics{cfg: cfg}
	if !cfg.Enabled {
		return m, nil
	}

	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	m.registry = prometheus.NewRegistry()
	f := promauto.With(m.registry)
	ns := cfg.Namespace

	gauge := func(sub, name, help string) prometheus.Gauge {
		return f.NewGauge(prometheus.GaugeOpts{Namespace: ns, Subsystem: sub, Name: name, Help: help})
	}
	counters := func(sub, name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Subsystem: sub, Name: name, Help: help}, labels)
	}
	histograms := func(sub, name, help string, labels ...string) *prometheus.HistogramVec {
		return f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub, Name: name, Help: help, Buckets: buckets,
		}, labels)
	}

	m.poolCapacity = gauge("pool", "capacity", "Maximum number of connections the pool may create.")
	m.poolCreated = gauge("pool", "connections_created", "Connections created by the pool so far.")
	m.poolInUse = gauge("pool", "connections_in_use", "Connections currently held by sessions.")
	m.poolWaits = f.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "pool", Name: "waits_total",
		Help: "Acquisitions that blocked on a full pool.",
	})

	m.storeOps = counters("store", "operations_total", "Session operations by outcome.", "operation", "outcome")
	m.storeOpTime = histograms("store", "operation_duration_seconds", "Session operation latency.", "operation")
	m.storeSessions = counters("store", "sessions_total", "Sessions by how they ended.", "outcome")

	m.tasksStarted = counters("tasks", "started_total", "Tasks registered, by target.", "target")
	m.tasksDone = counters("tasks", "completed_total", "Tasks that reached a terminal status.", "status")
	m.tasksDuration = histograms("tasks", "duration_seconds", "Time from registration to terminal status.", "status")
	m.tasksRunning = gauge("tasks", "running", "Tasks still running.")

	return m, nil
}

// NewNopMetrics returns a disabled Metrics.
func NewNopMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) enabled() bool {
	return m.registry != nil
}

// Registry returns the registry holding the collectors, nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetPoolStats publishes the pool occupancy.
func (m *Metrics) SetPoolStats(capacity, created, inUse int) {
	if !m.enabled() {
		return
	}
	m.poolCapacity.Set(float64(capacity))
	m.poolCreated.Set(float64(created))
	m.poolInUse.Set(float64(inUse))
}

func (m *Metrics) RecordPoolWait() {
	if m.enabled() {
		m.poolWaits.Inc()
	}
}

// RecordStoreOperation counts one session operation. outcome is "ok" or an
// error kind.
func (m *Metrics) RecordStoreOperation(operation, outcome string, took time.Duration) {
	if !m.enabled() {
		return
	}
	m.storeOps.WithLabelValues(operation, outcome).Inc()
	m.storeOpTime.WithLabelValues(operation).Observe(took.Seconds())
}

func (m *Metrics) RecordSessionFinished(outcome string) {
	if m.enabled() {
		m.storeSessions.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) RecordTaskStarted(target string) {
	if !m.enabled() {
		return
	}
	m.tasksStarted.WithLabelValues(target).Inc()
	m.tasksRunning.Inc()
}

func (m *Metrics) RecordTaskCompleted(status string, took time.Duration) {
	if !m.enabled() {
		return
	}
	m.tasksDone.WithLabelValues(status).Inc()
	m.tasksDuration.WithLabelValues(status).Observe(took.Seconds())
	m.tasksRunning.Dec()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// StartMetricsServer binds cfg.ListenAddress and serves Handler on cfg.Path
// in the background. It returns an error if the address cannot be bound.
func (m *Metrics) StartMetricsServer() error {
	if !m.enabled() {
		return nil
	}

	path := m.cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	ln, err := net.Listen("tcp", m.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.cfg.ListenAddress, err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	m.mu.Lock()
	m.server = srv
	m.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", ln.Addr().String()).Msg("Metrics server stopped")
		}
	}()
	return nil
}

// Shutdown stops the metrics server, if running.
func (m *Metrics) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	srv := m.server
	m.server = nil
	m.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
