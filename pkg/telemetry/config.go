package telemetry

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Config selects where logs, spans, metrics and events go.
type Config struct {
	ServiceName    string `validate:"required"`
	ServiceVersion string `validate:"required"`

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `validate:"oneof=trace debug info warn error"`

	// Format is console (human readable) or json.
	Format string `validate:"oneof=console json"`

	// Output is stdout, stderr, discard, or a file path. Empty means stderr.
	Output string

	// Caller adds file:line to every entry.
	Caller bool
}

// TracingConfig configures OpenTelemetry span export.
type TracingConfig struct {
	Enabled bool

	// Exporter is otlp (gRPC), stdout, or none. With none, spans are sampled
	// but never exported.
	Exporter string `validate:"oneof=otlp stdout none"`

	// Endpoint is the OTLP collector address, e.g. localhost:4317.
	Endpoint string `validate:"required_if=Exporter otlp"`

	SamplingRate  float64       `validate:"gte=0,lte=1"`
	ExportTimeout time.Duration `validate:"gte=0"`

	// Insecure disables TLS towards the collector.
	Insecure bool
}

// MetricsConfig configures the Prometheus registry and its HTTP endpoint.
type MetricsConfig struct {
	Enabled       bool
	ListenAddress string `validate:"required_if=Enabled true"`
	Path          string
	Namespace     string
	Buckets       []float64
}

// EventsConfig configures lifecycle event delivery.
type EventsConfig struct {
	Enabled bool

	// BufferSize bounds the queue used when Async is set.
	BufferSize int `validate:"required_if=Async true,gte=0"`

	// Async delivers events on a background goroutine instead of the
	// publisher's.
	Async bool
}

// DefaultConfig returns the settings used by the burnet binary.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "burnet",
		ServiceVersion: "dev",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Exporter:      "none",
			SamplingRate:  1.0,
			ExportTimeout: 30 * time.Second,
			Insecure:      true,
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddress: ":9090",
			Path:          "/metrics",
			Namespace:     "burnet",
			// Store operations are sub-millisecond; tasks run for minutes
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5, 10, 30, 120, 600},
		},
		Events: EventsConfig{
			Enabled:    true,
			BufferSize: 1024,
			Async:      true,
		},
	}
}

// TestConfig returns settings for unit tests: logs are discarded and events
// are delivered before Publish returns.
func TestConfig() *Config {
	cfg := DefaultConfig()
	cfg.Logging.Level = "error"
	cfg.Logging.Output = "discard"
	cfg.Events.Async = false
	return cfg
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	return nil
}
