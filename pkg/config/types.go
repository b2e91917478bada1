package config

import (
	"fmt"
	"time"

	"github.com/burnet/burnet/pkg/objectstore"
	"github.com/burnet/burnet/pkg/telemetry"
)

// Config is the burnet configuration file.
type Config struct {
	// Store configures the object store.
	Store StoreConfig `json:"store" yaml:"store"`

	// Logging configures the logger.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`

	// Tracing configures span export.
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// StoreConfig represents the object store section.
type StoreConfig struct {
	// Path is the database file.
	Path string `json:"path" yaml:"path" validate:"required"`

	// PoolSize caps the number of connections (e.g., 10).
	PoolSize int `json:"pool_size" yaml:"pool_size" validate:"min=1,max=1024"`

	// BusyTimeout is a Go duration string (e.g., "10s").
	BusyTimeout string `json:"busy_timeout" yaml:"busy_timeout" validate:"required"`
}

// LoggingConfig represents the logging section.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `json:"format" yaml:"format" validate:"oneof=console json"`
	Output string `json:"output" yaml:"output" validate:"required"`
}

// MetricsConfig represents the metrics section.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	ListenAddress string `json:"listen_address" yaml:"listen_address" validate:"required_if=Enabled true"`
	Path          string `json:"path" yaml:"path" validate:"startswith=/"`
}

// TracingConfig represents the tracing section.
type TracingConfig struct {
	Enabled      bool    `json:"enabled" yaml:"enabled"`
	Exporter     string  `json:"exporter" yaml:"exporter" validate:"oneof=none stdout otlp"`
	Endpoint     string  `json:"endpoint" yaml:"endpoint" validate:"required_if=Exporter otlp"`
	SamplingRate float64 `json:"sampling_rate" yaml:"sampling_rate" validate:"gte=0,lte=1"`
}

// ObjectStore converts the store section into object store options.
func (c *Config) ObjectStore() (objectstore.Config, error) {
	timeout, err := time.ParseDuration(c.Store.BusyTimeout)
	if err != nil {
		return objectstore.Config{}, fmt.Errorf("invalid store busy_timeout %q: %w", c.Store.BusyTimeout, err)
	}

	return objectstore.Config{
		Path:        c.Store.Path,
		PoolSize:    c.Store.PoolSize,
		BusyTimeout: timeout,
	}, nil
}

// Telemetry builds a telemetry configuration from the logging, metrics and
// tracing sections. Settings without a counterpart here keep their defaults.
func (c *Config) Telemetry() *telemetry.Config {
	tc := telemetry.DefaultConfig()

	tc.Logging.Level = c.Logging.Level
	tc.Logging.Format = c.Logging.Format
	tc.Logging.Output = c.Logging.Output

	tc.Metrics.Enabled = c.Metrics.Enabled
	if c.Metrics.ListenAddress != "" {
		tc.Metrics.ListenAddress = c.Metrics.ListenAddress
	}
	if c.Metrics.Path != "" {
		tc.Metrics.Path = c.Metrics.Path
	}

	tc.Tracing.Enabled = c.Tracing.Enabled
	tc.Tracing.Exporter = c.Tracing.Exporter
	tc.Tracing.Endpoint = c.Tracing.Endpoint
	tc.Tracing.SamplingRate = c.Tracing.SamplingRate

	return tc
}
