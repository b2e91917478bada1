package objectstore

import (
	"time"

	"github.com/burnet/burnet/pkg/telemetry"
)

const (
	// DefaultPoolSize is the number of connections a store may create when
	// Config.PoolSize is zero.
	DefaultPoolSize = 10

	// DefaultBusyTimeout is how long SQLite waits on a locked database
	// before reporting SQLITE_BUSY.
	DefaultBusyTimeout = 10 * time.Second
)

// Config holds object store configuration.
type Config struct {
	// Path is the database file. Its parent directory is created if absent.
	Path string `validate:"required"`

	// PoolSize caps the number of distinct connections ever created.
	PoolSize int `validate:"min=1,max=1024"`

	// BusyTimeout bounds how long a connection waits for SQLite's write lock.
	BusyTimeout time.Duration `validate:"min=0"`
}

// withDefaults returns a copy of c with zero values replaced by defaults.
func (c Config) withDefaults() Config {
	if c.PoolSize == 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.BusyTimeout == 0 {
		c.BusyTimeout = DefaultBusyTimeout
	}
	return c
}

// Option customizes a Store.
type Option func(*Store)

// WithTelemetry attaches logging, tracing, metrics and events to the store.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(s *Store) {
		if tel == nil {
			return
		}
		s.logger = tel.Logger.NewComponentLogger("objectstore")
		s.tracer = tel.Tracer
		s.metrics = tel.Metrics
		s.events = tel.Events
	}
}

// WithLogger overrides the store logger.
func WithLogger(logger *telemetry.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}
