package objectstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/burnet/burnet/pkg/errdefs"
	"github.com/burnet/burnet/pkg/telemetry"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var validate = validator.New()

// Store is a pooled, transactional key/value store of JSON records backed by
// a SQLite database file. All record access goes through a Session.
type Store struct {
	db   *sql.DB
	pool *connPool
	cfg  Config

	logger  *telemetry.Logger
	tracer  *telemetry.Tracer
	metrics *telemetry.Metrics
	events  *telemetry.EventPublisher

	closeOnce sync.Once
	closeErr  error
}

// Open opens (creating if needed) the store at cfg.Path, applies schema
// migrations and prepares a pool of cfg.PoolSize connections. Any failure to
// create or open the database is reported as a StorageUnavailable error.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	cfg = cfg.withDefaults()
	if err := validate.Struct(cfg); err != nil {
		return nil, errdefs.Invalid("invalid object store config: %v", err)
	}

	s := &Store{
		cfg:     cfg,
		logger:  telemetry.NewNopLogger(),
		tracer:  telemetry.NewNopTracer(),
		metrics: telemetry.NewNopMetrics(),
		events:  telemetry.NewNopEventPublisher(),
	}
	for _, opt := range opts {
		opt(s)
	}

	unavailable := func(message string, err error) error {
		return errdefs.StorageUnavailable(message, err).
			WithResource(cfg.Path).
			WithOperation("open")
	}

	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, unavailable("failed to create store directory", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(cfg))
	if err != nil {
		return nil, unavailable("failed to open database", err)
	}

	// Pooled connections are held for the store's lifetime
	db.SetMaxOpenConns(cfg.PoolSize)
	db.SetMaxIdleConns(cfg.PoolSize)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, unavailable("failed to ping database", err)
	}

	if err := migrateSchema(db); err != nil {
		_ = db.Close()
		return nil, unavailable("failed to migrate schema", err)
	}

	s.db = db
	s.pool = newConnPool(db, cfg.PoolSize, s.metrics)

	s.logger.Zerolog().Info().
		Str("path", cfg.Path).
		Int("pool_size", cfg.PoolSize).
		Msg("object store opened")
	_ = s.events.PublishStoreOpened(cfg.Path, cfg.PoolSize)

	return s, nil
}

// dsn builds the modernc.org/sqlite data source name. Pragmas are applied to
// every new connection. The path is percent-encoded since SQLite parses the
// name as a URI: a raw '?', '#' or '%' would end or alter the file name.
func dsn(cfg Config) string {
	path := (&url.URL{Path: cfg.Path}).EscapedPath()
	return fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		path, cfg.BusyTimeout.Milliseconds(),
	)
}

// migrateSchema runs the embedded migrations.
func migrateSchema(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.cfg.Path
}

// Stats returns a snapshot of the connection pool.
func (s *Store) Stats() PoolStats {
	return s.pool.stats()
}

// Begin acquires a connection and starts a write session. It blocks while
// the pool is exhausted, until a connection is released or ctx is done.
// The caller must Close the session; Close after Commit is a no-op.
func (s *Store) Begin(ctx context.Context) (*Session, error) {
	return s.begin(ctx, false)
}

// BeginReadOnly starts a session that may only read records. Read-only
// sessions do not take SQLite's write lock.
func (s *Store) BeginReadOnly(ctx context.Context) (*Session, error) {
	return s.begin(ctx, true)
}

// Update runs fn inside a write session. The session commits if fn returns
// nil and rolls back otherwise; its connection is released on every path,
// including a panic in fn.
func (s *Store) Update(ctx context.Context, fn func(*Session) error) error {
	sess, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := fn(sess); err != nil {
		return err
	}
	return sess.Commit()
}

// View runs fn inside a read-only session.
func (s *Store) View(ctx context.Context, fn func(*Session) error) error {
	sess, err := s.BeginReadOnly(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := fn(sess); err != nil {
		return err
	}
	return sess.Commit()
}

// HealthCheck verifies that a pooled connection can reach the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	pc, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer s.pool.release(pc)

	if err := pc.conn.PingContext(ctx); err != nil {
		return errdefs.StorageUnavailable("health check failed", err).WithResource(s.cfg.Path)
	}
	return nil
}

// Close waits for outstanding sessions to be closed, then closes every
// pooled connection and the database. Sessions begun afterwards fail with a
// StorageUnavailable error.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = errors.Join(
			s.pool.close(context.Background()),
			s.db.Close(),
		)

		s.logger.Zerolog().Info().Str("path", s.cfg.Path).Msg("object store closed")
		_ = s.events.PublishStoreClosed(s.cfg.Path)
	})
	return s.closeErr
}

// acquire checks out a connection, classifying pool failures.
func (s *Store) acquire(ctx context.Context) (*pooledConn, error) {
	pc, err := s.pool.acquire(ctx)
	switch {
	case err == nil:
		return pc, nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	default:
		return nil, errdefs.StorageUnavailable("failed to acquire connection", err).WithResource(s.cfg.Path)
	}
}
