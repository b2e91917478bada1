package objectstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/burnet/burnet/pkg/errdefs"
	"github.com/burnet/burnet/pkg/telemetry"
)

// ErrSessionClosed is returned by operations on a committed or closed session.
var ErrSessionClosed = errors.New("session is closed")

// Value is the decoded form of a stored record.
type Value = map[string]any

const (
	upsertSQL = `INSERT INTO objects (type, id, json) VALUES (?, ?, ?)
ON CONFLICT(type, id) DO UPDATE SET json = excluded.json`
	selectSQL = `SELECT json FROM objects WHERE type = ? AND id = ?`
	listSQL   = `SELECT id FROM objects WHERE type = ? ORDER BY id`
	deleteSQL = `DELETE FROM objects WHERE type = ? AND id = ?`
)

// Session is one transaction on one pooled connection. Every operation in a
// session is atomic with respect to the session: it becomes visible to other
// sessions on Commit and is discarded on Close without Commit.
//
// A Session is not safe for concurrent use.
type Session struct {
	id       string
	store    *Store
	pc       *pooledConn
	readOnly bool
	span     trace.Span
	logger   *telemetry.Logger

	done      bool
	committed bool
}

func (s *Store) begin(ctx context.Context, readOnly bool) (*Session, error) {
	pc, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}

	stmt := "BEGIN IMMEDIATE"
	if readOnly {
		stmt = "BEGIN"
	}
	if _, err := pc.conn.ExecContext(ctx, stmt); err != nil {
		s.pool.release(pc)
		return nil, errdefs.StorageUnavailable("failed to begin transaction", err).WithResource(s.cfg.Path)
	}

	id := uuid.NewString()
	_, span := s.tracer.StartSessionSpan(ctx, id, readOnly)

	sess := &Session{
		id:       id,
		store:    s,
		pc:       pc,
		readOnly: readOnly,
		span:     span,
		logger:   s.logger.WithSessionID(id),
	}
	sess.logger.Debugf("session started (read_only=%t)", readOnly)
	return sess, nil
}

// ID returns the session's correlation id.
func (sess *Session) ID() string {
	return sess.id
}

// Store upserts value under (typ, ident). The value must encode to a JSON
// object; anything else is a serialization error.
func (sess *Session) Store(ctx context.Context, typ, ident string, value any) (err error) {
	defer sess.observe("store", time.Now(), &err)

	if err := sess.check(typ, ident); err != nil {
		return err
	}
	if sess.readOnly {
		return errdefs.Invalid("store called on a read-only session").WithOperation("store")
	}

	data, err := json.Marshal(value)
	if err != nil {
		return errdefs.Serialization("failed to encode value", err).
			WithResource(resourceName(typ, ident)).
			WithOperation("store")
	}
	if !isObject(data) {
		return errdefs.Serialization("value must encode to a JSON object", nil).
			WithResource(resourceName(typ, ident)).
			WithOperation("store")
	}

	if _, err := sess.pc.conn.ExecContext(ctx, upsertSQL, typ, ident, string(data)); err != nil {
		return sess.storageError("failed to store record", err, typ, ident, "store")
	}

	sess.logger.WithRecord(typ, ident).Debug("record stored")
	return nil
}

// Get returns a freshly decoded copy of the value stored under (typ, ident).
// Integral numbers come back as int64, others as float64.
func (sess *Session) Get(ctx context.Context, typ, ident string) (v Value, err error) {
	defer sess.observe("get", time.Now(), &err)

	data, err := sess.read(ctx, typ, ident)
	if err != nil {
		return nil, err
	}
	v, err = DecodeValue(data)
	if err != nil {
		return nil, errdefs.Serialization("failed to decode value", err).
			WithResource(resourceName(typ, ident)).
			WithOperation("get")
	}
	return v, nil
}

// GetInto decodes the value stored under (typ, ident) into out.
func (sess *Session) GetInto(ctx context.Context, typ, ident string, out any) (err error) {
	defer sess.observe("get", time.Now(), &err)

	data, err := sess.read(ctx, typ, ident)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errdefs.Serialization("failed to decode value", err).
			WithResource(resourceName(typ, ident)).
			WithOperation("get")
	}
	return nil
}

func (sess *Session) read(ctx context.Context, typ, ident string) ([]byte, error) {
	if err := sess.check(typ, ident); err != nil {
		return nil, err
	}

	var data string
	err := sess.pc.conn.QueryRowContext(ctx, selectSQL, typ, ident).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errdefs.NotFound("record not found").
			WithResource(resourceName(typ, ident)).
			WithOperation("get")
	}
	if err != nil {
		return nil, sess.storageError("failed to read record", err, typ, ident, "get")
	}
	return []byte(data), nil
}

// GetList returns the idents stored under typ in ascending order. An unknown
// type yields an empty, non-nil slice.
func (sess *Session) GetList(ctx context.Context, typ string) (idents []string, err error) {
	defer sess.observe("list", time.Now(), &err)

	if sess.done {
		return nil, ErrSessionClosed
	}
	if typ == "" {
		return nil, errdefs.Invalid("record type must not be empty").WithOperation("list")
	}

	rows, err := sess.pc.conn.QueryContext(ctx, listSQL, typ)
	if err != nil {
		return nil, sess.storageError("failed to list records", err, typ, "", "list")
	}
	defer rows.Close()

	idents = []string{}
	for rows.Next() {
		var ident string
		if err := rows.Scan(&ident); err != nil {
			return nil, sess.storageError("failed to scan ident", err, typ, "", "list")
		}
		idents = append(idents, ident)
	}
	if err := rows.Err(); err != nil {
		return nil, sess.storageError("failed to list records", err, typ, "", "list")
	}

	return idents, nil
}

// Delete removes the record stored under (typ, ident).
func (sess *Session) Delete(ctx context.Context, typ, ident string) (err error) {
	defer sess.observe("delete", time.Now(), &err)

	if err := sess.check(typ, ident); err != nil {
		return err
	}
	if sess.readOnly {
		return errdefs.Invalid("delete called on a read-only session").WithOperation("delete")
	}

	res, err := sess.pc.conn.ExecContext(ctx, deleteSQL, typ, ident)
	if err != nil {
		return sess.storageError("failed to delete record", err, typ, ident, "delete")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return sess.storageError("failed to delete record", err, typ, ident, "delete")
	}
	if n == 0 {
		return errdefs.NotFound("record not found").
			WithResource(resourceName(typ, ident)).
			WithOperation("delete")
	}

	sess.logger.WithRecord(typ, ident).Debug("record deleted")
	return nil
}

// Commit makes the session's writes visible and releases its connection.
// A failed commit rolls back.
func (sess *Session) Commit() error {
	if sess.done {
		return ErrSessionClosed
	}

	if _, err := sess.pc.conn.ExecContext(context.Background(), "COMMIT"); err != nil {
		cerr := errdefs.StorageUnavailable("failed to commit session", err).WithResource(sess.store.cfg.Path)
		telemetry.RecordError(sess.span, cerr)
		sess.finish("commit_failed")
		return cerr
	}

	sess.committed = true
	telemetry.RecordSuccess(sess.span)
	sess.finish("commit")
	return nil
}

// Close rolls back an uncommitted session and releases its connection. It is
// safe to call more than once and after Commit.
func (sess *Session) Close() error {
	if sess.done {
		return nil
	}
	sess.finish("rollback")
	return nil
}

// finish rolls back when needed, then returns the connection to the pool.
func (sess *Session) finish(outcome string) {
	if !sess.committed {
		if _, err := sess.pc.conn.ExecContext(context.Background(), "ROLLBACK"); err != nil {
			// SQLite may already have rolled back after a failed statement
			sess.logger.WithError(err).Debug("rollback failed")
		}
	}

	sess.done = true
	sess.span.End()
	sess.store.pool.release(sess.pc)
	sess.store.metrics.RecordSessionFinished(outcome)
	sess.logger.Debugf("session finished (%s)", outcome)
}

func (sess *Session) check(typ, ident string) error {
	if sess.done {
		return ErrSessionClosed
	}
	if typ == "" {
		return errdefs.Invalid("record type must not be empty")
	}
	if ident == "" {
		return errdefs.Invalid("record ident must not be empty").WithResource(typ)
	}
	return nil
}

// observe records metrics for one operation. outcome is "ok" or the error
// kind.
func (sess *Session) observe(op string, start time.Time, errp *error) {
	outcome := "ok"
	if err := *errp; err != nil {
		outcome = "error"
		if kind := errdefs.KindOf(err); kind != "" {
			outcome = string(kind)
		} else if errors.Is(err, ErrSessionClosed) {
			outcome = "closed"
		}
	}
	sess.store.metrics.RecordStoreOperation(op, outcome, time.Since(start))
	telemetry.AddOperationEvent(sess.span, op, outcome)
}

func (sess *Session) storageError(message string, err error, typ, ident, op string) error {
	e := errdefs.StorageUnavailable(message, err).WithOperation(op)
	if ident == "" {
		return e.WithResource(typ)
	}
	return e.WithResource(resourceName(typ, ident))
}

func resourceName(typ, ident string) string {
	return fmt.Sprintf("%s/%s", typ, ident)
}

func isObject(data []byte) bool {
	data = bytes.TrimSpace(data)
	return len(data) > 0 && data[0] == '{'
}
