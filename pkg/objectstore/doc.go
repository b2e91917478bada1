// Package objectstore provides a pooled, transactional store of JSON records
// keyed by (type, ident), backed by a SQLite database file.
//
// Records are read and written through a Session, which pins one pooled
// connection and wraps one transaction:
//
//	err := store.Update(ctx, func(s *objectstore.Session) error {
//		return s.Store(ctx, "templates", "fedora", map[string]any{"memory": 1024})
//	})
//
// The pool creates at most Config.PoolSize connections over its lifetime and
// reuses them across sessions. Begin blocks while every connection is held;
// pass a context with a deadline to bound the wait.
package objectstore
