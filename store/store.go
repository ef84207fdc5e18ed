// Package store provides the shared sqlite-backed connection used by all
// bucket variants. It is a thin layer over database/sql: one DB handle per
// Open call, a bounded-timeout write lock, the transaction scope that the
// bucket operations run in, and a savepoint scope for nesting work inside
// an open transaction. The bucket types in this module run their internal
// helpers directly on the enclosing transaction and do not use Savepoint.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"
)

// BusyTimeoutMillis bounds how long a connection will wait to acquire the
// sqlite write lock before giving up.
const BusyTimeoutMillis = 5000

// DB is a single connection to a sqlite-backed store file.
//
// Exactly one *sql.DB is opened per DB value, with its pool capped at one
// open connection, so that every BEGIN IMMEDIATE taken through it is
// serialized the same way a single-threaded, single-connection caller
// would serialize them. Two DB values opened against the same path
// coordinate through sqlite's own file locking and busy timeout instead.
type DB struct {
	sql  *sql.DB
	path string
}

// Open opens (creating if necessary) the sqlite file at path. The returned
// connection issues BEGIN IMMEDIATE for every transaction (via the
// _txlock=immediate DSN parameter) and busy-waits up to BusyTimeoutMillis
// before reporting the store as unreachable.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=%d&_journal_mode=WAL", path, BusyTimeoutMillis)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, &Error{Op: "open", Err: err}
	}
	// A single physical connection preserves the "one connection used
	// serially" contract without a thread-local registry.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, &Error{Op: "open", Err: err}
	}
	return &DB{sql: sqlDB, path: path}, nil
}

// Path returns the filesystem path this DB was opened against.
func (d *DB) Path() string { return d.path }

// QueryContext runs a read directly against the pool, outside any
// explicit transaction. Used for operations (like TimeSeries.Peek) that
// the reference implementation does not wrap in BEGIN IMMEDIATE because
// they never mutate state.
func (d *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.sql.QueryContext(ctx, query, args...)
}

// Close releases the underlying connection.
func (d *DB) Close() error {
	if d == nil {
		return nil
	}
	return d.sql.Close()
}

// EnsureSchema runs a series of idempotent DDL statements (CREATE TABLE /
// INDEX IF NOT EXISTS). Safe to call on every Open, per spec: schema is
// append-only and created fresh on every connection.
func (d *DB) EnsureSchema(ctx context.Context, statements ...string) error {
	for _, stmt := range statements {
		if _, err := d.sql.ExecContext(ctx, stmt); err != nil {
			return &Error{Op: "ensure schema", Err: err}
		}
	}
	return nil
}

// Transact runs fn inside a BEGIN IMMEDIATE transaction: fn's error aborts
// and rolls back, a nil error commits. The transaction is never held across
// a sleep; callers must not block on anything but the store inside fn.
func (d *DB) Transact(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return &Error{Op: "begin immediate", Err: err}
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return &Error{Op: "commit", Err: err}
	}
	return nil
}

var savepointCounter uint64

// Savepoint wraps fn in a nested SAVEPOINT/RELEASE scope on an already-open
// transaction, so internal helpers can be composed inside a caller's
// BEGIN IMMEDIATE without caring whether they're the outermost scope.
func Savepoint(ctx context.Context, tx *sql.Tx, fn func() error) error {
	name := fmt.Sprintf("tbucket_sp%d", atomic.AddUint64(&savepointCounter, 1))
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return &Error{Op: "savepoint", Err: err}
	}
	if err := fn(); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO "+name); rbErr != nil {
			return &Error{Op: "rollback to savepoint", Err: rbErr}
		}
		_, _ = tx.ExecContext(ctx, "RELEASE "+name)
		return err
	}
	if _, err := tx.ExecContext(ctx, "RELEASE "+name); err != nil {
		return &Error{Op: "release savepoint", Err: err}
	}
	return nil
}

// Error is a StoreError: the backend failed in some way (busy timeout,
// disk error, constraint violation). It surfaces the underlying message
// unchanged, per spec.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
