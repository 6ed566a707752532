// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"

	"github.com/bureau-foundation/renderfarm/lib/fault"
	"github.com/bureau-foundation/renderfarm/lib/sqlitepool"
)

// schemaVersion is stamped into the database. Bump it with every
// incompatible change to ddl.
const schemaVersion = 1

const ddl = `
CREATE TABLE IF NOT EXISTS workers (
	guid          TEXT PRIMARY KEY,
	mac           TEXT NOT NULL DEFAULT '',
	ip            TEXT NOT NULL,
	port          INTEGER NOT NULL,
	workgroup     TEXT NOT NULL,
	first_seen    INTEGER NOT NULL,
	last_seen     INTEGER NOT NULL,
	vray_progress TEXT NOT NULL DEFAULT '',
	cpu_usage     REAL NOT NULL DEFAULT 0,
	ram_usage     REAL NOT NULL DEFAULT 0,
	total_ram     REAL NOT NULL DEFAULT 0,
	session_guid  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS workers_workgroup_last_seen ON workers (workgroup, last_seen);
CREATE INDEX IF NOT EXISTS workers_last_seen ON workers (last_seen);

CREATE TABLE IF NOT EXISTS sessions (
	guid           TEXT PRIMARY KEY,
	api_key        TEXT NOT NULL DEFAULT '',
	ttl_seconds    INTEGER NOT NULL DEFAULT 0,
	worker_guid    TEXT NOT NULL DEFAULT '',
	scene_filename TEXT NOT NULL DEFAULT '',
	workspace_guid TEXT NOT NULL DEFAULT '',
	first_seen     INTEGER NOT NULL DEFAULT 0,
	last_seen      INTEGER NOT NULL DEFAULT 0,
	closed         INTEGER NOT NULL DEFAULT 0,
	expired        INTEGER NOT NULL DEFAULT 0,
	failed         INTEGER NOT NULL DEFAULT 0,
	closed_at      INTEGER NOT NULL DEFAULT 0,
	fail_reason    TEXT NOT NULL DEFAULT '',
	debug          INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS jobs (
	guid            TEXT PRIMARY KEY,
	session_guid    TEXT NOT NULL,
	worker_guid     TEXT NOT NULL DEFAULT '',
	camera_name     TEXT NOT NULL,
	render_width    INTEGER NOT NULL,
	render_height   INTEGER NOT NULL,
	render_preset   TEXT NOT NULL DEFAULT '',
	render_settings BLOB,
	state           TEXT NOT NULL,
	urls            BLOB,
	fail_reason     TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL,
	closed_at       INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS jobs_session ON jobs (session_guid);
CREATE INDEX IF NOT EXISTS jobs_state ON jobs (state);
`

// Config holds the parameters for opening a store.
type Config struct {
	// Path is the database file. The parent directory must exist.
	Path string

	// PoolSize is the connection pool size. Defaults to 4.
	PoolSize int

	Logger *slog.Logger
}

// Store is the SQLite-backed record store. It is safe for concurrent
// use.
type Store struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

// Open opens (creating if needed) the database at cfg.Path and applies
// the table layout.
func Open(cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:          cfg.Path,
		PoolSize:      poolSize,
		Schema:        ddl,
		SchemaVersion: schemaVersion,
		Logger:        logger,
	})
	if err != nil {
		return nil, fault.Wrap(fault.Persistence, "open store", err)
	}

	store := &Store{pool: pool, logger: logger}

	// Prepare one connection now so a bad path or a newer database
	// fails here instead of on the first heartbeat.
	if err := pool.Read(context.Background(), func(*sqlite.Conn) error { return nil }); err != nil {
		pool.Close()
		return nil, fault.Wrap(fault.Persistence, "open store", err)
	}
	return store, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

func (s *Store) read(ctx context.Context, op string, fn func(conn *sqlite.Conn) error) error {
	return fault.Wrap(fault.Persistence, op, s.pool.Read(ctx, fn))
}

func (s *Store) write(ctx context.Context, op string, fn func(conn *sqlite.Conn) error) error {
	return fault.Wrap(fault.Persistence, op, s.pool.Write(ctx, fn))
}

// whereClause accumulates filter conditions and their arguments.
type whereClause struct {
	conditions []string
	args       []any
}

func (w *whereClause) add(condition string, args ...any) {
	w.conditions = append(w.conditions, condition)
	w.args = append(w.args, args...)
}

func (w *whereClause) String() string {
	if len(w.conditions) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conditions, " AND ")
}

func encodeTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func decodeTime(nanos int64) time.Time {
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos).UTC()
}

func encodeBool(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func columnBytes(stmt *sqlite.Stmt, column string) []byte {
	length := stmt.GetLen(column)
	if length == 0 {
		return nil
	}
	buffer := make([]byte, length)
	stmt.GetBytes(column, buffer)
	return buffer
}
