// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool is the SQLite connection pool behind the
// renderfarm record store.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool and applies a fixed
// set of pragmas to every connection: WAL journaling so the sweep and
// heartbeat writers never block readers, NORMAL synchronous, a 5 second
// busy timeout, and an in-memory temp store.
//
// A [Config] may carry a DDL script and a schema version. The script
// runs on every new connection and must be idempotent (CREATE ... IF
// NOT EXISTS). The version is stamped into PRAGMA user_version; a
// database stamped with a newer version than the binary knows is
// refused rather than written with an older layout.
//
// Most callers use [Pool.Read] and [Pool.Write], which take a
// connection, run a function, and return the connection. Write wraps
// the function in an IMMEDIATE transaction so the write lock is
// acquired up front and a failing function rolls back.
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:          "/var/lib/renderfarm/records.db",
//	    Schema:        ddl,
//	    SchemaVersion: 1,
//	    Logger:        logger,
//	})
//	...
//	err = pool.Write(ctx, func(conn *sqlite.Conn) error {
//	    return sqlitex.Execute(conn, "DELETE FROM workers WHERE last_seen < ?", &sqlitex.ExecOptions{
//	        Args: []any{cutoff},
//	    })
//	})
//
// There is no query builder. Callers write SQL and use sqlitex.Execute
// for cached statements.
package sqlitepool
