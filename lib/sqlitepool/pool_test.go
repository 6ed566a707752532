// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/renderfarm/lib/sqlitepool"
)

const testSchema = `
CREATE TABLE IF NOT EXISTS numbers (value INTEGER NOT NULL);
`

func TestPragmasApplied(t *testing.T) {
	pool := openTestPool(t, filepath.Join(t.TempDir(), "test.db"), 0)

	err := pool.Read(context.Background(), func(conn *sqlite.Conn) error {
		var journalMode string
		err := sqlitex.Execute(conn, "PRAGMA journal_mode", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				journalMode = stmt.ColumnText(0)
				return nil
			},
		})
		if err != nil {
			return err
		}
		if journalMode != "wal" {
			t.Errorf("journal_mode = %q, want wal", journalMode)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
}

func TestWriteCommitsAndRollsBack(t *testing.T) {
	pool := openTestPool(t, filepath.Join(t.TempDir(), "test.db"), 0)
	ctx := context.Background()

	err := pool.Write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "INSERT INTO numbers (value) VALUES (1)", nil)
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	sentinel := errors.New("abort")
	err = pool.Write(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, "INSERT INTO numbers (value) VALUES (2)", nil); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Write error = %v, want sentinel", err)
	}

	if got := sumNumbers(t, pool); got != 1 {
		t.Errorf("sum after rollback = %d, want 1", got)
	}
}

func TestConcurrentReads(t *testing.T) {
	pool := openTestPool(t, filepath.Join(t.TempDir(), "test.db"), 0)
	err := pool.Write(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteScript(conn, "INSERT INTO numbers (value) VALUES (1), (2), (3), (4), (5);", nil)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	const readers = 8
	var waitGroup sync.WaitGroup
	failures := make(chan error, readers)
	for range readers {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			if sum := sumNumbers(t, pool); sum != 15 {
				failures <- fmt.Errorf("sum = %d, want 15", sum)
			}
		}()
	}
	waitGroup.Wait()
	close(failures)
	for err := range failures {
		t.Error(err)
	}
}

func TestSchemaVersionStampedAndNewerRefused(t *testing.T) {
	path := filepath.Join(t.TempDir(), "versioned.db")

	first, err := sqlitepool.Open(sqlitepool.Config{Path: path, PoolSize: 1, Schema: testSchema, SchemaVersion: 3})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	err = first.Read(context.Background(), func(conn *sqlite.Conn) error {
		version, err := sqlitepool.UserVersion(conn)
		if err != nil {
			return err
		}
		if version != 3 {
			t.Errorf("user_version = %d, want 3", version)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	older, err := sqlitepool.Open(sqlitepool.Config{Path: path, PoolSize: 1, Schema: testSchema, SchemaVersion: 2})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer older.Close()
	err = older.Read(context.Background(), func(*sqlite.Conn) error { return nil })
	if err == nil {
		t.Fatal("expected an older binary to refuse a newer database")
	}
}

func TestEmptyPathRejected(t *testing.T) {
	if _, err := sqlitepool.Open(sqlitepool.Config{}); err == nil {
		t.Fatal("expected error for empty Path")
	}
}

func TestTakeHonorsCanceledContext(t *testing.T) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     filepath.Join(t.TempDir(), "cancel.db"),
		PoolSize: 1,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pool.Close()

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.Take(ctx); err == nil {
		t.Fatal("expected error from canceled context")
	}
}

func sumNumbers(t *testing.T, pool *sqlitepool.Pool) int64 {
	t.Helper()
	var sum int64
	err := pool.Read(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT value FROM numbers", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				sum += stmt.ColumnInt64(0)
				return nil
			},
		})
	})
	if err != nil {
		t.Errorf("sum: %v", err)
	}
	return sum
}

func openTestPool(t *testing.T, path string, version int) *sqlitepool.Pool {
	t.Helper()
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:          path,
		PoolSize:      4,
		Schema:        testSchema,
		SchemaVersion: version,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}
