// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/renderfarm/lib/fault"
	"github.com/bureau-foundation/renderfarm/lib/schema"
)

const workerColumns = `guid, mac, ip, port, workgroup, first_seen, last_seen,
	vray_progress, cpu_usage, ram_usage, total_ram, session_guid`

// WorkerFilter selects workers. Zero fields match everything.
type WorkerFilter struct {
	GUID      string
	Workgroup string

	// SeenSince matches workers with LastSeen at or after this time.
	SeenSince time.Time

	// SeenBefore matches workers with LastSeen strictly before this
	// time.
	SeenBefore time.Time

	// Unbound matches only workers with no bound session.
	Unbound bool
}

func (f WorkerFilter) where() *whereClause {
	clause := &whereClause{}
	if f.GUID != "" {
		clause.add("guid = ?", f.GUID)
	}
	if f.Workgroup != "" {
		clause.add("workgroup = ?", f.Workgroup)
	}
	if !f.SeenSince.IsZero() {
		clause.add("last_seen >= ?", encodeTime(f.SeenSince))
	}
	if !f.SeenBefore.IsZero() {
		clause.add("last_seen < ?", encodeTime(f.SeenBefore))
	}
	if f.Unbound {
		clause.add("session_guid = ''")
	}
	return clause
}

// WorkerPatch is a partial update of a worker. Nil fields are left
// unchanged.
type WorkerPatch struct {
	SessionGUID  *string
	VrayProgress *string
	LastSeen     *time.Time
}

func (p WorkerPatch) apply(worker *schema.Worker) {
	if p.SessionGUID != nil {
		worker.SessionGUID = *p.SessionGUID
	}
	if p.VrayProgress != nil {
		worker.VrayProgress = *p.VrayProgress
	}
	if p.LastSeen != nil {
		worker.LastSeen = *p.LastSeen
	}
}

// UpsertWorker inserts the worker or, if a worker with the same GUID
// exists, overwrites every field except FirstSeen. It returns the
// stored record.
func (s *Store) UpsertWorker(ctx context.Context, worker schema.Worker) (schema.Worker, error) {
	if err := worker.Validate(); err != nil {
		return schema.Worker{}, err
	}
	var stored schema.Worker
	err := s.write(ctx, "upsert worker "+worker.GUID, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			INSERT INTO workers (`+workerColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (guid) DO UPDATE SET
				mac = excluded.mac,
				ip = excluded.ip,
				port = excluded.port,
				workgroup = excluded.workgroup,
				last_seen = excluded.last_seen,
				vray_progress = excluded.vray_progress,
				cpu_usage = excluded.cpu_usage,
				ram_usage = excluded.ram_usage,
				total_ram = excluded.total_ram,
				session_guid = excluded.session_guid`,
			&sqlitex.ExecOptions{Args: workerArgs(worker)})
		if err != nil {
			return err
		}
		var found bool
		stored, found, err = findWorker(conn, worker.GUID)
		if err != nil {
			return err
		}
		if !found {
			return fault.New(fault.Persistence, "upsert worker "+worker.GUID, "row missing after upsert")
		}
		// A heartbeat older than the stored FirstSeen would break
		// LastSeen >= FirstSeen; refuse it and roll back.
		return stored.Validate()
	})
	if err != nil {
		return schema.Worker{}, err
	}
	return stored, nil
}

// InsertWorker inserts a new worker. Returns a Conflict error if the
// GUID is taken.
func (s *Store) InsertWorker(ctx context.Context, worker schema.Worker) error {
	if err := worker.Validate(); err != nil {
		return err
	}
	return s.write(ctx, "insert worker "+worker.GUID, func(conn *sqlite.Conn) error {
		if _, found, err := findWorker(conn, worker.GUID); err != nil {
			return err
		} else if found {
			return fault.New(fault.Conflict, "insert worker "+worker.GUID, "worker already exists")
		}
		return sqlitex.Execute(conn,
			`INSERT INTO workers (`+workerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: workerArgs(worker)})
	})
}

// FindWorker returns the worker with the given GUID, or a NotFound
// error.
func (s *Store) FindWorker(ctx context.Context, guid string) (schema.Worker, error) {
	var worker schema.Worker
	err := s.read(ctx, "find worker "+guid, func(conn *sqlite.Conn) error {
		var found bool
		var err error
		worker, found, err = findWorker(conn, guid)
		if err != nil {
			return err
		}
		if !found {
			return fault.New(fault.NotFound, "find worker", "worker %s not found", guid)
		}
		return nil
	})
	return worker, err
}

// FindWorkers returns the workers matching filter, oldest first.
func (s *Store) FindWorkers(ctx context.Context, filter WorkerFilter) ([]schema.Worker, error) {
	clause := filter.where()
	var workers []schema.Worker
	err := s.read(ctx, "find workers", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT `+workerColumns+` FROM workers`+clause.String()+` ORDER BY first_seen, guid`,
			&sqlitex.ExecOptions{
				Args: clause.args,
				ResultFunc: func(stmt *sqlite.Stmt) error {
					worker, err := scanWorker(stmt)
					if err != nil {
						return err
					}
					workers = append(workers, worker)
					return nil
				},
			})
	})
	if err != nil {
		return nil, err
	}
	return workers, nil
}

// UpdateWorker applies patch to the worker with the given GUID and
// returns the updated record.
func (s *Store) UpdateWorker(ctx context.Context, guid string, patch WorkerPatch) (schema.Worker, error) {
	var updated schema.Worker
	err := s.write(ctx, "update worker "+guid, func(conn *sqlite.Conn) error {
		worker, found, err := findWorker(conn, guid)
		if err != nil {
			return err
		}
		if !found {
			return fault.New(fault.NotFound, "update worker", "worker %s not found", guid)
		}
		patch.apply(&worker)
		if err := worker.Validate(); err != nil {
			return err
		}
		err = sqlitex.Execute(conn, `
			UPDATE workers SET session_guid = ?, vray_progress = ?, last_seen = ?
			WHERE guid = ?`,
			&sqlitex.ExecOptions{Args: []any{
				worker.SessionGUID, worker.VrayProgress, encodeTime(worker.LastSeen), guid,
			}})
		if err != nil {
			return err
		}
		updated = worker
		return nil
	})
	return updated, err
}

// DeleteWorkers deletes every worker matching filter and returns the
// number deleted. An empty filter deletes all workers.
func (s *Store) DeleteWorkers(ctx context.Context, filter WorkerFilter) (int, error) {
	clause := filter.where()
	var deleted int
	err := s.write(ctx, "delete workers", func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, `DELETE FROM workers`+clause.String(),
			&sqlitex.ExecOptions{Args: clause.args}); err != nil {
			return err
		}
		deleted = conn.Changes()
		return nil
	})
	return deleted, err
}

// DeleteWorker deletes one worker and returns the record as it was.
func (s *Store) DeleteWorker(ctx context.Context, guid string) (schema.Worker, error) {
	var deleted schema.Worker
	err := s.write(ctx, "delete worker "+guid, func(conn *sqlite.Conn) error {
		worker, found, err := findWorker(conn, guid)
		if err != nil {
			return err
		}
		if !found {
			return fault.New(fault.NotFound, "delete worker", "worker %s not found", guid)
		}
		if err := sqlitex.Execute(conn, `DELETE FROM workers WHERE guid = ?`,
			&sqlitex.ExecOptions{Args: []any{guid}}); err != nil {
			return err
		}
		deleted = worker
		return nil
	})
	return deleted, err
}

func findWorker(conn *sqlite.Conn, guid string) (schema.Worker, bool, error) {
	var worker schema.Worker
	var found bool
	err := sqlitex.Execute(conn, `SELECT `+workerColumns+` FROM workers WHERE guid = ?`,
		&sqlitex.ExecOptions{
			Args: []any{guid},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var err error
				worker, err = scanWorker(stmt)
				found = err == nil
				return err
			},
		})
	return worker, found, err
}

func scanWorker(stmt *sqlite.Stmt) (schema.Worker, error) {
	worker := schema.Worker{
		GUID:         stmt.GetText("guid"),
		MAC:          stmt.GetText("mac"),
		IP:           stmt.GetText("ip"),
		Port:         int(stmt.GetInt64("port")),
		Workgroup:    stmt.GetText("workgroup"),
		FirstSeen:    decodeTime(stmt.GetInt64("first_seen")),
		LastSeen:     decodeTime(stmt.GetInt64("last_seen")),
		VrayProgress: stmt.GetText("vray_progress"),
		CPUUsage:     stmt.GetFloat("cpu_usage"),
		RAMUsage:     stmt.GetFloat("ram_usage"),
		TotalRAM:     stmt.GetFloat("total_ram"),
		SessionGUID:  stmt.GetText("session_guid"),
	}
	if err := worker.Validate(); err != nil {
		return schema.Worker{}, err
	}
	return worker, nil
}

func workerArgs(worker schema.Worker) []any {
	return []any{
		worker.GUID,
		worker.MAC,
		worker.IP,
		worker.Port,
		worker.Workgroup,
		encodeTime(worker.FirstSeen),
		encodeTime(worker.LastSeen),
		worker.VrayProgress,
		worker.CPUUsage,
		worker.RAMUsage,
		worker.TotalRAM,
		worker.SessionGUID,
	}
}
