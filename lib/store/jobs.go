// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/renderfarm/lib/codec"
	"github.com/bureau-foundation/renderfarm/lib/fault"
	"github.com/bureau-foundation/renderfarm/lib/schema"
)

const jobColumns = `guid, session_guid, worker_guid, camera_name, render_width,
	render_height, render_preset, render_settings, state, urls, fail_reason,
	created_at, updated_at, closed_at`

// JobFilter selects jobs. Zero fields match everything.
type JobFilter struct {
	SessionGUID string

	// States restricts the result to jobs in any of these states.
	States []schema.JobState
}

func (f JobFilter) where() *whereClause {
	clause := &whereClause{}
	if f.SessionGUID != "" {
		clause.add("session_guid = ?", f.SessionGUID)
	}
	if len(f.States) > 0 {
		placeholders := make([]string, len(f.States))
		args := make([]any, len(f.States))
		for i, state := range f.States {
			placeholders[i] = "?"
			args[i] = string(state)
		}
		clause.add("state IN ("+strings.Join(placeholders, ", ")+")", args...)
	}
	return clause
}

// JobPatch is a partial update of a job. Nil fields are left
// unchanged. A State change must be a transition the job lifecycle
// permits; anything else is a Conflict, which is how a late finish
// loses to an earlier cancel.
type JobPatch struct {
	State      *schema.JobState
	WorkerGUID *string
	URLs       []string
	FailReason *string

	// UpdatedAt is always written. ClosedAt is written when non-nil.
	UpdatedAt time.Time
	ClosedAt  *time.Time
}

// InsertJob inserts a new job. Returns a Conflict error if the GUID is
// taken.
func (s *Store) InsertJob(ctx context.Context, job schema.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	args, err := jobArgs(job)
	if err != nil {
		return err
	}
	return s.write(ctx, "insert job "+job.GUID, func(conn *sqlite.Conn) error {
		if _, found, err := findJob(conn, job.GUID); err != nil {
			return err
		} else if found {
			return fault.New(fault.Conflict, "insert job "+job.GUID, "job already exists")
		}
		return sqlitex.Execute(conn, `INSERT INTO jobs (`+jobColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: args})
	})
}

// FindJob returns the job with the given GUID, or a NotFound error.
func (s *Store) FindJob(ctx context.Context, guid string) (schema.Job, error) {
	var job schema.Job
	err := s.read(ctx, "find job "+guid, func(conn *sqlite.Conn) error {
		var found bool
		var err error
		job, found, err = findJob(conn, guid)
		if err != nil {
			return err
		}
		if !found {
			return fault.New(fault.NotFound, "find job", "job %s not found", guid)
		}
		return nil
	})
	return job, err
}

// FindJobs returns the jobs matching filter in creation order.
func (s *Store) FindJobs(ctx context.Context, filter JobFilter) ([]schema.Job, error) {
	clause := filter.where()
	var jobs []schema.Job
	err := s.read(ctx, "find jobs", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT `+jobColumns+` FROM jobs`+clause.String()+` ORDER BY created_at, guid`,
			&sqlitex.ExecOptions{
				Args: clause.args,
				ResultFunc: func(stmt *sqlite.Stmt) error {
					job, err := scanJob(stmt)
					if err != nil {
						return err
					}
					jobs = append(jobs, job)
					return nil
				},
			})
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// UpdateJob applies patch to the job and returns the updated record.
func (s *Store) UpdateJob(ctx context.Context, guid string, patch JobPatch) (schema.Job, error) {
	var updated schema.Job
	err := s.write(ctx, "update job "+guid, func(conn *sqlite.Conn) error {
		job, found, err := findJob(conn, guid)
		if err != nil {
			return err
		}
		if !found {
			return fault.New(fault.NotFound, "update job", "job %s not found", guid)
		}
		if patch.State != nil && *patch.State != job.State {
			if !job.State.CanTransition(*patch.State) {
				return fault.New(fault.Conflict, "update job "+guid,
					"cannot move from %s to %s", job.State, *patch.State)
			}
			job.State = *patch.State
		}
		if patch.WorkerGUID != nil {
			job.WorkerGUID = *patch.WorkerGUID
		}
		if patch.URLs != nil {
			job.URLs = patch.URLs
		}
		if patch.FailReason != nil {
			job.FailReason = *patch.FailReason
		}
		if !patch.UpdatedAt.IsZero() {
			job.UpdatedAt = patch.UpdatedAt
		}
		if patch.ClosedAt != nil {
			job.ClosedAt = *patch.ClosedAt
		}
		if err := job.Validate(); err != nil {
			return err
		}
		args, err := jobArgs(job)
		if err != nil {
			return err
		}
		if err := sqlitex.Execute(conn, `INSERT OR REPLACE INTO jobs (`+jobColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: args}); err != nil {
			return err
		}
		updated = job
		return nil
	})
	return updated, err
}

func findJob(conn *sqlite.Conn, guid string) (schema.Job, bool, error) {
	var job schema.Job
	var found bool
	err := sqlitex.Execute(conn, `SELECT `+jobColumns+` FROM jobs WHERE guid = ?`,
		&sqlitex.ExecOptions{
			Args: []any{guid},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var err error
				job, err = scanJob(stmt)
				found = err == nil
				return err
			},
		})
	return job, found, err
}

func scanJob(stmt *sqlite.Stmt) (schema.Job, error) {
	job := schema.Job{
		GUID:         stmt.GetText("guid"),
		SessionGUID:  stmt.GetText("session_guid"),
		WorkerGUID:   stmt.GetText("worker_guid"),
		CameraName:   stmt.GetText("camera_name"),
		RenderWidth:  int(stmt.GetInt64("render_width")),
		RenderHeight: int(stmt.GetInt64("render_height")),
		RenderPreset: stmt.GetText("render_preset"),
		State:        schema.JobState(stmt.GetText("state")),
		FailReason:   stmt.GetText("fail_reason"),
		CreatedAt:    decodeTime(stmt.GetInt64("created_at")),
		UpdatedAt:    decodeTime(stmt.GetInt64("updated_at")),
		ClosedAt:     decodeTime(stmt.GetInt64("closed_at")),
	}
	if blob := columnBytes(stmt, "render_settings"); blob != nil {
		if err := codec.Unmarshal(blob, &job.RenderSettings); err != nil {
			return schema.Job{}, fault.Wrap(fault.Schema, "job "+job.GUID+" render_settings", err)
		}
	}
	if blob := columnBytes(stmt, "urls"); blob != nil {
		if err := codec.Unmarshal(blob, &job.URLs); err != nil {
			return schema.Job{}, fault.Wrap(fault.Schema, "job "+job.GUID+" urls", err)
		}
	}
	if err := job.Validate(); err != nil {
		return schema.Job{}, err
	}
	return job, nil
}

func jobArgs(job schema.Job) ([]any, error) {
	var settings, urls []byte
	var err error
	if len(job.RenderSettings) > 0 {
		if settings, err = codec.Marshal(job.RenderSettings); err != nil {
			return nil, fault.Wrap(fault.Schema, "job "+job.GUID+" render_settings", err)
		}
	}
	if len(job.URLs) > 0 {
		if urls, err = codec.Marshal(job.URLs); err != nil {
			return nil, fault.Wrap(fault.Schema, "job "+job.GUID+" urls", err)
		}
	}
	return []any{
		job.GUID,
		job.SessionGUID,
		job.WorkerGUID,
		job.CameraName,
		job.RenderWidth,
		job.RenderHeight,
		job.RenderPreset,
		settings,
		string(job.State),
		urls,
		job.FailReason,
		encodeTime(job.CreatedAt),
		encodeTime(job.UpdatedAt),
		encodeTime(job.ClosedAt),
	}, nil
}
