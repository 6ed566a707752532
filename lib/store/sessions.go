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

const sessionColumns = `guid, api_key, ttl_seconds, worker_guid, scene_filename,
	workspace_guid, first_seen, last_seen, closed, expired, failed, closed_at,
	fail_reason, debug`

// SessionPatch is a partial update of an open session. Nil fields are
// left unchanged.
type SessionPatch struct {
	WorkerGUID    *string
	SceneFilename *string
	LastSeen      *time.Time
}

// SessionFilter selects sessions. Zero fields match everything.
type SessionFilter struct {
	// Open restricts the result to sessions that have not ended.
	Open bool

	WorkerGUID string
}

func (f SessionFilter) where() *whereClause {
	clause := &whereClause{}
	if f.Open {
		clause.add("closed = 0 AND expired = 0 AND failed = 0")
	}
	if f.WorkerGUID != "" {
		clause.add("worker_guid = ?", f.WorkerGUID)
	}
	return clause
}

// InsertSession inserts a new session. Returns a Conflict error if the
// GUID is taken.
func (s *Store) InsertSession(ctx context.Context, session schema.Session) error {
	if err := session.Validate(); err != nil {
		return err
	}
	return s.write(ctx, "insert session "+session.GUID, func(conn *sqlite.Conn) error {
		if _, found, err := findSession(conn, session.GUID); err != nil {
			return err
		} else if found {
			return fault.New(fault.Conflict, "insert session "+session.GUID, "session already exists")
		}
		return sqlitex.Execute(conn, `INSERT INTO sessions (`+sessionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: sessionArgs(session)})
	})
}

// FindSession returns the session with the given GUID, or a NotFound
// error.
func (s *Store) FindSession(ctx context.Context, guid string) (schema.Session, error) {
	var session schema.Session
	err := s.read(ctx, "find session "+guid, func(conn *sqlite.Conn) error {
		var found bool
		var err error
		session, found, err = findSession(conn, guid)
		if err != nil {
			return err
		}
		if !found {
			return fault.New(fault.NotFound, "find session", "session %s not found", guid)
		}
		return nil
	})
	return session, err
}

// FindSessions returns the sessions matching filter, oldest first.
func (s *Store) FindSessions(ctx context.Context, filter SessionFilter) ([]schema.Session, error) {
	clause := filter.where()
	var sessions []schema.Session
	err := s.read(ctx, "find sessions", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT `+sessionColumns+` FROM sessions`+clause.String()+` ORDER BY first_seen, guid`,
			&sqlitex.ExecOptions{
				Args: clause.args,
				ResultFunc: func(stmt *sqlite.Stmt) error {
					session, err := scanSession(stmt)
					if err != nil {
						return err
					}
					sessions = append(sessions, session)
					return nil
				},
			})
	})
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// UpdateSession applies patch to an open session. Terminal sessions
// are immutable apart from their audit fields; patching one is a
// Conflict.
func (s *Store) UpdateSession(ctx context.Context, guid string, patch SessionPatch) (schema.Session, error) {
	var updated schema.Session
	err := s.write(ctx, "update session "+guid, func(conn *sqlite.Conn) error {
		session, found, err := findSession(conn, guid)
		if err != nil {
			return err
		}
		if !found {
			return fault.New(fault.NotFound, "update session", "session %s not found", guid)
		}
		if session.Terminal() {
			return fault.New(fault.Conflict, "update session "+guid, "session is %s", session.State())
		}
		if patch.WorkerGUID != nil {
			session.WorkerGUID = *patch.WorkerGUID
		}
		if patch.SceneFilename != nil {
			session.SceneFilename = *patch.SceneFilename
		}
		if patch.LastSeen != nil {
			session.LastSeen = *patch.LastSeen
		}
		if err := session.Validate(); err != nil {
			return err
		}
		updated = session
		return replaceSession(conn, session)
	})
	return updated, err
}

// TerminateSession moves an open session to a terminal state (closed,
// expired, or failed) and stamps ClosedAt. reason is recorded only for
// failed sessions. Terminating a session that has already ended is a
// Conflict.
func (s *Store) TerminateSession(ctx context.Context, guid string, state schema.SessionState, reason string, at time.Time) (schema.Session, error) {
	var terminated schema.Session
	err := s.write(ctx, "terminate session "+guid, func(conn *sqlite.Conn) error {
		session, found, err := findSession(conn, guid)
		if err != nil {
			return err
		}
		if !found {
			return fault.New(fault.NotFound, "terminate session", "session %s not found", guid)
		}
		if session.Terminal() {
			return fault.New(fault.Conflict, "terminate session "+guid, "session is already %s", session.State())
		}
		switch state {
		case schema.SessionClosed:
			session.Closed = true
		case schema.SessionExpired:
			session.Expired = true
		case schema.SessionFailed:
			session.Failed = true
			session.FailReason = reason
		default:
			return fault.New(fault.Conflict, "terminate session "+guid, "%q is not a terminal state", state)
		}
		session.ClosedAt = at
		if err := session.Validate(); err != nil {
			return err
		}
		terminated = session
		return replaceSession(conn, session)
	})
	return terminated, err
}

func replaceSession(conn *sqlite.Conn, session schema.Session) error {
	return sqlitex.Execute(conn, `INSERT OR REPLACE INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: sessionArgs(session)})
}

func findSession(conn *sqlite.Conn, guid string) (schema.Session, bool, error) {
	var session schema.Session
	var found bool
	err := sqlitex.Execute(conn, `SELECT `+sessionColumns+` FROM sessions WHERE guid = ?`,
		&sqlitex.ExecOptions{
			Args: []any{guid},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var err error
				session, err = scanSession(stmt)
				found = err == nil
				return err
			},
		})
	return session, found, err
}

func scanSession(stmt *sqlite.Stmt) (schema.Session, error) {
	session := schema.Session{
		GUID:          stmt.GetText("guid"),
		APIKey:        stmt.GetText("api_key"),
		TTLSeconds:    int(stmt.GetInt64("ttl_seconds")),
		WorkerGUID:    stmt.GetText("worker_guid"),
		SceneFilename: stmt.GetText("scene_filename"),
		WorkspaceGUID: stmt.GetText("workspace_guid"),
		FirstSeen:     decodeTime(stmt.GetInt64("first_seen")),
		LastSeen:      decodeTime(stmt.GetInt64("last_seen")),
		Closed:        stmt.GetInt64("closed") != 0,
		Expired:       stmt.GetInt64("expired") != 0,
		Failed:        stmt.GetInt64("failed") != 0,
		ClosedAt:      decodeTime(stmt.GetInt64("closed_at")),
		FailReason:    stmt.GetText("fail_reason"),
		Debug:         stmt.GetInt64("debug") != 0,
	}
	if err := session.Validate(); err != nil {
		return schema.Session{}, err
	}
	return session, nil
}

func sessionArgs(session schema.Session) []any {
	return []any{
		session.GUID,
		session.APIKey,
		session.TTLSeconds,
		session.WorkerGUID,
		session.SceneFilename,
		session.WorkspaceGUID,
		encodeTime(session.FirstSeen),
		encodeTime(session.LastSeen),
		encodeBool(session.Closed),
		encodeBool(session.Expired),
		encodeBool(session.Failed),
		encodeTime(session.ClosedAt),
		session.FailReason,
		encodeBool(session.Debug),
	}
}
