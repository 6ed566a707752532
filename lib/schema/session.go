// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"time"

	"github.com/bureau-foundation/renderfarm/lib/fault"
)

// SessionState is the lifecycle state derived from a session's
// terminal flags.
type SessionState string

const (
	SessionOpen    SessionState = "open"
	SessionClosed  SessionState = "closed"
	SessionExpired SessionState = "expired"
	SessionFailed  SessionState = "failed"
)

// Session is a bounded-lifetime client interaction scope. Sessions are
// created and terminated by the session service; the control plane
// reads them to find the bound worker and to refuse work for sessions
// that have ended.
type Session struct {
	GUID string `json:"guid"`

	// APIKey is the credential that owns the session.
	APIKey string `json:"api_key"`

	// TTLSeconds is the idle lifetime after which the session service
	// expires the session.
	TTLSeconds int `json:"ttl_seconds"`

	// WorkerGUID is the worker host bound to this session. Commands for
	// the session's jobs are sent to this worker.
	WorkerGUID string `json:"worker_guid"`

	SceneFilename string `json:"scene_filename,omitempty"`
	WorkspaceGUID string `json:"workspace_guid"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`

	// At most one of Closed, Expired, Failed is set. Once set, the
	// session is terminal and only ClosedAt and FailReason may change.
	Closed     bool      `json:"closed,omitempty"`
	Expired    bool      `json:"expired,omitempty"`
	Failed     bool      `json:"failed,omitempty"`
	ClosedAt   time.Time `json:"closed_at,omitempty"`
	FailReason string    `json:"fail_reason,omitempty"`

	Debug bool `json:"debug,omitempty"`
}

// State returns the session's lifecycle state.
func (s Session) State() SessionState {
	switch {
	case s.Failed:
		return SessionFailed
	case s.Expired:
		return SessionExpired
	case s.Closed:
		return SessionClosed
	default:
		return SessionOpen
	}
}

// Terminal reports whether the session has ended.
func (s Session) Terminal() bool {
	return s.State() != SessionOpen
}

// Validate checks the session's identity and that at most one terminal
// flag is set.
func (s Session) Validate() error {
	if s.GUID == "" {
		return fault.New(fault.Schema, "session", "guid is required")
	}
	flags := 0
	for _, set := range []bool{s.Closed, s.Expired, s.Failed} {
		if set {
			flags++
		}
	}
	if flags > 1 {
		return fault.New(fault.Schema, "session "+s.GUID, "more than one terminal flag set")
	}
	if s.FailReason != "" && !s.Failed {
		return fault.New(fault.Schema, "session "+s.GUID, "fail_reason set on a session that has not failed")
	}
	return nil
}
