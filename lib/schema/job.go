// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"time"

	"github.com/bureau-foundation/renderfarm/lib/fault"
)

// JobState is a job's position in its lifecycle.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRendering JobState = "rendering"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCanceled  JobState = "canceled"
)

// jobTransitions lists the states reachable from each state. Terminal
// states have no outgoing transitions. queued → failed covers failures
// before the render command is issued (no worker, dial refused).
var jobTransitions = map[JobState][]JobState{
	JobQueued:    {JobRendering, JobFailed, JobCanceled},
	JobRendering: {JobCompleted, JobFailed, JobCanceled},
	JobCompleted: {},
	JobFailed:    {},
	JobCanceled:  {},
}

// Known reports whether s is one of the defined states.
func (s JobState) Known() bool {
	_, ok := jobTransitions[s]
	return ok
}

// Terminal reports whether no further transitions are possible.
func (s JobState) Terminal() bool {
	next, ok := jobTransitions[s]
	return ok && len(next) == 0
}

// CanTransition reports whether the lifecycle permits moving from s to
// next.
func (s JobState) CanTransition(next JobState) bool {
	for _, candidate := range jobTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Job is one unit of render work. A job belongs to exactly one session.
type Job struct {
	GUID        string `json:"guid"`
	SessionGUID string `json:"session_guid"`

	// WorkerGUID is the worker the job was dispatched to, copied from
	// the session when the job starts.
	WorkerGUID string `json:"worker_guid,omitempty"`

	CameraName   string `json:"camera_name"`
	RenderWidth  int    `json:"render_width"`
	RenderHeight int    `json:"render_height"`

	// RenderPreset names a preset from the render presets file. The
	// preset's settings are applied first; RenderSettings override them.
	RenderPreset   string         `json:"render_preset,omitempty"`
	RenderSettings map[string]any `json:"render_settings,omitempty"`

	State JobState `json:"state"`

	// URLs lists the public locations of the rendered artifacts. Set
	// only when State is completed.
	URLs []string `json:"urls,omitempty"`

	// FailReason is set only when State is failed.
	FailReason string `json:"fail_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ClosedAt  time.Time `json:"closed_at,omitempty"`
}

// Validate checks identity, render parameters, and that the
// state-dependent fields agree with State.
func (j Job) Validate() error {
	op := "job " + j.GUID
	switch {
	case j.GUID == "":
		return fault.New(fault.Schema, "job", "guid is required")
	case j.SessionGUID == "":
		return fault.New(fault.Schema, op, "session_guid is required")
	case !j.State.Known():
		return fault.New(fault.Schema, op, "unknown state %q", j.State)
	case j.CameraName == "":
		return fault.New(fault.Schema, op, "camera_name is required")
	case j.RenderWidth <= 0 || j.RenderHeight <= 0:
		return fault.New(fault.Schema, op, "render size %dx%d must be positive", j.RenderWidth, j.RenderHeight)
	case len(j.URLs) > 0 && j.State != JobCompleted:
		return fault.New(fault.Schema, op, "urls set on a %s job", j.State)
	case j.State == JobCompleted && len(j.URLs) == 0:
		return fault.New(fault.Schema, op, "completed job has no urls")
	case j.FailReason != "" && j.State != JobFailed:
		return fault.New(fault.Schema, op, "fail_reason set on a %s job", j.State)
	}
	return nil
}
