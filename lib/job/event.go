// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package job

import (
	"github.com/bureau-foundation/renderfarm/lib/schema"
)

// EventKind names a job lifecycle event.
type EventKind string

const (
	Added     EventKind = "job:added"
	Updated   EventKind = "job:updated"
	Completed EventKind = "job:completed"
	Failed    EventKind = "job:failed"
	Canceled  EventKind = "job:canceled"
)

// Terminal reports whether the event ends the job.
func (k EventKind) Terminal() bool {
	return k == Completed || k == Failed || k == Canceled
}

// terminalEvent maps a terminal job state to its event.
func terminalEvent(state schema.JobState) EventKind {
	switch state {
	case schema.JobCompleted:
		return Completed
	case schema.JobCanceled:
		return Canceled
	default:
		return Failed
	}
}

// Event reports a job's state after a lifecycle step.
type Event struct {
	Kind EventKind
	Job  schema.Job
}

// Listener receives events on the goroutine that produced them: the
// job's own goroutine, or the caller of Cancel. Listeners must not
// block.
type Listener func(Event)

type listener struct {
	id   uint64
	name string
	fn   Listener
}
