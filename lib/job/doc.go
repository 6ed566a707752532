// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package job drives render jobs through their lifecycle.
//
// An [Orchestrator] holds the set of active jobs. Start adds a job and
// runs it on its own goroutine: the session's renderer is fetched (from
// the session pool in production), the job is persisted as rendering,
// the render command is issued, and the outcome is persisted as
// completed or failed. Every step emits an [Event] to subscribers.
//
// Each job gets exactly one terminal event. The record store enforces
// the lifecycle transitions, so when a cancel and a finish race, the
// second writer gets a Conflict and stays silent.
//
// Cancellation is local bookkeeping. The job's context is canceled and
// the record is marked canceled, but a render already running on the
// worker host is not interrupted.
package job
