// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Renderfarm-controller is the render farm control plane. It tracks
// worker liveness from heartbeats, binds client sessions to workers,
// and runs render jobs on the bound worker over a persistent command
// connection.
//
// # Startup
//
// The controller reads a YAML configuration named by --config or the
// RENDERFARM_CONFIG environment variable, opens the SQLite record store
// at store.path, loads the render presets, and starts listening on
// control.socket_path.
//
// # Sessions
//
// A session is opened on an available worker (or a named one) and bound
// to it until the client closes it, its TTL lapses without activity, or
// its worker stops heartbeating and is swept. Every ending publishes a
// session event: the connection pool drops the session's worker
// connection and the job orchestrator cancels the session's running
// jobs.
//
// # Control socket
//
// Requests are CBOR maps with an "action" key, one request per
// connection:
//
//   - status: version, uptime, and counts
//   - workers, heartbeat: the worker registry
//   - sessions, open-session, close-session, touch-session
//   - jobs, submit-job, cancel-job
//   - sweep: delete dead workers and reap sessions immediately
//
// The sweep also runs every fleet.sweep_interval_seconds.
package main
