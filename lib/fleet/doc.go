// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fleet tracks worker host liveness from heartbeats.
//
// A worker is recent while now - LastSeen is within the recent window
// (30 seconds by default) and dead once it falls outside. Recent
// workers with no bound session are available for new sessions. Dead
// workers are deleted by [Registry.DeleteDeadWorkers], which
// [Registry.RunSweep] calls on a ticker.
//
// Queries for recent and available workers are scoped to a workgroup.
// The dead-worker sweep covers every workgroup.
//
// All time comparisons use the injected clock, so tests drive the
// window with a fake clock instead of sleeping.
package fleet
