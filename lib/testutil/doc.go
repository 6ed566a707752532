// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for renderfarm
// packages.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-deadline
// pattern so tests that wait on goroutines do not each carry their own
// time.After. They are the only place tests use real wall-clock
// timeouts; everything time-dependent inside the code under test runs
// on a fake clock.
//
// [SocketDir] returns a short directory under /tmp for Unix sockets,
// whose paths are limited to 108 bytes.
//
// [UniqueID] generates distinct identifiers for GUIDs in tests.
//
// [Logger] returns a slog.Logger that writes through t.Log so log
// lines appear next to the failing assertion.
//
// All helpers call t.Fatalf on failure.
package testutil
