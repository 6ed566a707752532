// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fault defines the error kinds shared by the control-plane
// packages.
//
// Every error that crosses a package boundary in the core is either a
// *[Error] or wraps one, so callers can decide what to do from the kind
// instead of the message text:
//
//   - [Connection] and [Timeout]: the worker host or the transport is
//     temporarily unavailable. Retrying later may succeed.
//   - [Protocol]: the worker host answered, and the answer was a
//     rejection. Retrying the same command will not help.
//   - [NotFound]: the session, job, or worker does not exist.
//   - [Conflict]: the operation is not permitted in the current state
//     (terminal session, job already started, job already finished).
//   - [Persistence]: the record store failed.
//   - [Schema]: a stored record is malformed.
//
// Inspect with [Is], [KindOf], or [Retryable]:
//
//	if fault.Is(err, fault.NotFound) { ... }
//	if fault.Retryable(err) { retry later }
package fault
