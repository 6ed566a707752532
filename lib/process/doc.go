// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers. These functions
// centralize the raw I/O that happens before the structured logger
// exists or after main has given up:
//
//   - Fatal error reporting to stderr when the logger may not be
//     initialized.
//   - Process exit with a status code derived from the error's fault
//     kind, so scripts driving the CLI can tell "no such job" from
//     "controller unreachable".
package process
