// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Renderfarm is the operator CLI for the render farm controller. It
// talks to the controller's control socket (--socket, or the
// RENDERFARM_SOCKET environment variable) and prints tables, or JSON
// with --json.
//
// Errors exit with a code chosen by the kind of failure: 2 when the
// controller cannot be reached, 3 for an unknown session or job, 4 for
// a conflict such as canceling a finished job, 5 for invalid input, and
// 6 for a timeout.
package main
