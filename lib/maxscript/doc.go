// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package maxscript turns worker operations into the MAXScript text a
// worker host's command listener executes.
//
// A [Client] wraps one [command.Channel] and exposes the operations the
// control plane needs: reset the scene, bind a session, point the
// host's asset paths at a workspace, open a scene file, and render a
// camera view to a PNG that the host then uploads. Each operation
// builds a script, sends it, and relies on the channel's failure
// markers ("FAIL", "Exception") to detect errors.
//
// Scripts are built with CRLF line endings. Paths are embedded in
// MAXScript string literals, so backslashes and quotes are escaped.
// Renderer settings are emitted in sorted key order so the same job
// always produces the same script.
//
// [NewFactory] returns a session pool factory that resolves the
// session's worker, dials it, and binds the session on the host.
package maxscript
