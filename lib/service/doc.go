// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the controller's Unix socket API.
//
// The protocol is one CBOR request and one CBOR response per
// connection. A request is a map whose "action" field selects the
// handler; the rest of the map carries action-specific fields. The
// response is a [Response] envelope: ok, an error message and its
// fault kind on failure, or a CBOR data payload on success.
//
// [SocketServer] dispatches requests to handlers registered with
// Handle. [Client] is the matching caller used by the operator CLI.
//
// Access control is the socket file's permissions. There is no
// in-band authentication.
package service
