// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the renderfarm's single CBOR configuration.
//
// CBOR is used in two places:
//
//   - the controller's control socket (one CBOR request and one CBOR
//     response per connection, see lib/service);
//   - opaque columns in the record store, such as a job's renderer
//     settings, which are a free-form name → value map.
//
// The textual command protocol spoken to worker hosts is not CBOR; it is
// raw script text (see lib/command and lib/maxscript).
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2), so the same
// settings map always produces the same bytes regardless of Go map
// iteration order. Decoding into an any-typed target yields
// map[string]any rather than map[any]any.
//
// Struct tag convention: `cbor` tags for types that only ever travel as
// CBOR, `json` tags for types that are also printed as JSON by the CLI.
// fxamacker/cbor falls back to `json` tags when `cbor` tags are absent.
package codec
