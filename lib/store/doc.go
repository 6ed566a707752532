// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package store is the record store for workers, sessions, and jobs.
//
// Each record type has a small typed API keyed by GUID: insert-one,
// upsert, find-one, find-many by filter, find-one-and-update with a
// partial patch, and delete-many by filter. Patches are merges: nil
// pointer fields leave the stored value alone.
//
// Every record is validated with its schema Validate method on the way
// in and on the way out. A row that fails validation on read is
// reported as a [fault.Schema] error naming the record; it is never
// returned half-populated. Storage failures are [fault.Persistence],
// missing records [fault.NotFound], and writes that collide with an
// existing record or violate a lifecycle rule [fault.Conflict].
//
// The store is backed by [sqlitepool]. Job render settings and artifact
// URL lists are stored as CBOR blobs; timestamps are Unix nanoseconds
// with 0 meaning unset.
package store
