// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema defines the records the control plane reads and
// writes: [Worker] (one per heartbeating worker host), [Session] (owned
// by the external session service; the core only reads it), and [Job]
// (one unit of render work).
//
// Records refer to each other by GUID fields (Job.SessionGUID,
// Session.WorkerGUID, Worker.SessionGUID). They never embed each other;
// the owning service resolves a reference when it needs the other
// record.
//
// Each record has a Validate method. The record store calls it on every
// write and every read, so a malformed row surfaces as a
// [fault.Schema] error at the store boundary instead of as a silently
// zero field somewhere downstream.
package schema
