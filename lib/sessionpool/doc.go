// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sessionpool holds at most one live resource per session.
//
// The resource is typically a command channel to the session's worker
// host: expensive to create, owned by exactly one session, and torn
// down when the session ends. [Pool.Get] creates it on first use.
// Concurrent first calls for the same session share a single factory
// call: the first caller installs a pending entry and starts the factory
// on its own goroutine, and every caller, the first included, waits on
// the entry. A caller whose context ends stops waiting; the creation
// carries on for the others and is only canceled by [Pool.Close].
//
// Entries leave the pool three ways:
//
//   - [Pool.Evict], called directly or by the pool's subscription to
//     session termination events. A resource evicted while it is still
//     being created is closed as soon as the factory returns and the
//     waiting callers get a Conflict error.
//   - The resource reports itself dead. If T has a Done() <-chan
//     struct{} method and that channel is closed, Get drops the entry
//     and creates a replacement.
//   - [Pool.Close] cancels creations in flight and releases everything.
//
// Factory errors are returned to every caller waiting on that creation
// and are not cached; the next Get tries again.
package sessionpool
