// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sessionevent carries session termination notices from the
// session service to the parts of the control plane that hold
// per-session state: the session pool (which evicts the session's
// command channel) and the job orchestrator (which cancels the
// session's active jobs).
//
// Delivery is synchronous and in-process. [Bus.Publish] calls every
// handler in subscription order before returning, so when Publish
// returns the session's resources have already been released.
package sessionevent
