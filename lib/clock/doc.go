// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// The liveness windows in the fleet registry, the job timestamps written
// by the orchestrator, and the periodic dead-worker sweep all read time
// through a [Clock] instead of calling the time package directly. In
// production, [Real] delegates to the standard library. In tests, [Fake]
// returns a clock that only moves when [FakeClock.Advance] is called, so
// a heartbeat that is "31 seconds old" is exactly 31 seconds old.
//
// Goroutines that block on a fake ticker or After channel register a
// waiter. Tests call [FakeClock.WaitForTimers] before Advance to avoid
// racing the registration:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go registry.RunSweep(ctx, 10*time.Second)
//	fake.WaitForTimers(1)
//	fake.Advance(10 * time.Second)
package clock
