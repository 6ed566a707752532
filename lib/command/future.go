// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"time"
)

// Result is an accepted or rejected response.
type Result struct {
	// Description is the name the caller gave the command.
	Description string

	// Fingerprint identifies the command text in logs.
	Fingerprint string

	// Response is the raw response chunk.
	Response string

	// Elapsed runs from the write to the response.
	Elapsed time.Duration
}

// Future is a queued command whose response has not been read yet.
// Create one with [Channel.Send].
type Future struct {
	channel *Channel
	request *request
}

// Wait blocks until the command's response arrives and returns it.
// A rejected response returns both the Result and the error. If ctx is
// done first, Wait returns ctx's error and the command is abandoned:
// skipped if not yet written, otherwise its response is read and
// dropped.
func (f *Future) Wait(ctx context.Context) (*Result, error) {
	select {
	case got := <-f.request.outcome:
		return got.result, got.err
	case <-ctx.Done():
		f.request.abandoned.Store(true)
		return nil, ctx.Err()
	case <-f.channel.done:
		// The write loop may have finished this request just before
		// the channel died; prefer its outcome.
		select {
		case got := <-f.request.outcome:
			return got.result, got.err
		default:
			return nil, f.channel.Err()
		}
	}
}

// Discard marks the command abandoned. If it has not been written yet
// it never will be. Safe to call after Wait and more than once.
func (f *Future) Discard() {
	f.request.abandoned.Store(true)
}

// Fingerprint returns the command's log fingerprint.
func (f *Future) Fingerprint() string {
	return f.request.fingerprint
}
