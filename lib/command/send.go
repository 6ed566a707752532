// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/renderfarm/lib/fault"
)

// Classifier decides whether a response means the command succeeded.
// It returns nil to accept the response. A returned error without a
// fault kind is reported as fault.Protocol carrying the raw response.
type Classifier func(response string) error

// MarkerClassifier rejects any response containing one of markers.
func MarkerClassifier(markers []string) Classifier {
	return func(response string) error {
		for _, marker := range markers {
			if strings.Contains(response, marker) {
				return fmt.Errorf("unexpected response: contains %q", marker)
			}
		}
		return nil
	}
}

// request is one queued command.
type request struct {
	command     string
	description string
	classify    Classifier
	fingerprint string

	// abandoned is set when the caller stops waiting before the
	// command reaches the wire, so the write loop can skip it.
	abandoned atomic.Bool

	outcome chan outcome
}

type outcome struct {
	result *Result
	err    error
}

func (r *request) op() string {
	return "execute " + r.description
}

func (r *request) finish(result *Result, err error) {
	r.outcome <- outcome{result: result, err: err}
}

// Fingerprint returns the short BLAKE3 digest used to identify command
// text in logs.
func Fingerprint(command string) string {
	sum := blake3.Sum256([]byte(command))
	return hex.EncodeToString(sum[:8])
}

// Send queues command and returns a Future for its response. The
// description names the command in errors and logs ("renderScene").
// A nil classifier uses the channel's failure markers.
//
// An empty command is rejected with fault.Protocol without touching
// the connection. Send blocks while the queue is full; ctx bounds that
// wait.
func (c *Channel) Send(ctx context.Context, command, description string, classify Classifier) (*Future, error) {
	req := &request{
		command:     command,
		description: description,
		classify:    classify,
		outcome:     make(chan outcome, 1),
	}
	if command == "" {
		return nil, &fault.Error{Kind: fault.Protocol, Op: req.op(), Detail: "empty command"}
	}
	req.fingerprint = Fingerprint(command)

	select {
	case <-c.done:
		return nil, c.Err()
	default:
	}

	select {
	case c.queue <- req:
		return &Future{channel: c, request: req}, nil
	case <-c.done:
		return nil, c.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Execute sends command and waits for its response. It returns nil
// when the response is accepted.
//
// Cancelling ctx stops the wait but not the command: once written, the
// command's response is still consumed so it cannot be mistaken for
// the next command's.
func (c *Channel) Execute(ctx context.Context, command, description string, classify Classifier) error {
	_, err := c.Query(ctx, command, description, classify)
	return err
}

// Query is Execute for callers that need the response text.
func (c *Channel) Query(ctx context.Context, command, description string, classify Classifier) (*Result, error) {
	future, err := c.Send(ctx, command, description, classify)
	if err != nil {
		return nil, err
	}
	defer future.Discard()
	return future.Wait(ctx)
}
