// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package command is the client side of a worker host's command
// listener.
//
// A worker host accepts a long-lived TCP connection and executes the
// text it receives as one command, answering with one chunk of text.
// There is no framing and no request ID: the only way to tell which
// response belongs to which command is order. A [Channel] therefore
// never has more than one command on the wire. Commands are queued in
// FIFO order and a single goroutine writes each one and waits for the
// next inbound chunk before writing the following command.
//
// This package provides two levels of API:
//
//   - [Channel.Execute] sends a command and waits for its response,
//     returning an error if the response is rejected.
//
//   - [Channel.Send] queues a command and returns a [Future]. The
//     caller decides when to [Future.Wait], or [Future.Discard]s it.
//
// A response is rejected when the command's [Classifier] says so, or,
// without a classifier, when it contains one of the configured failure
// markers ("FAIL" or "Exception" by default, case-sensitive). The
// rejection is a fault.Protocol error whose Detail is the raw response.
//
// A transport error fails the outstanding command and every queued
// one with fault.Connection and closes the channel. A command that
// gets no response within CommandTimeout fails with fault.Timeout and
// also closes the channel, since a late response could otherwise be
// read as the answer to the next command. [Channel.Done] and
// [Channel.Err] report that the channel has died.
//
// Inbound data that arrives while no command is outstanding is logged
// and discarded.
//
// Commands are logged by a short BLAKE3 fingerprint rather than their
// text; scripts can be long and may carry scene paths.
package command
