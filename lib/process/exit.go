// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"os"

	"github.com/bureau-foundation/renderfarm/lib/fault"
)

// Exit codes by fault kind. Unclassified errors exit 1.
const (
	ExitFailure    = 1
	ExitConnection = 2
	ExitNotFound   = 3
	ExitConflict   = 4
	ExitInvalid    = 5
	ExitTimeout    = 6
)

// ExitCode returns the process status for err: 0 for nil, otherwise a
// code chosen by fault kind.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch fault.KindOf(err) {
	case fault.Connection:
		return ExitConnection
	case fault.NotFound:
		return ExitNotFound
	case fault.Conflict:
		return ExitConflict
	case fault.Schema, fault.Protocol:
		return ExitInvalid
	case fault.Timeout:
		return ExitTimeout
	default:
		return ExitFailure
	}
}

// Fatal writes "error: err" to stderr and exits with ExitCode(err).
// Use it in main() for errors from run() where the structured logger
// may not be initialized.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(ExitCode(err))
}
