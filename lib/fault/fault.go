// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fault

import (
	"errors"
	"fmt"
)

// Kind classifies an Error.
type Kind int

const (
	// Unknown is the kind of nil errors and errors that do not wrap an
	// *Error.
	Unknown Kind = iota
	Connection
	Protocol
	Timeout
	NotFound
	Conflict
	Persistence
	Schema
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case Connection:
		return "connection"
	case Protocol:
		return "protocol"
	case Timeout:
		return "timeout"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case Persistence:
		return "persistence"
	case Schema:
		return "schema"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String. Unrecognized names are
// Unknown.
func ParseKind(name string) Kind {
	for kind := Connection; kind <= Schema; kind++ {
		if kind.String() == name {
			return kind
		}
	}
	return Unknown
}

// Error is a classified control-plane error. Op names the operation
// that failed ("dial", "execute renderScene", "find job"). Detail
// carries the raw text that explains the failure, such as the worker
// host's response to a rejected command. Err is the underlying cause,
// if any.
type Error struct {
	Kind   Kind
	Op     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	message := e.Op
	if message == "" {
		message = e.Kind.String()
	}
	if e.Detail != "" {
		message += ": " + e.Detail
	}
	if e.Err != nil {
		message += ": " + e.Err.Error()
	}
	return message
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an *Error of the given kind. The detail is formatted
// with fmt.Sprintf.
func New(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// Wrap returns an *Error of the given kind wrapping err. Returns nil
// if err is nil. If err already carries a kind, that kind is kept and
// only the operation context is added.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	if existing := KindOf(err); existing != Unknown {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or
// Unknown.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return Unknown
}

// Is reports whether err's chain contains an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether err is a temporary condition (Connection
// or Timeout) that may succeed when retried.
func Retryable(err error) bool {
	switch KindOf(err) {
	case Connection, Timeout:
		return true
	default:
		return false
	}
}

// DetailOf returns the Detail of the first *Error in err's chain. For
// protocol rejections this is the worker host's raw response.
func DetailOf(err error) string {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Detail
	}
	return ""
}
