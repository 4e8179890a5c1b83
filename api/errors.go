// Package api defines the public contracts shared by the reactor, wire
// codec, and messenger packages: error kinds, configuration, tasks,
// metrics, and the pluggable negotiation/dispatch hooks.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package api

import "fmt"

// Kind enumerates the error taxonomy a fallible reactor operation may
// return. These are kinds, not Go types: every Kind is carried inside a
// *Status so callers can switch on it without type assertions.
type Kind int

const (
	KindOK Kind = iota

	// KindNetworkError covers frame-too-large, socket I/O failure,
	// malformed length prefix, and duplicate call-id.
	KindNetworkError

	// KindCorruption covers missing or uninitialized required header
	// fields.
	KindCorruption

	// KindTimedOut covers a deadline elapsed for an outbound call or for
	// connection negotiation.
	KindTimedOut

	// KindServiceUnavailable covers work rejected because the reactor or
	// messenger is shutting down.
	KindServiceUnavailable

	// KindRemoteError covers a response that arrived with is_error=true.
	KindRemoteError

	// KindIOError covers a failed connect() or other local I/O failure.
	KindIOError
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "OK"
	case KindNetworkError:
		return "NetworkError"
	case KindCorruption:
		return "Corruption"
	case KindTimedOut:
		return "TimedOut"
	case KindServiceUnavailable:
		return "ServiceUnavailable"
	case KindRemoteError:
		return "RemoteError"
	case KindIOError:
		return "IOError"
	default:
		return "Unknown"
	}
}

// Status is the explicit, typed result every fallible reactor operation
// returns instead of raising an exception. A nil *Status means success.
type Status struct {
	Kind    Kind
	Message string
}

// Error implements the error interface so *Status can be returned as an
// error wherever that is more convenient for the caller.
func (s *Status) Error() string {
	if s == nil {
		return "OK"
	}
	return fmt.Sprintf("%s: %s", s.Kind, s.Message)
}

// Ok reports whether s represents success (nil or KindOK).
func (s *Status) Ok() bool {
	return s == nil || s.Kind == KindOK
}

// NewStatus builds a *Status with the given kind and a formatted message.
func NewStatus(kind Kind, format string, args ...any) *Status {
	return &Status{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// StatusOK is the canonical success value.
var StatusOK *Status

func NetworkError(format string, args ...any) *Status {
	return NewStatus(KindNetworkError, format, args...)
}

func Corruption(format string, args ...any) *Status {
	return NewStatus(KindCorruption, format, args...)
}

func TimedOut(format string, args ...any) *Status {
	return NewStatus(KindTimedOut, format, args...)
}

func ServiceUnavailable(format string, args ...any) *Status {
	return NewStatus(KindServiceUnavailable, format, args...)
}

func RemoteError(format string, args ...any) *Status {
	return NewStatus(KindRemoteError, format, args...)
}

func IOError(format string, args ...any) *Status {
	return NewStatus(KindIOError, format, args...)
}
