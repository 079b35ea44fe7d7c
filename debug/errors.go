package debug

import (
	"errors"
	"fmt"
)

// Standard errors returned by the engine and its adapters.
var (
	// ErrAdapterNotFound indicates no adapter is registered for the
	// configuration's type key. Fatal to session creation.
	ErrAdapterNotFound = errors.New("no debug adapter registered for type")

	// ErrSessionNotFound indicates an unknown session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrBreakpointNotFound indicates an unknown breakpoint id.
	ErrBreakpointNotFound = errors.New("breakpoint not found")

	// ErrConnectionFailed indicates the adapter transport could not be
	// opened after bounded retries. Fatal: the session moves to Error.
	ErrConnectionFailed = errors.New("could not connect to debug adapter")

	// ErrProcessFailed indicates the target process could not be spawned
	// or exited unexpectedly. Fatal: the session moves to Error.
	ErrProcessFailed = errors.New("target process failed")

	// ErrNoSnapshot indicates an operation needed a stack-frame snapshot
	// and none exists.
	ErrNoSnapshot = errors.New("no stack-frame snapshot available")
)

// StateError rejects an operation that is invalid for the session's
// current state. It is returned before any transport I/O, so it never
// has side effects.
type StateError struct {
	// Op is the rejected operation.
	Op string

	// State is the session state at the time of the call.
	State State

	// Required is the state the operation needs.
	Required State
}

// Error implements the error interface.
func (e *StateError) Error() string {
	return fmt.Sprintf("%s requires session state %s, current state is %s", e.Op, e.Required, e.State)
}
