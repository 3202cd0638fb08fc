package core

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across packages. Policy rejections are modeled as
// Outcome values, not errors; these sentinels cover fatal and transient
// conditions per the error taxonomy (Rejection / Transient / Fatal).
var (
	// ErrNoBinding means no provider is bound for a required capability.
	// This is terminal for the capability, never retried.
	ErrNoBinding = errors.New("no provider bound for capability")

	// ErrUnknownTool means the agent requested a tool absent from the
	// session's active tool set.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrSessionBusy means the per-session queue is full and the event was
	// not admitted.
	ErrSessionBusy = errors.New("session queue full")

	// ErrEngineClosed means the pipeline engine has shut down.
	ErrEngineClosed = errors.New("pipeline engine closed")
)

// TransientError marks a failure worth retrying at the call site (network
// errors, 5xx-class provider responses, timeouts on idempotent calls).
type TransientError struct {
	Err error
}

// Error implements the error interface.
func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }

// Unwrap exposes the wrapped cause.
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable. A nil err returns nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is marked retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
