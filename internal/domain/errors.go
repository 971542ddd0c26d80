package domain

import (
	"errors"
	"fmt"
)

// ValidationError carries a message safe to show to the chat user.
// Validation failures are never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// NewValidationError builds a user-facing validation error.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ErrScheduleInPast rejects explicit publish times that already passed.
var ErrScheduleInPast = &ValidationError{Msg: "the requested publish time is already in the past"}

// IsValidation reports whether err should surface to the user verbatim.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// InvalidTransitionError is returned when a transition guard rejects
// the requested operation. The post is left unchanged.
type InvalidTransitionError struct {
	PostID int64
	From   WorkflowState
	Op     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("post %d: cannot %s from state %q", e.PostID, e.Op, e.From)
}

// ErrPostNotFound is returned by repositories for unknown post ids.
var ErrPostNotFound = errors.New("post not found")

// ErrStaleState is returned when a guarded state update finds the post
// in a different state than expected.
var ErrStaleState = errors.New("post state changed concurrently")

// ErrRunNotFound is returned by the dispatcher for unknown run handles.
var ErrRunNotFound = errors.New("deferred run not found")

// DispatcherError wraps a failed dispatcher call after retries were
// exhausted.
type DispatcherError struct {
	Op  string
	Err error
}

func (e *DispatcherError) Error() string {
	return fmt.Sprintf("dispatcher %s: %v", e.Op, e.Err)
}

func (e *DispatcherError) Unwrap() error { return e.Err }

// AdapterError records a platform publish failure. Failures are kept
// per platform and never roll back other platforms' publishes.
type AdapterError struct {
	Platform string
	Err      error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("platform %s: %v", e.Platform, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }
