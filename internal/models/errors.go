package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures before they reach the reply path.
type ErrorKind string

const (
	// KindValidation is bad user input; the session stays on its current stage.
	KindValidation ErrorKind = "validation"
	// KindNotFound means no matching item exists.
	KindNotFound ErrorKind = "not_found"
	// KindDuplicate is a repeat vote or an already-listed item. It is an outcome, not a failure.
	KindDuplicate ErrorKind = "duplicate"
	// KindTransient wraps store failures with unknown outcome.
	KindTransient ErrorKind = "transient"
	// KindExpired is reported as an informational notice.
	KindExpired ErrorKind = "expired"
)

// GenericFailureMessage is shown to users for transient failures. Details go to the log.
const GenericFailureMessage = "Something went wrong talking to the movie database. Please try again in a moment."

// Error is the user-facing error taxonomy shared by the vote coordinator,
// selection controller and flow orchestrator.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// NewValidationError reports bad input in place.
func NewValidationError(message string) *Error {
	return newError(KindValidation, message, nil)
}

// NewNotFoundError reports a missing item.
func NewNotFoundError(message string) *Error {
	return newError(KindNotFound, message, nil)
}

// NewDuplicateError reports an existing vote or item.
func NewDuplicateError(message string) *Error {
	return newError(KindDuplicate, message, nil)
}

// NewTransientError wraps a store failure.
func NewTransientError(message string, err error) *Error {
	return newError(KindTransient, message, err)
}

// NewExpiredError reports a timed-out session or selection.
func NewExpiredError(message string) *Error {
	return newError(KindExpired, message, nil)
}

// KindOf returns the taxonomy kind of err, or "" if err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// UserMessage returns the text safe to show the user for err.
// Transient and unclassified errors collapse to GenericFailureMessage.
func UserMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return GenericFailureMessage
	}
	if e.Kind == KindTransient || e.Message == "" {
		return GenericFailureMessage
	}
	return e.Message
}
