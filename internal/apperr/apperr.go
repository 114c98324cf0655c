// Package apperr defines the structured error kinds returned by the engine.
//
// Every error carries a Kind, a human message and, where it applies, the
// offending input field. Kinds are matched with errors.Is against the
// exported sentinels:
//
//	if errors.Is(err, apperr.ErrConflict) {
//	    // safe to retry the whole request
//	}
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindForbidden         Kind = "forbidden"
	KindNotFound          Kind = "not_found"
	KindInvalidTransition Kind = "invalid_transition"
	KindAlreadyTerminal   Kind = "already_terminal"
	KindConflict          Kind = "conflict"
	KindCapacityExceeded  Kind = "capacity_exceeded"
	KindInternal          Kind = "internal"
)

// Sentinels for errors.Is. Each one matches any *Error of the same kind.
var (
	ErrValidation        = errors.New("validation failed")
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrAlreadyTerminal   = errors.New("already terminal")
	ErrConflict          = errors.New("concurrent modification")
	ErrCapacityExceeded  = errors.New("capacity exceeded")
	ErrInternal          = errors.New("internal error")
)

var sentinels = map[Kind]error{
	KindValidation:        ErrValidation,
	KindForbidden:         ErrForbidden,
	KindNotFound:          ErrNotFound,
	KindInvalidTransition: ErrInvalidTransition,
	KindAlreadyTerminal:   ErrAlreadyTerminal,
	KindConflict:          ErrConflict,
	KindCapacityExceeded:  ErrCapacityExceeded,
	KindInternal:          ErrInternal,
}

// Error is the structured error value returned across the engine boundary.
type Error struct {
	Kind    Kind
	Message string
	Field   string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = sentinels[e.Kind].Error()
	}
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind. AlreadyTerminal is a
// refinement of InvalidTransition and matches both.
func (e *Error) Is(target error) bool {
	if target == sentinels[e.Kind] {
		return true
	}
	return e.Kind == KindAlreadyTerminal && target == ErrInvalidTransition
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validation reports malformed input on field.
func Validation(field, format string, args ...any) *Error {
	e := newf(KindValidation, format, args...)
	e.Field = field
	return e
}

func Forbidden(format string, args ...any) *Error { return newf(KindForbidden, format, args...) }

func NotFound(format string, args ...any) *Error { return newf(KindNotFound, format, args...) }

func InvalidTransition(format string, args ...any) *Error {
	return newf(KindInvalidTransition, format, args...)
}

func AlreadyTerminal(format string, args ...any) *Error {
	return newf(KindAlreadyTerminal, format, args...)
}

func Conflict(format string, args ...any) *Error { return newf(KindConflict, format, args...) }

func CapacityExceeded(format string, args ...any) *Error {
	return newf(KindCapacityExceeded, format, args...)
}

// Internal wraps an infrastructure failure.
func Internal(err error, format string, args ...any) *Error {
	e := newf(KindInternal, format, args...)
	e.Err = err
	return e
}

// KindOf returns the kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// FieldOf returns the offending field recorded on err, if any.
func FieldOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Field
	}
	return ""
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsClientError returns true if the error is due to the caller's input or rights.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindForbidden, KindNotFound, KindInvalidTransition, KindAlreadyTerminal:
		return true
	default:
		return false
	}
}
