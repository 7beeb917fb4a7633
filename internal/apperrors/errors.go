// Package apperrors defines the error kinds surfaced by the job subsystem.
//
// Every error produced by the stores, the engine and the manager carries one
// of the kinds below so that callers (HTTP handlers, the CLI, the scheduler)
// can branch on it with errors.Is without knowing where it came from.
package apperrors

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindConfiguration Kind = "configuration"
	KindConnector     Kind = "connector"
	KindState         Kind = "state"
)

// Sentinels for errors.Is. An *Error matches the sentinel of its kind.
var (
	ErrValidation    = &Error{Kind: KindValidation, Message: "validation error"}
	ErrNotFound      = &Error{Kind: KindNotFound, Message: "not found"}
	ErrConflict      = &Error{Kind: KindConflict, Message: "conflict"}
	ErrConfiguration = &Error{Kind: KindConfiguration, Message: "configuration error"}
	ErrConnector     = &Error{Kind: KindConnector, Message: "connector error"}
	ErrState         = &Error{Kind: KindState, Message: "invalid state transition"}
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validationf(format string, args ...interface{}) error {
	return newf(KindValidation, format, args...)
}

func NotFoundf(format string, args ...interface{}) error {
	return newf(KindNotFound, format, args...)
}

func Conflictf(format string, args ...interface{}) error {
	return newf(KindConflict, format, args...)
}

func Configurationf(format string, args ...interface{}) error {
	return newf(KindConfiguration, format, args...)
}

func Statef(format string, args ...interface{}) error {
	return newf(KindState, format, args...)
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// Connector wraps an I/O failure raised by a source or sink.
func Connector(err error, message string) error {
	return Wrap(KindConnector, err, message)
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
