// Package apperrors defines the closed set of error kinds shared by every
// service in the billing core, and the envelope used to surface them to
// callers with a stable correlation ID.
package apperrors

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Production gates whether WithStack actually captures a trace. Set false
// in non-production builds/tests so that WithStack records a stack trace;
// errors built without WithStack never carry one.
var Production = true

// Kind is the closed set of error categories every service may return.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindConflict     Kind = "conflict"
	KindTimeout      Kind = "timeout"
	KindUnavailable  Kind = "unavailable"
	KindTransient    Kind = "transient"
	KindFatal        Kind = "fatal"
)

// Error is the envelope returned to callers: a stable kind, an opaque
// correlation ID for log lookup, and a timestamp. Cause is kept for
// %w-unwrapping but never serialized.
type Error struct {
	Kind      Kind
	ID        string
	Message   string
	At        time.Time
	Cause     error
	Stack     string // populated only in non-production builds, see WithStack
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.ID, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.ID, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with a fresh correlation ID and the current time.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, ID: uuid.New().String(), Message: message, At: time.Now()}
}

// Wrap builds an Error around an existing cause.
func Wrap(kind Kind, message string, cause error) *Error {
	e := New(kind, message)
	e.Cause = cause
	return e
}

// WithStack captures the current goroutine's stack into e.Stack, unless
// Production is true. Call it at the point an Error is first constructed,
// not where it's later wrapped or logged.
func (e *Error) WithStack() *Error {
	if Production {
		return e
	}
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	e.Stack = strings.TrimSpace(string(buf[:n]))
	return e
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		if ae, ok := err.(*Error); ok {
			return ae.Kind == kind
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
