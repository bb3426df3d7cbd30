package core

import (
	"fmt"

	"github.com/google/uuid"
)

// Kind identifies one of the error categories surfaced at the boundary (spec §7).
type Kind string

const (
	KindQueueFull             Kind = "QUEUE_FULL"
	KindNoAgent               Kind = "NO_AGENT"
	KindNoBackendAvailable    Kind = "NO_BACKEND_AVAILABLE"
	KindDeadlineExceeded      Kind = "DEADLINE_EXCEEDED"
	KindCancelled             Kind = "CANCELLED"
	KindCircuitOpen           Kind = "CIRCUIT_OPEN"
	KindRateLimited           Kind = "RATE_LIMITED"
	KindForbidden             Kind = "FORBIDDEN"
	KindDuplicate             Kind = "DUPLICATE"
	KindUnknownFrame          Kind = "UNKNOWN_FRAME"
	KindUnsupportedProtocol   Kind = "UNSUPPORTED_PROTOCOL"
	KindCapabilityUnsupported Kind = "CAPABILITY_UNSUPPORTED"
	KindInternal              Kind = "INTERNAL"
)

// Error is the single error type crossing component boundaries in this
// runtime. It always carries a Kind so callers can branch on recoverability
// per spec §7 without string matching.
type Error struct {
	Kind    Kind
	Message string
	TraceID string
	Cause   error
	// RetryAfter is populated for KindRateLimited.
	RetryAfter int64
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Errorf builds a new *Error of the given kind. INTERNAL errors always get a
// fresh trace id so they can be correlated in the Metrics Sink and logs.
func Errorf(kind Kind, format string, args ...any) *Error {
	e := &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
	if kind == KindInternal {
		e.TraceID = uuid.NewString()
	}
	return e
}

// Wrap attaches a Kind to an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	e := Errorf(kind, format, args...)
	e.Cause = cause
	return e
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}

// KindOf extracts the Kind of err, or KindInternal if err is not an *Error.
func KindOf(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return KindInternal
}
