package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can map them deterministically:
// the API layer to HTTP statuses, the orchestrator to skip/abort decisions.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation" // malformed input, failed source validator
	KindNotFound   ErrorKind = "not_found"
	KindAuth       ErrorKind = "auth"
	KindTransient  ErrorKind = "transient" // retriable provider failure
	KindQuota      ErrorKind = "quota"     // quota/billing; feeds the circuit breaker
	KindFetch      ErrorKind = "fetch"     // source unreachable or invalid body
	KindStorage    ErrorKind = "storage"
	KindConfig     ErrorKind = "config" // fatal at startup
)

// Error is the daemon's typed error. Message is safe to surface to API
// clients; Err carries the underlying cause for logs.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// E constructs a typed error with a formatted message.
func E(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the error kind, defaulting to storage for unclassified
// errors so unexpected failures surface as 500s rather than leaking detail.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorage
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// ErrNotFound is the bare sentinel used by storage lookups; the API layer
// converts it to a 404 envelope.
var ErrNotFound = &Error{Kind: KindNotFound, Message: "not found"}
