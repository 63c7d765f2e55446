// Package status defines the error taxonomy returned by the sensor service
// core, mirroring the status codes the native sensor service returns across
// its binder boundary.
package status

import (
	"errors"
	"fmt"
)

// Kind enumerates the status codes the core can return to a caller.
type Kind int

const (
	// OK indicates success. Core functions return a nil error for OK rather
	// than an *Error with this kind; it exists so Kind has a zero value.
	OK Kind = iota
	NoInit
	BadValue
	InvalidOperation
	PermissionDenied
	AlreadyExists
	NameNotFound
	Unsupported
	TransactionFailed
	// DeadObject is never surfaced to a client; the HAL reconnection
	// protocol handles it internally. It exists so internal plumbing can
	// use the same Kind type for HAL failures.
	DeadObject
)

func (k Kind) String() string {
	switch k {
	case OK:
		return "ok"
	case NoInit:
		return "no_init"
	case BadValue:
		return "bad_value"
	case InvalidOperation:
		return "invalid_operation"
	case PermissionDenied:
		return "permission_denied"
	case AlreadyExists:
		return "already_exists"
	case NameNotFound:
		return "name_not_found"
	case Unsupported:
		return "unsupported"
	case TransactionFailed:
		return "transaction_failed"
	case DeadObject:
		return "dead_object"
	default:
		return "unknown"
	}
}

// Error wraps a Kind with a human-readable message and optional cause.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target shares the same Kind, so callers can write
// errors.Is(err, status.New(status.BadValue, "")).
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// New builds a *Error with the given kind and message.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds a *Error with the given kind, message, and underlying cause.
func Wrap(kind Kind, msg string, cause error) error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// Of returns the Kind carried by err, or OK if err is nil, or
// TransactionFailed if err is a plain, un-kinded error.
func Of(err error) Kind {
	if err == nil {
		return OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return TransactionFailed
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return Of(err) == kind
}
