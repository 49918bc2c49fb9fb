// Package mdicerr defines the error taxonomy used across the market data
// integration core, following spec.md §7.
package mdicerr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for caller-side handling (retry vs. alert vs.
// drop) without string matching.
type Kind int

const (
	// Unknown is the zero value; Error should always set a real Kind.
	Unknown Kind = iota
	ConfigurationError
	NetworkError
	NotFound
	PermissionDenied
	DecodeError
	DecodeWarning
	StorageError
	DuplicateOrderID
	Timeout
	LaggingSubscriber
)

func (k Kind) String() string {
	switch k {
	case ConfigurationError:
		return "ConfigurationError"
	case NetworkError:
		return "NetworkError"
	case NotFound:
		return "NotFound"
	case PermissionDenied:
		return "PermissionDenied"
	case DecodeError:
		return "DecodeError"
	case DecodeWarning:
		return "DecodeWarning"
	case StorageError:
		return "StorageError"
	case DuplicateOrderID:
		return "DuplicateOrderId"
	case Timeout:
		return "Timeout"
	case LaggingSubscriber:
		return "LaggingSubscriber"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type returned by every MDIC component. Op names
// the failing operation, Symbol and Path are optional context for the
// component that raised it.
type Error struct {
	Op     string
	Kind   Kind
	Symbol string
	Path   string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Symbol != "" {
		msg += fmt.Sprintf(" symbol=%s", e.Symbol)
	}
	if e.Path != "" {
		msg += fmt.Sprintf(" path=%s", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind carried by err, walking the Unwrap chain, or
// Unknown if no *Error is found.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// IsRetryable reports whether the error's Kind represents a transient
// condition worth retrying (spec.md §7): network faults and timeouts, but
// never configuration, permission, or decode failures.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case NetworkError, Timeout:
		return true
	default:
		return false
	}
}

// New builds an Error with the given Kind and op, wrapping err.
func New(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// WithSymbol returns a copy of e with Symbol set, for chaining at the call
// site: mdicerr.New(...).WithSymbol("NQU25-CME").
func (e *Error) WithSymbol(symbol string) *Error {
	c := *e
	c.Symbol = symbol
	return &c
}

// WithPath returns a copy of e with Path set.
func (e *Error) WithPath(path string) *Error {
	c := *e
	c.Path = path
	return &c
}

// Configuration wraps err as a ConfigurationError.
func Configuration(op string, err error) *Error { return New(op, ConfigurationError, err) }

// Network wraps err as a NetworkError.
func Network(op string, err error) *Error { return New(op, NetworkError, err) }

// NotFoundf formats a NotFound error without an underlying cause.
func NotFoundf(op, format string, args ...any) *Error {
	return New(op, NotFound, fmt.Errorf(format, args...))
}

// Decode wraps err as a DecodeError.
func Decode(op string, err error) *Error { return New(op, DecodeError, err) }

// DecodeWarnf formats a DecodeWarning without an underlying cause.
func DecodeWarnf(op, format string, args ...any) *Error {
	return New(op, DecodeWarning, fmt.Errorf(format, args...))
}

// Storage wraps err as a StorageError.
func Storage(op string, err error) *Error { return New(op, StorageError, err) }

// DuplicateOrder reports a re-submission of an already-known order id.
func DuplicateOrder(op, orderID string) *Error {
	return New(op, DuplicateOrderID, fmt.Errorf("order id %q already submitted", orderID))
}
