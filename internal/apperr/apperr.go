package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so the HTTP boundary can pick a status code
// without inspecting error strings.
type Kind int

const (
	Unexpected Kind = iota
	Invalid
	Unauthenticated
	Forbidden
	InsufficientPoints
	NoCostConfigured
	NotFound
	Conflict
	GeneratorFailure
	ContentFiltered
)

func (k Kind) String() string {
	switch k {
	case Invalid:
		return "invalid_request"
	case Unauthenticated:
		return "unauthenticated"
	case Forbidden:
		return "forbidden"
	case InsufficientPoints:
		return "insufficient_points"
	case NoCostConfigured:
		return "no_cost_configured"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case GeneratorFailure:
		return "generator_failure"
	case ContentFiltered:
		return "content_filtered"
	default:
		return "unexpected"
	}
}

// Error carries a kind plus a user-facing message. The wrapped cause, when
// present, is for logs only and must never reach the response body.
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

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a kinded error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind from err, walking the wrap chain. Anything that is
// not an *Error reports Unexpected.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unexpected
}

// MessageOf returns the user-facing message for err. Unexpected failures get
// a generic message so internal details never leak to callers.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}
