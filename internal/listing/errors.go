package listing

import (
	"errors"
	"fmt"
)

// Kind classifies a business-rule failure.
type Kind string

const (
	KindNotFound             Kind = "not_found"
	KindInvalidInput         Kind = "invalid_input"
	KindAuthenticationFailed Kind = "authentication_failed"
	KindNoUnitAvailable      Kind = "no_unit_available"
)

// Sentinels matched by errors.Is against an *Error of the same kind.
var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidInput         = errors.New("invalid input")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrNoUnitAvailable      = errors.New("no unit available")
)

// Error is a typed, caller-visible failure of a listing operation.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel for e.Kind.
func (e *Error) Unwrap() error {
	switch e.Kind {
	case KindNotFound:
		return ErrNotFound
	case KindInvalidInput:
		return ErrInvalidInput
	case KindAuthenticationFailed:
		return ErrAuthenticationFailed
	case KindNoUnitAvailable:
		return ErrNoUnitAvailable
	}
	return nil
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func notFound(id uint64, action string) *Error {
	if action == "" {
		return newError(KindNotFound, "a house with id=%d not found", id)
	}
	return newError(KindNotFound, "couldn't %s a house with id=%d. house not found", action, id)
}

// KindOf returns the kind of a listing error, or "" for any other error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
