package service

import (
	"errors"
	"fmt"

	"postpilot/pkg/constraints"
)

type Kind int

const (
	KindValidation Kind = iota + 1
	KindNotFound
	KindForbidden
	KindConflict
	KindInfrastructure
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return constraints.KindValidation
	case KindNotFound:
		return constraints.KindNotFound
	case KindForbidden:
		return constraints.KindForbidden
	case KindConflict:
		return constraints.KindConflict
	case KindInfrastructure:
		return constraints.KindInfrastructure
	default:
		return "unknown"
	}
}

// Error is returned by every service operation that rejects a request.
// Message is safe to show to the caller.
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

// Is matches the kind sentinels below, so callers can write
// errors.Is(err, service.ErrConflict).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrValidation     = &Error{Kind: KindValidation}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrForbidden      = &Error{Kind: KindForbidden}
	ErrConflict       = &Error{Kind: KindConflict}
	ErrInfrastructure = &Error{Kind: KindInfrastructure}
)

func validationError(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func notFound(what string) error {
	return &Error{Kind: KindNotFound, Message: what + " not found"}
}

func forbidden(what string) error {
	return &Error{Kind: KindForbidden, Message: "you do not have access to this " + what}
}

func conflict(format string, args ...any) error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func infra(msg string, err error) error {
	return &Error{Kind: KindInfrastructure, Message: msg, Err: err}
}

// KindOf returns the kind of err, or 0 when err is not a service error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
