package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Error classes shared by every domain service. Handlers map them to HTTP
// statuses through response.FromError.
var (
	ErrValidation    = errors.New("validation error")
	ErrAuthorization = errors.New("authorization error")
	ErrPrecondition  = errors.New("precondition failed")
	ErrConflict      = errors.New("conflict")
	ErrNotFound      = errors.New("not found")

	// ErrLockContention is the cause attached to conflicts produced by a
	// bounded lock wait. Such conflicts may be retried once internally.
	ErrLockContention = errors.New("lock contention")
)

var kinds = []error{ErrValidation, ErrAuthorization, ErrPrecondition, ErrConflict, ErrNotFound}

// Error carries the class of a failure plus enough context to act on it:
// the attempted operation, the entity involved and a reason.
type Error struct {
	Kind     error
	Op       string
	Entity   string
	EntityID string
	Reason   string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Entity != "" {
		b.WriteString(e.Entity)
		if e.EntityID != "" {
			b.WriteString(" ")
			b.WriteString(e.EntityID)
		}
		b.WriteString(": ")
	}
	if e.Reason != "" {
		b.WriteString(e.Reason)
	} else if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the class and the underlying cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// On attaches the entity the failure refers to.
func (e *Error) On(entity string, id any) *Error {
	e.Entity = entity
	e.EntityID = fmt.Sprint(id)
	return e
}

// Wrap records the underlying cause.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

func New(kind error, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Reason: fmt.Sprintf(format, args...)}
}

func Validation(op, format string, args ...any) *Error {
	return New(ErrValidation, op, format, args...)
}

func Authorization(op, format string, args ...any) *Error {
	return New(ErrAuthorization, op, format, args...)
}

func Precondition(op, format string, args ...any) *Error {
	return New(ErrPrecondition, op, format, args...)
}

func Conflict(op, format string, args ...any) *Error {
	return New(ErrConflict, op, format, args...)
}

func NotFound(op, format string, args ...any) *Error {
	return New(ErrNotFound, op, format, args...)
}

// KindOf returns the class sentinel of err, or nil for unclassified errors.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Retryable reports whether the caller may retry after re-reading state.
func Retryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsLockContention reports whether err came from a bounded lock wait.
func IsLockContention(err error) bool {
	return errors.Is(err, ErrLockContention)
}

// Name is a stable lower-case label for the class of err, used in itemized
// batch results.
func Name(err error) string {
	switch KindOf(err) {
	case ErrValidation:
		return "validation"
	case ErrAuthorization:
		return "authorization"
	case ErrPrecondition:
		return "precondition"
	case ErrConflict:
		return "conflict"
	case ErrNotFound:
		return "not_found"
	}
	return "internal"
}
