package storage

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a storage failure. Callers branch on the kind;
// Internal failures are never recovered from.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindDuplicateEntity
	KindEntityNotFound
	KindDuplicateRelationship
)

func (k ErrorKind) String() string {
	switch k {
	case KindDuplicateEntity:
		return "duplicate entity"
	case KindEntityNotFound:
		return "entity not found"
	case KindDuplicateRelationship:
		return "duplicate relationship"
	default:
		return "internal storage error"
	}
}

// Error is the typed failure every backend method returns.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError creates a typed storage error.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapInternal wraps a driver-level failure as an internal storage error.
func WrapInternal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Msg: msg, Err: err}
}

// KindOf returns the error's storage kind, or KindInternal for non-storage
// errors, and reports whether err is a storage error at all.
func KindOf(err error) (ErrorKind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return KindInternal, false
}

// IsDuplicateEntity reports whether err is a duplicate-entity failure.
func IsDuplicateEntity(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindDuplicateEntity
}

// IsEntityNotFound reports whether err is an entity-not-found failure.
func IsEntityNotFound(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindEntityNotFound
}

// IsDuplicateRelationship reports whether err is a duplicate-relationship
// failure.
func IsDuplicateRelationship(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindDuplicateRelationship
}
