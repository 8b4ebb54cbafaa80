// Package errs defines the error taxonomy shared by domain services, storage
// adapters and the HTTP layer.
//
// Each kind has a sentinel (ErrNotFound, ErrValidation, ErrConflict,
// ErrTransient) and a typed error carrying details. Typed errors match their
// sentinel through errors.Is, so callers branch on the kind and log the details.
package errs

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound is matched by lookup misses.
	ErrNotFound = errors.New("not found")
	// ErrValidation is matched by input and eligibility violations.
	ErrValidation = errors.New("validation failed")
	// ErrConflict is matched by storage-level uniqueness violations.
	ErrConflict = errors.New("conflict")
	// ErrTransient is matched by retryable infrastructure failures.
	ErrTransient = errors.New("temporarily unavailable")
)

// NotFoundError reports that an entity with the given key does not exist.
type NotFoundError struct {
	Entity string
	Key    string
}

// NotFound returns a NotFoundError for entity identified by key.
func NotFound(entity, key string) error {
	return &NotFoundError{Entity: entity, Key: key}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ValidationError reports a rejected input or a failed eligibility check.
//
// Package-level *ValidationError values act as distinct kinds: errors.Is
// matches them by identity and every one of them matches ErrValidation.
type ValidationError struct {
	Reason string
}

// Validation formats a new ValidationError.
func Validation(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string { return e.Reason }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ConflictError reports that another entity already owns a unique value.
type ConflictError struct {
	Entity string
	Field  string
}

// Conflict returns a ConflictError for entity on the unique field.
func Conflict(entity, field string) error {
	return &ConflictError{Entity: entity, Field: field}
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s with this %s already exists", e.Entity, e.Field)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// TransientError wraps an infrastructure failure that may succeed on retry.
type TransientError struct {
	Op  string
	Err error
}

// Transient wraps err as a TransientError for operation op.
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

func (e *TransientError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) Is(target error) bool { return target == ErrTransient }
