package model

import (
	"errors"
	"fmt"
)

// Sentinel error kinds shared across layers. These allow errors.Is from callers.
var (
	// ErrNoFaceDetected is expected: skip the tick or prompt a re-capture.
	ErrNoFaceDetected = errors.New("no face detected")
	// ErrValidation marks caller input that was rejected before any write.
	ErrValidation = errors.New("validation failed")
	// ErrStorage marks a read or write failure against the roster store.
	ErrStorage = errors.New("storage failure")
	// ErrDuplicateSuppressed is returned by conditional attendance inserts
	// when a record already exists inside the cooldown window.
	ErrDuplicateSuppressed = errors.New("duplicate suppressed")
	// ErrDevice marks an unavailable camera.
	ErrDevice = errors.New("device unavailable")
	// ErrNotFound marks a missing company or employee.
	ErrNotFound = errors.New("not found")
)

// ValidationError describes which field of a request was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// StorageError wraps a driver error as ErrStorage while keeping the cause.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
