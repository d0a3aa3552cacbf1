package matcher

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidThreshold is returned by Build for a non-positive threshold.
	ErrInvalidThreshold = errors.New("match threshold must be positive")
	// ErrDimensionMismatch is the sentinel behind DimensionMismatchError.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// DimensionMismatchError reports an embedding whose length differs from
// the roster dimensionality.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Unwrap returns ErrDimensionMismatch.
func (e *DimensionMismatchError) Unwrap() error { return ErrDimensionMismatch }
