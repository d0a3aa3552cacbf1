package queue

import "errors"

// Sentinel kinds for queue errors.
var (
	ErrClosed = errors.New("status queue closed")
	ErrFull   = errors.New("status queue full")
)
