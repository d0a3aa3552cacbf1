package poller

import "errors"

// Sentinel kinds for polling loop errors.
var (
	// ErrStopped is returned by Handle methods once the loop has exited.
	ErrStopped = errors.New("polling loop stopped")
	// ErrInvalidFacing rejects a facing other than front or back.
	ErrInvalidFacing = errors.New("invalid camera facing")
)
