package service

import "errors"

var (
	// ErrNotStarted is returned by operations that need a started service.
	ErrNotStarted = errors.New("service not started")
	// ErrLoopNotRunning is returned when a loop operation has no active loop.
	ErrLoopNotRunning = errors.New("polling loop not running")
)
