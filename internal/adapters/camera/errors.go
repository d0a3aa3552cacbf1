package camera

import "errors"

var (
	// ErrNotConfigured is returned when no snapshot URL exists for a facing.
	ErrNotConfigured = errors.New("camera: facing not configured")
	// ErrBusy is returned when another handle, in this or another process,
	// holds the device.
	ErrBusy = errors.New("camera: device busy")
	// ErrClosed is returned by CurrentFrame after Close.
	ErrClosed = errors.New("camera: handle closed")
)
