package cooldown

import "errors"

// ErrInvalidWindow is returned by New for a cooldown window under one minute.
var ErrInvalidWindow = errors.New("cooldown window must be at least one minute")
