package cooldown

import "github.com/okian/rollcall/pkg/logger"

// Option applies a configuration option to the Recorder.
type Option func(*Recorder)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.log = l
		}
	}
}
