package poller

import (
	"time"

	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/pkg/logger"
)

// Option applies a configuration option to the Controller.
type Option func(*Controller)

// WithInterval sets the tick cadence.
func WithInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithExtractTimeout bounds frame acquisition plus extraction per tick.
func WithExtractTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.extractTimeout = d
		}
	}
}

// WithFacing sets the camera opened by Start.
func WithFacing(f model.Facing) Option {
	return func(c *Controller) {
		if f.Valid() {
			c.facing = f
		}
	}
}

// WithPublisher sets where tick statuses are sent.
func WithPublisher(p Publisher) Option {
	return func(c *Controller) {
		if p != nil {
			c.publisher = p
		}
	}
}

// WithClock overrides the clock used when a frame carries no timestamp.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}
