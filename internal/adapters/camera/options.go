package camera

import (
	"net/http"
	"os"
	"time"

	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/pkg/logger"
)

const (
	defaultMaxFPS  = 5
	defaultTimeout = 5 * time.Second
)

// Option configures a SnapshotSource.
type Option func(*SnapshotSource)

// WithURL sets the snapshot URL for a facing.
func WithURL(facing model.Facing, url string) Option {
	return func(s *SnapshotSource) {
		if url != "" {
			s.urls[facing] = url
		}
	}
}

// WithLockDir sets where device lock files are created.
func WithLockDir(dir string) Option {
	return func(s *SnapshotSource) {
		if dir != "" {
			s.lockDir = dir
		}
	}
}

// WithMaxFPS caps how often a handle fetches a snapshot.
func WithMaxFPS(fps float64) Option {
	return func(s *SnapshotSource) {
		if fps > 0 {
			s.maxFPS = fps
		}
	}
}

// WithHTTPClient replaces the snapshot client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *SnapshotSource) {
		if c != nil {
			s.client = c
		}
	}
}

// WithClock overrides the capture timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *SnapshotSource) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *SnapshotSource) {
		if l != nil {
			s.log = l
		}
	}
}

func defaultLockDir() string { return os.TempDir() }
