// Package camera opens IP cameras that expose a still-image snapshot URL.
// Each facing is an exclusive device guarded by a lock file, so two loops
// (or two processes) never read the same camera.
package camera

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/time/rate"

	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/pkg/logger"
	"github.com/okian/rollcall/pkg/metrics"
)

const maxSnapshotBytes = 16 << 20

// SnapshotSource implements model.Source over HTTP snapshot endpoints.
type SnapshotSource struct {
	urls    map[model.Facing]string
	lockDir string
	maxFPS  float64
	client  *http.Client
	now     func() time.Time
	log     logger.Logger
}

// NewSnapshotSource creates a source. Facings without a URL fail to open.
func NewSnapshotSource(opts ...Option) *SnapshotSource {
	s := &SnapshotSource{
		urls:    make(map[model.Facing]string, 2),
		lockDir: defaultLockDir(),
		maxFPS:  defaultMaxFPS,
		client:  &http.Client{Timeout: defaultTimeout},
		now:     time.Now,
		log:     logger.Get().Named("camera"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Configured reports whether facing has a snapshot URL.
func (s *SnapshotSource) Configured(facing model.Facing) bool {
	_, ok := s.urls[facing]
	return ok
}

// Open acquires the device lock for facing and returns a handle.
func (s *SnapshotSource) Open(ctx context.Context, facing model.Facing) (model.VideoHandle, error) {
	if !facing.Valid() {
		return nil, model.NewValidationError("facing", fmt.Sprintf("unknown facing %q", facing))
	}
	url, ok := s.urls[facing]
	if !ok {
		return nil, fmt.Errorf("%w: %w: %s", model.ErrDevice, ErrNotConfigured, facing)
	}

	lockPath := filepath.Join(s.lockDir, "rollcall-camera-"+string(facing)+".lock")
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%w: acquire lock: %w", model.ErrDevice, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %w: %s", model.ErrDevice, ErrBusy, facing)
	}

	s.log.Debug(ctx, "camera opened",
		logger.String("facing", string(facing)),
		logger.String("lock", lockPath))
	return &snapshotHandle{
		src:     s,
		facing:  facing,
		url:     url,
		lock:    lock,
		limiter: rate.NewLimiter(rate.Limit(s.maxFPS), 1),
	}, nil
}

type snapshotHandle struct {
	src     *SnapshotSource
	facing  model.Facing
	url     string
	limiter *rate.Limiter

	mu     sync.Mutex
	lock   *flock.Flock
	closed bool
}

// CurrentFrame fetches one snapshot, waiting for the rate limiter first.
func (h *snapshotHandle) CurrentFrame(ctx context.Context) (model.Frame, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return model.Frame{}, ErrClosed
	}
	if err := h.limiter.Wait(ctx); err != nil {
		return model.Frame{}, err
	}

	frame, err := h.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return model.Frame{}, ctx.Err()
		}
		metrics.RecordCameraError(string(h.facing))
		return model.Frame{}, fmt.Errorf("%w: %s snapshot: %w", model.ErrDevice, h.facing, err)
	}
	metrics.RecordCameraFrame(string(h.facing))
	return frame, nil
}

func (h *snapshotHandle) fetch(ctx context.Context) (model.Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return model.Frame{}, err
	}
	resp, err := h.src.client.Do(req)
	if err != nil {
		return model.Frame{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return model.Frame{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return model.Frame{}, fmt.Errorf("read body: %w", err)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" && len(data) > 0 {
		ct = http.DetectContentType(data)
	}
	return model.Frame{Data: data, ContentType: ct, CapturedAt: h.src.now()}, nil
}

// Close releases the device lock. It is idempotent.
func (h *snapshotHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if err := h.lock.Unlock(); err != nil {
		return fmt.Errorf("release %s lock: %w", h.facing, err)
	}
	return nil
}
