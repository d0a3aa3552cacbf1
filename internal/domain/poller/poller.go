// Package poller runs the continuous attendance loop: sample a frame,
// extract a face, match it against the roster and record attendance.
package poller

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/rollcall/internal/domain/cooldown"
	"github.com/okian/rollcall/internal/domain/matcher"
	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/pkg/logger"
	"github.com/okian/rollcall/pkg/metrics"
)

// Default loop configuration.
const (
	defaultInterval       = 3 * time.Second
	defaultExtractTimeout = 2 * time.Second
	errorLogInterval      = 30 * time.Second
)

// Snapshotter returns the current matcher for a company.
type Snapshotter interface {
	Current(ctx context.Context, companyID model.CompanyID) (*matcher.Matcher, error)
}

// Recorder makes the cooldown decision for a recognised employee.
type Recorder interface {
	TryRecord(ctx context.Context, employeeID model.EmployeeID, companyID model.CompanyID, now time.Time, confidence float64) (cooldown.Result, error)
}

// Publisher receives one status per tick.
type Publisher interface {
	Publish(ctx context.Context, s model.Status) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, model.Status) error { return nil }

// Controller owns at most one running loop. It is an explicit object: the
// caller creates it, starts and stops loops through it, and nothing about
// the loop is process-global.
type Controller struct {
	source    model.Source
	extractor model.Extractor
	roster    Snapshotter
	recorder  Recorder
	publisher Publisher

	interval       time.Duration
	extractTimeout time.Duration
	now            func() time.Time
	log            logger.Logger

	// facing is the camera the next Start opens; a successful switch
	// updates it. Guarded separately from mu, which Start holds while
	// waiting for the old loop to exit.
	facingMu sync.Mutex
	facing   model.Facing

	mu     sync.Mutex
	active *Handle
}

// NewController wires a controller. Loops are started with Start.
func NewController(source model.Source, extractor model.Extractor, roster Snapshotter, recorder Recorder, opts ...Option) (*Controller, error) {
	if source == nil || extractor == nil || roster == nil || recorder == nil {
		return nil, errors.New("poller: source, extractor, roster and recorder are required")
	}
	c := &Controller{
		source:         source,
		extractor:      extractor,
		roster:         roster,
		recorder:       recorder,
		publisher:      nopPublisher{},
		interval:       defaultInterval,
		extractTimeout: defaultExtractTimeout,
		facing:         model.FacingFront,
		now:            time.Now,
		log:            logger.Get().Named("poller"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start opens the camera and launches a loop for companyID. Any loop
// already running is stopped first. The loop outlives ctx's cancellation;
// stop it with Handle.Stop or Controller.Stop.
func (c *Controller) Start(ctx context.Context, companyID model.CompanyID) (*Handle, error) {
	if companyID == "" {
		return nil, model.NewValidationError("company_id", "no company selected")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		c.active.Stop()
		c.active = nil
	}

	facing := c.Facing()
	video, err := c.source.Open(ctx, facing)
	if err != nil {
		return nil, deviceErr(facing, err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &Handle{
		c:         c,
		companyID: companyID,
		facing:    facing,
		video:     video,
		cancel:    cancel,
		done:      make(chan struct{}),
		switches:  make(chan switchRequest),
		errLog:    rate.Sometimes{First: 3, Interval: errorLogInterval},
		log:       c.log.With(logger.String("company_id", string(companyID))),
	}
	c.active = h
	metrics.UpdateLoopRunning(true)
	go h.run(loopCtx)

	c.log.Info(ctx, "polling loop started",
		logger.String("company_id", string(companyID)),
		logger.String("facing", string(facing)),
		logger.Duration("interval", c.interval))
	return h, nil
}

// Stop stops the active loop, if any, and waits for it to exit.
func (c *Controller) Stop() {
	c.mu.Lock()
	h := c.active
	c.active = nil
	c.mu.Unlock()
	h.Stop()
}

// Active returns the running loop, or nil.
func (c *Controller) Active() *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		select {
		case <-c.active.done:
			return nil
		default:
		}
	}
	return c.active
}

// Facing returns the camera the next Start opens.
func (c *Controller) Facing() model.Facing {
	c.facingMu.Lock()
	defer c.facingMu.Unlock()
	return c.facing
}

func (c *Controller) setFacing(f model.Facing) {
	c.facingMu.Lock()
	c.facing = f
	c.facingMu.Unlock()
}

// Interval returns the tick cadence.
func (c *Controller) Interval() time.Duration { return c.interval }

func deviceErr(facing model.Facing, err error) error {
	if errors.Is(err, model.ErrDevice) {
		return fmt.Errorf("open %s camera: %w", facing, err)
	}
	return fmt.Errorf("open %s camera: %w: %w", facing, model.ErrDevice, err)
}

type switchRequest struct {
	facing model.Facing
	reply  chan error
}

// Handle is one running loop.
type Handle struct {
	c         *Controller
	companyID model.CompanyID
	cancel    context.CancelFunc
	done      chan struct{}
	stopOnce  sync.Once
	switches  chan switchRequest
	errLog    rate.Sometimes
	log       logger.Logger

	mu     sync.Mutex
	facing model.Facing
	video  model.VideoHandle // owned by the loop goroutine
}

// Stop cancels the loop and returns once its goroutine has exited. It is
// safe to call more than once, concurrently, and on a nil Handle.
func (h *Handle) Stop() {
	if h == nil {
		return
	}
	h.stopOnce.Do(h.cancel)
	<-h.done
}

// Done is closed when the loop goroutine has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// CompanyID returns the company this loop records attendance for.
func (h *Handle) CompanyID() model.CompanyID { return h.companyID }

// Facing returns the camera currently in use.
func (h *Handle) Facing() model.Facing {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.facing
}

// SwitchFacing changes cameras between ticks. The old camera is closed
// before the new one is opened.
func (h *Handle) SwitchFacing(ctx context.Context, facing model.Facing) error {
	if !facing.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidFacing, facing)
	}
	req := switchRequest{facing: facing, reply: make(chan error, 1)}
	select {
	case h.switches <- req:
	case <-h.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-h.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) run(ctx context.Context) {
	ticker := time.NewTicker(h.c.interval)
	defer func() {
		ticker.Stop()
		h.closeVideo()
		metrics.UpdateLoopRunning(false)
		h.log.Info(context.Background(), "polling loop stopped")
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-h.switches:
			req.reply <- h.switchTo(ctx, req.facing)
		case <-ticker.C:
			// Stop may race with the ticker; never start a tick after it
			if ctx.Err() != nil {
				return
			}
			st, ok := h.tick(ctx)
			if !ok {
				continue
			}
			metrics.RecordTick(string(st.Kind))
			if err := h.c.publisher.Publish(ctx, st); err != nil {
				h.log.Debug(ctx, "status not published", logger.Error(err))
			}
		}
	}
}

func (h *Handle) closeVideo() {
	h.mu.Lock()
	v := h.video
	h.video = nil
	h.mu.Unlock()
	if v != nil {
		if err := v.Close(); err != nil {
			h.log.Warn(context.Background(), "closing camera failed", logger.Error(err))
		}
	}
}

func (h *Handle) switchTo(ctx context.Context, facing model.Facing) error {
	h.closeVideo()

	h.mu.Lock()
	h.facing = facing
	h.mu.Unlock()

	video, err := h.c.source.Open(ctx, facing)
	if err != nil {
		h.log.Warn(ctx, "switching camera failed", logger.String("facing", string(facing)), logger.Error(err))
		return deviceErr(facing, err)
	}
	h.mu.Lock()
	h.video = video
	h.mu.Unlock()
	h.c.setFacing(facing)
	h.log.Info(ctx, "camera switched", logger.String("facing", string(facing)))
	return nil
}

// currentVideo returns the open camera, reopening it after a failed switch.
func (h *Handle) currentVideo(ctx context.Context) (model.VideoHandle, error) {
	h.mu.Lock()
	v, facing := h.video, h.facing
	h.mu.Unlock()
	if v != nil {
		return v, nil
	}
	v, err := h.c.source.Open(ctx, facing)
	if err != nil {
		return nil, deviceErr(facing, err)
	}
	h.mu.Lock()
	h.video = v
	h.mu.Unlock()
	return v, nil
}

// tick runs one frame through the pipeline. ok is false when the loop is
// being stopped and nothing should be published.
func (h *Handle) tick(ctx context.Context) (st model.Status, ok bool) {
	st = model.Status{CompanyID: h.companyID, Facing: h.Facing(), At: h.c.now()}
	fail := func(err error) (model.Status, bool) {
		if ctx.Err() != nil {
			return model.Status{}, false
		}
		metrics.RecordErrorByComponent("poller", "tick")
		h.errLog.Do(func() {
			h.log.Warn(ctx, "tick failed", logger.Error(err))
		})
		st.Kind = model.StatusError
		st.Err = err
		return st, true
	}

	start := time.Now()
	tctx, cancel := context.WithTimeout(ctx, h.c.extractTimeout)
	defer cancel()

	video, err := h.currentVideo(tctx)
	if err != nil {
		return fail(err)
	}
	frame, err := video.CurrentFrame(tctx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			st.Kind = model.StatusNoFace
			return st, true
		}
		return fail(fmt.Errorf("acquire frame: %w", err))
	}
	if !frame.CapturedAt.IsZero() {
		st.At = frame.CapturedAt
	}

	emb, err := h.c.extractor.Extract(tctx, frame)
	metrics.RecordExtractLatency(float64(time.Since(start).Microseconds()) / 1000)
	switch {
	case errors.Is(err, model.ErrNoFaceDetected):
		st.Kind = model.StatusNoFace
		return st, true
	case err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded):
		// a slow extraction counts as no face this tick
		st.Kind = model.StatusNoFace
		return st, true
	case err != nil:
		return fail(fmt.Errorf("extract embedding: %w", err))
	}

	m, err := h.c.roster.Current(ctx, h.companyID)
	if err != nil {
		return fail(err)
	}
	res, err := m.Match(emb)
	if err != nil {
		return fail(err)
	}
	if !math.IsInf(res.Distance, 0) {
		metrics.RecordMatchDistance(res.Distance)
	}
	st.Distance = res.Distance
	if !res.Known {
		st.Kind = model.StatusUnknown
		return st, true
	}

	st.EmployeeID = res.EmployeeID
	out, err := h.c.recorder.TryRecord(ctx, res.EmployeeID, h.companyID, st.At, res.Distance)
	if err != nil {
		return fail(err)
	}
	switch out.Outcome {
	case cooldown.Recorded:
		st.Kind = model.StatusRecorded
		st.Record = out.Record
	default:
		st.Kind = model.StatusSuppressed
		st.Record = out.Latest
	}
	return st, true
}
