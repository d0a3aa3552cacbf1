// Package service wires the attendance components together and provides
// the operations used by the HTTP API and the CLI.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/okian/rollcall/internal/adapters/camera"
	"github.com/okian/rollcall/internal/adapters/embedder"
	"github.com/okian/rollcall/internal/adapters/mq/queue"
	"github.com/okian/rollcall/internal/adapters/repository"
	"github.com/okian/rollcall/internal/adapters/repository/postgres"
	"github.com/okian/rollcall/internal/adapters/repository/sqlite"
	"github.com/okian/rollcall/internal/config"
	"github.com/okian/rollcall/internal/domain/cooldown"
	"github.com/okian/rollcall/internal/domain/enroll"
	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/internal/domain/poller"
	"github.com/okian/rollcall/internal/domain/roster"
	"github.com/okian/rollcall/internal/export"
	"github.com/okian/rollcall/pkg/logger"
	"github.com/okian/rollcall/pkg/metrics"
)

// Service owns the roster store, the extractor, the camera source and the
// polling loop controller.
type Service struct {
	mu sync.RWMutex

	cfg *config.Config

	// Core components
	store     repository.Store
	extractor model.Extractor
	source    model.Source
	roster    *roster.Index
	recorder  *cooldown.Recorder
	loop      *poller.Controller
	statuses  *queue.StatusQueue
	history   *History

	// Components opened by Start are released by Stop.
	closers []io.Closer

	now            func() time.Time
	started        bool
	stopConsumer   context.CancelFunc
	consumerDone   chan struct{}
	autostartError error

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig sets the configuration. Defaults from config.New are used otherwise.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithStore injects a roster store instead of opening one from config.
// The caller keeps ownership of it.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithExtractor injects an embedding extractor.
func WithExtractor(ex model.Extractor) Option {
	return func(s *Service) {
		if ex != nil {
			s.extractor = ex
		}
	}
}

// WithSource injects a video source.
func WithSource(src model.Source) Option {
	return func(s *Service) {
		if src != nil {
			s.source = src
		}
	}
}

// WithClock overrides the loop clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a new Service. Components are created by Start.
func New(opts ...Option) *Service {
	s := &Service{
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start initializes the service components. When a company is configured
// the polling loop is started for it; a camera failure at that point is
// logged and reported by LoopState rather than failing Start.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	if err := s.startLocked(ctx); err != nil {
		s.releaseLocked(ctx)
		s.mu.Unlock()
		return err
	}
	s.started = true
	company := model.CompanyID(s.cfg.CompanyID)
	s.mu.Unlock()

	s.logger.Info(ctx, "attendance service started",
		logger.String("store", s.cfg.StoreDriver),
		logger.String("embedder", s.cfg.EmbedderKind),
		logger.Duration("cooldown", s.cfg.Cooldown()),
		logger.Duration("poll_interval", s.cfg.PollInterval()),
		logger.Float64("match_threshold", s.cfg.MatchThreshold),
	)

	if company != "" {
		if _, err := s.StartLoop(ctx, company); err != nil {
			s.mu.Lock()
			s.autostartError = err
			s.mu.Unlock()
			s.logger.Error(ctx, "failed to autostart polling loop",
				logger.String("company_id", string(company)),
				logger.Error(err))
		}
	}
	return nil
}

func (s *Service) startLocked(ctx context.Context) error {
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if s.cfg == nil {
		s.cfg = config.New(ctx)
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	if s.store == nil {
		store, err := openStore(ctx, s.cfg)
		if err != nil {
			return err
		}
		s.store = store
		s.closers = append(s.closers, store)
	}
	if s.extractor == nil {
		ex, err := newExtractor(s.cfg)
		if err != nil {
			return err
		}
		s.extractor = ex
		if c, ok := ex.(io.Closer); ok {
			s.closers = append(s.closers, c)
		}
	}
	if s.source == nil {
		s.source = camera.NewSnapshotSource(
			camera.WithURL(model.FacingFront, s.cfg.CameraFrontURL),
			camera.WithURL(model.FacingBack, s.cfg.CameraBackURL),
			camera.WithLockDir(s.cfg.CameraLockDir),
			camera.WithMaxFPS(s.cfg.CameraMaxFPS),
		)
	}

	idx, err := roster.New(s.store, s.cfg.MatchThreshold)
	if err != nil {
		return fmt.Errorf("roster: %w", err)
	}
	s.roster = idx

	rec, err := cooldown.New(s.store, s.cfg.Cooldown())
	if err != nil {
		return fmt.Errorf("cooldown: %w", err)
	}
	s.recorder = rec

	s.statuses = queue.NewStatusQueue(queue.WithCapacity(s.cfg.StatusBuffer))
	s.history = NewHistory(s.cfg.StatusHistory)

	loop, err := poller.NewController(s.source, s.extractor, s.roster, s.recorder,
		poller.WithInterval(s.cfg.PollInterval()),
		poller.WithExtractTimeout(s.cfg.ExtractTimeout()),
		poller.WithFacing(model.Facing(s.cfg.CameraFacing)),
		poller.WithPublisher(s.statuses),
		poller.WithClock(s.now),
	)
	if err != nil {
		return fmt.Errorf("poller: %w", err)
	}
	s.loop = loop

	consumerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.stopConsumer = cancel
	s.consumerDone = make(chan struct{})
	go s.consume(consumerCtx, s.statuses.Subscribe(consumerCtx), s.history, s.consumerDone)
	return nil
}

func (s *Service) consume(ctx context.Context, in <-chan model.Status, h *History, done chan struct{}) {
	defer close(done)
	for st := range in {
		h.Add(st)
		if st.Kind == model.StatusError {
			s.logger.Debug(ctx, "tick failed",
				logger.String("company_id", string(st.CompanyID)),
				logger.String("error", st.Message()))
		}
	}
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, cfg.StoreDSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverPostgres:
		store, err := postgres.Open(ctx, cfg.StoreDSN, postgres.WithMaxOpenConns(cfg.StoreMaxOpenConns))
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverMemory:
		return repository.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("%w: unknown store driver %q", config.ErrInvalidConfig, cfg.StoreDriver)
}

func newExtractor(cfg *config.Config) (model.Extractor, error) {
	switch cfg.EmbedderKind {
	case config.EmbedderHTTP:
		return embedder.NewHTTPExtractor(cfg.EmbedderURL, embedder.WithDim(cfg.EmbedderDim)), nil
	case config.EmbedderONNX:
		ex, err := embedder.NewONNXExtractor(cfg.EmbedderModelPath, embedder.WithDim(cfg.EmbedderDim))
		if err != nil {
			return nil, err
		}
		return ex, nil
	case config.EmbedderSimulated:
		return embedder.NewSimulatedExtractor(embedder.WithDim(cfg.EmbedderDim)), nil
	}
	return nil, fmt.Errorf("%w: unknown embedder kind %q", config.ErrInvalidConfig, cfg.EmbedderKind)
}

// Stop stops the loop, drains the status bus and releases owned components.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping attendance service...")
	s.releaseLocked(ctx)
	s.started = false
	s.logger.Info(ctx, "attendance service stopped")
}

func (s *Service) releaseLocked(ctx context.Context) {
	if s.loop != nil {
		s.loop.Stop()
	}
	if s.statuses != nil {
		_ = s.statuses.Close()
	}
	if s.consumerDone != nil {
		<-s.consumerDone
		s.stopConsumer()
		s.consumerDone = nil
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		c := s.closers[i]
		if err := c.Close(); err != nil {
			s.logger.Warn(ctx, "failed to close component", logger.Error(err))
		}
		if any(s.store) == any(c) {
			s.store = nil
		}
		if any(s.extractor) == any(c) {
			s.extractor = nil
		}
	}
	s.closers = nil
}

type components struct {
	store     repository.Store
	extractor model.Extractor
	source    model.Source
	roster    *roster.Index
	recorder  *cooldown.Recorder
	loop      *poller.Controller
	history   *History
}

func (s *Service) components() (components, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return components{}, ErrNotStarted
	}
	return components{
		store:     s.store,
		extractor: s.extractor,
		source:    s.source,
		roster:    s.roster,
		recorder:  s.recorder,
		loop:      s.loop,
		history:   s.history,
	}, nil
}

// Config returns the effective configuration.
func (s *Service) Config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// CreateCompany registers a company.
func (s *Service) CreateCompany(ctx context.Context, name string) (model.Company, error) {
	c, err := s.components()
	if err != nil {
		return model.Company{}, err
	}
	name = enroll.NormalizeName(name)
	if name == "" {
		return model.Company{}, model.NewValidationError("name", "must not be empty")
	}
	company, err := c.store.InsertCompany(ctx, name)
	if err != nil {
		return model.Company{}, err
	}
	s.logger.Info(ctx, "company created",
		logger.String("company_id", string(company.ID)),
		logger.String("name", company.Name))
	return company, nil
}

// Companies lists every company.
func (s *Service) Companies(ctx context.Context) ([]model.Company, error) {
	c, err := s.components()
	if err != nil {
		return nil, err
	}
	return c.store.ListCompanies(ctx)
}

// Company returns one company or model.ErrNotFound.
func (s *Service) Company(ctx context.Context, id model.CompanyID) (model.Company, error) {
	c, err := s.components()
	if err != nil {
		return model.Company{}, err
	}
	return c.store.GetCompany(ctx, id)
}

// Employees lists a company's roster.
func (s *Service) Employees(ctx context.Context, companyID model.CompanyID) ([]model.Employee, error) {
	c, err := s.components()
	if err != nil {
		return nil, err
	}
	if _, err := c.store.GetCompany(ctx, companyID); err != nil {
		return nil, err
	}
	return c.store.ListEmployees(ctx, companyID)
}

// EnrollResult summarises one enrollment request.
type EnrollResult struct {
	Employee model.Employee
	Captured int
	Skipped  int // frames without a usable face
}

// Enroll extracts a face from every frame and creates the employee from
// the captures that had one. Frames without a face are skipped; if none
// remain the request fails validation and nothing is written.
func (s *Service) Enroll(ctx context.Context, draft model.EmployeeDraft, frames []model.Frame) (EnrollResult, error) {
	c, err := s.components()
	if err != nil {
		return EnrollResult{}, err
	}
	if _, err := c.store.GetCompany(ctx, draft.CompanyID); err != nil {
		return EnrollResult{}, err
	}
	session, err := s.newSession(c, draft.CompanyID)
	if err != nil {
		return EnrollResult{}, err
	}
	res, err := capture(ctx, session, frames)
	if err != nil {
		return res, err
	}
	emp, err := session.Commit(ctx, draft)
	if err != nil {
		return res, err
	}
	res.Employee = emp
	return res, nil
}

// AppendEmbeddings adds the faces in frames to an existing employee as one
// capture session.
func (s *Service) AppendEmbeddings(ctx context.Context, companyID model.CompanyID, employeeID model.EmployeeID, frames []model.Frame) (EnrollResult, error) {
	c, err := s.components()
	if err != nil {
		return EnrollResult{}, err
	}
	emp, err := findEmployee(ctx, c.store, companyID, employeeID)
	if err != nil {
		return EnrollResult{}, err
	}
	session, err := s.newSession(c, companyID)
	if err != nil {
		return EnrollResult{}, err
	}
	res, err := capture(ctx, session, frames)
	if err != nil {
		return res, err
	}
	if err := session.AppendTo(ctx, employeeID); err != nil {
		return res, err
	}
	if updated, err := findEmployee(ctx, c.store, companyID, employeeID); err == nil {
		emp = updated
	}
	res.Employee = emp
	return res, nil
}

func (s *Service) newSession(c components, companyID model.CompanyID) (*enroll.Session, error) {
	return enroll.NewSession(c.extractor, c.store,
		enroll.WithCommitHook(func(ctx context.Context, employeeID model.EmployeeID) {
			if _, err := c.roster.Rebuild(ctx, companyID); err != nil {
				s.logger.Warn(ctx, "roster rebuild after enrollment failed",
					logger.String("company_id", string(companyID)),
					logger.String("employee_id", string(employeeID)),
					logger.Error(err))
			}
		}))
}

func capture(ctx context.Context, session *enroll.Session, frames []model.Frame) (EnrollResult, error) {
	var res EnrollResult
	for _, f := range frames {
		if _, err := session.Capture(ctx, f); err != nil {
			if errors.Is(err, model.ErrNoFaceDetected) {
				res.Skipped++
				continue
			}
			return res, err
		}
		res.Captured++
	}
	return res, nil
}

func findEmployee(ctx context.Context, store repository.Store, companyID model.CompanyID, id model.EmployeeID) (model.Employee, error) {
	employees, err := store.ListEmployees(ctx, companyID)
	if err != nil {
		return model.Employee{}, err
	}
	for _, e := range employees {
		if e.ID == id {
			return e, nil
		}
	}
	return model.Employee{}, fmt.Errorf("employee %s in company %s: %w", id, companyID, model.ErrNotFound)
}

// CaptureFrames opens the camera for facing and grabs n frames spaced by
// interval. progress, when set, is called after each frame.
func (s *Service) CaptureFrames(ctx context.Context, facing model.Facing, n int, interval time.Duration, progress func(i int)) ([]model.Frame, error) {
	c, err := s.components()
	if err != nil {
		return nil, err
	}
	video, err := c.source.Open(ctx, facing)
	if err != nil {
		return nil, err
	}
	defer func() { _ = video.Close() }()

	frames := make([]model.Frame, 0, n)
	for i := 0; i < n; i++ {
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
				return frames, ctx.Err()
			case <-time.After(interval):
			}
		}
		f, err := video.CurrentFrame(ctx)
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
		if progress != nil {
			progress(i + 1)
		}
	}
	return frames, nil
}

// LoopState describes the polling loop for the status endpoint.
type LoopState struct {
	Running   bool
	CompanyID model.CompanyID
	Facing    model.Facing
	Interval  time.Duration
	Cooldown  time.Duration
	Threshold float64
	Ticks     int64
	LastError error // last autostart failure, if any
	Recent    []model.Status
}

// StartLoop starts (or restarts) the polling loop for companyID.
func (s *Service) StartLoop(ctx context.Context, companyID model.CompanyID) (LoopState, error) {
	c, err := s.components()
	if err != nil {
		return LoopState{}, err
	}
	if companyID == "" {
		return LoopState{}, model.NewValidationError("company_id", "no company selected")
	}
	if _, err := c.store.GetCompany(ctx, companyID); err != nil {
		return LoopState{}, err
	}
	if _, err := c.roster.Rebuild(ctx, companyID); err != nil {
		return LoopState{}, err
	}
	// Hold the read lock across the start so Stop cannot release the
	// components underneath it; Stop then tears the new loop down.
	s.mu.RLock()
	if !s.started || s.loop != c.loop {
		s.mu.RUnlock()
		return LoopState{}, ErrNotStarted
	}
	_, err = c.loop.Start(ctx, companyID)
	s.mu.RUnlock()
	if err != nil {
		return LoopState{}, err
	}
	s.mu.Lock()
	s.autostartError = nil
	s.mu.Unlock()
	return s.LoopState(0)
}

// StopLoop stops the polling loop. Stopping an idle loop is a no-op.
func (s *Service) StopLoop(ctx context.Context) error {
	c, err := s.components()
	if err != nil {
		return err
	}
	if h := c.loop.Active(); h != nil {
		s.logger.Info(ctx, "stopping polling loop", logger.String("company_id", string(h.CompanyID())))
	}
	c.loop.Stop()
	return nil
}

// SwitchFacing changes the running loop's camera.
func (s *Service) SwitchFacing(ctx context.Context, facing model.Facing) (LoopState, error) {
	c, err := s.components()
	if err != nil {
		return LoopState{}, err
	}
	h := c.loop.Active()
	if h == nil {
		return LoopState{}, ErrLoopNotRunning
	}
	if err := h.SwitchFacing(ctx, facing); err != nil {
		return LoopState{}, err
	}
	return s.LoopState(0)
}

// LoopState reports the loop and its last n statuses (all kept when n <= 0).
func (s *Service) LoopState(n int) (LoopState, error) {
	c, err := s.components()
	if err != nil {
		return LoopState{}, err
	}
	s.mu.RLock()
	st := LoopState{
		Interval:  c.loop.Interval(),
		Cooldown:  c.recorder.Window(),
		Threshold: c.roster.Threshold(),
		LastError: s.autostartError,
	}
	s.mu.RUnlock()
	if h := c.loop.Active(); h != nil {
		st.Running = true
		st.CompanyID = h.CompanyID()
		st.Facing = h.Facing()
	}
	st.Ticks = c.history.Total()
	st.Recent = c.history.Recent(n)
	return st, nil
}

// Attendance lists records matching filter.
func (s *Service) Attendance(ctx context.Context, filter model.AttendanceFilter) ([]model.AttendanceRecord, error) {
	c, err := s.components()
	if err != nil {
		return nil, err
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.From.Before(filter.To) {
		return nil, model.NewValidationError("to", "must be after from")
	}
	return c.store.ListAttendance(ctx, filter)
}

// AttendanceRows lists records matching filter joined with employee names.
func (s *Service) AttendanceRows(ctx context.Context, filter model.AttendanceFilter) ([]export.Row, error) {
	records, err := s.Attendance(ctx, filter)
	if err != nil {
		return nil, err
	}
	c, err := s.components()
	if err != nil {
		return nil, err
	}

	companies := map[model.CompanyID]struct{}{}
	for _, r := range records {
		companies[r.CompanyID] = struct{}{}
	}
	names := make(map[model.EmployeeID]string)
	for id := range companies {
		employees, err := c.store.ListEmployees(ctx, id)
		if err != nil {
			return nil, err
		}
		for k, v := range export.NamesOf(employees) {
			names[k] = v
		}
	}
	return export.Rows(records, names), nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	started := s.started
	var loop *poller.Controller
	var history *History
	var statuses *queue.StatusQueue
	stats := map[string]interface{}{
		"started": started,
	}
	if s.cfg != nil {
		stats["storeDriver"] = s.cfg.StoreDriver
		stats["embedderKind"] = s.cfg.EmbedderKind
		stats["cooldownMinutes"] = s.cfg.CooldownMinutes
		stats["pollIntervalMs"] = s.cfg.PollIntervalMS
		stats["matchThreshold"] = s.cfg.MatchThreshold
	}
	if started {
		loop, history, statuses = s.loop, s.history, s.statuses
	}
	s.mu.RUnlock()

	if started {
		h := loop.Active()
		stats["loopRunning"] = h != nil
		if h != nil {
			stats["companyId"] = string(h.CompanyID())
			stats["facing"] = string(h.Facing())
		}
		stats["ticks"] = history.Total()
		stats["statusQueueLength"] = statuses.Len()
		metrics.UpdateStatusQueueSize(statuses.Len())
	}
	return stats
}
