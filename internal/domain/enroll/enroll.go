// Package enroll accumulates face captures for one person and commits
// them as a single enrollment.
package enroll

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"

	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/pkg/logger"
	"github.com/okian/rollcall/pkg/metrics"
)

// Store is the write side of the roster store used by enrollment.
type Store interface {
	InsertEmployee(ctx context.Context, draft model.EmployeeDraft, embeddings []model.Embedding) (model.Employee, error)
	AppendEmbeddings(ctx context.Context, id model.EmployeeID, embeddings []model.Embedding) error
}

// CommitHook runs after a successful Commit or AppendTo.
type CommitHook func(ctx context.Context, employeeID model.EmployeeID)

// Session is an in-progress enrollment. Captures stay pending until a
// Commit or AppendTo succeeds; a failed commit leaves them untouched.
type Session struct {
	extractor model.Extractor
	store     Store
	onCommit  CommitHook
	log       logger.Logger

	mu      sync.Mutex
	pending []model.Embedding
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithCommitHook registers fn to run after each successful commit.
func WithCommitHook(fn CommitHook) Option {
	return func(s *Session) {
		s.onCommit = fn
	}
}

// NewSession creates an empty enrollment session.
func NewSession(extractor model.Extractor, store Store, opts ...Option) (*Session, error) {
	if extractor == nil || store == nil {
		return nil, errors.New("enroll: extractor and store are required")
	}
	s := &Session{
		extractor: extractor,
		store:     store,
		log:       logger.Get().Named("enroll"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Capture extracts an embedding from frame and appends it to the pending
// captures. It returns model.ErrNoFaceDetected when the frame has no face.
func (s *Session) Capture(ctx context.Context, frame model.Frame) (model.Embedding, error) {
	if frame.Empty() {
		metrics.RecordEnrollmentCapture("no_face")
		return nil, model.ErrNoFaceDetected
	}
	emb, err := s.extractor.Extract(ctx, frame)
	if errors.Is(err, model.ErrNoFaceDetected) {
		metrics.RecordEnrollmentCapture("no_face")
		return nil, err
	}
	if err != nil {
		metrics.RecordEnrollmentCapture("error")
		return nil, fmt.Errorf("extract embedding: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) > 0 && len(s.pending[0]) != len(emb) {
		return nil, model.NewValidationError("capture",
			fmt.Sprintf("embedding dimension %d differs from earlier captures (%d)", len(emb), len(s.pending[0])))
	}
	s.pending = append(s.pending, slices.Clone(emb))
	metrics.RecordEnrollmentCapture("ok")
	return emb, nil
}

// Pending returns the number of captures awaiting commit.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Reset discards all pending captures.
func (s *Session) Reset() {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
}

// snapshot returns a copy of the pending captures.
func (s *Session) snapshot() []model.Embedding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.pending)
}

// consume drops the first n pending captures, which were just stored.
// Captures taken while the commit was in flight stay pending.
func (s *Session) consume(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n >= len(s.pending) {
		s.pending = nil
		return
	}
	s.pending = slices.Clone(s.pending[n:])
}

// Commit validates draft and stores a new employee with every pending
// capture. Nothing is written when validation fails.
func (s *Session) Commit(ctx context.Context, draft model.EmployeeDraft) (model.Employee, error) {
	pending := s.snapshot()
	if len(pending) == 0 {
		return model.Employee{}, model.NewValidationError("captures", "at least one capture is required")
	}
	draft.Name = NormalizeName(draft.Name)
	draft.Role = NormalizeName(draft.Role)
	if draft.Name == "" {
		return model.Employee{}, model.NewValidationError("name", "must not be empty")
	}
	if draft.CompanyID == "" {
		return model.Employee{}, model.NewValidationError("company_id", "no company selected")
	}

	emp, err := s.store.InsertEmployee(ctx, draft, pending)
	if err != nil {
		return model.Employee{}, err
	}
	s.consume(len(pending))

	metrics.RecordEnrollment()
	s.log.Info(ctx, "employee enrolled",
		logger.String("employee_id", string(emp.ID)),
		logger.String("company_id", string(emp.CompanyID)),
		logger.Int("captures", len(pending)))
	if s.onCommit != nil {
		s.onCommit(ctx, emp.ID)
	}
	return emp, nil
}

// AppendTo adds every pending capture to an existing employee as one
// session.
func (s *Session) AppendTo(ctx context.Context, employeeID model.EmployeeID) error {
	pending := s.snapshot()
	if len(pending) == 0 {
		return model.NewValidationError("captures", "at least one capture is required")
	}
	if employeeID == "" {
		return model.NewValidationError("employee_id", "must not be empty")
	}
	if err := s.store.AppendEmbeddings(ctx, employeeID, pending); err != nil {
		return err
	}
	s.consume(len(pending))

	metrics.RecordEnrollment()
	s.log.Info(ctx, "embeddings appended",
		logger.String("employee_id", string(employeeID)),
		logger.Int("captures", len(pending)))
	if s.onCommit != nil {
		s.onCommit(ctx, employeeID)
	}
	return nil
}

// NormalizeName puts a display name in NFC form and collapses runs of
// whitespace, so visually identical names compare equal.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(norm.NFC.String(name)), " ")
}
