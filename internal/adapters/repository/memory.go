package repository

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/pkg/metrics"
)

// MemoryStore is a process-local Store. The conditional attendance insert
// is atomic under the store mutex, which gives the same exactly-once
// guarantee as the SQL stores within one process.
type MemoryStore struct {
	mu sync.RWMutex

	companies  map[model.CompanyID]model.Company
	employees  map[model.EmployeeID]*model.Employee
	order      []model.EmployeeID // insertion order
	attendance []model.AttendanceRecord
	latest     map[model.EmployeeID]int // index into attendance

	now    func() time.Time
	newID  func() string
	closed bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		companies: make(map[model.CompanyID]model.Company),
		employees: make(map[model.EmployeeID]*model.Employee),
		latest:    make(map[model.EmployeeID]int),
		now:       time.Now,
		newID:     NewID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func observe(op string, start time.Time) {
	metrics.RecordStoreLatency(op, float64(time.Since(start).Microseconds())/1000)
}

// InsertCompany creates a company.
func (s *MemoryStore) InsertCompany(ctx context.Context, name string) (model.Company, error) {
	defer observe("insert_company", time.Now())
	if err := ctx.Err(); err != nil {
		return model.Company{}, err
	}
	if name == "" {
		return model.Company{}, model.NewValidationError("name", "must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.Company{}, model.StorageError("insert company", ErrClosed)
	}
	c := model.Company{ID: model.CompanyID(s.newID()), Name: name, CreatedAt: s.now().UTC()}
	s.companies[c.ID] = c
	return c, nil
}

// GetCompany returns a company by id.
func (s *MemoryStore) GetCompany(ctx context.Context, id model.CompanyID) (model.Company, error) {
	if err := ctx.Err(); err != nil {
		return model.Company{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.companies[id]
	if !ok {
		return model.Company{}, model.ErrNotFound
	}
	return c, nil
}

// ListCompanies returns companies ordered by creation time.
func (s *MemoryStore) ListCompanies(ctx context.Context) ([]model.Company, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]model.Company, 0, len(s.companies))
	for _, c := range s.companies {
		out = append(out, c)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// InsertEmployee creates an employee with its embeddings.
func (s *MemoryStore) InsertEmployee(ctx context.Context, draft model.EmployeeDraft, embeddings []model.Embedding) (model.Employee, error) {
	defer observe("insert_employee", time.Now())
	if err := ctx.Err(); err != nil {
		return model.Employee{}, err
	}
	if err := ValidateDraft(draft, embeddings); err != nil {
		return model.Employee{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.Employee{}, model.StorageError("insert employee", ErrClosed)
	}
	if _, ok := s.companies[draft.CompanyID]; !ok {
		return model.Employee{}, model.ErrNotFound
	}

	e := &model.Employee{
		ID:         model.EmployeeID(s.newID()),
		CompanyID:  draft.CompanyID,
		Name:       draft.Name,
		Role:       draft.Role,
		Embeddings: cloneEmbeddings(embeddings),
		CreatedAt:  s.now().UTC(),
	}
	s.employees[e.ID] = e
	s.order = append(s.order, e.ID)
	return copyEmployee(e), nil
}

// AppendEmbeddings appends a capture session to an existing employee.
func (s *MemoryStore) AppendEmbeddings(ctx context.Context, id model.EmployeeID, embeddings []model.Embedding) error {
	defer observe("append_embeddings", time.Now())
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateEmbeddings(embeddings); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.employees[id]
	if !ok {
		return model.ErrNotFound
	}
	if len(e.Embeddings) > 0 && len(e.Embeddings[0]) != len(embeddings[0]) {
		return model.NewValidationError("embeddings", "dimension differs from existing enrollment")
	}
	e.Embeddings = append(e.Embeddings, cloneEmbeddings(embeddings)...)
	return nil
}

// ListEmployees returns the employees of a company in enrollment order.
func (s *MemoryStore) ListEmployees(ctx context.Context, companyID model.CompanyID) ([]model.Employee, error) {
	defer observe("list_employees", time.Now())
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Employee
	for _, id := range s.order {
		if e := s.employees[id]; e.CompanyID == companyID {
			out = append(out, copyEmployee(e))
		}
	}
	return out, nil
}

// LatestAttendance returns the newest record for an employee.
func (s *MemoryStore) LatestAttendance(ctx context.Context, employeeID model.EmployeeID) (*model.AttendanceRecord, error) {
	defer observe("latest_attendance", time.Now())
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.latest[employeeID]
	if !ok {
		return nil, nil
	}
	rec := s.attendance[i]
	return &rec, nil
}

// InsertAttendance appends rec unless the employee already has a record
// within window of rec.CapturedAt.
func (s *MemoryStore) InsertAttendance(ctx context.Context, rec model.AttendanceRecord, window time.Duration) (model.AttendanceRecord, error) {
	defer observe("insert_attendance", time.Now())
	if window <= 0 {
		return model.AttendanceRecord{}, ErrInvalidWindow
	}
	if err := ctx.Err(); err != nil {
		return model.AttendanceRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.AttendanceRecord{}, model.StorageError("insert attendance", ErrClosed)
	}
	if i, ok := s.latest[rec.EmployeeID]; ok {
		if rec.CapturedAt.Sub(s.attendance[i].CapturedAt) < window {
			return model.AttendanceRecord{}, model.ErrDuplicateSuppressed
		}
	}

	if rec.ID == "" {
		rec.ID = model.RecordID(s.newID())
	}
	rec.CapturedAt = rec.CapturedAt.UTC()
	s.attendance = append(s.attendance, rec)
	s.latest[rec.EmployeeID] = len(s.attendance) - 1
	return rec, nil
}

// ListAttendance returns records matching filter, oldest first.
func (s *MemoryStore) ListAttendance(ctx context.Context, filter model.AttendanceFilter) ([]model.AttendanceRecord, error) {
	defer observe("list_attendance", time.Now())
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.AttendanceRecord
	for _, r := range s.attendance {
		if filter.CompanyID != "" && r.CompanyID != filter.CompanyID {
			continue
		}
		if filter.EmployeeID != "" && r.EmployeeID != filter.EmployeeID {
			continue
		}
		if !filter.From.IsZero() && r.CapturedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !r.CapturedAt.Before(filter.To) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CapturedAt.Before(out[j].CapturedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Close marks the store closed; further writes fail.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func cloneEmbeddings(in []model.Embedding) []model.Embedding {
	out := make([]model.Embedding, len(in))
	for i, e := range in {
		out[i] = slices.Clone(e)
	}
	return out
}

func copyEmployee(e *model.Employee) model.Employee {
	c := *e
	c.Embeddings = cloneEmbeddings(e.Embeddings)
	return c
}
