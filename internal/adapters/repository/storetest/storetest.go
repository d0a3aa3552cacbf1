// Package storetest holds the behavioural suite every repository.Store
// implementation must pass.
package storetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/okian/rollcall/internal/adapters/repository"
	"github.com/okian/rollcall/internal/domain/model"
)

// Factory returns a fresh, empty store. Cleanup is the factory's job.
type Factory func(t *testing.T) repository.Store

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("companies", func(t *testing.T) { testCompanies(t, newStore(t)) })
	t.Run("employees", func(t *testing.T) { testEmployees(t, newStore(t)) })
	t.Run("employee validation", func(t *testing.T) { testEmployeeValidation(t, newStore(t)) })
	t.Run("conditional attendance", func(t *testing.T) { testConditionalAttendance(t, newStore(t)) })
	t.Run("concurrent attendance", func(t *testing.T) { testConcurrentAttendance(t, newStore(t)) })
	t.Run("list attendance", func(t *testing.T) { testListAttendance(t, newStore(t)) })
}

func embeddings(n, dim int, seed float32) []model.Embedding {
	out := make([]model.Embedding, n)
	for i := range out {
		e := make(model.Embedding, dim)
		for j := range e {
			e[j] = seed + float32(i)*0.01 + float32(j)*0.001
		}
		out[i] = e
	}
	return out
}

func testCompanies(t *testing.T, s repository.Store) {
	ctx := context.Background()

	acme, err := s.InsertCompany(ctx, "Acme")
	require.NoError(t, err)
	require.NotEmpty(t, acme.ID)
	require.False(t, acme.CreatedAt.IsZero())

	got, err := s.GetCompany(ctx, acme.ID)
	require.NoError(t, err)
	require.Equal(t, "Acme", got.Name)

	_, err = s.GetCompany(ctx, "missing")
	require.ErrorIs(t, err, model.ErrNotFound)

	_, err = s.InsertCompany(ctx, "Globex")
	require.NoError(t, err)
	list, err := s.ListCompanies(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
}

func testEmployees(t *testing.T, s repository.Store) {
	ctx := context.Background()
	c, err := s.InsertCompany(ctx, "Acme")
	require.NoError(t, err)
	other, err := s.InsertCompany(ctx, "Other")
	require.NoError(t, err)

	ana, err := s.InsertEmployee(ctx, model.EmployeeDraft{CompanyID: c.ID, Name: "Ana", Role: "Engineer"}, embeddings(3, 8, 0.1))
	require.NoError(t, err)
	require.NotEmpty(t, ana.ID)
	require.Len(t, ana.Embeddings, 3)

	_, err = s.InsertEmployee(ctx, model.EmployeeDraft{CompanyID: other.ID, Name: "Bo"}, embeddings(1, 8, 0.5))
	require.NoError(t, err)

	require.NoError(t, s.AppendEmbeddings(ctx, ana.ID, embeddings(2, 8, 0.9)))

	list, err := s.ListEmployees(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, ana.ID, list[0].ID)
	require.Equal(t, "Engineer", list[0].Role)
	require.Len(t, list[0].Embeddings, 5)
	// capture order is preserved
	require.InDelta(t, 0.1, list[0].Embeddings[0][0], 1e-6)
	require.InDelta(t, 0.9, list[0].Embeddings[3][0], 1e-6)

	err = s.AppendEmbeddings(ctx, "missing", embeddings(1, 8, 0))
	require.ErrorIs(t, err, model.ErrNotFound)
}

func testEmployeeValidation(t *testing.T, s repository.Store) {
	ctx := context.Background()
	c, err := s.InsertCompany(ctx, "Acme")
	require.NoError(t, err)

	_, err = s.InsertEmployee(ctx, model.EmployeeDraft{CompanyID: c.ID, Name: "Ana"}, nil)
	require.ErrorIs(t, err, model.ErrValidation)

	_, err = s.InsertEmployee(ctx, model.EmployeeDraft{CompanyID: c.ID, Name: " "}, embeddings(1, 4, 0))
	require.ErrorIs(t, err, model.ErrValidation)

	_, err = s.InsertEmployee(ctx, model.EmployeeDraft{Name: "Ana"}, embeddings(1, 4, 0))
	require.ErrorIs(t, err, model.ErrValidation)

	mixed := append(embeddings(1, 4, 0), embeddings(1, 5, 0)...)
	_, err = s.InsertEmployee(ctx, model.EmployeeDraft{CompanyID: c.ID, Name: "Ana"}, mixed)
	require.ErrorIs(t, err, model.ErrValidation)

	list, err := s.ListEmployees(ctx, c.ID)
	require.NoError(t, err)
	require.Empty(t, list)
}

func seedEmployee(t *testing.T, s repository.Store) (model.Company, model.Employee) {
	t.Helper()
	ctx := context.Background()
	c, err := s.InsertCompany(ctx, "Acme")
	require.NoError(t, err)
	e, err := s.InsertEmployee(ctx, model.EmployeeDraft{CompanyID: c.ID, Name: "Ana"}, embeddings(1, 4, 0.2))
	require.NoError(t, err)
	return c, e
}

func testConditionalAttendance(t *testing.T, s repository.Store) {
	ctx := context.Background()
	c, e := seedEmployee(t, s)
	window := 20 * time.Minute
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	latest, err := s.LatestAttendance(ctx, e.ID)
	require.NoError(t, err)
	require.Nil(t, latest)

	first, err := s.InsertAttendance(ctx, model.AttendanceRecord{CompanyID: c.ID, EmployeeID: e.ID, CapturedAt: t0, Confidence: 0.3}, window)
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	_, err = s.InsertAttendance(ctx, model.AttendanceRecord{CompanyID: c.ID, EmployeeID: e.ID, CapturedAt: t0.Add(5 * time.Second), Confidence: 0.2}, window)
	require.ErrorIs(t, err, model.ErrDuplicateSuppressed)

	latest, err = s.LatestAttendance(ctx, e.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, first.ID, latest.ID)
	require.True(t, latest.CapturedAt.Equal(t0))
	require.InDelta(t, 0.3, latest.Confidence, 1e-9)

	second, err := s.InsertAttendance(ctx, model.AttendanceRecord{CompanyID: c.ID, EmployeeID: e.ID, CapturedAt: t0.Add(window), Confidence: 0.25}, window)
	require.NoError(t, err)
	latest, err = s.LatestAttendance(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, second.ID, latest.ID)
}

func testConcurrentAttendance(t *testing.T, s repository.Store) {
	ctx := context.Background()
	c, e := seedEmployee(t, s)
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	const writers = 16
	var recorded, suppressed atomic.Int32
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := model.AttendanceRecord{
				CompanyID:  c.ID,
				EmployeeID: e.ID,
				CapturedAt: t0.Add(time.Duration(i) * time.Millisecond),
				Confidence: 0.3,
			}
			_, err := s.InsertAttendance(ctx, rec, 20*time.Minute)
			switch {
			case err == nil:
				recorded.Add(1)
			case errors.Is(err, model.ErrDuplicateSuppressed):
				suppressed.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), recorded.Load())
	require.Equal(t, int32(writers-1), suppressed.Load())

	all, err := s.ListAttendance(ctx, model.AttendanceFilter{EmployeeID: e.ID})
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func testListAttendance(t *testing.T, s repository.Store) {
	ctx := context.Background()
	c, ana := seedEmployee(t, s)
	bo, err := s.InsertEmployee(ctx, model.EmployeeDraft{CompanyID: c.ID, Name: "Bo"}, embeddings(1, 4, 0.7))
	require.NoError(t, err)

	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	w := time.Minute
	for i := range 3 {
		at := t0.Add(time.Duration(i) * time.Hour)
		_, err := s.InsertAttendance(ctx, model.AttendanceRecord{CompanyID: c.ID, EmployeeID: ana.ID, CapturedAt: at, Confidence: 0.1}, w)
		require.NoError(t, err)
		_, err = s.InsertAttendance(ctx, model.AttendanceRecord{CompanyID: c.ID, EmployeeID: bo.ID, CapturedAt: at.Add(time.Minute * 30), Confidence: 0.2}, w)
		require.NoError(t, err)
	}

	all, err := s.ListAttendance(ctx, model.AttendanceFilter{CompanyID: c.ID})
	require.NoError(t, err)
	require.Len(t, all, 6)
	for i := 1; i < len(all); i++ {
		require.False(t, all[i].CapturedAt.Before(all[i-1].CapturedAt))
	}

	onlyAna, err := s.ListAttendance(ctx, model.AttendanceFilter{EmployeeID: ana.ID})
	require.NoError(t, err)
	require.Len(t, onlyAna, 3)

	window, err := s.ListAttendance(ctx, model.AttendanceFilter{CompanyID: c.ID, From: t0.Add(time.Hour), To: t0.Add(2 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, window, 2)

	limited, err := s.ListAttendance(ctx, model.AttendanceFilter{CompanyID: c.ID, Limit: 4})
	require.NoError(t, err)
	require.Len(t, limited, 4)
}
