// Package repository defines the roster store port and an in-memory
// implementation of it.
package repository

import (
	"context"
	"time"

	"github.com/okian/rollcall/internal/domain/model"
)

// Store provides read/write access to companies, employees and the
// attendance log. Implementations wrap driver failures in model.ErrStorage.
type Store interface {
	InsertCompany(ctx context.Context, name string) (model.Company, error)
	// GetCompany returns model.ErrNotFound for an unknown id.
	GetCompany(ctx context.Context, id model.CompanyID) (model.Company, error)
	ListCompanies(ctx context.Context) ([]model.Company, error)

	// InsertEmployee creates an employee with its full embedding sequence.
	InsertEmployee(ctx context.Context, draft model.EmployeeDraft, embeddings []model.Embedding) (model.Employee, error)
	// AppendEmbeddings adds a whole capture session to an existing employee.
	AppendEmbeddings(ctx context.Context, id model.EmployeeID, embeddings []model.Embedding) error
	ListEmployees(ctx context.Context, companyID model.CompanyID) ([]model.Employee, error)

	// LatestAttendance returns the newest record for the employee, or
	// (nil, nil) when none exists.
	LatestAttendance(ctx context.Context, employeeID model.EmployeeID) (*model.AttendanceRecord, error)
	// InsertAttendance writes rec unless a record for the same employee
	// already exists within window before rec.CapturedAt, in which case it
	// returns model.ErrDuplicateSuppressed and writes nothing.
	InsertAttendance(ctx context.Context, rec model.AttendanceRecord, window time.Duration) (model.AttendanceRecord, error)
	ListAttendance(ctx context.Context, filter model.AttendanceFilter) ([]model.AttendanceRecord, error)

	Close() error
}

// CooldownBucket is the index key that makes two inserts for one employee
// in the same window collide at the storage layer.
func CooldownBucket(at time.Time, window time.Duration) int64 {
	secs := int64(window / time.Second)
	if secs <= 0 {
		return at.Unix()
	}
	return at.Unix() / secs
}
