package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/okian/rollcall/internal/adapters/repository"
	"github.com/okian/rollcall/internal/domain/model"
)

// LatestAttendance returns the newest record for an employee, or nil.
func (s *Store) LatestAttendance(ctx context.Context, employeeID model.EmployeeID) (*model.AttendanceRecord, error) {
	defer observe("latest_attendance", time.Now())
	row := s.db.QueryRowContext(ctx, `
		SELECT id, company_id, employee_id, captured_at, confidence
		FROM attendance
		WHERE employee_id = ?
		ORDER BY captured_at DESC
		LIMIT 1`, string(employeeID))
	rec, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fail("latest attendance", err)
	}
	return &rec, nil
}

// InsertAttendance writes rec only if no record for the employee exists
// inside window before rec.CapturedAt. The check and the write are one
// statement, and the cooldown bucket index rejects anything that slips by.
func (s *Store) InsertAttendance(ctx context.Context, rec model.AttendanceRecord, window time.Duration) (model.AttendanceRecord, error) {
	defer observe("insert_attendance", time.Now())
	if window <= 0 {
		return model.AttendanceRecord{}, repository.ErrInvalidWindow
	}
	if rec.ID == "" {
		rec.ID = model.RecordID(s.newID())
	}
	rec.CapturedAt = rec.CapturedAt.UTC()

	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO attendance (id, company_id, employee_id, captured_at, confidence, cooldown_bucket)
			SELECT ?, ?, ?, ?, ?, ?
			WHERE NOT EXISTS (
				SELECT 1 FROM attendance WHERE employee_id = ? AND captured_at > ?
			)`,
			string(rec.ID), string(rec.CompanyID), string(rec.EmployeeID), toNanos(rec.CapturedAt), rec.Confidence,
			repository.CooldownBucket(rec.CapturedAt, window),
			string(rec.EmployeeID), toNanos(rec.CapturedAt.Add(-window)))
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if isUniqueViolation(err) {
		return model.AttendanceRecord{}, model.ErrDuplicateSuppressed
	}
	if err != nil {
		return model.AttendanceRecord{}, fail("insert attendance", err)
	}
	if affected == 0 {
		return model.AttendanceRecord{}, model.ErrDuplicateSuppressed
	}
	return rec, nil
}

// ListAttendance returns records matching filter, oldest first.
func (s *Store) ListAttendance(ctx context.Context, filter model.AttendanceFilter) ([]model.AttendanceRecord, error) {
	defer observe("list_attendance", time.Now())

	var (
		where []string
		args  []any
	)
	if filter.CompanyID != "" {
		where = append(where, "company_id = ?")
		args = append(args, string(filter.CompanyID))
	}
	if filter.EmployeeID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, string(filter.EmployeeID))
	}
	if !filter.From.IsZero() {
		where = append(where, "captured_at >= ?")
		args = append(args, toNanos(filter.From))
	}
	if !filter.To.IsZero() {
		where = append(where, "captured_at < ?")
		args = append(args, toNanos(filter.To))
	}

	q := "SELECT id, company_id, employee_id, captured_at, confidence FROM attendance"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY captured_at, id"
	if filter.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fail("list attendance", err)
	}
	defer rows.Close()

	var out []model.AttendanceRecord
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fail("list attendance", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("list attendance", err)
	}
	return out, nil
}

func scanRecord(scan func(dest ...any) error) (model.AttendanceRecord, error) {
	var (
		rec                       model.AttendanceRecord
		id, companyID, employeeID string
		captured                  int64
	)
	if err := scan(&id, &companyID, &employeeID, &captured, &rec.Confidence); err != nil {
		return model.AttendanceRecord{}, err
	}
	rec.ID = model.RecordID(id)
	rec.CompanyID = model.CompanyID(companyID)
	rec.EmployeeID = model.EmployeeID(employeeID)
	rec.CapturedAt = fromNanos(captured)
	return rec, nil
}
