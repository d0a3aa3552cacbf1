package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
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
		WHERE employee_id = $1
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
// inside window before rec.CapturedAt. A transaction-scoped advisory lock
// keyed on the employee serialises writers across processes.
func (s *Store) InsertAttendance(ctx context.Context, rec model.AttendanceRecord, window time.Duration) (model.AttendanceRecord, error) {
	defer observe("insert_attendance", time.Now())
	if window <= 0 {
		return model.AttendanceRecord{}, repository.ErrInvalidWindow
	}
	if rec.ID == "" {
		rec.ID = model.RecordID(s.newID())
	}
	rec.CapturedAt = rec.CapturedAt.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.AttendanceRecord{}, fail("insert attendance", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", string(rec.EmployeeID)); err != nil {
		return model.AttendanceRecord{}, fail("insert attendance", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO attendance (id, company_id, employee_id, captured_at, confidence, cooldown_bucket)
		SELECT $1, $2, $3, $4, $5, $6
		WHERE NOT EXISTS (
			SELECT 1 FROM attendance WHERE employee_id = $3 AND captured_at > $7
		)`,
		string(rec.ID), string(rec.CompanyID), string(rec.EmployeeID), rec.CapturedAt, rec.Confidence,
		repository.CooldownBucket(rec.CapturedAt, window), rec.CapturedAt.Add(-window))
	if isUniqueViolation(err) {
		return model.AttendanceRecord{}, model.ErrDuplicateSuppressed
	}
	if err != nil {
		return model.AttendanceRecord{}, fail("insert attendance", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return model.AttendanceRecord{}, fail("insert attendance", err)
	}
	if affected == 0 {
		return model.AttendanceRecord{}, model.ErrDuplicateSuppressed
	}
	if err := tx.Commit(); err != nil {
		return model.AttendanceRecord{}, fail("insert attendance", err)
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
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.CompanyID != "" {
		add("company_id = $%d", string(filter.CompanyID))
	}
	if filter.EmployeeID != "" {
		add("employee_id = $%d", string(filter.EmployeeID))
	}
	if !filter.From.IsZero() {
		add("captured_at >= $%d", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		add("captured_at < $%d", filter.To.UTC())
	}

	q := "SELECT id, company_id, employee_id, captured_at, confidence FROM attendance"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY captured_at, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
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
	)
	if err := scan(&id, &companyID, &employeeID, &rec.CapturedAt, &rec.Confidence); err != nil {
		return model.AttendanceRecord{}, err
	}
	rec.ID = model.RecordID(id)
	rec.CompanyID = model.CompanyID(companyID)
	rec.EmployeeID = model.EmployeeID(employeeID)
	rec.CapturedAt = rec.CapturedAt.UTC()
	return rec, nil
}
