package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/okian/rollcall/internal/domain/model"
)

// InsertCompany creates a company.
func (s *Store) InsertCompany(ctx context.Context, name string) (model.Company, error) {
	defer observe("insert_company", time.Now())
	if name == "" {
		return model.Company{}, model.NewValidationError("name", "must not be empty")
	}
	c := model.Company{ID: model.CompanyID(s.newID()), Name: name, CreatedAt: s.now().UTC()}
	err := retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			"INSERT INTO companies (id, name, created_at) VALUES (?, ?, ?)",
			string(c.ID), c.Name, toNanos(c.CreatedAt))
		return err
	})
	if err != nil {
		return model.Company{}, fail("insert company", err)
	}
	return c, nil
}

// GetCompany returns a company by id.
func (s *Store) GetCompany(ctx context.Context, id model.CompanyID) (model.Company, error) {
	var (
		c       model.Company
		rawID   string
		created int64
	)
	err := s.db.QueryRowContext(ctx, "SELECT id, name, created_at FROM companies WHERE id = ?", string(id)).
		Scan(&rawID, &c.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Company{}, model.ErrNotFound
	}
	if err != nil {
		return model.Company{}, fail("get company", err)
	}
	c.ID = model.CompanyID(rawID)
	c.CreatedAt = fromNanos(created)
	return c, nil
}

// ListCompanies returns companies ordered by creation time.
func (s *Store) ListCompanies(ctx context.Context) ([]model.Company, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, created_at FROM companies ORDER BY created_at, id")
	if err != nil {
		return nil, fail("list companies", err)
	}
	defer rows.Close()

	var out []model.Company
	for rows.Next() {
		var (
			c       model.Company
			rawID   string
			created int64
		)
		if err := rows.Scan(&rawID, &c.Name, &created); err != nil {
			return nil, fail("list companies", err)
		}
		c.ID = model.CompanyID(rawID)
		c.CreatedAt = fromNanos(created)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("list companies", err)
	}
	return out, nil
}
