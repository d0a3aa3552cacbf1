package postgres

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
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO companies (id, name, created_at) VALUES ($1, $2, $3)",
		string(c.ID), c.Name, c.CreatedAt); err != nil {
		return model.Company{}, fail("insert company", err)
	}
	return c, nil
}

// GetCompany returns a company by id.
func (s *Store) GetCompany(ctx context.Context, id model.CompanyID) (model.Company, error) {
	var (
		c     model.Company
		rawID string
	)
	err := s.db.QueryRowContext(ctx, "SELECT id, name, created_at FROM companies WHERE id = $1", string(id)).
		Scan(&rawID, &c.Name, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Company{}, model.ErrNotFound
	}
	if err != nil {
		return model.Company{}, fail("get company", err)
	}
	c.ID = model.CompanyID(rawID)
	c.CreatedAt = c.CreatedAt.UTC()
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
			c     model.Company
			rawID string
		)
		if err := rows.Scan(&rawID, &c.Name, &c.CreatedAt); err != nil {
			return nil, fail("list companies", err)
		}
		c.ID = model.CompanyID(rawID)
		c.CreatedAt = c.CreatedAt.UTC()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("list companies", err)
	}
	return out, nil
}
