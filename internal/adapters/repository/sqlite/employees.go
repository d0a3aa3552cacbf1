package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/okian/rollcall/internal/adapters/repository"
	"github.com/okian/rollcall/internal/domain/model"
)

// InsertEmployee creates an employee and its embeddings in one transaction.
func (s *Store) InsertEmployee(ctx context.Context, draft model.EmployeeDraft, embeddings []model.Embedding) (model.Employee, error) {
	defer observe("insert_employee", time.Now())
	if err := repository.ValidateDraft(draft, embeddings); err != nil {
		return model.Employee{}, err
	}

	e := model.Employee{
		ID:         model.EmployeeID(s.newID()),
		CompanyID:  draft.CompanyID,
		Name:       draft.Name,
		Role:       draft.Role,
		Embeddings: embeddings,
		CreatedAt:  s.now().UTC(),
	}

	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		var exists int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM companies WHERE id = ?", string(e.CompanyID)).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return model.ErrNotFound
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO employees (id, company_id, name, role, dim, created_at) VALUES (?, ?, ?, ?, ?, ?)",
			string(e.ID), string(e.CompanyID), e.Name, e.Role, len(embeddings[0]), toNanos(e.CreatedAt)); err != nil {
			return err
		}
		if err := insertVectors(ctx, tx, e.ID, 0, embeddings); err != nil {
			return err
		}
		return tx.Commit()
	})
	if errors.Is(err, model.ErrNotFound) {
		return model.Employee{}, err
	}
	if err != nil {
		return model.Employee{}, fail("insert employee", err)
	}
	return e, nil
}

func insertVectors(ctx context.Context, tx *sql.Tx, id model.EmployeeID, offset int, embeddings []model.Embedding) error {
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO employee_embeddings (employee_id, seq, vector) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, emb := range embeddings {
		if _, err := stmt.ExecContext(ctx, string(id), offset+i, encodeVector(emb)); err != nil {
			return err
		}
	}
	return nil
}

// AppendEmbeddings appends a whole capture session to an employee.
func (s *Store) AppendEmbeddings(ctx context.Context, id model.EmployeeID, embeddings []model.Embedding) error {
	defer observe("append_embeddings", time.Now())
	if err := repository.ValidateEmbeddings(embeddings); err != nil {
		return err
	}

	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		var dim int
		err = tx.QueryRowContext(ctx, "SELECT dim FROM employees WHERE id = ?", string(id)).Scan(&dim)
		if errors.Is(err, sql.ErrNoRows) {
			return model.ErrNotFound
		}
		if err != nil {
			return err
		}
		if dim != len(embeddings[0]) {
			return model.NewValidationError("embeddings", fmt.Sprintf("dimension %d differs from enrolled %d", len(embeddings[0]), dim))
		}

		var next int
		if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq) + 1, 0) FROM employee_embeddings WHERE employee_id = ?", string(id)).Scan(&next); err != nil {
			return err
		}
		if err := insertVectors(ctx, tx, id, next, embeddings); err != nil {
			return err
		}
		return tx.Commit()
	})
	if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrValidation) {
		return err
	}
	if err != nil {
		return fail("append embeddings", err)
	}
	return nil
}

// ListEmployees returns a company's employees with embeddings in capture order.
func (s *Store) ListEmployees(ctx context.Context, companyID model.CompanyID) ([]model.Employee, error) {
	defer observe("list_employees", time.Now())

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, role, created_at FROM employees WHERE company_id = ? ORDER BY created_at, id",
		string(companyID))
	if err != nil {
		return nil, fail("list employees", err)
	}
	var (
		out   []model.Employee
		index = map[model.EmployeeID]int{}
	)
	for rows.Next() {
		var (
			e       model.Employee
			rawID   string
			created int64
		)
		if err := rows.Scan(&rawID, &e.Name, &e.Role, &created); err != nil {
			rows.Close()
			return nil, fail("list employees", err)
		}
		e.ID = model.EmployeeID(rawID)
		e.CompanyID = companyID
		e.CreatedAt = fromNanos(created)
		index[e.ID] = len(out)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fail("list employees", err)
	}
	rows.Close()

	vecRows, err := s.db.QueryContext(ctx, `
		SELECT v.employee_id, v.vector
		FROM employee_embeddings v
		JOIN employees e ON e.id = v.employee_id
		WHERE e.company_id = ?
		ORDER BY v.employee_id, v.seq`, string(companyID))
	if err != nil {
		return nil, fail("list embeddings", err)
	}
	defer vecRows.Close()
	for vecRows.Next() {
		var (
			rawID string
			blob  []byte
		)
		if err := vecRows.Scan(&rawID, &blob); err != nil {
			return nil, fail("list embeddings", err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, fail("list embeddings", err)
		}
		if i, ok := index[model.EmployeeID(rawID)]; ok {
			out[i].Embeddings = append(out[i].Embeddings, vec)
		}
	}
	if err := vecRows.Err(); err != nil {
		return nil, fail("list embeddings", err)
	}
	return out, nil
}
