package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Employee{}, fail("insert employee", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM companies WHERE id = $1)", string(e.CompanyID)).Scan(&exists); err != nil {
		return model.Employee{}, fail("insert employee", err)
	}
	if !exists {
		return model.Employee{}, model.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO employees (id, company_id, name, role, dim, created_at) VALUES ($1, $2, $3, $4, $5, $6)",
		string(e.ID), string(e.CompanyID), e.Name, e.Role, len(embeddings[0]), e.CreatedAt); err != nil {
		return model.Employee{}, fail("insert employee", err)
	}
	if err := insertVectors(ctx, tx, e.ID, 0, embeddings); err != nil {
		return model.Employee{}, fail("insert employee", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Employee{}, fail("insert employee", err)
	}
	return e, nil
}

func insertVectors(ctx context.Context, tx *sql.Tx, id model.EmployeeID, offset int, embeddings []model.Embedding) error {
	for i, emb := range embeddings {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO employee_embeddings (employee_id, seq, embedding) VALUES ($1, $2, $3)",
			string(id), offset+i, pgvector.NewVector(emb)); err != nil {
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fail("append embeddings", err)
	}
	defer func() { _ = tx.Rollback() }()

	var dim int
	// row lock serialises concurrent appends for one employee
	err = tx.QueryRowContext(ctx, "SELECT dim FROM employees WHERE id = $1 FOR UPDATE", string(id)).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	if err != nil {
		return fail("append embeddings", err)
	}
	if dim != len(embeddings[0]) {
		return model.NewValidationError("embeddings", fmt.Sprintf("dimension %d differs from enrolled %d", len(embeddings[0]), dim))
	}

	var next int
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq) + 1, 0) FROM employee_embeddings WHERE employee_id = $1", string(id)).Scan(&next); err != nil {
		return fail("append embeddings", err)
	}
	if err := insertVectors(ctx, tx, id, next, embeddings); err != nil {
		return fail("append embeddings", err)
	}
	if err := tx.Commit(); err != nil {
		return fail("append embeddings", err)
	}
	return nil
}

// ListEmployees returns a company's employees with embeddings in capture order.
func (s *Store) ListEmployees(ctx context.Context, companyID model.CompanyID) ([]model.Employee, error) {
	defer observe("list_employees", time.Now())

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, role, created_at FROM employees WHERE company_id = $1 ORDER BY created_at, id",
		string(companyID))
	if err != nil {
		return nil, fail("list employees", err)
	}
	defer rows.Close()

	var (
		out   []model.Employee
		ids   []string
		index = map[model.EmployeeID]int{}
	)
	for rows.Next() {
		var (
			e     model.Employee
			rawID string
		)
		if err := rows.Scan(&rawID, &e.Name, &e.Role, &e.CreatedAt); err != nil {
			return nil, fail("list employees", err)
		}
		e.ID = model.EmployeeID(rawID)
		e.CompanyID = companyID
		e.CreatedAt = e.CreatedAt.UTC()
		index[e.ID] = len(out)
		ids = append(ids, rawID)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("list employees", err)
	}
	if len(ids) == 0 {
		return out, nil
	}

	vecRows, err := s.db.QueryContext(ctx, `
		SELECT employee_id, embedding
		FROM employee_embeddings
		WHERE employee_id = ANY($1)
		ORDER BY employee_id, seq`, pq.Array(ids))
	if err != nil {
		return nil, fail("list embeddings", err)
	}
	defer vecRows.Close()
	for vecRows.Next() {
		var (
			rawID string
			vec   pgvector.Vector
		)
		if err := vecRows.Scan(&rawID, &vec); err != nil {
			return nil, fail("list embeddings", err)
		}
		if i, ok := index[model.EmployeeID(rawID)]; ok {
			out[i].Embeddings = append(out[i].Embeddings, model.Embedding(vec.Slice()))
		}
	}
	if err := vecRows.Err(); err != nil {
		return nil, fail("list embeddings", err)
	}
	return out, nil
}
