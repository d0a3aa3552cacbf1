package repository

import (
	"errors"
	"fmt"
	"strings"

	"github.com/okian/rollcall/internal/domain/model"
)

// Sentinel kinds for store errors.
var (
	ErrInvalidWindow = errors.New("cooldown window must be positive")
	ErrClosed        = errors.New("store closed")
)

// ValidateDraft checks the fields every store requires before an insert.
func ValidateDraft(draft model.EmployeeDraft, embeddings []model.Embedding) error {
	if draft.CompanyID == "" {
		return model.NewValidationError("company_id", "no company selected")
	}
	if strings.TrimSpace(draft.Name) == "" {
		return model.NewValidationError("name", "must not be empty")
	}
	return ValidateEmbeddings(embeddings)
}

// ValidateEmbeddings rejects an empty session or mixed dimensionality.
func ValidateEmbeddings(embeddings []model.Embedding) error {
	if len(embeddings) == 0 {
		return model.NewValidationError("embeddings", "at least one capture is required")
	}
	dim := len(embeddings[0])
	for i, e := range embeddings {
		if len(e) == 0 || len(e) != dim {
			return model.NewValidationError("embeddings", fmt.Sprintf("capture %d has dimension %d, want %d", i, len(e), dim))
		}
	}
	return nil
}
