package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/okian/rollcall/internal/domain/model"
)

const (
	maxUploadSize = 32 << 20
	photosField   = "photos"
)

// RosterHandler serves companies, employees and enrollment.
type RosterHandler struct {
	deps Dependencies
}

// NewRosterHandler creates a new roster handler.
func NewRosterHandler(deps Dependencies) *RosterHandler {
	return &RosterHandler{deps: deps}
}

type createCompanyRequest struct {
	Name string `json:"name"`
}

// CreateCompany handles POST /api/v1/companies.
func (h *RosterHandler) CreateCompany(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_company"
	var req createCompanyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	c, err := h.deps.CreateCompany(r.Context(), req.Name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCompanyView(c))
}

// ListCompanies handles GET /api/v1/companies.
func (h *RosterHandler) ListCompanies(w http.ResponseWriter, r *http.Request) {
	companies, err := h.deps.Companies(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]companyView, 0, len(companies))
	for _, c := range companies {
		out = append(out, toCompanyView(c))
	}
	writeJSON(w, http.StatusOK, out)
}

// ListEmployees handles GET /api/v1/companies/{companyID}/employees.
func (h *RosterHandler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	companyID := model.CompanyID(chi.URLParam(r, "companyID"))
	employees, err := h.deps.Employees(r.Context(), companyID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]employeeView, 0, len(employees))
	for i := range employees {
		out = append(out, toEmployeeView(employees[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// Enroll handles POST /api/v1/companies/{companyID}/employees. The body is
// multipart with "name", optional "role" and one or more "photos".
func (h *RosterHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	const op = "api.enroll"
	frames, err := readFrames(w, r)
	if err != nil {
		writeDomainError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	draft := model.EmployeeDraft{
		CompanyID: model.CompanyID(chi.URLParam(r, "companyID")),
		Name:      r.FormValue("name"),
		Role:      r.FormValue("role"),
	}
	res, err := h.deps.Enroll(r.Context(), draft, frames)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEnrollView(res))
}

// AppendEmbeddings handles
// POST /api/v1/companies/{companyID}/employees/{employeeID}/embeddings.
func (h *RosterHandler) AppendEmbeddings(w http.ResponseWriter, r *http.Request) {
	const op = "api.append_embeddings"
	frames, err := readFrames(w, r)
	if err != nil {
		writeDomainError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	res, err := h.deps.AppendEmbeddings(r.Context(),
		model.CompanyID(chi.URLParam(r, "companyID")),
		model.EmployeeID(chi.URLParam(r, "employeeID")),
		frames)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEnrollView(res))
}

func readFrames(w http.ResponseWriter, r *http.Request) ([]model.Frame, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, ErrPayloadTooLarge
		}
		return nil, fmt.Errorf("parse multipart form: %w", err)
	}
	files := r.MultipartForm.File[photosField]
	if len(files) == 0 {
		return nil, model.NewValidationError(photosField, "at least one photo is required")
	}
	now := time.Now()
	frames := make([]model.Frame, 0, len(files))
	for _, fh := range files {
		f, err := readPart(fh)
		if err != nil {
			return nil, err
		}
		f.CapturedAt = now
		frames = append(frames, f)
	}
	return frames, nil
}

func readPart(fh *multipart.FileHeader) (model.Frame, error) {
	file, err := fh.Open()
	if err != nil {
		return model.Frame{}, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return model.Frame{}, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	return model.Frame{Data: data, ContentType: fh.Header.Get("Content-Type")}, nil
}
