package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/internal/export"
)

const maxAttendanceLimit = 10_000

// AttendanceHandler serves the attendance log.
type AttendanceHandler struct {
	deps Dependencies
}

// NewAttendanceHandler creates a new attendance handler.
func NewAttendanceHandler(deps Dependencies) *AttendanceHandler {
	return &AttendanceHandler{deps: deps}
}

// List handles GET /api/v1/attendance.
func (h *AttendanceHandler) List(w http.ResponseWriter, r *http.Request) {
	const op = "api.attendance"
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		writeDomainError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	records, err := h.deps.Attendance(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]attendanceView, 0, len(records))
	for _, rec := range records {
		out = append(out, toAttendanceView(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

// Export handles GET /api/v1/attendance.csv.
func (h *AttendanceHandler) Export(w http.ResponseWriter, r *http.Request) {
	const op = "api.attendance_export"
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		writeDomainError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	rows, err := h.deps.AttendanceRows(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="attendance.csv"`)
	w.WriteHeader(http.StatusOK)
	_ = export.Write(w, export.FormatCSV, rows, time.UTC)
}

// parseFilter reads company_id, employee_id, from, to (RFC3339) and limit.
func parseFilter(q url.Values) (model.AttendanceFilter, error) {
	f := model.AttendanceFilter{
		CompanyID:  model.CompanyID(q.Get("company_id")),
		EmployeeID: model.EmployeeID(q.Get("employee_id")),
	}
	var err error
	if v := q.Get("from"); v != "" {
		if f.From, err = time.Parse(time.RFC3339, v); err != nil {
			return f, errors.New("invalid from; must be RFC3339")
		}
	}
	if v := q.Get("to"); v != "" {
		if f.To, err = time.Parse(time.RFC3339, v); err != nil {
			return f, errors.New("invalid to; must be RFC3339")
		}
	}
	if v := q.Get("limit"); v != "" {
		f.Limit, err = strconv.Atoi(v)
		if err != nil || f.Limit < 0 || f.Limit > maxAttendanceLimit {
			return f, fmt.Errorf("invalid limit; must be 0..%d", maxAttendanceLimit)
		}
	}
	return f, nil
}
