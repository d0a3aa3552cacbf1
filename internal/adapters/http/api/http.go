// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	service "github.com/okian/rollcall/internal/app"
	"github.com/okian/rollcall/internal/config"
	"github.com/okian/rollcall/internal/domain/matcher"
	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/internal/domain/poller"
	"github.com/okian/rollcall/internal/export"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the service implementation.
type Dependencies interface {
	StatsProvider

	CreateCompany(ctx context.Context, name string) (model.Company, error)
	Companies(ctx context.Context) ([]model.Company, error)
	Employees(ctx context.Context, companyID model.CompanyID) ([]model.Employee, error)

	Enroll(ctx context.Context, draft model.EmployeeDraft, frames []model.Frame) (service.EnrollResult, error)
	AppendEmbeddings(ctx context.Context, companyID model.CompanyID, employeeID model.EmployeeID, frames []model.Frame) (service.EnrollResult, error)

	StartLoop(ctx context.Context, companyID model.CompanyID) (service.LoopState, error)
	StopLoop(ctx context.Context) error
	SwitchFacing(ctx context.Context, facing model.Facing) (service.LoopState, error)
	LoopState(n int) (service.LoopState, error)

	Attendance(ctx context.Context, filter model.AttendanceFilter) ([]model.AttendanceRecord, error)
	AttendanceRows(ctx context.Context, filter model.AttendanceFilter) ([]export.Row, error)
}

// Server wires HTTP routes for the attendance API.
type Server struct {
	healthHandler     *HealthHandler
	statsHandler      *StatsHandler
	rosterHandler     *RosterHandler
	loopHandler       *LoopHandler
	attendanceHandler *AttendanceHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies) *Server {
	return &Server{
		healthHandler:     NewHealthHandler(),
		statsHandler:      NewStatsHandler(deps),
		rosterHandler:     NewRosterHandler(deps),
		loopHandler:       NewLoopHandler(deps),
		attendanceHandler: NewAttendanceHandler(deps),
	}
}

// Register attaches all HTTP routes to r.
func (s *Server) Register(_ context.Context, r chi.Router) {
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(MetricsMiddleware)

	r.Get("/healthz", s.healthHandler.HandleHealth)
	r.Get("/metrics", s.healthHandler.HandleMetrics)
	r.Get("/stats", s.statsHandler.HandleStats)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/companies", s.rosterHandler.ListCompanies)
		r.Post("/companies", s.rosterHandler.CreateCompany)
		r.Get("/companies/{companyID}/employees", s.rosterHandler.ListEmployees)
		r.Post("/companies/{companyID}/employees", s.rosterHandler.Enroll)
		r.Post("/companies/{companyID}/employees/{employeeID}/embeddings", s.rosterHandler.AppendEmbeddings)

		r.Post("/loop/start", s.loopHandler.Start)
		r.Post("/loop/stop", s.loopHandler.Stop)
		r.Post("/loop/facing", s.loopHandler.SwitchFacing)
		r.Get("/loop/status", s.loopHandler.Status)

		r.Get("/attendance", s.attendanceHandler.List)
		r.Get("/attendance.csv", s.attendanceHandler.Export)
	})
}

// NewHTTPServer builds the listening server with conservative timeouts.
func NewHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeDomainError maps domain sentinels to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	writeError(w, status, code, err)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, "payload_too_large"
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, model.ErrValidation),
		errors.Is(err, poller.ErrInvalidFacing),
		errors.Is(err, config.ErrInvalidConfig):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, matcher.ErrDimensionMismatch):
		return http.StatusUnprocessableEntity, "dimension_mismatch"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrLoopNotRunning), errors.Is(err, poller.ErrStopped):
		return http.StatusConflict, "loop_not_running"
	case errors.Is(err, model.ErrDevice):
		return http.StatusServiceUnavailable, "device_unavailable"
	case errors.Is(err, service.ErrNotStarted):
		return http.StatusServiceUnavailable, "not_started"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}

const maxJSONBody = 1 << 20
