package api

import (
	"net/http"
	"strconv"

	"github.com/okian/rollcall/internal/domain/model"
)

// LoopHandler controls the polling loop.
type LoopHandler struct {
	deps Dependencies
}

// NewLoopHandler creates a new loop handler.
func NewLoopHandler(deps Dependencies) *LoopHandler {
	return &LoopHandler{deps: deps}
}

type startLoopRequest struct {
	CompanyID string `json:"company_id"`
}

type facingRequest struct {
	Facing string `json:"facing"`
}

// Start handles POST /api/v1/loop/start.
func (h *LoopHandler) Start(w http.ResponseWriter, r *http.Request) {
	const op = "api.loop_start"
	var req startLoopRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	st, err := h.deps.StartLoop(r.Context(), model.CompanyID(req.CompanyID))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoopView(st))
}

// Stop handles POST /api/v1/loop/stop.
func (h *LoopHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.StopLoop(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	h.writeState(w, 0)
}

// SwitchFacing handles POST /api/v1/loop/facing.
func (h *LoopHandler) SwitchFacing(w http.ResponseWriter, r *http.Request) {
	const op = "api.loop_facing"
	var req facingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	st, err := h.deps.SwitchFacing(r.Context(), model.Facing(req.Facing))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoopView(st))
}

// Status handles GET /api/v1/loop/status?limit=N.
func (h *LoopHandler) Status(w http.ResponseWriter, r *http.Request) {
	n := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
			return
		}
		n = parsed
	}
	h.writeState(w, n)
}

func (h *LoopHandler) writeState(w http.ResponseWriter, n int) {
	st, err := h.deps.LoopState(n)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoopView(st))
}
