package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agentrail/meterbank/internal/auth"
	"github.com/agentrail/meterbank/internal/metrics"
	"github.com/agentrail/meterbank/internal/reservation"
)

// reservationsHandler groups reservation lifecycle HTTP handlers.
type reservationsHandler struct {
	service *reservation.Service
	metrics *metrics.Metrics
}

func newReservationsHandler(svc *reservation.Service, m *metrics.Metrics) *reservationsHandler {
	return &reservationsHandler{service: svc, metrics: m}
}

type reserveRequest struct {
	CalleeID        string `json:"callee_id"`
	ToolName        string `json:"tool_name"`
	EstimatedTokens int64  `json:"estimated_tokens"`
	// TimeoutSeconds is clamped into the configured window; zero means the
	// default.
	TimeoutSeconds int64 `json:"timeout_seconds,omitempty"`
}

// Reserve handles POST /api/v1/reservations.
func (h *reservationsHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	caller := auth.AgentFromContext(r.Context())

	var req reserveRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if req.CalleeID == "" || req.ToolName == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "callee_id and tool_name are required")
		return
	}
	if req.EstimatedTokens < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "estimated_tokens must not be negative")
		return
	}

	res, err := h.service.Reserve(r.Context(), reservation.ReserveInput{
		CallerID:        caller.ID,
		CalleeID:        req.CalleeID,
		ToolName:        req.ToolName,
		EstimatedTokens: req.EstimatedTokens,
		Timeout:         time.Duration(req.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.IncReservationEvent("reserved")
	}
	writeJSON(w, http.StatusCreated, res)
}

type captureRequest struct {
	ActualTokens int64 `json:"actual_tokens"`
}

// Capture handles POST /api/v1/reservations/{id}/capture.
func (h *reservationsHandler) Capture(w http.ResponseWriter, r *http.Request) {
	caller := auth.AgentFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var req captureRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if req.ActualTokens < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "actual_tokens must not be negative")
		return
	}

	if !h.ownedByCaller(w, r, id, caller.ID) {
		return
	}

	result, err := h.service.Capture(r.Context(), id, req.ActualTokens)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.IncReservationEvent("captured")
		h.metrics.IncExecution("reservation", "ok")
		h.metrics.AddExecutionCost("reservation", result.ActualCost)
	}
	writeJSON(w, http.StatusOK, result)
}

type releaseRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Release handles POST /api/v1/reservations/{id}/release.
func (h *reservationsHandler) Release(w http.ResponseWriter, r *http.Request) {
	caller := auth.AgentFromContext(r.Context())
	id := chi.URLParam(r, "id")

	// Body is optional for release.
	var req releaseRequest
	if err := readJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "released by caller"
	}

	if !h.ownedByCaller(w, r, id, caller.ID) {
		return
	}

	res, err := h.service.Release(r.Context(), id, reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.IncReservationEvent("released")
	}
	writeJSON(w, http.StatusOK, res)
}

// GetReservation handles GET /api/v1/reservations/{id}.
func (h *reservationsHandler) GetReservation(w http.ResponseWriter, r *http.Request) {
	caller := auth.AgentFromContext(r.Context())
	id := chi.URLParam(r, "id")

	res, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if res.CallerID != caller.ID {
		writeError(w, http.StatusNotFound, "not_found", "reservation not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ownedByCaller checks the reservation belongs to the caller, writing the
// error response itself when it does not.
func (h *reservationsHandler) ownedByCaller(w http.ResponseWriter, r *http.Request, id, callerID string) bool {
	res, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return false
	}
	if res.CallerID != callerID {
		writeError(w, http.StatusNotFound, "not_found", "reservation not found")
		return false
	}
	return true
}
