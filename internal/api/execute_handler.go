package api

import (
	"errors"
	"net/http"

	"github.com/agentrail/meterbank/internal/auth"
	"github.com/agentrail/meterbank/internal/engine"
	"github.com/agentrail/meterbank/internal/guardrail"
	"github.com/agentrail/meterbank/internal/metrics"
)

// executeHandler serves the execution surface: preview, execute, and budget.
type executeHandler struct {
	engine  *engine.Service
	metrics *metrics.Metrics
}

func newExecuteHandler(eng *engine.Service, m *metrics.Metrics) *executeHandler {
	return &executeHandler{engine: eng, metrics: m}
}

// executeRequest is the body for both preview and execute. A non-empty
// QuoteID switches execution to the quote-backed path, where Tokens is the
// actual count consumed.
type executeRequest struct {
	CalleeID string `json:"callee_id"`
	ToolName string `json:"tool_name"`
	Tokens   int64  `json:"tokens"`
	QuoteID  string `json:"quote_id,omitempty"`
}

func (req *executeRequest) validate() string {
	if req.CalleeID == "" {
		return "callee_id is required"
	}
	if req.ToolName == "" {
		return "tool_name is required"
	}
	if req.Tokens < 0 {
		return "tokens must not be negative"
	}
	return ""
}

// Preview handles POST /api/v1/preview.
func (h *executeHandler) Preview(w http.ResponseWriter, r *http.Request) {
	caller := auth.AgentFromContext(r.Context())

	var req executeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, "invalid_request", msg)
		return
	}

	p, err := h.engine.Preview(r.Context(), caller.ID, req.CalleeID, req.ToolName, req.Tokens)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Execute handles POST /api/v1/execute.
func (h *executeHandler) Execute(w http.ResponseWriter, r *http.Request) {
	caller := auth.AgentFromContext(r.Context())

	var req executeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, "invalid_request", msg)
		return
	}

	mode := "direct"
	var res *engine.ExecuteResult
	var err error
	if req.QuoteID != "" {
		mode = "quote"
		res, err = h.engine.ExecuteWithQuote(r.Context(), req.QuoteID, caller.ID, req.CalleeID, req.ToolName, req.Tokens)
	} else {
		res, err = h.engine.ExecuteDirect(r.Context(), caller.ID, req.CalleeID, req.ToolName, req.Tokens)
	}
	if err != nil {
		h.observeFailure(mode, err)
		writeDomainError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.IncExecution(mode, "ok")
		h.metrics.AddExecutionCost(mode, res.Cost)
		if mode == "quote" {
			h.metrics.IncQuoteEvent("used")
		}
	}
	writeJSON(w, http.StatusOK, res)
}

// Budget handles GET /api/v1/budget.
func (h *executeHandler) Budget(w http.ResponseWriter, r *http.Request) {
	caller := auth.AgentFromContext(r.Context())

	b, err := h.engine.BudgetStatus(r.Context(), caller.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *executeHandler) observeFailure(mode string, err error) {
	if h.metrics == nil {
		return
	}
	var verr *guardrail.ViolationError
	if errors.As(err, &verr) {
		h.metrics.IncExecution(mode, "rejected")
		for _, v := range verr.Violations {
			h.metrics.IncGuardrailRejection(string(v.Rule))
		}
		return
	}
	h.metrics.IncExecution(mode, "error")
}
