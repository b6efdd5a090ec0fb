package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agentrail/meterbank/internal/auth"
	"github.com/agentrail/meterbank/internal/metrics"
	"github.com/agentrail/meterbank/internal/quote"
)

// quotesHandler groups quote lifecycle HTTP handlers.
type quotesHandler struct {
	service *quote.Service
	metrics *metrics.Metrics
}

func newQuotesHandler(svc *quote.Service, m *metrics.Metrics) *quotesHandler {
	return &quotesHandler{service: svc, metrics: m}
}

type issueQuoteRequest struct {
	CalleeID        string `json:"callee_id"`
	ToolName        string `json:"tool_name"`
	EstimatedTokens int64  `json:"estimated_tokens"`
	// ValiditySeconds is clamped into the configured window; zero means the
	// default.
	ValiditySeconds int64 `json:"validity_seconds,omitempty"`
}

// IssueQuote handles POST /api/v1/quotes.
func (h *quotesHandler) IssueQuote(w http.ResponseWriter, r *http.Request) {
	caller := auth.AgentFromContext(r.Context())

	var req issueQuoteRequest
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

	q, err := h.service.Issue(r.Context(), quote.IssueInput{
		CallerID:        caller.ID,
		CalleeID:        req.CalleeID,
		ToolName:        req.ToolName,
		EstimatedTokens: req.EstimatedTokens,
		Validity:        time.Duration(req.ValiditySeconds) * time.Second,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.IncQuoteEvent("issued")
	}
	writeJSON(w, http.StatusCreated, q)
}

// GetQuote handles GET /api/v1/quotes/{id}.
func (h *quotesHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	caller := auth.AgentFromContext(r.Context())
	id := chi.URLParam(r, "id")

	q, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if q.CallerID != caller.ID {
		// Not the holder; do not reveal the quote exists.
		writeError(w, http.StatusNotFound, "not_found", "quote not found")
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// ListQuotes handles GET /api/v1/quotes (active quotes for the caller).
func (h *quotesHandler) ListQuotes(w http.ResponseWriter, r *http.Request) {
	caller := auth.AgentFromContext(r.Context())

	quotes, err := h.service.ListActive(r.Context(), caller.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if quotes == nil {
		quotes = []*quote.Quote{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"quotes": quotes})
}

// CancelQuote handles DELETE /api/v1/quotes/{id}.
func (h *quotesHandler) CancelQuote(w http.ResponseWriter, r *http.Request) {
	caller := auth.AgentFromContext(r.Context())
	id := chi.URLParam(r, "id")

	q, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if q.CallerID != caller.ID {
		writeError(w, http.StatusNotFound, "not_found", "quote not found")
		return
	}

	cancelled, err := h.service.Cancel(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.IncQuoteEvent("cancelled")
	}
	writeJSON(w, http.StatusOK, cancelled)
}
