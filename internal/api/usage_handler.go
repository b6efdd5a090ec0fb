package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/agentrail/meterbank/internal/auth"
	"github.com/agentrail/meterbank/internal/ledger"
)

// usageHandler serves usage-record queries and aggregates.
type usageHandler struct {
	store *ledger.Store
}

func newUsageHandler(store *ledger.Store) *usageHandler {
	return &usageHandler{store: store}
}

// parseUsageQuery builds a UsageQuery from request parameters. Time bounds
// are RFC3339; limit defaults inside the store.
func parseUsageQuery(r *http.Request) (ledger.UsageQuery, string) {
	q := ledger.UsageQuery{
		CalleeID: r.URL.Query().Get("callee_id"),
		ToolName: r.URL.Query().Get("tool_name"),
		Cursor:   r.URL.Query().Get("cursor"),
	}

	if from := r.URL.Query().Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return q, "from must be an RFC3339 timestamp"
		}
		q.From = t
	}
	if to := r.URL.Query().Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return q, "to must be an RFC3339 timestamp"
		}
		q.To = t
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l < 1 {
			return q, "limit must be a positive integer"
		}
		q.Limit = l
	}
	return q, ""
}

// GetUsage handles GET /api/v1/usage: the caller's aggregate spend.
func (h *usageHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	caller := auth.AgentFromContext(r.Context())

	q, msg := parseUsageQuery(r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, "invalid_request", msg)
		return
	}
	q.CallerID = caller.ID

	summary, err := h.store.GetSummary(r.Context(), q)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ListRecords handles GET /api/v1/usage/records. When admin is true the
// caller scoping is dropped and a caller_id filter is honored instead.
func (h *usageHandler) ListRecords(w http.ResponseWriter, r *http.Request, admin bool) {
	q, msg := parseUsageQuery(r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, "invalid_request", msg)
		return
	}

	if admin {
		q.CallerID = r.URL.Query().Get("caller_id")
	} else {
		caller := auth.AgentFromContext(r.Context())
		q.CallerID = caller.ID
	}

	recs, nextCursor, err := h.store.ListRecords(r.Context(), q)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if recs == nil {
		recs = []*ledger.UsageRecord{}
	}

	resp := map[string]interface{}{
		"records": recs,
	}
	if nextCursor != "" {
		resp["next_cursor"] = nextCursor
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetUsageAdmin handles GET /api/v1/admin/usage: unscoped aggregates with
// optional caller_id filter.
func (h *usageHandler) GetUsageAdmin(w http.ResponseWriter, r *http.Request) {
	q, msg := parseUsageQuery(r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, "invalid_request", msg)
		return
	}
	q.CallerID = r.URL.Query().Get("caller_id")

	summary, err := h.store.GetSummary(r.Context(), q)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
