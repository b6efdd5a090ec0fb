package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/agentrail/meterbank/internal/agent"
	"github.com/agentrail/meterbank/internal/auth"
)

// agentsHandler groups agent management HTTP handlers. Creation, funding,
// and deletion are admin operations; guardrail self-service runs on the
// agent-authed surface.
type agentsHandler struct {
	store *agent.Store
}

func newAgentsHandler(store *agent.Store) *agentsHandler {
	return &agentsHandler{store: store}
}

// CreateAgent handles POST /api/v1/admin/agents. The plaintext API key is
// returned exactly once; only its hash is stored.
func (h *agentsHandler) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var input agent.CreateAgentInput
	if err := readJSON(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if input.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}
	if input.InitialBalance < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "initial_balance must not be negative")
		return
	}
	if input.DefaultRatePer1k < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "default_rate_per_1k must not be negative")
		return
	}

	key, plaintext, err := auth.GenerateAPIKey()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to generate api key")
		return
	}
	input.APIKeyHash = key.Hash
	input.APIKeyPrefix = key.Prefix

	a, err := h.store.Create(r.Context(), input)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"agent":   a,
		"api_key": plaintext,
	})
}

// ListAgents handles GET /api/v1/admin/agents.
func (h *agentsHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	params := agent.AgentListParams{
		Cursor: r.URL.Query().Get("cursor"),
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l < 1 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		params.Limit = l
	}

	agents, nextCursor, err := h.store.List(r.Context(), params)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if agents == nil {
		agents = []*agent.Agent{}
	}

	resp := map[string]interface{}{
		"agents": agents,
	}
	if nextCursor != "" {
		resp["next_cursor"] = nextCursor
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetAgent handles GET /api/v1/admin/agents/{id}.
func (h *agentsHandler) GetAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	a, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type creditRequest struct {
	Amount int64 `json:"amount"`
}

// CreditAgent handles POST /api/v1/admin/agents/{id}/credit.
func (h *agentsHandler) CreditAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req creditRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "amount must be positive")
		return
	}

	a, err := h.store.Credit(r.Context(), id, req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// DeleteAgent handles DELETE /api/v1/admin/agents/{id}.
func (h *agentsHandler) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.store.Delete(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSelfAgent handles GET /api/v1/agents/me.
func (h *agentsHandler) GetSelfAgent(w http.ResponseWriter, r *http.Request) {
	caller := auth.AgentFromContext(r.Context())

	// Re-read so the response reflects balances as of now, not of auth time.
	a, err := h.store.GetByID(r.Context(), caller.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// UpdateGuardrails handles PUT /api/v1/budget/guardrails: the caller edits
// its own limits.
func (h *agentsHandler) UpdateGuardrails(w http.ResponseWriter, r *http.Request) {
	caller := auth.AgentFromContext(r.Context())

	var input agent.GuardrailUpdate
	if err := readJSON(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if input.MaxCostPerCall != nil && *input.MaxCostPerCall < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "max_cost_per_call must not be negative")
		return
	}
	if input.DailySpendCap != nil && *input.DailySpendCap < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "daily_spend_cap must not be negative")
		return
	}
	if input.DefaultRatePer1k != nil && *input.DefaultRatePer1k < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "default_rate_per_1k must not be negative")
		return
	}

	a, err := h.store.UpdateGuardrails(r.Context(), caller.ID, input)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Pause handles POST /api/v1/budget/pause: the caller freezes its own
// spending.
func (h *agentsHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, true)
}

// Resume handles POST /api/v1/budget/resume.
func (h *agentsHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, false)
}

func (h *agentsHandler) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	caller := auth.AgentFromContext(r.Context())

	a, err := h.store.SetPaused(r.Context(), caller.ID, paused)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
