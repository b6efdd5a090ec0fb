package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentrail/meterbank/internal/auth"
	"github.com/agentrail/meterbank/internal/registry"
)

// toolsHandler groups tool registry HTTP handlers. Tools are managed by
// their owner; there is no separate publisher role.
type toolsHandler struct {
	store *registry.Store
}

func newToolsHandler(store *registry.Store) *toolsHandler {
	return &toolsHandler{store: store}
}

// CreateTool handles POST /api/v1/tools: register or re-price a tool owned
// by the caller.
func (h *toolsHandler) CreateTool(w http.ResponseWriter, r *http.Request) {
	caller := auth.AgentFromContext(r.Context())

	var input registry.CreateToolInput
	if err := readJSON(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if input.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}
	if input.RatePer1kTokens < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "rate_per_1k_tokens must not be negative")
		return
	}
	input.OwnerID = caller.ID

	tool, err := h.store.Create(r.Context(), input)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tool)
}

// ListTools handles GET /api/v1/tools: the caller's own tools.
func (h *toolsHandler) ListTools(w http.ResponseWriter, r *http.Request) {
	caller := auth.AgentFromContext(r.Context())

	tools, err := h.store.ListByOwner(r.Context(), caller.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if tools == nil {
		tools = []*registry.Tool{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tools": tools})
}

// GetTool handles GET /api/v1/tools/{id}.
func (h *toolsHandler) GetTool(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	tool, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	// Tool listings are public within the marketplace: any authed agent can
	// read a tool's price before calling it.
	writeJSON(w, http.StatusOK, tool)
}

// UpdateTool handles PUT /api/v1/tools/{id} (owner only).
func (h *toolsHandler) UpdateTool(w http.ResponseWriter, r *http.Request) {
	caller := auth.AgentFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var input registry.UpdateToolInput
	if err := readJSON(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if input.RatePer1kTokens != nil && *input.RatePer1kTokens < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "rate_per_1k_tokens must not be negative")
		return
	}

	if !h.ownedByCaller(w, r, id, caller.ID) {
		return
	}

	tool, err := h.store.Update(r.Context(), id, input)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tool)
}

// DeleteTool handles DELETE /api/v1/tools/{id} (owner only).
func (h *toolsHandler) DeleteTool(w http.ResponseWriter, r *http.Request) {
	caller := auth.AgentFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if !h.ownedByCaller(w, r, id, caller.ID) {
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *toolsHandler) ownedByCaller(w http.ResponseWriter, r *http.Request, id, callerID string) bool {
	tool, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return false
	}
	if tool.OwnerID != callerID {
		writeError(w, http.StatusForbidden, "forbidden", "tool is owned by another agent")
		return false
	}
	return true
}
