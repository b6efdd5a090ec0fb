package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentrail/meterbank/internal/auth"
	"github.com/agentrail/meterbank/internal/metrics"
	"github.com/agentrail/meterbank/internal/settlement"
)

// settlementHandler serves payout requests and settlement history.
type settlementHandler struct {
	service *settlement.Service
	metrics *metrics.Metrics
}

func newSettlementHandler(svc *settlement.Service, m *metrics.Metrics) *settlementHandler {
	return &settlementHandler{service: svc, metrics: m}
}

// Settle handles POST /api/v1/settle: pay out the caller's pending balance.
func (h *settlementHandler) Settle(w http.ResponseWriter, r *http.Request) {
	caller := auth.AgentFromContext(r.Context())

	st, err := h.service.Settle(r.Context(), caller.ID)
	if err != nil {
		if h.metrics != nil {
			h.metrics.IncSettlement("failed")
		}
		writeDomainError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.IncSettlement("confirmed")
		h.metrics.AddSettledAmounts(st.NetAmount, st.FeeAmount)
	}
	writeJSON(w, http.StatusOK, st)
}

// SettleAdmin handles POST /api/v1/admin/agents/{id}/settle: an operator
// triggers the payout on a principal's behalf.
func (h *settlementHandler) SettleAdmin(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	st, err := h.service.Settle(r.Context(), id)
	if err != nil {
		if h.metrics != nil {
			h.metrics.IncSettlement("failed")
		}
		writeDomainError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.IncSettlement("confirmed")
		h.metrics.AddSettledAmounts(st.NetAmount, st.FeeAmount)
	}
	writeJSON(w, http.StatusOK, st)
}

// ListSettlements handles GET /api/v1/settlements.
func (h *settlementHandler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	caller := auth.AgentFromContext(r.Context())

	sts, err := h.service.List(r.Context(), caller.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if sts == nil {
		sts = []*settlement.Settlement{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"settlements": sts})
}
