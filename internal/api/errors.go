package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/agentrail/meterbank/internal/agent"
	"github.com/agentrail/meterbank/internal/guardrail"
	"github.com/agentrail/meterbank/internal/ledger"
	"github.com/agentrail/meterbank/internal/pricing"
	"github.com/agentrail/meterbank/internal/quote"
	"github.com/agentrail/meterbank/internal/registry"
	"github.com/agentrail/meterbank/internal/reservation"
	"github.com/agentrail/meterbank/internal/settlement"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// errorEnvelope is the standard error response shape.
type errorEnvelope struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Violations carries the full rule set for guardrail rejections.
	Violations []guardrail.Violation `json:"violations,omitempty"`
}

// writeError writes a JSON error response with the given status code.
func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// writeJSON writes a JSON response with the given status code and data.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// readJSON decodes the request body into v, enforcing a size limit.
func readJSON(r *http.Request, v interface{}) error {
	lr := io.LimitReader(r.Body, maxBodySize)
	return json.NewDecoder(lr).Decode(v)
}

// writeDomainError maps an engine error onto the HTTP taxonomy: validation
// failures are 400, insufficiency is 402, policy rejections are 403, unknown
// resources are 404, stale or already-consumed state is 409, and external
// rail failures are 502. Anything unrecognized is a 500 with a generic body.
func writeDomainError(w http.ResponseWriter, err error) {
	var (
		tokenLimit   *pricing.TokensExceedLimitError
		insufficient *ledger.InsufficientBalanceError
		violation    *guardrail.ViolationError
		mismatch     *quote.IdentityMismatchError
		overrun      *quote.TokenOverrunError
		belowMin     *settlement.BelowMinimumError
		payErr       *settlement.ExternalPayError
	)

	switch {
	case errors.Is(err, pricing.ErrNegativeTokens),
		errors.Is(err, pricing.ErrNegativeRate):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())

	case errors.As(err, &tokenLimit):
		writeError(w, http.StatusBadRequest, "token_limit_exceeded", err.Error())

	case errors.As(err, &belowMin):
		writeError(w, http.StatusPaymentRequired, "below_minimum_payout", err.Error())

	case errors.As(err, &insufficient):
		writeError(w, http.StatusPaymentRequired, "insufficient_balance", err.Error())

	case errors.As(err, &violation):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(errorEnvelope{
			Error: errorDetail{
				Code:       "guardrail_violation",
				Message:    err.Error(),
				Violations: violation.Violations,
			},
		})

	case errors.As(err, &mismatch):
		writeError(w, http.StatusForbidden, "identity_mismatch", err.Error())

	case errors.Is(err, agent.ErrNotFound),
		errors.Is(err, registry.ErrNotFound),
		errors.Is(err, registry.ErrOwnerNotFound),
		errors.Is(err, ledger.ErrPrincipalNotFound),
		errors.Is(err, quote.ErrNotFound),
		errors.Is(err, reservation.ErrNotFound),
		errors.Is(err, reservation.ErrCalleeNotFound),
		errors.Is(err, settlement.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())

	case errors.As(err, &overrun):
		writeError(w, http.StatusConflict, "token_overrun", err.Error())

	case errors.Is(err, quote.ErrExpired),
		errors.Is(err, quote.ErrAlreadyUsed),
		errors.Is(err, quote.ErrNotActive),
		errors.Is(err, ledger.ErrQuoteConsumed),
		errors.Is(err, reservation.ErrNotActive),
		errors.Is(err, reservation.ErrExpired),
		errors.Is(err, settlement.ErrInFlight),
		errors.Is(err, settlement.ErrNotPending):
		writeError(w, http.StatusConflict, "state_conflict", err.Error())

	case errors.As(err, &payErr):
		writeError(w, http.StatusBadGateway, "external_rail_error", err.Error())

	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
