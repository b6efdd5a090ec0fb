package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/agentrail/meterbank/internal/agent"
	"github.com/agentrail/meterbank/internal/guardrail"
	"github.com/agentrail/meterbank/internal/ledger"
	"github.com/agentrail/meterbank/internal/pricing"
	"github.com/agentrail/meterbank/internal/quote"
	"github.com/agentrail/meterbank/internal/registry"
	"github.com/agentrail/meterbank/internal/reservation"
	"github.com/agentrail/meterbank/internal/settlement"
)

// ---------------------------------------------------------------------------
// Health check handler tests
// ---------------------------------------------------------------------------

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(_ context.Context) error { return f.err }

func TestHealthCheck_OK(t *testing.T) {
	// Build a minimal router with no DBPool (the nil path reports "connected").
	deps := RouterDeps{
		AllowedOrigins: []string{"*"},
	}
	handler := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status=ok, got %q", body["status"])
	}
	if body["database"] != "connected" {
		t.Errorf("expected database=connected, got %q", body["database"])
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %q", ct)
	}
}

func TestHealthCheck_DBUnreachable(t *testing.T) {
	deps := RouterDeps{
		AllowedOrigins: []string{"*"},
		DBPool:         &fakePinger{err: errors.New("connection refused")},
	}
	handler := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["database"] != "unreachable" {
		t.Errorf("expected database=unreachable, got %q", body["database"])
	}
	if body["status"] != "degraded" {
		t.Errorf("expected status=degraded, got %q", body["status"])
	}
}

// ---------------------------------------------------------------------------
// Well-known manifest tests
// ---------------------------------------------------------------------------

func TestWellKnownHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/.well-known/meterbank.json", nil)
	rec := httptest.NewRecorder()
	WellKnownHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %q", ct)
	}

	var manifest map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&manifest); err != nil {
		t.Fatalf("failed to decode manifest: %v", err)
	}

	// Verify required top-level fields.
	requiredFields := []string{"name", "description", "version", "api_base", "auth", "endpoints", "health"}
	for _, field := range requiredFields {
		if _, ok := manifest[field]; !ok {
			t.Errorf("manifest missing required field %q", field)
		}
	}

	if name, _ := manifest["name"].(string); name != "Meterbank" {
		t.Errorf("expected name=Meterbank, got %q", name)
	}
	if apiBase, _ := manifest["api_base"].(string); apiBase != "/api/v1" {
		t.Errorf("expected api_base=/api/v1, got %q", apiBase)
	}

	// Verify auth shape.
	authMap, ok := manifest["auth"].(map[string]interface{})
	if !ok {
		t.Fatal("auth field is not an object")
	}
	if authMap["type"] != "bearer" {
		t.Errorf("expected auth.type=bearer, got %v", authMap["type"])
	}

	// Verify endpoints shape.
	endpoints, ok := manifest["endpoints"].(map[string]interface{})
	if !ok {
		t.Fatal("endpoints field is not an object")
	}
	expectedEndpoints := []string{"preview", "execute", "quotes", "reservations", "budget", "usage", "settle", "tools"}
	for _, ep := range expectedEndpoints {
		if _, ok := endpoints[ep]; !ok {
			t.Errorf("endpoints missing %q", ep)
		}
	}
}

func TestWellKnownHandler_ViaRouter(t *testing.T) {
	handler := NewRouter(RouterDeps{AllowedOrigins: []string{"*"}})

	req := httptest.NewRequest(http.MethodGet, "/.well-known/meterbank.json", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 via router, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// CORS middleware tests
// ---------------------------------------------------------------------------

func TestCORSMiddleware(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name            string
		allowedOrigins  []string
		requestOrigin   string
		method          string
		wantStatus      int
		wantAllowOrigin string
		wantVary        string
	}{
		{
			name:            "wildcard allows any origin",
			allowedOrigins:  []string{"*"},
			requestOrigin:   "https://example.com",
			method:          http.MethodGet,
			wantStatus:      http.StatusOK,
			wantAllowOrigin: "*",
		},
		{
			name:            "specific origin is echoed back",
			allowedOrigins:  []string{"https://app.example.com"},
			requestOrigin:   "https://app.example.com",
			method:          http.MethodGet,
			wantStatus:      http.StatusOK,
			wantAllowOrigin: "https://app.example.com",
			wantVary:        "Origin",
		},
		{
			name:            "non-matching origin gets no Allow-Origin header",
			allowedOrigins:  []string{"https://app.example.com"},
			requestOrigin:   "https://evil.com",
			method:          http.MethodGet,
			wantStatus:      http.StatusOK,
			wantAllowOrigin: "",
		},
		{
			name:            "no origin header means no CORS headers",
			allowedOrigins:  []string{"*"},
			requestOrigin:   "",
			method:          http.MethodGet,
			wantStatus:      http.StatusOK,
			wantAllowOrigin: "",
		},
		{
			name:            "preflight returns 204",
			allowedOrigins:  []string{"*"},
			requestOrigin:   "https://example.com",
			method:          http.MethodOptions,
			wantStatus:      http.StatusNoContent,
			wantAllowOrigin: "*",
		},
		{
			name:            "preflight with specific origin",
			allowedOrigins:  []string{"https://app.example.com"},
			requestOrigin:   "https://app.example.com",
			method:          http.MethodOptions,
			wantStatus:      http.StatusNoContent,
			wantAllowOrigin: "https://app.example.com",
			wantVary:        "Origin",
		},
		{
			name:            "empty allowed origins list",
			allowedOrigins:  nil,
			requestOrigin:   "https://example.com",
			method:          http.MethodGet,
			wantStatus:      http.StatusOK,
			wantAllowOrigin: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw := corsMiddleware(tt.allowedOrigins)
			handler := mw(inner)

			req := httptest.NewRequest(tt.method, "/test", nil)
			if tt.requestOrigin != "" {
				req.Header.Set("Origin", tt.requestOrigin)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status: got %d, want %d", rec.Code, tt.wantStatus)
			}

			gotAllowOrigin := rec.Header().Get("Access-Control-Allow-Origin")
			if gotAllowOrigin != tt.wantAllowOrigin {
				t.Errorf("Access-Control-Allow-Origin: got %q, want %q", gotAllowOrigin, tt.wantAllowOrigin)
			}

			if tt.wantVary != "" {
				gotVary := rec.Header().Get("Vary")
				if gotVary != tt.wantVary {
					t.Errorf("Vary: got %q, want %q", gotVary, tt.wantVary)
				}
			}

			// When origin is set and allowed, check CORS method headers are present.
			if tt.requestOrigin != "" && tt.wantAllowOrigin != "" {
				if methods := rec.Header().Get("Access-Control-Allow-Methods"); methods == "" {
					t.Error("expected Access-Control-Allow-Methods to be set")
				}
				if headers := rec.Header().Get("Access-Control-Allow-Headers"); headers == "" {
					t.Error("expected Access-Control-Allow-Headers to be set")
				}
				if maxAge := rec.Header().Get("Access-Control-Max-Age"); maxAge != "86400" {
					t.Errorf("Access-Control-Max-Age: got %q, want 86400", maxAge)
				}
			}
		})
	}
}

func TestCORSMiddleware_PreflightDoesNotCallNext(t *testing.T) {
	called := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	mw := corsMiddleware([]string{"*"})
	handler := mw(inner)

	req := httptest.NewRequest(http.MethodOptions, "/test", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if called {
		t.Error("preflight OPTIONS should not call the next handler")
	}
}

// ---------------------------------------------------------------------------
// Secure headers middleware tests
// ---------------------------------------------------------------------------

func TestSecureHeaders(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := secureHeaders(inner)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	expectedHeaders := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"X-XSS-Protection":       "0",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}

	for header, want := range expectedHeaders {
		got := rec.Header().Get(header)
		if got != want {
			t.Errorf("%s: got %q, want %q", header, got, want)
		}
	}
}

// ---------------------------------------------------------------------------
// Request ID middleware tests
// ---------------------------------------------------------------------------

func TestRequestIDMiddleware_GeneratesID(t *testing.T) {
	var capturedID string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedID = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	handler := requestIDMiddleware(inner)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	// Response header should be set.
	respID := rec.Header().Get("X-Request-ID")
	if respID == "" {
		t.Fatal("expected X-Request-ID response header to be set")
	}

	// Generated ID should be 32 hex characters (16 bytes).
	if len(respID) != 32 {
		t.Errorf("expected 32-char hex ID, got %d chars: %q", len(respID), respID)
	}

	// Context value should match response header.
	if capturedID != respID {
		t.Errorf("context ID %q does not match response header ID %q", capturedID, respID)
	}
}

func TestRequestIDMiddleware_ForwardsExistingID(t *testing.T) {
	const existingID = "my-custom-request-id-12345"

	var capturedID string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedID = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	handler := requestIDMiddleware(inner)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("X-Request-ID", existingID)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	respID := rec.Header().Get("X-Request-ID")
	if respID != existingID {
		t.Errorf("expected forwarded ID %q, got %q", existingID, respID)
	}
	if capturedID != existingID {
		t.Errorf("context ID: expected %q, got %q", existingID, capturedID)
	}
}

func TestRequestIDFromContext_Empty(t *testing.T) {
	// Calling with a bare context should return empty string.
	id := RequestIDFromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context())
	if id != "" {
		t.Errorf("expected empty string from bare context, got %q", id)
	}
}

// ---------------------------------------------------------------------------
// writeError / writeJSON / readJSON helper tests
// ---------------------------------------------------------------------------

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusNotFound, "not_found", "resource not found")

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %q", ct)
	}

	var envelope errorEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if envelope.Error.Code != "not_found" {
		t.Errorf("expected code=not_found, got %q", envelope.Error.Code)
	}
	if envelope.Error.Message != "resource not found" {
		t.Errorf("expected message='resource not found', got %q", envelope.Error.Message)
	}
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	data := map[string]string{"hello": "world"}
	writeJSON(rec, http.StatusCreated, data)

	if rec.Code != http.StatusCreated {
		t.Errorf("expected status 201, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body["hello"] != "world" {
		t.Errorf("expected hello=world, got %q", body["hello"])
	}
}

func TestReadJSON_Valid(t *testing.T) {
	body := strings.NewReader(`{"name":"test","value":42}`)
	req := httptest.NewRequest(http.MethodPost, "/", body)

	var result struct {
		Name  string `json:"name"`
		Value int    `json:"value"`
	}
	if err := readJSON(req, &result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Name != "test" || result.Value != 42 {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestReadJSON_InvalidJSON(t *testing.T) {
	body := strings.NewReader(`{not json`)
	req := httptest.NewRequest(http.MethodPost, "/", body)

	var result map[string]interface{}
	if err := readJSON(req, &result); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestReadJSON_EmptyBody(t *testing.T) {
	body := strings.NewReader("")
	req := httptest.NewRequest(http.MethodPost, "/", body)

	var result map[string]interface{}
	if err := readJSON(req, &result); err == nil {
		t.Error("expected error for empty body")
	}
}

// ---------------------------------------------------------------------------
// Domain error mapping tests
// ---------------------------------------------------------------------------

func TestWriteDomainError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "negative tokens",
			err:        pricing.ErrNegativeTokens,
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_request",
		},
		{
			name:       "token limit exceeded",
			err:        &pricing.TokensExceedLimitError{Tokens: 2_000_000, Limit: 1_000_000},
			wantStatus: http.StatusBadRequest,
			wantCode:   "token_limit_exceeded",
		},
		{
			name:       "below minimum payout",
			err:        &settlement.BelowMinimumError{Pending: 500, MinPayout: 1000},
			wantStatus: http.StatusPaymentRequired,
			wantCode:   "below_minimum_payout",
		},
		{
			name:       "insufficient balance",
			err:        &ledger.InsufficientBalanceError{Need: 4000, Balance: 3000, Available: 3000},
			wantStatus: http.StatusPaymentRequired,
			wantCode:   "insufficient_balance",
		},
		{
			name: "guardrail violation",
			err: &guardrail.ViolationError{Violations: []guardrail.Violation{
				{Rule: guardrail.RuleMaxCostPerCall, Message: "call cost 4000 exceeds max_cost_per_call 3000"},
			}},
			wantStatus: http.StatusForbidden,
			wantCode:   "guardrail_violation",
		},
		{
			name:       "identity mismatch",
			err:        &quote.IdentityMismatchError{Field: "callee", Want: "agent-a", Got: "agent-b"},
			wantStatus: http.StatusForbidden,
			wantCode:   "identity_mismatch",
		},
		{
			name:       "agent not found",
			err:        agent.ErrNotFound,
			wantStatus: http.StatusNotFound,
			wantCode:   "not_found",
		},
		{
			name:       "tool not found",
			err:        registry.ErrNotFound,
			wantStatus: http.StatusNotFound,
			wantCode:   "not_found",
		},
		{
			name:       "quote not found",
			err:        quote.ErrNotFound,
			wantStatus: http.StatusNotFound,
			wantCode:   "not_found",
		},
		{
			name:       "reservation not found",
			err:        reservation.ErrNotFound,
			wantStatus: http.StatusNotFound,
			wantCode:   "not_found",
		},
		{
			name:       "token overrun",
			err:        &quote.TokenOverrunError{Actual: 2000, Estimated: 1500},
			wantStatus: http.StatusConflict,
			wantCode:   "token_overrun",
		},
		{
			name:       "quote expired",
			err:        quote.ErrExpired,
			wantStatus: http.StatusConflict,
			wantCode:   "state_conflict",
		},
		{
			name:       "quote already used",
			err:        quote.ErrAlreadyUsed,
			wantStatus: http.StatusConflict,
			wantCode:   "state_conflict",
		},
		{
			name:       "reservation not active",
			err:        reservation.ErrNotActive,
			wantStatus: http.StatusConflict,
			wantCode:   "state_conflict",
		},
		{
			name:       "settlement in flight",
			err:        settlement.ErrInFlight,
			wantStatus: http.StatusConflict,
			wantCode:   "state_conflict",
		},
		{
			name:       "external rail failure",
			err:        &settlement.ExternalPayError{Err: errors.New("rail timeout")},
			wantStatus: http.StatusBadGateway,
			wantCode:   "external_rail_error",
		},
		{
			name:       "wrapped domain error still maps",
			err:        fmt.Errorf("executing call: %w", quote.ErrExpired),
			wantStatus: http.StatusConflict,
			wantCode:   "state_conflict",
		},
		{
			name:       "unknown error",
			err:        errors.New("something broke"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeDomainError(rec, tt.err)

			if rec.Code != tt.wantStatus {
				t.Errorf("status: got %d, want %d", rec.Code, tt.wantStatus)
			}

			var envelope errorEnvelope
			if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if envelope.Error.Code != tt.wantCode {
				t.Errorf("code: got %q, want %q", envelope.Error.Code, tt.wantCode)
			}
		})
	}
}

func TestWriteDomainError_ViolationsIncluded(t *testing.T) {
	rec := httptest.NewRecorder()
	writeDomainError(rec, &guardrail.ViolationError{Violations: []guardrail.Violation{
		{Rule: guardrail.RulePaused, Message: "agent is paused"},
		{Rule: guardrail.RuleDailySpendCap, Message: "daily spend cap reached"},
	}})

	var envelope errorEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(envelope.Error.Violations) != 2 {
		t.Fatalf("expected 2 violations in response body, got %d", len(envelope.Error.Violations))
	}
	if envelope.Error.Violations[0].Rule != guardrail.RulePaused {
		t.Errorf("expected first violation rule %q, got %q", guardrail.RulePaused, envelope.Error.Violations[0].Rule)
	}
}

func TestWriteDomainError_InternalHidesDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	writeDomainError(rec, errors.New("pq: relation \"agents\" does not exist"))

	var envelope errorEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if strings.Contains(envelope.Error.Message, "agents") {
		t.Errorf("internal error detail leaked to client: %q", envelope.Error.Message)
	}
}

// ---------------------------------------------------------------------------
// generateID tests
// ---------------------------------------------------------------------------

func TestGenerateID_Format(t *testing.T) {
	id := generateID()

	if len(id) != 32 {
		t.Errorf("expected 32-char hex string, got %d chars: %q", len(id), id)
	}

	// Verify it is valid hex.
	for _, c := range id {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			t.Errorf("non-hex character %c in generated ID %q", c, id)
			break
		}
	}
}

func TestGenerateID_Unique(t *testing.T) {
	ids := make(map[string]struct{}, 100)
	for i := 0; i < 100; i++ {
		id := generateID()
		if _, exists := ids[id]; exists {
			t.Fatalf("duplicate ID generated: %s", id)
		}
		ids[id] = struct{}{}
	}
}

// ---------------------------------------------------------------------------
// parseUsageQuery tests
// ---------------------------------------------------------------------------

func TestParseUsageQuery(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		wantMsg bool
	}{
		{"no params", "/usage", false},
		{"filters", "/usage?callee_id=a&tool_name=search&limit=25", false},
		{"valid time bounds", "/usage?from=2026-08-01T00:00:00Z&to=2026-08-25T00:00:00Z", false},
		{"invalid from", "/usage?from=not-a-date", true},
		{"invalid to", "/usage?to=2026-08", true},
		{"zero limit", "/usage?limit=0", true},
		{"non-numeric limit", "/usage?limit=ten", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			q, msg := parseUsageQuery(req)
			if tt.wantMsg && msg == "" {
				t.Error("expected a validation message, got none")
			}
			if !tt.wantMsg && msg != "" {
				t.Errorf("unexpected validation message: %q", msg)
			}
			if tt.name == "filters" {
				if q.CalleeID != "a" || q.ToolName != "search" || q.Limit != 25 {
					t.Errorf("unexpected parsed query: %+v", q)
				}
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Middleware integration via router (secure headers, request ID, CORS, auth)
// ---------------------------------------------------------------------------

func TestRouter_SecureHeadersApplied(t *testing.T) {
	handler := NewRouter(RouterDeps{AllowedOrigins: []string{"*"}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected X-Content-Type-Options: nosniff on router responses")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("expected X-Frame-Options: DENY on router responses")
	}
}

func TestRouter_RequestIDApplied(t *testing.T) {
	handler := NewRouter(RouterDeps{AllowedOrigins: []string{"*"}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID to be set on router responses")
	}
}

func TestRouter_CORSApplied(t *testing.T) {
	handler := NewRouter(RouterDeps{AllowedOrigins: []string{"https://myapp.com"}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://myapp.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://myapp.com" {
		t.Errorf("expected Access-Control-Allow-Origin=https://myapp.com, got %q", got)
	}
}

func TestRouter_PreflightAtAnyPath(t *testing.T) {
	handler := NewRouter(RouterDeps{AllowedOrigins: []string{"*"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/execute", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	// Preflight should be short-circuited by the CORS middleware before auth.
	if rec.Code != http.StatusNoContent && rec.Code != http.StatusOK {
		t.Errorf("expected 204 or 200 for OPTIONS preflight, got %d", rec.Code)
	}
}

func TestRouter_AgentRoutesRequireAuth(t *testing.T) {
	handler := NewRouter(RouterDeps{AllowedOrigins: []string{"*"}})

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/v1/execute"},
		{http.MethodPost, "/api/v1/preview"},
		{http.MethodPost, "/api/v1/quotes"},
		{http.MethodPost, "/api/v1/reservations"},
		{http.MethodGet, "/api/v1/budget"},
		{http.MethodGet, "/api/v1/usage"},
		{http.MethodPost, "/api/v1/settle"},
		{http.MethodGet, "/api/v1/tools"},
		{http.MethodGet, "/api/v1/agents/me"},
	}

	for _, p := range paths {
		req := httptest.NewRequest(p.method, p.path, strings.NewReader("{}"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401 without a bearer token, got %d", p.method, p.path, rec.Code)
		}
	}
}

func TestRouter_AdminRoutesRequireKey(t *testing.T) {
	// No admin key hash configured: the admin surface must reject everything.
	handler := NewRouter(RouterDeps{AllowedOrigins: []string{"*"}})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/agents", nil)
	req.Header.Set("Authorization", "Bearer some-admin-key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 on admin route without a configured key, got %d", rec.Code)
	}
}

func TestRouter_NotFound(t *testing.T) {
	handler := NewRouter(RouterDeps{AllowedOrigins: []string{"*"}})

	req := httptest.NewRequest(http.MethodGet, "/nonexistent-path", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown path, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Request validation tests
// ---------------------------------------------------------------------------

func TestExecuteRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     executeRequest
		wantMsg bool
	}{
		{"valid direct", executeRequest{CalleeID: "b", ToolName: "search", Tokens: 1500}, false},
		{"valid zero tokens", executeRequest{CalleeID: "b", ToolName: "search", Tokens: 0}, false},
		{"missing callee", executeRequest{ToolName: "search", Tokens: 100}, true},
		{"missing tool name", executeRequest{CalleeID: "b", Tokens: 100}, true},
		{"negative tokens", executeRequest{CalleeID: "b", ToolName: "search", Tokens: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.req.validate()
			if tt.wantMsg && msg == "" {
				t.Error("expected a validation message, got none")
			}
			if !tt.wantMsg && msg != "" {
				t.Errorf("unexpected validation message: %q", msg)
			}
		})
	}
}
