package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/agentrail/meterbank/internal/agent"
	"github.com/agentrail/meterbank/internal/auth"
	"github.com/agentrail/meterbank/internal/engine"
	"github.com/agentrail/meterbank/internal/ledger"
	"github.com/agentrail/meterbank/internal/metrics"
	"github.com/agentrail/meterbank/internal/quote"
	"github.com/agentrail/meterbank/internal/registry"
	"github.com/agentrail/meterbank/internal/reservation"
	"github.com/agentrail/meterbank/internal/settlement"
)

// Pinger is the health-check surface of the database pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterDeps holds all dependencies for the API router.
type RouterDeps struct {
	Engine       *engine.Service
	Quotes       *quote.Service
	Reservations *reservation.Service
	Settlements  *settlement.Service
	LedgerStore  *ledger.Store
	ToolStore    *registry.Store
	AgentStore   *agent.Store
	Auth         *auth.Service
	Metrics      *metrics.Metrics
	DBPool       Pinger

	AdminKeyHash   string
	AllowedOrigins []string
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(secureHeaders)
	r.Use(corsMiddleware(deps.AllowedOrigins))
	r.Use(slogRequestLogger)
	if deps.Metrics != nil {
		r.Use(httpMetricsMiddleware(deps.Metrics))
	}

	// Handlers.
	execute := newExecuteHandler(deps.Engine, deps.Metrics)
	quotes := newQuotesHandler(deps.Quotes, deps.Metrics)
	reservations := newReservationsHandler(deps.Reservations, deps.Metrics)
	settlements := newSettlementHandler(deps.Settlements, deps.Metrics)
	usage := newUsageHandler(deps.LedgerStore)
	tools := newToolsHandler(deps.ToolStore)
	agents := newAgentsHandler(deps.AgentStore)

	// Health check.
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		status, db := http.StatusOK, "connected"
		if deps.DBPool != nil {
			if err := deps.DBPool.Ping(req.Context()); err != nil {
				status, db = http.StatusServiceUnavailable, "unreachable"
			}
		}
		writeJSON(w, status, map[string]string{"status": statusWord(status), "database": db})
	})

	// Well-known manifest.
	r.Get("/.well-known/meterbank.json", WellKnownHandler)

	// Metrics summary.
	if deps.Metrics != nil {
		r.Get("/metrics/summary", deps.Metrics.Handler())
	}

	// Agent-authed routes.
	r.Route("/api/v1", func(ar chi.Router) {
		ar.Use(auth.AgentAuthMiddleware(deps.Auth))

		ar.Post("/preview", execute.Preview)
		ar.Post("/execute", execute.Execute)

		ar.Post("/quotes", quotes.IssueQuote)
		ar.Get("/quotes", quotes.ListQuotes)
		ar.Get("/quotes/{id}", quotes.GetQuote)
		ar.Delete("/quotes/{id}", quotes.CancelQuote)

		ar.Post("/reservations", reservations.Reserve)
		ar.Get("/reservations/{id}", reservations.GetReservation)
		ar.Post("/reservations/{id}/capture", reservations.Capture)
		ar.Post("/reservations/{id}/release", reservations.Release)

		ar.Get("/budget", execute.Budget)
		ar.Put("/budget/guardrails", agents.UpdateGuardrails)
		ar.Post("/budget/pause", agents.Pause)
		ar.Post("/budget/resume", agents.Resume)

		ar.Get("/usage", usage.GetUsage)
		ar.Get("/usage/records", func(w http.ResponseWriter, req *http.Request) {
			usage.ListRecords(w, req, false)
		})

		ar.Post("/settle", settlements.Settle)
		ar.Get("/settlements", settlements.ListSettlements)

		ar.Post("/tools", tools.CreateTool)
		ar.Get("/tools", tools.ListTools)
		ar.Get("/tools/{id}", tools.GetTool)
		ar.Put("/tools/{id}", tools.UpdateTool)
		ar.Delete("/tools/{id}", tools.DeleteTool)

		ar.Get("/agents/me", agents.GetSelfAgent)
	})

	// Admin routes (require operator key).
	r.Route("/api/v1/admin", func(ar chi.Router) {
		ar.Use(auth.AdminAuthMiddleware(deps.AdminKeyHash))

		ar.Post("/agents", agents.CreateAgent)
		ar.Get("/agents", agents.ListAgents)
		ar.Get("/agents/{id}", agents.GetAgent)
		ar.Post("/agents/{id}/credit", agents.CreditAgent)
		ar.Post("/agents/{id}/settle", settlements.SettleAdmin)
		ar.Delete("/agents/{id}", agents.DeleteAgent)

		ar.Get("/usage", usage.GetUsageAdmin)
		ar.Get("/usage/records", func(w http.ResponseWriter, req *http.Request) {
			usage.ListRecords(w, req, true)
		})
	})

	return r
}

func statusWord(code int) string {
	if code == http.StatusOK {
		return "ok"
	}
	return "degraded"
}

// slogRequestLogger is a simple structured logging middleware using slog.
func slogRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"bytes", ww.BytesWritten(),
			"request_id", RequestIDFromContext(r.Context()),
		)
	})
}

// httpMetricsMiddleware records request counts and latencies against the
// matched route pattern, so path parameters do not explode label
// cardinality.
func httpMetricsMiddleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			pattern := chi.RouteContext(r.Context()).RoutePattern()
			if pattern == "" {
				pattern = "unmatched"
			}
			m.IncHTTPRequest(r.Method, pattern, ww.Status())
			m.ObserveHTTPDuration(r.Method, pattern, time.Since(start).Seconds())
		})
	}
}
