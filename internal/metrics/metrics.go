// Package metrics holds the Prometheus collectors for the settlement engine
// and a JSON summary endpoint for dashboards.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all Prometheus metric collectors for the meterbank engine.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Execution metrics.
	ExecutionsTotal      *prometheus.CounterVec
	ExecutionCostLamport *prometheus.CounterVec

	// Guardrail metrics.
	GuardrailRejectionsTotal *prometheus.CounterVec

	// Quote and reservation lifecycle.
	QuotesTotal       *prometheus.CounterVec
	ReservationsTotal *prometheus.CounterVec

	// Settlement metrics.
	SettlementsTotal   *prometheus.CounterVec
	SettledNetLamport  prometheus.Counter
	PlatformFeeLamport prometheus.Counter

	// Sweeper metrics.
	SweepExpiredTotal *prometheus.CounterVec

	// Auth metrics.
	AuthFailuresTotal *prometheus.CounterVec

	// Server lifecycle.
	ServerStartTime prometheus.Gauge
}

// New creates and registers all Prometheus metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meterbank_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meterbank_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path_pattern"}),

		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meterbank_executions_total",
			Help: "Total number of execution attempts by mode and result.",
		}, []string{"mode", "result"}),

		ExecutionCostLamport: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meterbank_execution_cost_lamport_total",
			Help: "Total lamports charged for successful executions by mode.",
		}, []string{"mode"}),

		GuardrailRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meterbank_guardrail_rejections_total",
			Help: "Total number of guardrail rejections by rule.",
		}, []string{"rule"}),

		QuotesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meterbank_quotes_total",
			Help: "Total number of quote lifecycle events.",
		}, []string{"event"}),

		ReservationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meterbank_reservations_total",
			Help: "Total number of reservation lifecycle events.",
		}, []string{"event"}),

		SettlementsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meterbank_settlements_total",
			Help: "Total number of settlement attempts by outcome.",
		}, []string{"status"}),

		SettledNetLamport: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meterbank_settled_net_lamport_total",
			Help: "Total net lamports paid out by confirmed settlements.",
		}),

		PlatformFeeLamport: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meterbank_platform_fee_lamport_total",
			Help: "Total lamports collected as platform fees.",
		}),

		SweepExpiredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meterbank_sweep_expired_total",
			Help: "Total number of rows flipped to expired by the sweeper.",
		}, []string{"kind"}),

		AuthFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meterbank_auth_failures_total",
			Help: "Total number of authentication failures.",
		}, []string{"auth_type"}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meterbank_server_start_time_seconds",
			Help: "Unix timestamp when the server started.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ExecutionsTotal,
		m.ExecutionCostLamport,
		m.GuardrailRejectionsTotal,
		m.QuotesTotal,
		m.ReservationsTotal,
		m.SettlementsTotal,
		m.SettledNetLamport,
		m.PlatformFeeLamport,
		m.SweepExpiredTotal,
		m.AuthFailuresTotal,
		m.ServerStartTime,
	)

	m.ServerStartTime.Set(float64(time.Now().Unix()))

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterDBPoolCollector registers a custom DB pool stats collector.
func (m *Metrics) RegisterDBPoolCollector(statFunc DBPoolStatFunc) {
	m.registry.MustRegister(NewDBPoolCollector(statFunc))
}

// IncHTTPRequest records one completed HTTP request.
func (m *Metrics) IncHTTPRequest(method, pathPattern string, statusCode int) {
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(statusCode)).Inc()
}

// ObserveHTTPDuration records a request's duration.
func (m *Metrics) ObserveHTTPDuration(method, pathPattern string, seconds float64) {
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(seconds)
}

// IncExecution records one execution attempt. Mode is "direct", "quote", or
// "reservation"; result is "ok", "rejected", or "error".
func (m *Metrics) IncExecution(mode, result string) {
	m.ExecutionsTotal.WithLabelValues(mode, result).Inc()
}

// AddExecutionCost accumulates the lamports charged by a successful execution.
func (m *Metrics) AddExecutionCost(mode string, cost int64) {
	m.ExecutionCostLamport.WithLabelValues(mode).Add(float64(cost))
}

// IncGuardrailRejection increments the rejection counter for one violated rule.
func (m *Metrics) IncGuardrailRejection(rule string) {
	m.GuardrailRejectionsTotal.WithLabelValues(rule).Inc()
}

// IncQuoteEvent records a quote lifecycle event: issued, used, cancelled, expired.
func (m *Metrics) IncQuoteEvent(event string) {
	m.QuotesTotal.WithLabelValues(event).Inc()
}

// IncReservationEvent records a reservation lifecycle event: reserved,
// captured, released, expired.
func (m *Metrics) IncReservationEvent(event string) {
	m.ReservationsTotal.WithLabelValues(event).Inc()
}

// IncSettlement records a settlement outcome: confirmed, failed, rejected.
func (m *Metrics) IncSettlement(status string) {
	m.SettlementsTotal.WithLabelValues(status).Inc()
}

// AddSettledAmounts accumulates a confirmed settlement's net payout and fee.
func (m *Metrics) AddSettledAmounts(net, fee int64) {
	m.SettledNetLamport.Add(float64(net))
	m.PlatformFeeLamport.Add(float64(fee))
}

// AddSweepExpired accumulates sweeper counts. Kind is "quote" or "reservation".
func (m *Metrics) AddSweepExpired(kind string, count int64) {
	m.SweepExpiredTotal.WithLabelValues(kind).Add(float64(count))
}

// IncAuthFailure increments the auth failure counter for the given auth type.
func (m *Metrics) IncAuthFailure(authType string) {
	m.AuthFailuresTotal.WithLabelValues(authType).Inc()
}
