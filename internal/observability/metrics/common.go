package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RateLimitBlocked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_rate_limit_blocked_total",
			Help: "Requests rejected by the per-route rate limiter",
		},
		[]string{"path", "limiter_type"},
	)

	// CircuitBreakerState is 1 while the named store breaker is open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "auth_store_circuit_open",
			Help: "Whether the store circuit breaker is open (1) or closed (0)",
		},
		[]string{"name"},
	)

	CircuitBreakerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_store_circuit_failures_total",
			Help: "Store failures counted by the circuit breaker",
		},
		[]string{"name"},
	)

	DomainErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_domain_errors_total",
			Help: "Domain errors returned to clients by code",
		},
		[]string{"code"},
	)

	HTTPErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_http_errors_total",
			Help: "Error responses by status and route",
		},
		[]string{"status", "path"},
	)
)
