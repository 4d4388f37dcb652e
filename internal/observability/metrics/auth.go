package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AuthRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_requests_total",
			Help: "Total number of auth requests",
		},
		[]string{"method", "path"},
	)

	AuthRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "auth_requests_in_flight",
			Help: "Number of auth requests currently being processed",
		},
	)

	AuthRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "auth_request_duration_seconds",
			Help:    "Duration of auth requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	LoginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Total number of login attempts by realm and outcome",
		},
		[]string{"realm", "outcome"},
	)

	RefreshTokensIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refresh_tokens_issued_total",
			Help: "Total number of refresh tokens issued",
		},
		[]string{"realm"},
	)

	RefreshTokensRotated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refresh_tokens_rotated_total",
			Help: "Total number of successful refresh token rotations",
		},
		[]string{"realm"},
	)

	RefreshTokensRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refresh_tokens_rejected_total",
			Help: "Total number of rejected refresh attempts by reason",
		},
		[]string{"reason"},
	)

	RefreshTokenReuseDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "refresh_token_reuse_detected_total",
			Help: "Total number of refresh token reuse events (family revoked)",
		},
	)

	RefreshFamiliesRevoked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refresh_token_families_revoked_total",
			Help: "Total number of refresh token revocations by scope",
		},
		[]string{"scope"},
	)

	RefreshTokensCleanupDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "refresh_tokens_cleanup_deleted_total",
			Help: "Total number of expired refresh tokens deleted during cleanup",
		},
	)

	AccessTokensIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_tokens_issued_total",
			Help: "Total number of access tokens issued",
		},
		[]string{"realm", "token_type"},
	)

	AccessTokensBlacklisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_tokens_blacklisted_total",
			Help: "Total number of tokens added to the blacklist by reason",
		},
		[]string{"reason"},
	)

	BlacklistCleanupDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blacklist_cleanup_deleted_total",
			Help: "Total number of expired blacklist entries deleted during cleanup",
		},
	)

	LoginFailuresRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "login_failures_recorded_total",
			Help: "Total number of failed login attempts recorded by the lockout guard",
		},
	)

	AccountLockouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "account_lockouts_total",
			Help: "Total number of identifiers locked after repeated failures",
		},
	)

	JWTValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jwt_validations_total",
			Help: "Total number of JWT validations",
		},
		[]string{"realm"},
	)

	JWTValidationsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jwt_validations_failed_total",
			Help: "Total number of failed JWT validations",
		},
		[]string{"realm"},
	)

	JWTBlacklistChecksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jwt_blacklist_checks_total",
			Help: "Total number of blacklist checks",
		},
	)

	ScheduledJobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_scheduled_job_runs_total",
			Help: "Total number of scheduled maintenance job runs by outcome",
		},
		[]string{"job", "outcome"},
	)
)
