package constants

import "time"

const (
	PasswordMinLength  = 8
	PasswordMaxLength  = 72
	IdentifierMaxLen   = 254
	JWTSecretMinLength = 32
	RefreshTokenSize   = 32
	BcryptCost         = 12

	DefaultMaxRequestSize = 1 << 20

	DBPoolMaxConns        = 25
	DBPoolMinConns        = 5
	DBPoolConnMaxLifetime = time.Hour
	DBPoolConnMaxIdleTime = 30 * time.Minute
	DBPoolHealthCheck     = 1 * time.Minute
	DBPoolConnectTimeout  = 5 * time.Second
	DBPoolMaxAttempts     = 10
	DBPoolRetryDelay      = 1 * time.Second
	DBPoolMetricsInterval = 30 * time.Second
	DBQueryTimeout        = 5 * time.Second

	RedisDialTimeout = 5 * time.Second
	RedisOpTimeout   = 2 * time.Second

	ServerReadHeaderTimeout = 10 * time.Second
	ServerReadTimeout       = 30 * time.Second
	ServerWriteTimeout      = 30 * time.Second
	ServerIdleTimeout       = 120 * time.Second

	ShutdownTimeout = 30 * time.Second
	DrainTimeout    = 10 * time.Second

	DefaultAuthHTTPPort = "8081"

	DefaultCircuitBreakerThreshold = 50
	DefaultCircuitBreakerTimeout   = 5 * time.Second
	DefaultCircuitBreakerReset     = 10 * time.Second

	DefaultAuthRequestTimeout = 5 * time.Second

	DefaultInternalAccessTokenTTL  = 30 * time.Minute
	DefaultExternalAccessTokenTTL  = 15 * time.Minute
	DefaultInternalRefreshTokenTTL = 7 * 24 * time.Hour
	DefaultExternalRefreshTokenTTL = 7 * 24 * time.Hour

	DefaultMaxFailedAttempts   = 5
	DefaultLockDurationMinutes = 30
	DefaultAttemptWindow       = 24 * time.Hour

	DefaultRefreshSweepInterval   = 10 * time.Minute
	DefaultBlacklistSweepInterval = 5 * time.Minute
	DefaultAttemptSweepInterval   = 15 * time.Minute

	RateLimitCleanupInterval          = 5 * time.Minute
	RateLimitLoginRequestsPerSecond   = 1
	RateLimitLoginBurst               = 10
	RateLimitRefreshRequestsPerSecond = 2
	RateLimitRefreshBurst             = 20
	RateLimitLogoutRequestsPerSecond  = 2
	RateLimitLogoutBurst              = 20
	RateLimitAdminRequestsPerSecond   = 5
	RateLimitAdminBurst               = 20
	RateLimitGeneralRequestsPerSecond = 10
	RateLimitGeneralBurst             = 50

	LoggerMaxSize    = 100
	LoggerMaxBackups = 3
	LoggerMaxAge     = 28
)

type TraceIDKeyType string

const TraceIDKey TraceIDKeyType = "trace_id"
