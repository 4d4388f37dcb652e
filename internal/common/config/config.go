package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/AlibekovAA/authcore/internal/common/constants"
	commonerrors "github.com/AlibekovAA/authcore/internal/common/errors"
)

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"

	RefreshStrategyRotating = "rotating"
	RefreshStrategySigned   = "signed"
)

type AuthConfig struct {
	HTTPPort       string
	DatabaseURL    string
	RedisURL       string
	LogDir         string
	LogLevel       string
	RequestTimeout time.Duration

	InternalSecret string
	ExternalSecret string

	InternalAccessTTL  time.Duration
	ExternalAccessTTL  time.Duration
	InternalRefreshTTL time.Duration
	ExternalRefreshTTL time.Duration

	MaxFailedAttempts int
	LockDuration      time.Duration
	AttemptWindow     time.Duration

	BcryptCost int

	RefreshSweepInterval   time.Duration
	BlacklistSweepInterval time.Duration
	AttemptSweepInterval   time.Duration

	RefreshStore            string
	LockoutStore            string
	BlacklistStore          string
	ExternalRefreshStrategy string

	AdminUserIDs []string
}

func (c AuthConfig) NeedsRedis() bool {
	return c.LockoutStore == StoreRedis || c.BlacklistStore == StoreRedis
}

func LoadAuthConfig() (AuthConfig, error) {
	internalSecret, err := mustEnv("INNER_SECRET")
	if err != nil {
		return AuthConfig{}, err
	}
	externalSecret, err := mustEnv("EXTERNAL_JWT_SECRET")
	if err != nil {
		return AuthConfig{}, err
	}
	if err := validateJWTSecrets(internalSecret, externalSecret); err != nil {
		return AuthConfig{}, err
	}
	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return AuthConfig{}, err
	}

	env := &envReader{}
	cfg := AuthConfig{
		HTTPPort:       getEnv("AUTH_HTTP_PORT", constants.DefaultAuthHTTPPort),
		DatabaseURL:    databaseURL,
		RedisURL:       getEnv("REDIS_URL", ""),
		LogDir:         getEnv("LOG_DIR", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		RequestTimeout: env.duration("AUTH_REQUEST_TIMEOUT", constants.DefaultAuthRequestTimeout),

		InternalSecret: internalSecret,
		ExternalSecret: externalSecret,

		InternalAccessTTL:  env.duration("INTERNAL_ACCESS_TOKEN_TTL", constants.DefaultInternalAccessTokenTTL),
		ExternalAccessTTL:  env.duration("EXTERNAL_ACCESS_TOKEN_TTL", constants.DefaultExternalAccessTokenTTL),
		InternalRefreshTTL: env.duration("INTERNAL_REFRESH_TOKEN_TTL", constants.DefaultInternalRefreshTokenTTL),
		ExternalRefreshTTL: env.duration("EXTERNAL_REFRESH_TOKEN_TTL", constants.DefaultExternalRefreshTokenTTL),

		MaxFailedAttempts: env.integer("LOGIN_MAX_FAILED_ATTEMPTS", constants.DefaultMaxFailedAttempts),
		LockDuration:      time.Duration(env.integer("LOGIN_LOCK_DURATION_MINUTES", constants.DefaultLockDurationMinutes)) * time.Minute,
		AttemptWindow:     env.duration("LOGIN_ATTEMPT_WINDOW", constants.DefaultAttemptWindow),

		BcryptCost: env.integer("BCRYPT_COST", constants.BcryptCost),

		RefreshSweepInterval:   env.duration("REFRESH_SWEEP_INTERVAL", constants.DefaultRefreshSweepInterval),
		BlacklistSweepInterval: env.duration("BLACKLIST_SWEEP_INTERVAL", constants.DefaultBlacklistSweepInterval),
		AttemptSweepInterval:   env.duration("LOGIN_ATTEMPT_SWEEP_INTERVAL", constants.DefaultAttemptSweepInterval),

		RefreshStore:            strings.ToLower(getEnv("REFRESH_TOKEN_STORE", StorePostgres)),
		LockoutStore:            strings.ToLower(getEnv("LOCKOUT_STORE", StoreMemory)),
		BlacklistStore:          strings.ToLower(getEnv("BLACKLIST_STORE", StoreMemory)),
		ExternalRefreshStrategy: strings.ToLower(getEnv("EXTERNAL_REFRESH_STRATEGY", RefreshStrategyRotating)),

		AdminUserIDs: splitList(getEnv("AUTH_ADMIN_USER_IDS", "")),
	}
	if env.err != nil {
		return AuthConfig{}, env.err
	}

	if err := cfg.validate(); err != nil {
		return AuthConfig{}, err
	}
	return cfg, nil
}

func (c AuthConfig) validate() error {
	if c.MaxFailedAttempts < 1 {
		return invalid("LOGIN_MAX_FAILED_ATTEMPTS must be at least 1")
	}
	if c.LockDuration <= 0 {
		return invalid("LOGIN_LOCK_DURATION_MINUTES must be positive")
	}
	if c.InternalAccessTTL <= 0 || c.ExternalAccessTTL <= 0 {
		return invalid("access token TTL must be positive")
	}
	if !oneOf(c.RefreshStore, StoreMemory, StorePostgres) {
		return invalid(fmt.Sprintf("REFRESH_TOKEN_STORE %q is not supported", c.RefreshStore))
	}
	if !oneOf(c.LockoutStore, StoreMemory, StoreRedis) {
		return invalid(fmt.Sprintf("LOCKOUT_STORE %q is not supported", c.LockoutStore))
	}
	if !oneOf(c.BlacklistStore, StoreMemory, StoreRedis, StorePostgres) {
		return invalid(fmt.Sprintf("BLACKLIST_STORE %q is not supported", c.BlacklistStore))
	}
	if !oneOf(c.ExternalRefreshStrategy, RefreshStrategyRotating, RefreshStrategySigned) {
		return invalid(fmt.Sprintf("EXTERNAL_REFRESH_STRATEGY %q is not supported", c.ExternalRefreshStrategy))
	}
	if c.NeedsRedis() && c.RedisURL == "" {
		return invalid("REDIS_URL is required for the redis stores")
	}
	return nil
}

func validateJWTSecrets(internal, external string) error {
	if len(internal) < constants.JWTSecretMinLength {
		return invalid(fmt.Sprintf("INNER_SECRET must be at least %d bytes, got %d", constants.JWTSecretMinLength, len(internal)))
	}
	if len(external) < constants.JWTSecretMinLength {
		return invalid(fmt.Sprintf("EXTERNAL_JWT_SECRET must be at least %d bytes, got %d", constants.JWTSecretMinLength, len(external)))
	}
	if internal == external {
		return invalid("INNER_SECRET and EXTERNAL_JWT_SECRET must differ")
	}
	return nil
}

func invalid(message string) error {
	return commonerrors.ErrConfigurationMissing.WithMessage(message)
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func mustEnv(key string) (string, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", commonerrors.ErrConfigurationMissing.WithMessage("missing required environment variable: " + key)
	}
	return v, nil
}

// envReader parses optional typed variables. A set but malformed value is a
// configuration error; the first one is kept.
type envReader struct {
	err error
}

func (r *envReader) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	return v, ok && v != ""
}

func (r *envReader) fail(key, value string, err error) {
	if r.err == nil {
		r.err = commonerrors.ErrConfigurationMissing.
			WithMessage(fmt.Sprintf("invalid value %q for %s", value, key)).
			WithCause(err)
	}
}

func (r *envReader) duration(key string, fallback time.Duration) time.Duration {
	v, ok := r.lookup(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, v, err)
		return fallback
	}
	return d
}

func (r *envReader) integer(key string, fallback int) int {
	v, ok := r.lookup(key)
	if !ok {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, v, err)
		return fallback
	}
	return i
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
