package lockout

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/AlibekovAA/authcore/internal/common/clock"
	"github.com/AlibekovAA/authcore/internal/common/constants"
	commonerrors "github.com/AlibekovAA/authcore/internal/common/errors"
	"github.com/AlibekovAA/authcore/internal/common/logger"
	"github.com/AlibekovAA/authcore/internal/observability/metrics"
)

type Config struct {
	MaxFailedAttempts int
	LockDuration      time.Duration
	AttemptWindow     time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxFailedAttempts <= 0 {
		c.MaxFailedAttempts = constants.DefaultMaxFailedAttempts
	}
	if c.LockDuration <= 0 {
		c.LockDuration = constants.DefaultLockDurationMinutes * time.Minute
	}
	if c.AttemptWindow <= 0 {
		c.AttemptWindow = constants.DefaultAttemptWindow
	}
	return c
}

type AttemptStatus struct {
	Allowed              bool
	RemainingAttempts    int
	LockedUntil          *time.Time
	LockRemainingSeconds int64
}

type FailureResult struct {
	FailedCount          int
	IsLocked             bool
	LockedUntil          *time.Time
	RemainingAttempts    int
	LockRemainingSeconds int64
}

type LockedIdentifier struct {
	Identifier           string    `json:"identifier"`
	FailedCount          int       `json:"failedCount"`
	LockedUntil          time.Time `json:"lockedUntil"`
	LockRemainingSeconds int64     `json:"lockRemainingSeconds"`
}

// Guard counts failed logins per identifier and locks the identifier once
// MaxFailedAttempts consecutive failures are reached.
type Guard struct {
	store AttemptStore
	cfg   Config
	clock clock.Clock
	log   *logger.Logger
}

func NewGuard(store AttemptStore, cfg Config, clk clock.Clock, log *logger.Logger) *Guard {
	return &Guard{
		store: store,
		cfg:   cfg.withDefaults(),
		clock: clk,
		log:   log,
	}
}

func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

func (g *Guard) MaxFailedAttempts() int {
	return g.cfg.MaxFailedAttempts
}

func (g *Guard) CanAttempt(ctx context.Context, identifier string) (AttemptStatus, error) {
	id := NormalizeIdentifier(identifier)
	now := g.clock.Now()

	state, ok, err := g.store.Get(ctx, id)
	if err != nil {
		return AttemptStatus{}, storeError(err)
	}
	if !ok {
		return AttemptStatus{Allowed: true, RemainingAttempts: g.cfg.MaxFailedAttempts}, nil
	}

	if state.IsLocked(now) {
		return AttemptStatus{
			Allowed:              false,
			RemainingAttempts:    0,
			LockedUntil:          state.LockedUntil,
			LockRemainingSeconds: remainingSeconds(now, *state.LockedUntil),
		}, nil
	}

	if state.LockElapsed(now) {
		if err := g.store.Clear(ctx, id); err != nil {
			return AttemptStatus{}, storeError(err)
		}
		g.log.WithFields(ctx, logger.Fields{
			"identifier": id,
			"action":     "login_lock_expired",
		}).Info("login lock expired, attempts reset")
		return AttemptStatus{Allowed: true, RemainingAttempts: g.cfg.MaxFailedAttempts}, nil
	}

	return AttemptStatus{
		Allowed:           true,
		RemainingAttempts: max(g.cfg.MaxFailedAttempts-state.FailedCount, 0),
	}, nil
}

func (g *Guard) RecordFailure(ctx context.Context, identifier string) (FailureResult, error) {
	id := NormalizeIdentifier(identifier)
	now := g.clock.Now()

	state, err := g.store.RecordFailure(ctx, id, now, Policy{
		MaxFailedAttempts: g.cfg.MaxFailedAttempts,
		LockDuration:      g.cfg.LockDuration,
		AttemptWindow:     g.cfg.AttemptWindow,
	})
	if err != nil {
		return FailureResult{}, storeError(err)
	}
	metrics.LoginFailuresRecorded.Inc()

	result := FailureResult{
		FailedCount:       state.FailedCount,
		RemainingAttempts: max(g.cfg.MaxFailedAttempts-state.FailedCount, 0),
	}
	if state.IsLocked(now) {
		result.IsLocked = true
		result.LockedUntil = state.LockedUntil
		result.LockRemainingSeconds = remainingSeconds(now, *state.LockedUntil)
		result.RemainingAttempts = 0

		if state.FailedCount == g.cfg.MaxFailedAttempts {
			metrics.AccountLockouts.Inc()
			g.log.WithFields(ctx, logger.Fields{
				"identifier":     id,
				"failed_count":   state.FailedCount,
				"locked_until":   state.LockedUntil.Format(time.RFC3339),
				"security_event": "account_locked",
				"action":         "login_identifier_locked",
			}).Warn("identifier locked after repeated failed logins")
		}
	}
	return result, nil
}

func (g *Guard) ClearFailures(ctx context.Context, identifier string) error {
	if err := g.store.Clear(ctx, NormalizeIdentifier(identifier)); err != nil {
		return storeError(err)
	}
	return nil
}

// Unlock is the administrative override: it clears any lock and the counter.
func (g *Guard) Unlock(ctx context.Context, identifier string) error {
	id := NormalizeIdentifier(identifier)
	if err := g.store.Clear(ctx, id); err != nil {
		return storeError(err)
	}
	g.log.WithFields(ctx, logger.Fields{
		"identifier": id,
		"action":     "login_identifier_unlocked",
	}).Info("identifier unlocked")
	return nil
}

func (g *Guard) ListLocked(ctx context.Context) ([]LockedIdentifier, error) {
	now := g.clock.Now()
	states, err := g.store.ListLocked(ctx, now)
	if err != nil {
		return nil, storeError(err)
	}

	out := make([]LockedIdentifier, 0, len(states))
	for _, s := range states {
		out = append(out, LockedIdentifier{
			Identifier:           s.Identifier,
			FailedCount:          s.FailedCount,
			LockedUntil:          *s.LockedUntil,
			LockRemainingSeconds: remainingSeconds(now, *s.LockedUntil),
		})
	}
	return out, nil
}

func (g *Guard) Sweep(ctx context.Context) (int, error) {
	return g.store.Sweep(ctx, g.clock.Now(), g.cfg.AttemptWindow)
}

func remainingSeconds(now, until time.Time) int64 {
	return int64(math.Ceil(until.Sub(now).Seconds()))
}

func storeError(err error) error {
	return commonerrors.ErrServiceUnavailable.WithCause(err)
}
