package blacklist

import (
	"context"
	"time"

	authdomain "github.com/AlibekovAA/authcore/internal/auth/domain"
	"github.com/AlibekovAA/authcore/internal/common/clock"
	commoncrypto "github.com/AlibekovAA/authcore/internal/common/crypto"
	commonerrors "github.com/AlibekovAA/authcore/internal/common/errors"
	"github.com/AlibekovAA/authcore/internal/common/logger"
	"github.com/AlibekovAA/authcore/internal/common/resilience"
	"github.com/AlibekovAA/authcore/internal/observability/metrics"
)

// Denylist stores blacklist entries keyed by token hash.
type Denylist interface {
	Put(ctx context.Context, entry authdomain.BlacklistEntry) error
	Contains(ctx context.Context, tokenHash string, now time.Time) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type Blacklist struct {
	store   Denylist
	breaker *resilience.CircuitBreaker
	clock   clock.Clock
	log     *logger.Logger
}

func New(store Denylist, breaker *resilience.CircuitBreaker, clk clock.Clock, log *logger.Logger) *Blacklist {
	return &Blacklist{
		store:   store,
		breaker: breaker,
		clock:   clk,
		log:     log,
	}
}

// Add denies token until expiresAt. Tokens that have already expired are not
// stored since verification rejects them anyway.
func (b *Blacklist) Add(ctx context.Context, token, userID string, reason authdomain.BlacklistReason, expiresAt time.Time) error {
	if token == "" {
		return nil
	}

	now := b.clock.Now()
	if !expiresAt.After(now) {
		return nil
	}

	entry := authdomain.BlacklistEntry{
		TokenHash:     commoncrypto.HashSecret(token),
		UserID:        userID,
		Reason:        reason,
		BlacklistedAt: now,
		ExpiresAt:     expiresAt,
	}
	err := b.breaker.Call(ctx, func(ctx context.Context) error {
		return b.store.Put(ctx, entry)
	})
	if err != nil {
		b.log.WithFields(ctx, logger.Fields{
			"user_id": userID,
			"reason":  string(reason),
			"action":  "blacklist_add_failed",
		}).Errorf("failed to blacklist token: %v", err)
		return storeError(err)
	}

	metrics.AccessTokensBlacklisted.WithLabelValues(string(reason)).Inc()
	b.log.WithFields(ctx, logger.Fields{
		"user_id": userID,
		"reason":  string(reason),
		"action":  "token_blacklisted",
	}).Info("token blacklisted")
	return nil
}

func (b *Blacklist) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	metrics.JWTBlacklistChecksTotal.Inc()

	hash := commoncrypto.HashSecret(token)
	now := b.clock.Now()

	var found bool
	err := b.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		found, err = b.store.Contains(ctx, hash, now)
		return err
	})
	if err != nil {
		return false, storeError(err)
	}
	return found, nil
}

func (b *Blacklist) Sweep(ctx context.Context) (int64, error) {
	removed, err := b.store.DeleteExpired(ctx, b.clock.Now())
	if err != nil {
		return 0, err
	}
	metrics.BlacklistCleanupDeleted.Add(float64(removed))
	return removed, nil
}

func storeError(err error) error {
	return commonerrors.ErrServiceUnavailable.WithCause(err)
}
