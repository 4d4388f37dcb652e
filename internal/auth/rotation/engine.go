package rotation

import (
	"context"
	"errors"
	"fmt"
	"time"

	authdomain "github.com/AlibekovAA/authcore/internal/auth/domain"
	authrepo "github.com/AlibekovAA/authcore/internal/auth/repository"
	"github.com/AlibekovAA/authcore/internal/common/clock"
	commoncrypto "github.com/AlibekovAA/authcore/internal/common/crypto"
	"github.com/AlibekovAA/authcore/internal/common/db"
	commonerrors "github.com/AlibekovAA/authcore/internal/common/errors"
	"github.com/AlibekovAA/authcore/internal/common/logger"
	"github.com/AlibekovAA/authcore/internal/common/resilience"
	"github.com/AlibekovAA/authcore/internal/observability/metrics"
)

type AccessMinter interface {
	Mint(userID string, userType authdomain.UserType) (string, int64, error)
	RefreshTTL(userType authdomain.UserType) time.Duration
}

type FamilyToken struct {
	RawToken  string
	FamilyID  string
	ExpiresAt time.Time
}

type Rotation struct {
	AccessToken      string
	RefreshToken     string
	ExpiresIn        int64
	RefreshExpiresAt time.Time
	UserID           string
	UserType         authdomain.UserType
	FamilyID         string
}

// Engine issues opaque refresh tokens grouped into families and rotates them
// on every use. Presenting an already used token revokes its whole family.
type Engine struct {
	repo    authrepo.RefreshTokenRepository
	minter  AccessMinter
	secrets commoncrypto.SecretGenerator
	ids     commoncrypto.IDGenerator
	breaker *resilience.CircuitBreaker
	clock   clock.Clock
	log     *logger.Logger
}

func NewEngine(
	repo authrepo.RefreshTokenRepository,
	minter AccessMinter,
	secrets commoncrypto.SecretGenerator,
	ids commoncrypto.IDGenerator,
	breaker *resilience.CircuitBreaker,
	clk clock.Clock,
	log *logger.Logger,
) *Engine {
	return &Engine{
		repo:    repo,
		minter:  minter,
		secrets: secrets,
		ids:     ids,
		breaker: breaker,
		clock:   clk,
		log:     log,
	}
}

func (e *Engine) CreateFamily(ctx context.Context, userID string, userType authdomain.UserType) (FamilyToken, error) {
	familyID, err := e.ids.NewID()
	if err != nil {
		return FamilyToken{}, fmt.Errorf("failed to generate family id: %w", err)
	}

	raw, record, err := e.newRecord(userID, userType, familyID)
	if err != nil {
		return FamilyToken{}, err
	}

	err = e.breaker.Call(ctx, func(ctx context.Context) error {
		return e.repo.Create(ctx, record)
	})
	if err != nil {
		e.log.WithFields(ctx, logger.Fields{
			"user_id":   userID,
			"user_type": string(userType),
			"action":    "refresh_family_create_failed",
		}).Errorf("failed to create refresh token family: %v", err)
		return FamilyToken{}, storeError(err)
	}

	metrics.RefreshTokensIssued.WithLabelValues(string(userType)).Inc()
	e.log.WithFields(ctx, logger.Fields{
		"user_id":   userID,
		"family_id": familyID,
		"action":    "refresh_family_created",
	}).Debug("refresh token family created")

	return FamilyToken{
		RawToken:  raw,
		FamilyID:  familyID,
		ExpiresAt: record.ExpiresAt,
	}, nil
}

func (e *Engine) newRecord(userID string, userType authdomain.UserType, familyID string) (string, authdomain.RefreshToken, error) {
	raw, err := e.secrets.NewSecret()
	if err != nil {
		return "", authdomain.RefreshToken{}, err
	}
	id, err := e.ids.NewID()
	if err != nil {
		return "", authdomain.RefreshToken{}, fmt.Errorf("failed to generate refresh token id: %w", err)
	}

	now := e.clock.Now()
	return raw, authdomain.RefreshToken{
		ID:        id,
		TokenHash: commoncrypto.HashSecret(raw),
		UserID:    userID,
		UserType:  userType,
		FamilyID:  familyID,
		ExpiresAt: now.Add(e.minter.RefreshTTL(userType)),
		CreatedAt: now,
	}, nil
}

func (e *Engine) Rotate(ctx context.Context, rawToken string) (Rotation, error) {
	return e.rotate(ctx, rawToken, "")
}

// RotateInRealm is Rotate restricted to tokens issued for realm. A token of
// another realm is rejected before anything is consumed or revoked.
func (e *Engine) RotateInRealm(ctx context.Context, rawToken string, realm authdomain.UserType) (Rotation, error) {
	return e.rotate(ctx, rawToken, realm)
}

func (e *Engine) rotate(ctx context.Context, rawToken string, realm authdomain.UserType) (Rotation, error) {
	if rawToken == "" {
		metrics.RefreshTokensRejected.WithLabelValues("empty").Inc()
		return Rotation{}, authdomain.ErrInvalidRefreshToken
	}

	hash := commoncrypto.HashSecret(rawToken)
	stored, err := e.find(ctx, hash)
	if err != nil {
		return Rotation{}, err
	}
	if realm != "" && stored.UserType != realm {
		metrics.RefreshTokensRejected.WithLabelValues("realm_mismatch").Inc()
		e.log.WithFields(ctx, logger.Fields{
			"user_id":   stored.UserID,
			"family_id": stored.FamilyID,
			"realm":     string(realm),
			"action":    "refresh_realm_mismatch",
		}).Warn("refresh token presented to the wrong realm")
		return Rotation{}, authdomain.ErrInvalidRefreshToken
	}
	if err := e.reject(ctx, stored); err != nil {
		return Rotation{}, err
	}

	raw, successor, err := e.newRecord(stored.UserID, stored.UserType, stored.FamilyID)
	if err != nil {
		return Rotation{}, err
	}

	accessToken, expiresIn, err := e.minter.Mint(stored.UserID, stored.UserType)
	if err != nil {
		e.log.WithFields(ctx, logger.Fields{
			"user_id": stored.UserID,
			"action":  "refresh_rotate_mint_failed",
		}).Errorf("failed to mint access token: %v", err)
		return Rotation{}, err
	}

	consumed, familyRevoked := true, false
	err = e.breaker.Call(ctx, func(ctx context.Context) error {
		err := e.repo.ConsumeAndReplace(ctx, hash, e.clock.Now(), successor)
		switch {
		case errors.Is(err, authrepo.ErrRefreshTokenNotConsumed):
			consumed = false
			return nil
		case errors.Is(err, authrepo.ErrRefreshFamilyRevoked):
			familyRevoked = true
			return nil
		}
		return err
	})
	if err != nil {
		e.log.WithFields(ctx, logger.Fields{
			"user_id":   stored.UserID,
			"family_id": stored.FamilyID,
			"action":    "refresh_rotate_failed",
		}).Errorf("failed to rotate refresh token: %v", err)
		return Rotation{}, storeError(err)
	}
	if familyRevoked {
		return Rotation{}, e.rejectRevokedFamily(ctx, stored)
	}
	if !consumed {
		return Rotation{}, e.reclassify(ctx, hash)
	}

	metrics.RefreshTokensRotated.WithLabelValues(string(stored.UserType)).Inc()
	e.log.WithFields(ctx, logger.Fields{
		"user_id":   stored.UserID,
		"family_id": stored.FamilyID,
		"action":    "refresh_rotate_success",
	}).Info("refresh token rotated")

	return Rotation{
		AccessToken:      accessToken,
		RefreshToken:     raw,
		ExpiresIn:        expiresIn,
		RefreshExpiresAt: successor.ExpiresAt,
		UserID:           stored.UserID,
		UserType:         stored.UserType,
		FamilyID:         stored.FamilyID,
	}, nil
}

func (e *Engine) find(ctx context.Context, hash string) (authdomain.RefreshToken, error) {
	var stored authdomain.RefreshToken
	err := e.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		stored, err = e.repo.FindByTokenHash(ctx, hash)
		return err
	})
	if err != nil {
		if errors.Is(err, authrepo.ErrRefreshTokenNotFound) {
			metrics.RefreshTokensRejected.WithLabelValues("not_found").Inc()
			e.log.WithFields(ctx, logger.Fields{
				"action": "refresh_token_not_found",
			}).Warn("refresh token not found")
			return authdomain.RefreshToken{}, authdomain.ErrInvalidRefreshToken
		}
		e.log.WithFields(ctx, logger.Fields{
			"action": "refresh_token_lookup_failed",
		}).Errorf("refresh token lookup failed: %v", err)
		return authdomain.RefreshToken{}, storeError(err)
	}
	return stored, nil
}

// reject returns the error for a record that cannot be rotated, or nil if it
// is still active.
func (e *Engine) reject(ctx context.Context, stored authdomain.RefreshToken) error {
	switch stored.State(e.clock.Now()) {
	case authdomain.TokenStateUsed:
		e.handleReuse(ctx, stored)
		return authdomain.ErrTokenReuseDetected
	case authdomain.TokenStateRevoked:
		metrics.RefreshTokensRejected.WithLabelValues("revoked").Inc()
		e.log.WithFields(ctx, logger.Fields{
			"user_id":   stored.UserID,
			"family_id": stored.FamilyID,
			"action":    "refresh_token_revoked",
		}).Warn("revoked refresh token presented")
		return authdomain.ErrTokenRevoked
	case authdomain.TokenStateExpired:
		metrics.RefreshTokensRejected.WithLabelValues("expired").Inc()
		e.log.WithFields(ctx, logger.Fields{
			"user_id": stored.UserID,
			"action":  "refresh_token_expired",
		}).Warn("refresh token expired")
		return authdomain.ErrTokenRefreshExpired
	default:
		return nil
	}
}

// reclassify runs after a conditional consume matched nothing. The record is
// read again and judged on its new state; a record that turned used in the
// meantime was consumed by another request and counts as reuse.
func (e *Engine) reclassify(ctx context.Context, hash string) error {
	stored, err := e.find(ctx, hash)
	if err != nil {
		return err
	}
	if err := e.reject(ctx, stored); err != nil {
		return err
	}
	metrics.RefreshTokensRejected.WithLabelValues("conflict").Inc()
	return authdomain.ErrInvalidRefreshToken
}

// rejectRevokedFamily handles a token that is still active while another
// member of its family is revoked. The family is revoked again so the
// straggler cannot be presented later.
func (e *Engine) rejectRevokedFamily(ctx context.Context, stored authdomain.RefreshToken) error {
	metrics.RefreshTokensRejected.WithLabelValues("family_revoked").Inc()
	fields := logger.Fields{
		"user_id":   stored.UserID,
		"family_id": stored.FamilyID,
		"action":    "refresh_family_revoked",
	}
	if _, err := e.RevokeFamily(ctx, stored.FamilyID); err != nil {
		e.log.WithFields(ctx, fields).Errorf("failed to revoke remaining family members: %v", err)
	} else {
		e.log.WithFields(ctx, fields).Warn("refresh token of a revoked family presented")
	}
	return authdomain.ErrTokenRevoked
}

func (e *Engine) handleReuse(ctx context.Context, stored authdomain.RefreshToken) {
	metrics.RefreshTokenReuseDetected.Inc()

	revoked, err := e.RevokeFamily(ctx, stored.FamilyID)
	fields := logger.Fields{
		"user_id":        stored.UserID,
		"user_type":      string(stored.UserType),
		"family_id":      stored.FamilyID,
		"security_event": "refresh_token_reuse",
		"action":         "refresh_token_reuse_detected",
	}
	if err != nil {
		e.log.WithFields(ctx, fields).Criticalf("refresh token reuse detected, family revocation failed: %v", err)
		return
	}
	e.log.WithFields(ctx, fields).Criticalf("refresh token reuse detected, revoked %d tokens in family", revoked)
}

func (e *Engine) RevokeFamily(ctx context.Context, familyID string) (int64, error) {
	var revoked int64
	err := e.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		revoked, err = e.repo.RevokeFamily(ctx, familyID)
		return err
	})
	if err != nil {
		return 0, storeError(err)
	}
	metrics.RefreshFamiliesRevoked.WithLabelValues("family").Inc()
	return revoked, nil
}

func (e *Engine) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	var revoked int64
	err := e.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		revoked, err = e.repo.RevokeAllForUser(ctx, userID)
		return err
	})
	if err != nil {
		e.log.WithFields(ctx, logger.Fields{
			"user_id": userID,
			"action":  "refresh_revoke_all_failed",
		}).Errorf("failed to revoke refresh tokens: %v", err)
		return 0, storeError(err)
	}
	metrics.RefreshFamiliesRevoked.WithLabelValues("user").Inc()
	e.log.WithFields(ctx, logger.Fields{
		"user_id": userID,
		"revoked": revoked,
		"action":  "refresh_revoke_all",
	}).Info("refresh tokens revoked for user")
	return revoked, nil
}

func (e *Engine) SweepExpired(ctx context.Context) (int64, error) {
	var deleted int64
	err := db.RetryWithBackoff(ctx, e.log, db.DefaultRetryConfig, func() error {
		var err error
		deleted, err = e.repo.DeleteExpired(ctx, e.clock.Now())
		return err
	})
	if err != nil {
		return 0, err
	}
	metrics.RefreshTokensCleanupDeleted.Add(float64(deleted))
	return deleted, nil
}

func storeError(err error) error {
	if errors.Is(err, commonerrors.ErrCircuitOpen) {
		return commonerrors.ErrServiceUnavailable.WithCause(err)
	}
	if commonerrors.IsDomainError(err) {
		return err
	}
	return commonerrors.ErrInternalError.WithCause(err)
}
