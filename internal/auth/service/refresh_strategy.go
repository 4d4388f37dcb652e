package service

import (
	"context"
	"errors"
	"time"

	authdomain "github.com/AlibekovAA/authcore/internal/auth/domain"
	authrepo "github.com/AlibekovAA/authcore/internal/auth/repository"
	"github.com/AlibekovAA/authcore/internal/auth/rotation"
	"github.com/AlibekovAA/authcore/internal/auth/token"
	"github.com/AlibekovAA/authcore/internal/common/logger"
	"github.com/AlibekovAA/authcore/internal/observability/metrics"
)

type IssuedRefresh struct {
	Token     string
	ExpiresAt time.Time
}

type RefreshResult struct {
	AccessToken      string
	RefreshToken     string
	ExpiresIn        int64
	RefreshExpiresAt time.Time
	UserID           string
}

// RefreshStrategy owns the refresh credential of one realm: how it is issued,
// exchanged for a new access token, and revoked.
type RefreshStrategy interface {
	Name() string
	Issue(ctx context.Context, principal authdomain.Principal) (IssuedRefresh, error)
	Refresh(ctx context.Context, rawToken string) (RefreshResult, error)
	// RevokeAll invalidates the user's refresh credentials. presented is the
	// refresh token supplied by the caller, if any.
	RevokeAll(ctx context.Context, userID, presented string, reason authdomain.BlacklistReason) error
}

type RotationEngine interface {
	CreateFamily(ctx context.Context, userID string, userType authdomain.UserType) (rotation.FamilyToken, error)
	RotateInRealm(ctx context.Context, rawToken string, realm authdomain.UserType) (rotation.Rotation, error)
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
}

type TokenIssuer interface {
	Mint(userID string, userType authdomain.UserType) (string, int64, error)
	MintRefresh(userID string, userType authdomain.UserType) (string, time.Time, error)
	Verify(tokenString string, userType authdomain.UserType) (token.Claims, error)
	VerifyAllowExpired(tokenString string, userType authdomain.UserType) (token.Claims, error)
	VerifyRefresh(tokenString string, userType authdomain.UserType) (token.Claims, error)
	AccessTTL(userType authdomain.UserType) time.Duration
}

type TokenBlacklist interface {
	Add(ctx context.Context, token, userID string, reason authdomain.BlacklistReason, expiresAt time.Time) error
	IsBlacklisted(ctx context.Context, token string) (bool, error)
}

// requireActive loads the principal behind a refresh credential. A missing or
// deactivated principal yields ErrAccountInactive.
func requireActive(ctx context.Context, principals authrepo.PrincipalRepository, userType authdomain.UserType, userID string) error {
	principal, err := principals.FindByID(ctx, userType, userID)
	if err != nil {
		if isPrincipalNotFound(err) {
			return authdomain.ErrAccountInactive
		}
		return handleStoreError(err)
	}
	if !principal.IsActive {
		return authdomain.ErrAccountInactive
	}
	return nil
}

type RotatingStrategy struct {
	engine     RotationEngine
	principals authrepo.PrincipalRepository
	userType   authdomain.UserType
	log        *logger.Logger
}

func NewRotatingStrategy(
	engine RotationEngine,
	principals authrepo.PrincipalRepository,
	userType authdomain.UserType,
	log *logger.Logger,
) *RotatingStrategy {
	return &RotatingStrategy{
		engine:     engine,
		principals: principals,
		userType:   userType,
		log:        log,
	}
}

func (s *RotatingStrategy) Name() string {
	return "rotating"
}

func (s *RotatingStrategy) Issue(ctx context.Context, principal authdomain.Principal) (IssuedRefresh, error) {
	family, err := s.engine.CreateFamily(ctx, principal.ID, s.userType)
	if err != nil {
		return IssuedRefresh{}, err
	}
	return IssuedRefresh{Token: family.RawToken, ExpiresAt: family.ExpiresAt}, nil
}

func (s *RotatingStrategy) Refresh(ctx context.Context, rawToken string) (RefreshResult, error) {
	rot, err := s.engine.RotateInRealm(ctx, rawToken, s.userType)
	if err != nil {
		return RefreshResult{}, err
	}

	if err := requireActive(ctx, s.principals, s.userType, rot.UserID); err != nil {
		if errors.Is(err, authdomain.ErrAccountInactive) {
			if _, revokeErr := s.engine.RevokeAllForUser(ctx, rot.UserID); revokeErr != nil {
				s.log.WithFields(ctx, logger.Fields{
					"user_id": rot.UserID,
					"action":  "refresh_inactive_revoke_failed",
				}).Errorf("failed to revoke sessions of inactive principal: %v", revokeErr)
			}
			s.log.WithFields(ctx, logger.Fields{
				"user_id": rot.UserID,
				"action":  "refresh_principal_inactive",
			}).Warn("refresh rejected: principal inactive, sessions revoked")
		}
		return RefreshResult{}, err
	}

	return RefreshResult{
		AccessToken:      rot.AccessToken,
		RefreshToken:     rot.RefreshToken,
		ExpiresIn:        rot.ExpiresIn,
		RefreshExpiresAt: rot.RefreshExpiresAt,
		UserID:           rot.UserID,
	}, nil
}

func (s *RotatingStrategy) RevokeAll(ctx context.Context, userID, _ string, _ authdomain.BlacklistReason) error {
	if userID == "" {
		return nil
	}
	_, err := s.engine.RevokeAllForUser(ctx, userID)
	return err
}

// SignedStrategy issues non-rotating refresh JWTs. It has no reuse detection:
// a stolen refresh JWT stays valid until it expires or the holder's copy is
// presented at logout and blacklisted.
type SignedStrategy struct {
	issuer     TokenIssuer
	blacklist  TokenBlacklist
	principals authrepo.PrincipalRepository
	userType   authdomain.UserType
	log        *logger.Logger
}

func NewSignedStrategy(
	issuer TokenIssuer,
	blacklist TokenBlacklist,
	principals authrepo.PrincipalRepository,
	userType authdomain.UserType,
	log *logger.Logger,
) *SignedStrategy {
	return &SignedStrategy{
		issuer:     issuer,
		blacklist:  blacklist,
		principals: principals,
		userType:   userType,
		log:        log,
	}
}

func (s *SignedStrategy) Name() string {
	return "signed"
}

func (s *SignedStrategy) Issue(ctx context.Context, principal authdomain.Principal) (IssuedRefresh, error) {
	raw, expiresAt, err := s.issuer.MintRefresh(principal.ID, s.userType)
	if err != nil {
		return IssuedRefresh{}, err
	}
	metrics.RefreshTokensIssued.WithLabelValues(string(s.userType)).Inc()
	return IssuedRefresh{Token: raw, ExpiresAt: expiresAt}, nil
}

func (s *SignedStrategy) Refresh(ctx context.Context, rawToken string) (RefreshResult, error) {
	claims, err := s.issuer.VerifyRefresh(rawToken, s.userType)
	if err != nil {
		metrics.RefreshTokensRejected.WithLabelValues("invalid").Inc()
		return RefreshResult{}, err
	}

	revoked, err := s.blacklist.IsBlacklisted(ctx, rawToken)
	if err != nil {
		return RefreshResult{}, err
	}
	if revoked {
		s.log.WithFields(ctx, logger.Fields{
			"user_id": claims.UserID(),
			"action":  "refresh_signed_revoked",
		}).Warn("refresh rejected: refresh token blacklisted")
		metrics.RefreshTokensRejected.WithLabelValues("revoked").Inc()
		return RefreshResult{}, authdomain.ErrTokenRevoked
	}

	if err := requireActive(ctx, s.principals, s.userType, claims.UserID()); err != nil {
		return RefreshResult{}, err
	}

	access, expiresIn, err := s.issuer.Mint(claims.UserID(), s.userType)
	if err != nil {
		return RefreshResult{}, err
	}

	result := RefreshResult{
		AccessToken: access,
		ExpiresIn:   expiresIn,
		UserID:      claims.UserID(),
	}
	if exp, ok := claims.Expiry(); ok {
		result.RefreshExpiresAt = exp
	}
	return result, nil
}

func (s *SignedStrategy) RevokeAll(ctx context.Context, userID, presented string, reason authdomain.BlacklistReason) error {
	if presented == "" {
		return nil
	}

	claims, err := s.issuer.VerifyRefresh(presented, s.userType)
	if err != nil {
		// Expired or foreign tokens need no blacklisting.
		return nil
	}
	if userID == "" {
		userID = claims.UserID()
	}

	exp, _ := claims.Expiry()
	return s.blacklist.Add(ctx, presented, userID, reason, exp)
}
