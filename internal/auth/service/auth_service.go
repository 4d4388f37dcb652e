package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	authdomain "github.com/AlibekovAA/authcore/internal/auth/domain"
	"github.com/AlibekovAA/authcore/internal/auth/lockout"
	authrepo "github.com/AlibekovAA/authcore/internal/auth/repository"
	"github.com/AlibekovAA/authcore/internal/auth/token"
	"github.com/AlibekovAA/authcore/internal/common/clock"
	commoncrypto "github.com/AlibekovAA/authcore/internal/common/crypto"
	commonerrors "github.com/AlibekovAA/authcore/internal/common/errors"
	"github.com/AlibekovAA/authcore/internal/common/logger"
	"github.com/AlibekovAA/authcore/internal/observability/metrics"
)

const dummyPassword = "timing-equalizer-0"

type AttemptGuard interface {
	CanAttempt(ctx context.Context, identifier string) (lockout.AttemptStatus, error)
	RecordFailure(ctx context.Context, identifier string) (lockout.FailureResult, error)
	ClearFailures(ctx context.Context, identifier string) error
	Unlock(ctx context.Context, identifier string) error
	ListLocked(ctx context.Context) ([]lockout.LockedIdentifier, error)
}

type LoginInput struct {
	Identifier string
	Password   string
}

type LoginResult struct {
	AccessToken      string
	RefreshToken     string
	ExpiresIn        int64
	RefreshExpiresAt time.Time
	User             authdomain.PublicUser
}

type LogoutInput struct {
	AccessToken  string
	RefreshToken string
	UserID       string
}

type ChangePasswordInput struct {
	UserID          string
	CurrentPassword string
	NewPassword     string
	AccessToken     string
}

type RefreshInput struct {
	RefreshToken string
}

type RevokeInput struct {
	UserID      string
	AccessToken string
	Reason      authdomain.BlacklistReason
}

type Deps struct {
	Principals authrepo.PrincipalRepository
	Guard      AttemptGuard
	Blacklist  TokenBlacklist
	Issuer     TokenIssuer
	Hasher     commoncrypto.PasswordHasher
	Strategy   RefreshStrategy
	Clock      clock.Clock
	Log        *logger.Logger
}

// AuthService orchestrates the session lifecycle of a single realm.
type AuthService struct {
	userType   authdomain.UserType
	principals authrepo.PrincipalRepository
	guard      AttemptGuard
	blacklist  TokenBlacklist
	issuer     TokenIssuer
	hasher     commoncrypto.PasswordHasher
	strategy   RefreshStrategy
	clock      clock.Clock
	log        *logger.Logger

	dummyOnce sync.Once
	dummyHash string
}

func NewAuthService(userType authdomain.UserType, deps Deps) *AuthService {
	return &AuthService{
		userType:   userType,
		principals: deps.Principals,
		guard:      deps.Guard,
		blacklist:  deps.Blacklist,
		issuer:     deps.Issuer,
		hasher:     deps.Hasher,
		strategy:   deps.Strategy,
		clock:      deps.Clock,
		log:        deps.Log,
	}
}

func (s *AuthService) Realm() authdomain.UserType {
	return s.userType
}

func (s *AuthService) RefreshStrategyName() string {
	return s.strategy.Name()
}

func (s *AuthService) Login(ctx context.Context, input LoginInput) (LoginResult, error) {
	identifier := strings.TrimSpace(input.Identifier)
	fields := logger.Fields{"identifier": identifier, "realm": string(s.userType)}

	if err := validateLoginInput(identifier, input.Password); err != nil {
		s.log.WithFields(ctx, withAction(fields, "login_validation_failed")).Warnf("login validation failed: %v", err)
		return LoginResult{}, err
	}

	status, err := s.guard.CanAttempt(ctx, identifier)
	if err != nil {
		s.log.WithFields(ctx, withAction(fields, "login_guard_failed")).Errorf("login failed: attempt guard error: %v", err)
		return LoginResult{}, err
	}
	if !status.Allowed {
		s.log.WithFields(ctx, withAction(fields, "login_locked")).Warnf("login denied: locked for %ds", status.LockRemainingSeconds)
		incrementLogin(s.userType, "locked")
		return LoginResult{}, authdomain.ErrAccountLocked.
			WithMessage(fmt.Sprintf("account is temporarily locked, try again in %d minutes", minutesCeil(status.LockRemainingSeconds))).
			WithDetails(lockDetails(status.LockRemainingSeconds, status.LockedUntil))
	}

	principal, err := s.principals.FindByIdentifier(ctx, s.userType, identifier)
	if err != nil {
		if !isPrincipalNotFound(err) {
			s.log.WithFields(ctx, withAction(fields, "login_fetch_failed")).Errorf("login failed: %v", err)
			return LoginResult{}, handleStoreError(err)
		}
		_ = s.hasher.Compare(s.timingHash(), input.Password)
		s.log.WithFields(ctx, withAction(fields, "login_user_not_found")).Warn("login failed: not found")
		return LoginResult{}, s.failedAttempt(ctx, identifier, fields)
	}

	if !principal.IsActive {
		s.log.WithFields(ctx, withAction(withUser(fields, principal.ID), "login_inactive")).Warn("login failed: account inactive")
		incrementLogin(s.userType, "inactive")
		return LoginResult{}, authdomain.ErrAccountInactive
	}

	if principal.PasswordHash == "" {
		_ = s.hasher.Compare(s.timingHash(), input.Password)
		s.log.WithFields(ctx, withAction(withUser(fields, principal.ID), "login_no_password")).Warn("login failed: principal has no password")
		return LoginResult{}, s.failedAttempt(ctx, identifier, fields)
	}

	if err := s.hasher.Compare(principal.PasswordHash, input.Password); err != nil {
		s.log.WithFields(ctx, withAction(withUser(fields, principal.ID), "login_invalid_password")).Warn("login failed: invalid password")
		return LoginResult{}, s.failedAttempt(ctx, identifier, fields)
	}

	if err := s.guard.ClearFailures(ctx, identifier); err != nil {
		s.log.WithFields(ctx, withAction(withUser(fields, principal.ID), "login_clear_failures_failed")).Errorf("failed to clear login failures: %v", err)
	}

	now := s.clock.Now()
	if err := s.principals.UpdateLastLogin(ctx, s.userType, principal.ID, now); err != nil {
		s.log.WithFields(ctx, withAction(withUser(fields, principal.ID), "login_last_login_update_failed")).Errorf("failed to update last login: %v", err)
	} else {
		principal.LastLoginAt = &now
	}

	result, err := s.issueSession(ctx, principal)
	if err != nil {
		s.log.WithFields(ctx, withAction(withUser(fields, principal.ID), "login_token_issue_failed")).Errorf("login failed: token issue error: %v", err)
		return LoginResult{}, err
	}

	s.log.WithFields(ctx, withAction(withUser(fields, principal.ID), "login_success")).Info("login success")
	incrementLogin(s.userType, "success")

	return result, nil
}

func (s *AuthService) failedAttempt(ctx context.Context, identifier string, fields logger.Fields) error {
	incrementLogin(s.userType, "invalid_credentials")

	res, err := s.guard.RecordFailure(ctx, identifier)
	if err != nil {
		s.log.WithFields(ctx, withAction(fields, "login_record_failure_failed")).Errorf("failed to record login failure: %v", err)
		return authdomain.ErrInvalidCredentials
	}

	if res.IsLocked {
		details := lockDetails(res.LockRemainingSeconds, res.LockedUntil)
		details["locked"] = true
		return authdomain.ErrInvalidCredentials.
			WithMessage(fmt.Sprintf("invalid identifier or password, account locked for %d minutes", minutesCeil(res.LockRemainingSeconds))).
			WithDetails(details)
	}

	return authdomain.ErrInvalidCredentials.
		WithMessage(fmt.Sprintf("invalid identifier or password, %d attempts remaining", res.RemainingAttempts)).
		WithDetails(map[string]any{"remainingAttempts": res.RemainingAttempts})
}

// StartSession issues tokens for a principal authenticated elsewhere, such as
// an SSO callback.
func (s *AuthService) StartSession(ctx context.Context, userID string) (LoginResult, error) {
	fields := logger.Fields{"user_id": userID, "realm": string(s.userType)}

	principal, err := s.principals.FindByID(ctx, s.userType, userID)
	if err != nil {
		if isPrincipalNotFound(err) {
			s.log.WithFields(ctx, withAction(fields, "session_user_not_found")).Warn("start session failed: not found")
			return LoginResult{}, commonerrors.ErrUserNotFound
		}
		s.log.WithFields(ctx, withAction(fields, "session_fetch_failed")).Errorf("start session failed: %v", err)
		return LoginResult{}, handleStoreError(err)
	}

	if !principal.IsActive {
		s.log.WithFields(ctx, withAction(fields, "session_inactive")).Warn("start session failed: account inactive")
		return LoginResult{}, authdomain.ErrAccountInactive
	}

	now := s.clock.Now()
	if err := s.principals.UpdateLastLogin(ctx, s.userType, principal.ID, now); err != nil {
		s.log.WithFields(ctx, withAction(fields, "session_last_login_update_failed")).Errorf("failed to update last login: %v", err)
	} else {
		principal.LastLoginAt = &now
	}

	result, err := s.issueSession(ctx, principal)
	if err != nil {
		s.log.WithFields(ctx, withAction(fields, "session_token_issue_failed")).Errorf("start session failed: token issue error: %v", err)
		return LoginResult{}, err
	}

	s.log.WithFields(ctx, withAction(fields, "session_started")).Info("session started")
	incrementLogin(s.userType, "success")

	return result, nil
}

func (s *AuthService) issueSession(ctx context.Context, principal authdomain.Principal) (LoginResult, error) {
	refresh, err := s.strategy.Issue(ctx, principal)
	if err != nil {
		return LoginResult{}, err
	}

	access, expiresIn, err := s.issuer.Mint(principal.ID, s.userType)
	if err != nil {
		return LoginResult{}, commonerrors.ErrInternalError.WithCause(err)
	}

	return LoginResult{
		AccessToken:      access,
		RefreshToken:     refresh.Token,
		ExpiresIn:        expiresIn,
		RefreshExpiresAt: refresh.ExpiresAt,
		User:             principal.Public(),
	}, nil
}

// Logout never fails: every step is attempted and failures are only logged.
func (s *AuthService) Logout(ctx context.Context, input LogoutInput) {
	userID := input.UserID
	expiresAt := s.accessExpiry(input.AccessToken)
	if userID == "" && input.AccessToken != "" {
		// Expired tokens still identify the session; forged or foreign ones do not.
		if claims, err := s.issuer.VerifyAllowExpired(input.AccessToken, s.userType); err == nil {
			userID = claims.UserID()
		} else {
			s.log.WithFields(ctx, logger.Fields{
				"realm":  string(s.userType),
				"action": "logout_token_unverified",
			}).Warnf("logout: access token not accepted: %v", err)
		}
	}
	fields := logger.Fields{"user_id": userID, "realm": string(s.userType)}

	if input.AccessToken != "" && userID != "" {
		if err := s.blacklist.Add(ctx, input.AccessToken, userID, authdomain.ReasonLogout, expiresAt); err != nil {
			s.log.WithFields(ctx, withAction(fields, "logout_blacklist_failed")).Errorf("logout: failed to blacklist access token: %v", err)
		}
	}

	if err := s.strategy.RevokeAll(ctx, userID, input.RefreshToken, authdomain.ReasonLogout); err != nil {
		s.log.WithFields(ctx, withAction(fields, "logout_revoke_failed")).Errorf("logout: failed to revoke refresh tokens: %v", err)
	}

	s.log.WithFields(ctx, withAction(fields, "logout_success")).Info("logout")
}

func (s *AuthService) ChangePassword(ctx context.Context, input ChangePasswordInput) error {
	fields := logger.Fields{"user_id": input.UserID, "realm": string(s.userType)}

	principal, err := s.principals.FindByID(ctx, s.userType, input.UserID)
	if err != nil {
		if isPrincipalNotFound(err) {
			return commonerrors.ErrUserNotFound
		}
		s.log.WithFields(ctx, withAction(fields, "change_password_fetch_failed")).Errorf("change password failed: %v", err)
		return handleStoreError(err)
	}

	if !principal.IsActive {
		return authdomain.ErrAccountInactive
	}

	if principal.PasswordHash == "" || s.hasher.Compare(principal.PasswordHash, input.CurrentPassword) != nil {
		s.log.WithFields(ctx, withAction(fields, "change_password_invalid_current")).Warn("change password failed: current password mismatch")
		return authdomain.ErrInvalidCredentials.WithMessage("current password is incorrect")
	}

	if err := validateNewPassword(input.NewPassword, input.CurrentPassword); err != nil {
		s.log.WithFields(ctx, withAction(fields, "change_password_validation_failed")).Warnf("change password validation failed: %v", err)
		return err
	}

	hash, err := s.hasher.Hash(input.NewPassword)
	if err != nil {
		s.log.WithFields(ctx, withAction(fields, "change_password_hash_failed")).Errorf("change password failed: password hash error: %v", err)
		return commonerrors.ErrInternalError.WithCause(err)
	}

	if err := s.principals.UpdatePasswordHash(ctx, s.userType, principal.ID, hash); err != nil {
		s.log.WithFields(ctx, withAction(fields, "change_password_update_failed")).Errorf("change password failed: %v", err)
		return handleStoreError(err)
	}

	if input.AccessToken != "" {
		if err := s.blacklist.Add(ctx, input.AccessToken, principal.ID, authdomain.ReasonPasswordChange, s.accessExpiry(input.AccessToken)); err != nil {
			s.log.WithFields(ctx, withAction(fields, "change_password_blacklist_failed")).Errorf("change password: failed to blacklist access token: %v", err)
			return err
		}
	}

	if err := s.strategy.RevokeAll(ctx, principal.ID, "", authdomain.ReasonPasswordChange); err != nil {
		s.log.WithFields(ctx, withAction(fields, "change_password_revoke_failed")).Errorf("change password: failed to revoke refresh tokens: %v", err)
		return err
	}

	s.log.WithFields(ctx, withAction(fields, "change_password_success")).Info("password changed, sessions revoked")
	return nil
}

func (s *AuthService) Refresh(ctx context.Context, input RefreshInput) (RefreshResult, error) {
	fields := logger.Fields{"realm": string(s.userType), "strategy": s.strategy.Name()}

	if strings.TrimSpace(input.RefreshToken) == "" {
		return RefreshResult{}, authdomain.ErrInvalidRefreshToken
	}

	result, err := s.strategy.Refresh(ctx, input.RefreshToken)
	if err != nil {
		s.log.WithFields(ctx, withAction(fields, "refresh_token_failed")).Warnf("refresh failed: %v", err)
		return RefreshResult{}, err
	}

	s.log.WithFields(ctx, withAction(withUser(fields, result.UserID), "refresh_token_success")).Info("refresh token success")
	return result, nil
}

// Authenticate validates an access token for this realm and rejects
// blacklisted tokens. Blacklist failures deny access.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (token.Claims, error) {
	claims, err := s.issuer.Verify(accessToken, s.userType)
	if err != nil {
		return token.Claims{}, err
	}

	revoked, err := s.blacklist.IsBlacklisted(ctx, accessToken)
	if err != nil {
		s.log.WithFields(ctx, logger.Fields{
			"user_id": claims.UserID(),
			"action":  "authenticate_blacklist_failed",
		}).Errorf("blacklist check failed: %v", err)
		return token.Claims{}, err
	}
	if revoked {
		metrics.JWTValidationsFailed.WithLabelValues(string(s.userType)).Inc()
		return token.Claims{}, authdomain.ErrTokenRevoked
	}

	return claims, nil
}

func (s *AuthService) RevokeSessions(ctx context.Context, input RevokeInput) error {
	reason := input.Reason
	if reason == "" {
		reason = authdomain.ReasonAdminRevoke
	}
	if reason != authdomain.ReasonAdminRevoke && reason != authdomain.ReasonAccountDeactivated {
		return commonerrors.ErrValidation.WithMessage("reason must be admin_revoke or account_deactivated")
	}
	if strings.TrimSpace(input.UserID) == "" {
		return commonerrors.ErrValidation.WithMessage("userId is required")
	}

	fields := logger.Fields{"user_id": input.UserID, "realm": string(s.userType), "reason": string(reason)}

	if input.AccessToken != "" {
		if err := s.blacklist.Add(ctx, input.AccessToken, input.UserID, reason, s.accessExpiry(input.AccessToken)); err != nil {
			s.log.WithFields(ctx, withAction(fields, "revoke_sessions_blacklist_failed")).Errorf("revoke sessions: failed to blacklist token: %v", err)
			return err
		}
	}

	if err := s.strategy.RevokeAll(ctx, input.UserID, "", reason); err != nil {
		s.log.WithFields(ctx, withAction(fields, "revoke_sessions_failed")).Errorf("revoke sessions failed: %v", err)
		return err
	}

	s.log.WithFields(ctx, withAction(fields, "revoke_sessions_success")).Warn("all sessions revoked")
	return nil
}

func (s *AuthService) UnlockIdentifier(ctx context.Context, identifier string) error {
	if strings.TrimSpace(identifier) == "" {
		return commonerrors.ErrValidation.WithMessage("identifier is required")
	}
	return s.guard.Unlock(ctx, identifier)
}

func (s *AuthService) ListLockedIdentifiers(ctx context.Context) ([]lockout.LockedIdentifier, error) {
	return s.guard.ListLocked(ctx)
}

// accessExpiry returns the token's own exp, or now plus the realm access TTL
// when the token cannot be decoded.
func (s *AuthService) accessExpiry(accessToken string) time.Time {
	if accessToken != "" {
		if claims, err := token.Decode(accessToken); err == nil {
			if exp, ok := claims.Expiry(); ok {
				return exp
			}
		}
	}
	return s.clock.Now().Add(s.issuer.AccessTTL(s.userType))
}

func (s *AuthService) timingHash() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash(dummyPassword)
		if err != nil {
			s.log.Errorf("failed to prepare timing hash: %v", err)
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

func lockDetails(remainingSeconds int64, lockedUntil *time.Time) map[string]any {
	details := map[string]any{"lockRemainingSeconds": remainingSeconds}
	if lockedUntil != nil {
		details["lockedUntil"] = lockedUntil.UTC().Format(time.RFC3339)
	}
	return details
}

func minutesCeil(seconds int64) int64 {
	return (seconds + 59) / 60
}

func withAction(fields logger.Fields, action string) logger.Fields {
	out := make(logger.Fields, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["action"] = action
	return out
}

func withUser(fields logger.Fields, userID string) logger.Fields {
	out := make(logger.Fields, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["user_id"] = userID
	return out
}
