package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/AlibekovAA/authcore/internal/auth/blacklist"
	authdomain "github.com/AlibekovAA/authcore/internal/auth/domain"
	"github.com/AlibekovAA/authcore/internal/auth/lockout"
	authrepo "github.com/AlibekovAA/authcore/internal/auth/repository"
	"github.com/AlibekovAA/authcore/internal/auth/rotation"
	"github.com/AlibekovAA/authcore/internal/auth/token"
	"github.com/AlibekovAA/authcore/internal/common/clock"
	commoncrypto "github.com/AlibekovAA/authcore/internal/common/crypto"
	commonerrors "github.com/AlibekovAA/authcore/internal/common/errors"
	"github.com/AlibekovAA/authcore/internal/common/logger"
	"github.com/AlibekovAA/authcore/internal/common/resilience"
	"github.com/AlibekovAA/authcore/internal/observability/metrics"
)

type mockPrincipalRepo struct {
	FindByIdentifierFunc   func(ctx context.Context, userType authdomain.UserType, identifier string) (authdomain.Principal, error)
	FindByIDFunc           func(ctx context.Context, userType authdomain.UserType, id string) (authdomain.Principal, error)
	UpdateLastLoginFunc    func(ctx context.Context, userType authdomain.UserType, id string, at time.Time) error
	UpdatePasswordHashFunc func(ctx context.Context, userType authdomain.UserType, id string, hash string) error
}

func (m *mockPrincipalRepo) FindByIdentifier(ctx context.Context, userType authdomain.UserType, identifier string) (authdomain.Principal, error) {
	return m.FindByIdentifierFunc(ctx, userType, identifier)
}

func (m *mockPrincipalRepo) FindByID(ctx context.Context, userType authdomain.UserType, id string) (authdomain.Principal, error) {
	return m.FindByIDFunc(ctx, userType, id)
}

func (m *mockPrincipalRepo) UpdateLastLogin(ctx context.Context, userType authdomain.UserType, id string, at time.Time) error {
	if m.UpdateLastLoginFunc == nil {
		return nil
	}
	return m.UpdateLastLoginFunc(ctx, userType, id, at)
}

func (m *mockPrincipalRepo) UpdatePasswordHash(ctx context.Context, userType authdomain.UserType, id string, hash string) error {
	return m.UpdatePasswordHashFunc(ctx, userType, id, hash)
}

// principalTable backs mockPrincipalRepo with a map keyed by id.
type principalTable struct {
	mu   sync.Mutex
	rows map[string]authdomain.Principal
}

func newPrincipalRepo(table *principalTable) *mockPrincipalRepo {
	return &mockPrincipalRepo{
		FindByIdentifierFunc: func(_ context.Context, userType authdomain.UserType, identifier string) (authdomain.Principal, error) {
			table.mu.Lock()
			defer table.mu.Unlock()
			for _, p := range table.rows {
				if p.UserType == userType && (p.Username == identifier || p.Email == identifier) {
					return p, nil
				}
			}
			return authdomain.Principal{}, authrepo.ErrPrincipalNotFound
		},
		FindByIDFunc: func(_ context.Context, userType authdomain.UserType, id string) (authdomain.Principal, error) {
			table.mu.Lock()
			defer table.mu.Unlock()
			p, ok := table.rows[id]
			if !ok || p.UserType != userType {
				return authdomain.Principal{}, authrepo.ErrPrincipalNotFound
			}
			return p, nil
		},
		UpdateLastLoginFunc: func(_ context.Context, _ authdomain.UserType, id string, at time.Time) error {
			table.mu.Lock()
			defer table.mu.Unlock()
			p := table.rows[id]
			p.LastLoginAt = &at
			table.rows[id] = p
			return nil
		},
		UpdatePasswordHashFunc: func(_ context.Context, _ authdomain.UserType, id string, hash string) error {
			table.mu.Lock()
			defer table.mu.Unlock()
			p, ok := table.rows[id]
			if !ok {
				return authrepo.ErrPrincipalNotFound
			}
			p.PasswordHash = hash
			table.rows[id] = p
			return nil
		},
	}
}

func (t *principalTable) setActive(id string, active bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.rows[id]
	p.IsActive = active
	t.rows[id] = p
}

type harness struct {
	external *AuthService
	internal *AuthService
	clock    *clock.MockClock
	table    *principalTable
	repo     *authrepo.MemoryRefreshTokenRepository
	issuer   *token.Issuer
}

const testPassword = "correct-horse-1"

func newHarness(t *testing.T, externalStrategy string) harness {
	t.Helper()

	log, _ := logger.New("", "test", "error")
	clk := clock.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	hasher := commoncrypto.NewBcryptHasher(bcrypt.MinCost)
	ids := commoncrypto.NewUUIDGenerator()

	hash, err := hasher.Hash(testPassword)
	require.NoError(t, err)

	table := &principalTable{rows: map[string]authdomain.Principal{
		"ext-1": {ID: "ext-1", UserType: authdomain.UserTypeExternal, Username: "alice", Email: "alice@example.com", PasswordHash: hash, IsActive: true},
		"int-1": {ID: "int-1", UserType: authdomain.UserTypeInternal, Username: "bob", Email: "bob@corp.example", IsActive: true},
	}}
	principals := newPrincipalRepo(table)

	issuer, err := token.NewIssuer(token.Config{
		Internal: token.RealmConfig{Secret: "internal-secret-0123456789abcdefghij", AccessTTL: 30 * time.Minute, RefreshTTL: 7 * 24 * time.Hour},
		External: token.RealmConfig{Secret: "external-secret-0123456789abcdefghij", AccessTTL: 15 * time.Minute, RefreshTTL: 7 * 24 * time.Hour},
	}, ids, clk)
	require.NoError(t, err)

	breaker := func(name string) *resilience.CircuitBreaker {
		return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Threshold:  50,
			Timeout:    time.Second,
			ResetAfter: time.Minute,
			Name:       name,
		})
	}

	repo := authrepo.NewMemoryRefreshTokenRepository()
	engine := rotation.NewEngine(repo, issuer, commoncrypto.NewRandomSecretGenerator(), ids, breaker("test_refresh"), clk, log)
	guard := lockout.NewGuard(lockout.NewMemoryAttemptStore(), lockout.Config{MaxFailedAttempts: 5, LockDuration: 30 * time.Minute}, clk, log)
	bl := blacklist.New(blacklist.NewMemoryDenylist(), breaker("test_blacklist"), clk, log)

	var extStrategy RefreshStrategy = NewRotatingStrategy(engine, principals, authdomain.UserTypeExternal, log)
	if externalStrategy == "signed" {
		extStrategy = NewSignedStrategy(issuer, bl, principals, authdomain.UserTypeExternal, log)
	}

	deps := Deps{
		Principals: principals,
		Guard:      guard,
		Blacklist:  bl,
		Issuer:     issuer,
		Hasher:     hasher,
		Clock:      clk,
		Log:        log,
	}

	extDeps := deps
	extDeps.Strategy = extStrategy
	intDeps := deps
	intDeps.Strategy = NewRotatingStrategy(engine, principals, authdomain.UserTypeInternal, log)

	return harness{
		external: NewAuthService(authdomain.UserTypeExternal, extDeps),
		internal: NewAuthService(authdomain.UserTypeInternal, intDeps),
		clock:    clk,
		table:    table,
		repo:     repo,
		issuer:   issuer,
	}
}

func requireCode(t *testing.T, err error, code string) commonerrors.DomainError {
	t.Helper()
	require.Error(t, err)
	domainErr, ok := commonerrors.AsDomainError(err)
	require.True(t, ok, "expected domain error, got %v", err)
	require.Equal(t, code, domainErr.Code())
	return domainErr
}

func TestLogin_Success(t *testing.T) {
	h := newHarness(t, "rotating")
	ctx := context.Background()

	res, err := h.external.Login(ctx, LoginInput{Identifier: "alice", Password: testPassword})
	require.NoError(t, err)
	require.NotEmpty(t, res.AccessToken)
	require.Len(t, res.RefreshToken, 64)
	require.Equal(t, int64(900), res.ExpiresIn)
	require.Equal(t, "ext-1", res.User.ID)
	require.Equal(t, "alice", res.User.Username)
	require.NotNil(t, res.User.LastLoginAt)

	claims, err := h.external.Authenticate(ctx, res.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "ext-1", claims.UserID())
	require.Equal(t, authdomain.UserTypeExternal, claims.Type)
}

func TestLogin_UnknownUserMatchesWrongPassword(t *testing.T) {
	h := newHarness(t, "rotating")
	ctx := context.Background()

	_, errUnknown := h.external.Login(ctx, LoginInput{Identifier: "nobody", Password: "whatever-1"})
	_, errWrong := h.external.Login(ctx, LoginInput{Identifier: "alice", Password: "whatever-1"})

	unknown := requireCode(t, errUnknown, "INVALID_CREDENTIALS")
	wrong := requireCode(t, errWrong, "INVALID_CREDENTIALS")
	require.Equal(t, unknown.Message(), wrong.Message())
	require.Equal(t, 4, wrong.Details()["remainingAttempts"])
}

func TestLogin_InactiveAccount(t *testing.T) {
	h := newHarness(t, "rotating")
	h.table.setActive("ext-1", false)

	_, err := h.external.Login(context.Background(), LoginInput{Identifier: "alice", Password: testPassword})
	requireCode(t, err, "ACCOUNT_INACTIVE")
}

func TestLogin_ValidationFailed(t *testing.T) {
	h := newHarness(t, "rotating")

	_, err := h.external.Login(context.Background(), LoginInput{Identifier: "  ", Password: testPassword})
	requireCode(t, err, "VALIDATION_FAILED")
}

func TestLogin_LockoutScenario(t *testing.T) {
	h := newHarness(t, "rotating")
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		_, err := h.external.Login(ctx, LoginInput{Identifier: "alice", Password: "wrong-pass-1"})
		de := requireCode(t, err, "INVALID_CREDENTIALS")
		require.Equal(t, 5-i, de.Details()["remainingAttempts"])
	}

	_, err := h.external.Login(ctx, LoginInput{Identifier: "alice", Password: "wrong-pass-1"})
	de := requireCode(t, err, "INVALID_CREDENTIALS")
	require.Equal(t, true, de.Details()["locked"])
	require.Contains(t, de.Message(), "locked")

	_, err = h.external.Login(ctx, LoginInput{Identifier: "alice", Password: testPassword})
	de = requireCode(t, err, "ACCOUNT_LOCKED")
	remaining, ok := de.Details()["lockRemainingSeconds"].(int64)
	require.True(t, ok)
	require.InDelta(t, 1800, remaining, 1)
	require.Contains(t, de.Details(), "lockedUntil")

	h.clock.Advance(30*time.Minute + time.Second)

	_, err = h.external.Login(ctx, LoginInput{Identifier: "alice", Password: testPassword})
	require.NoError(t, err)
}

func TestLogin_AdminUnlock(t *testing.T) {
	h := newHarness(t, "rotating")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = h.external.Login(ctx, LoginInput{Identifier: "alice", Password: "wrong-pass-1"})
	}

	locked, err := h.external.ListLockedIdentifiers(ctx)
	require.NoError(t, err)
	require.Len(t, locked, 1)
	require.Equal(t, "alice", locked[0].Identifier)

	require.NoError(t, h.external.UnlockIdentifier(ctx, "alice"))

	_, err = h.external.Login(ctx, LoginInput{Identifier: "alice", Password: testPassword})
	require.NoError(t, err)
}

func TestRefresh_ReuseScenario(t *testing.T) {
	h := newHarness(t, "rotating")
	ctx := context.Background()

	login, err := h.external.Login(ctx, LoginInput{Identifier: "alice", Password: testPassword})
	require.NoError(t, err)
	t0 := login.RefreshToken

	first, err := h.external.Refresh(ctx, RefreshInput{RefreshToken: t0})
	require.NoError(t, err)
	t1 := first.RefreshToken
	require.NotEqual(t, t0, t1)

	_, err = h.external.Refresh(ctx, RefreshInput{RefreshToken: t0})
	requireCode(t, err, "TOKEN_REUSE_DETECTED")

	_, err = h.external.Refresh(ctx, RefreshInput{RefreshToken: t1})
	requireCode(t, err, "TOKEN_REVOKED")
}

func TestRefresh_InactivePrincipalRevokesSessions(t *testing.T) {
	h := newHarness(t, "rotating")
	ctx := context.Background()

	first, err := h.external.Login(ctx, LoginInput{Identifier: "alice", Password: testPassword})
	require.NoError(t, err)
	second, err := h.external.Login(ctx, LoginInput{Identifier: "alice", Password: testPassword})
	require.NoError(t, err)

	h.table.setActive("ext-1", false)

	_, err = h.external.Refresh(ctx, RefreshInput{RefreshToken: first.RefreshToken})
	requireCode(t, err, "ACCOUNT_INACTIVE")

	stored, err := h.repo.FindByTokenHash(ctx, commoncrypto.HashSecret(second.RefreshToken))
	require.NoError(t, err)
	require.True(t, stored.IsRevoked)
}

func TestRefresh_WrongRealmRejected(t *testing.T) {
	h := newHarness(t, "rotating")
	ctx := context.Background()

	session, err := h.internal.StartSession(ctx, "int-1")
	require.NoError(t, err)

	_, err = h.external.Refresh(ctx, RefreshInput{RefreshToken: session.RefreshToken})
	requireCode(t, err, "INVALID_REFRESH_TOKEN")

	stored, err := h.repo.FindByTokenHash(ctx, commoncrypto.HashSecret(session.RefreshToken))
	require.NoError(t, err)
	require.False(t, stored.IsUsed)
	require.False(t, stored.IsRevoked)

	_, err = h.internal.Refresh(ctx, RefreshInput{RefreshToken: session.RefreshToken})
	require.NoError(t, err)
}

func TestRefresh_EmptyToken(t *testing.T) {
	h := newHarness(t, "rotating")

	_, err := h.external.Refresh(context.Background(), RefreshInput{})
	requireCode(t, err, "INVALID_REFRESH_TOKEN")
}

func TestLogout_BlacklistsAndRevokes(t *testing.T) {
	h := newHarness(t, "rotating")
	ctx := context.Background()

	login, err := h.external.Login(ctx, LoginInput{Identifier: "alice", Password: testPassword})
	require.NoError(t, err)

	h.external.Logout(ctx, LogoutInput{AccessToken: login.AccessToken, UserID: "ext-1"})

	_, err = h.external.Authenticate(ctx, login.AccessToken)
	requireCode(t, err, "TOKEN_REVOKED")

	_, err = h.external.Refresh(ctx, RefreshInput{RefreshToken: login.RefreshToken})
	requireCode(t, err, "TOKEN_REVOKED")
}

func TestLogout_ExpiredAccessTokenStillRevokesSessions(t *testing.T) {
	h := newHarness(t, "rotating")
	ctx := context.Background()

	login, err := h.external.Login(ctx, LoginInput{Identifier: "alice", Password: testPassword})
	require.NoError(t, err)

	h.clock.Advance(20 * time.Minute)
	h.external.Logout(ctx, LogoutInput{AccessToken: login.AccessToken})

	_, err = h.external.Refresh(ctx, RefreshInput{RefreshToken: login.RefreshToken})
	requireCode(t, err, "TOKEN_REVOKED")
}

func TestLogout_Repeated(t *testing.T) {
	h := newHarness(t, "rotating")
	ctx := context.Background()

	login, err := h.external.Login(ctx, LoginInput{Identifier: "alice", Password: testPassword})
	require.NoError(t, err)

	h.external.Logout(ctx, LogoutInput{AccessToken: login.AccessToken})
	require.NotPanics(t, func() {
		h.external.Logout(ctx, LogoutInput{AccessToken: login.AccessToken})
	})

	_, err = h.external.Authenticate(ctx, login.AccessToken)
	requireCode(t, err, "TOKEN_REVOKED")
}

func TestLogout_ForeignRealmTokenRevokesNothing(t *testing.T) {
	h := newHarness(t, "rotating")
	ctx := context.Background()

	login, err := h.external.Login(ctx, LoginInput{Identifier: "alice", Password: testPassword})
	require.NoError(t, err)
	session, err := h.internal.StartSession(ctx, "int-1")
	require.NoError(t, err)

	h.external.Logout(ctx, LogoutInput{AccessToken: session.AccessToken})

	_, err = h.internal.Authenticate(ctx, session.AccessToken)
	require.NoError(t, err)
	_, err = h.internal.Refresh(ctx, RefreshInput{RefreshToken: session.RefreshToken})
	require.NoError(t, err)
	_, err = h.external.Refresh(ctx, RefreshInput{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
}

func TestLogout_GarbageTokenDoesNotPanic(t *testing.T) {
	h := newHarness(t, "rotating")

	require.NotPanics(t, func() {
		h.external.Logout(context.Background(), LogoutInput{AccessToken: "not-a-jwt"})
	})
}

func TestAuthenticate_CrossRealmRejected(t *testing.T) {
	h := newHarness(t, "rotating")
	ctx := context.Background()

	session, err := h.internal.StartSession(ctx, "int-1")
	require.NoError(t, err)

	_, err = h.external.Authenticate(ctx, session.AccessToken)
	requireCode(t, err, "INVALID_TOKEN")

	claims, err := h.internal.Authenticate(ctx, session.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "int-1", claims.UserID())
}

func TestAuthenticate_CountsOneBlacklistCheck(t *testing.T) {
	h := newHarness(t, "rotating")
	ctx := context.Background()

	session, err := h.internal.StartSession(ctx, "int-1")
	require.NoError(t, err)

	before := blacklistChecks(t)
	_, err = h.internal.Authenticate(ctx, session.AccessToken)
	require.NoError(t, err)
	require.Equal(t, before+1, blacklistChecks(t))
}

func blacklistChecks(t *testing.T) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, metrics.JWTBlacklistChecksTotal.Write(&m))
	return m.GetCounter().GetValue()
}

func TestStartSession_Errors(t *testing.T) {
	h := newHarness(t, "rotating")
	ctx := context.Background()

	_, err := h.internal.StartSession(ctx, "missing")
	require.ErrorIs(t, err, commonerrors.ErrUserNotFound)

	h.table.setActive("int-1", false)
	_, err = h.internal.StartSession(ctx, "int-1")
	requireCode(t, err, "ACCOUNT_INACTIVE")
}

func TestChangePassword(t *testing.T) {
	h := newHarness(t, "rotating")
	ctx := context.Background()

	login, err := h.external.Login(ctx, LoginInput{Identifier: "alice", Password: testPassword})
	require.NoError(t, err)

	tests := []struct {
		name    string
		current string
		next    string
		code    string
	}{
		{name: "wrong current", current: "bad-password-1", next: "new-password-1", code: "INVALID_CREDENTIALS"},
		{name: "too short", current: testPassword, next: "a1", code: "VALIDATION_FAILED"},
		{name: "no digit", current: testPassword, next: "onlyletters", code: "VALIDATION_FAILED"},
		{name: "same as current", current: testPassword, next: testPassword, code: "VALIDATION_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.external.ChangePassword(ctx, ChangePasswordInput{
				UserID:          "ext-1",
				CurrentPassword: tt.current,
				NewPassword:     tt.next,
				AccessToken:     login.AccessToken,
			})
			requireCode(t, err, tt.code)
		})
	}

	err = h.external.ChangePassword(ctx, ChangePasswordInput{
		UserID:          "ext-1",
		CurrentPassword: testPassword,
		NewPassword:     "new-password-1",
		AccessToken:     login.AccessToken,
	})
	require.NoError(t, err)

	_, err = h.external.Authenticate(ctx, login.AccessToken)
	requireCode(t, err, "TOKEN_REVOKED")

	_, err = h.external.Refresh(ctx, RefreshInput{RefreshToken: login.RefreshToken})
	requireCode(t, err, "TOKEN_REVOKED")

	_, err = h.external.Login(ctx, LoginInput{Identifier: "alice", Password: testPassword})
	requireCode(t, err, "INVALID_CREDENTIALS")

	_, err = h.external.Login(ctx, LoginInput{Identifier: "alice", Password: "new-password-1"})
	require.NoError(t, err)
}

func TestRevokeSessions(t *testing.T) {
	h := newHarness(t, "rotating")
	ctx := context.Background()

	session, err := h.internal.StartSession(ctx, "int-1")
	require.NoError(t, err)

	err = h.internal.RevokeSessions(ctx, RevokeInput{UserID: "int-1", Reason: authdomain.ReasonLogout})
	requireCode(t, err, "VALIDATION_FAILED")

	err = h.internal.RevokeSessions(ctx, RevokeInput{
		UserID:      "int-1",
		AccessToken: session.AccessToken,
		Reason:      authdomain.ReasonAccountDeactivated,
	})
	require.NoError(t, err)

	_, err = h.internal.Authenticate(ctx, session.AccessToken)
	requireCode(t, err, "TOKEN_REVOKED")

	_, err = h.internal.Refresh(ctx, RefreshInput{RefreshToken: session.RefreshToken})
	requireCode(t, err, "TOKEN_REVOKED")
}

func TestSignedStrategy_RefreshAndLogout(t *testing.T) {
	h := newHarness(t, "signed")
	ctx := context.Background()

	login, err := h.external.Login(ctx, LoginInput{Identifier: "alice", Password: testPassword})
	require.NoError(t, err)

	claims, err := h.issuer.VerifyRefresh(login.RefreshToken, authdomain.UserTypeExternal)
	require.NoError(t, err)
	require.Equal(t, token.TypeRefresh, claims.Kind())

	res, err := h.external.Refresh(ctx, RefreshInput{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	require.NotEmpty(t, res.AccessToken)
	require.Empty(t, res.RefreshToken)

	// Non-rotating: the same refresh JWT keeps working.
	_, err = h.external.Refresh(ctx, RefreshInput{RefreshToken: login.RefreshToken})
	require.NoError(t, err)

	_, err = h.external.Refresh(ctx, RefreshInput{RefreshToken: login.AccessToken})
	requireCode(t, err, "INVALID_REFRESH_TOKEN")

	h.external.Logout(ctx, LogoutInput{AccessToken: login.AccessToken, RefreshToken: login.RefreshToken, UserID: "ext-1"})

	_, err = h.external.Refresh(ctx, RefreshInput{RefreshToken: login.RefreshToken})
	requireCode(t, err, "TOKEN_REVOKED")
}

func TestSignedStrategy_ExpiredRefresh(t *testing.T) {
	h := newHarness(t, "signed")
	ctx := context.Background()

	login, err := h.external.Login(ctx, LoginInput{Identifier: "alice", Password: testPassword})
	require.NoError(t, err)

	h.clock.Advance(8 * 24 * time.Hour)

	_, err = h.external.Refresh(ctx, RefreshInput{RefreshToken: login.RefreshToken})
	requireCode(t, err, "TOKEN_REFRESH_EXPIRED")
}

func TestLogin_StoreFailureIsInternal(t *testing.T) {
	log, _ := logger.New("", "test", "error")
	clk := clock.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	dbErr := errors.New("connection reset")

	svc := NewAuthService(authdomain.UserTypeExternal, Deps{
		Principals: &mockPrincipalRepo{
			FindByIdentifierFunc: func(context.Context, authdomain.UserType, string) (authdomain.Principal, error) {
				return authdomain.Principal{}, dbErr
			},
		},
		Guard:  lockout.NewGuard(lockout.NewMemoryAttemptStore(), lockout.Config{}, clk, log),
		Hasher: commoncrypto.NewBcryptHasher(bcrypt.MinCost),
		Clock:  clk,
		Log:    log,
	})

	_, err := svc.Login(context.Background(), LoginInput{Identifier: "alice", Password: testPassword})
	require.ErrorIs(t, err, commonerrors.ErrInternalError)
	require.ErrorIs(t, err, dbErr)
}
