package token

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/AlibekovAA/authcore/internal/auth/domain"
	"github.com/AlibekovAA/authcore/internal/common/clock"
	commonerrors "github.com/AlibekovAA/authcore/internal/common/errors"
)

const (
	internalSecret = "internal-secret-0123456789abcdefghij"
	externalSecret = "external-secret-0123456789abcdefghij"
)

type seqIDGenerator struct {
	n int
}

func (g *seqIDGenerator) NewID() (string, error) {
	g.n++
	return "jti-" + strings.Repeat("x", g.n), nil
}

func newTestIssuer(t *testing.T, clk clock.Clock) *Issuer {
	t.Helper()
	issuer, err := NewIssuer(Config{
		Internal: RealmConfig{Secret: internalSecret, AccessTTL: 30 * time.Minute, RefreshTTL: 24 * time.Hour},
		External: RealmConfig{Secret: externalSecret, AccessTTL: 15 * time.Minute, RefreshTTL: 24 * time.Hour},
	}, &seqIDGenerator{}, clk)
	require.NoError(t, err)
	return issuer
}

func TestNewIssuer_RejectsBadSecrets(t *testing.T) {
	clk := clock.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))

	tests := []struct {
		name string
		cfg  Config
	}{
		{"empty internal", Config{Internal: RealmConfig{}, External: RealmConfig{Secret: externalSecret}}},
		{"short external", Config{Internal: RealmConfig{Secret: internalSecret}, External: RealmConfig{Secret: "short"}}},
		{"equal", Config{Internal: RealmConfig{Secret: internalSecret}, External: RealmConfig{Secret: internalSecret}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewIssuer(tt.cfg, &seqIDGenerator{}, clk)
			require.ErrorIs(t, err, commonerrors.ErrConfigurationMissing)
		})
	}
}

func TestMint_ClaimsAndExpiresIn(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, clock.NewMockClock(now))

	tok, expiresIn, err := issuer.Mint("user-1", domain.UserTypeInternal)
	require.NoError(t, err)
	require.Equal(t, int64(1800), expiresIn)

	claims, err := issuer.Verify(tok, domain.UserTypeInternal)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID())
	require.Equal(t, domain.UserTypeInternal, claims.Type)
	require.Equal(t, TypeAccess, claims.TokenType)
	require.NotEmpty(t, claims.ID)
	exp, ok := claims.Expiry()
	require.True(t, ok)
	require.Equal(t, now.Add(30*time.Minute).Unix(), exp.Unix())

	_, expiresIn, err = issuer.Mint("user-2", domain.UserTypeExternal)
	require.NoError(t, err)
	require.Equal(t, int64(900), expiresIn)
}

func TestVerify_CrossRealmFails(t *testing.T) {
	issuer := newTestIssuer(t, clock.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)))

	internalTok, _, err := issuer.Mint("user-1", domain.UserTypeInternal)
	require.NoError(t, err)
	externalTok, _, err := issuer.Mint("user-2", domain.UserTypeExternal)
	require.NoError(t, err)

	_, err = issuer.Verify(internalTok, domain.UserTypeExternal)
	require.ErrorIs(t, err, commonerrors.ErrInvalidToken)
	_, err = issuer.Verify(externalTok, domain.UserTypeInternal)
	require.ErrorIs(t, err, commonerrors.ErrInvalidToken)
}

func TestVerify_RealmClaimMustMatchEvenWithRealmSecret(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, clock.NewMockClock(now))

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Type: domain.UserTypeInternal,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	signed, err := forged.SignedString([]byte(externalSecret))
	require.NoError(t, err)

	_, err = issuer.Verify(signed, domain.UserTypeExternal)
	require.ErrorIs(t, err, commonerrors.ErrInvalidToken)
}

func TestVerify_Expired(t *testing.T) {
	clk := clock.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	issuer := newTestIssuer(t, clk)

	tok, _, err := issuer.Mint("user-1", domain.UserTypeExternal)
	require.NoError(t, err)

	clk.Advance(16 * time.Minute)
	_, err = issuer.Verify(tok, domain.UserTypeExternal)
	require.ErrorIs(t, err, commonerrors.ErrInvalidToken)
}

func TestVerify_RejectsOtherAlgorithms(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, clock.NewMockClock(now))

	tok := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		Type: domain.UserTypeExternal,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	signed, err := tok.SignedString([]byte(externalSecret))
	require.NoError(t, err)

	_, err = issuer.Verify(signed, domain.UserTypeExternal)
	require.ErrorIs(t, err, commonerrors.ErrInvalidToken)
}

func TestVerify_MissingExpRejected(t *testing.T) {
	issuer := newTestIssuer(t, clock.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)))

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Type:             domain.UserTypeExternal,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	})
	signed, err := tok.SignedString([]byte(externalSecret))
	require.NoError(t, err)

	_, err = issuer.Verify(signed, domain.UserTypeExternal)
	require.ErrorIs(t, err, commonerrors.ErrInvalidToken)
}

func TestVerify_TokenTypeSeparation(t *testing.T) {
	clk := clock.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	issuer := newTestIssuer(t, clk)

	refresh, _, err := issuer.MintRefresh("user-1", domain.UserTypeExternal)
	require.NoError(t, err)
	access, _, err := issuer.Mint("user-1", domain.UserTypeExternal)
	require.NoError(t, err)

	_, err = issuer.Verify(refresh, domain.UserTypeExternal)
	require.ErrorIs(t, err, commonerrors.ErrInvalidToken)

	_, err = issuer.VerifyRefresh(access, domain.UserTypeExternal)
	require.ErrorIs(t, err, domain.ErrInvalidRefreshToken)

	claims, err := issuer.VerifyRefresh(refresh, domain.UserTypeExternal)
	require.NoError(t, err)
	require.Equal(t, TypeRefresh, claims.Kind())

	clk.Advance(25 * time.Hour)
	_, err = issuer.VerifyRefresh(refresh, domain.UserTypeExternal)
	require.ErrorIs(t, err, domain.ErrTokenRefreshExpired)
}

func TestVerify_MissingTokenTypeReadsAsAccess(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, clock.NewMockClock(now))

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Type: domain.UserTypeExternal,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	signed, err := tok.SignedString([]byte(externalSecret))
	require.NoError(t, err)

	claims, err := issuer.Verify(signed, domain.UserTypeExternal)
	require.NoError(t, err)
	require.Equal(t, TypeAccess, claims.Kind())
}

func TestDecode(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, clock.NewMockClock(now))

	tok, _, err := issuer.Mint("user-1", domain.UserTypeExternal)
	require.NoError(t, err)

	claims, err := Decode(tok)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID())
	exp, ok := claims.Expiry()
	require.True(t, ok)
	require.Equal(t, now.Add(15*time.Minute).Unix(), exp.Unix())

	_, err = Decode("not-a-jwt")
	require.ErrorIs(t, err, commonerrors.ErrInvalidToken)
}

func TestVerifyAllowExpired(t *testing.T) {
	clk := clock.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	issuer := newTestIssuer(t, clk)

	tok, _, err := issuer.Mint("user-1", domain.UserTypeExternal)
	require.NoError(t, err)
	clk.Advance(time.Hour)

	claims, err := issuer.VerifyAllowExpired(tok, domain.UserTypeExternal)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID())

	_, err = issuer.VerifyAllowExpired(tok, domain.UserTypeInternal)
	require.ErrorIs(t, err, commonerrors.ErrInvalidToken)

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Type:             domain.UserTypeExternal,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "victim"},
	})
	signed, err := forged.SignedString([]byte("some-other-secret-0123456789abcdef"))
	require.NoError(t, err)
	_, err = issuer.VerifyAllowExpired(signed, domain.UserTypeExternal)
	require.ErrorIs(t, err, commonerrors.ErrInvalidToken)

	refresh, _, err := issuer.MintRefresh("user-1", domain.UserTypeExternal)
	require.NoError(t, err)
	_, err = issuer.VerifyAllowExpired(refresh, domain.UserTypeExternal)
	require.ErrorIs(t, err, commonerrors.ErrInvalidToken)
}
