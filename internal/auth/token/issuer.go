package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/AlibekovAA/authcore/internal/auth/domain"
	"github.com/AlibekovAA/authcore/internal/common/clock"
	"github.com/AlibekovAA/authcore/internal/common/constants"
	commoncrypto "github.com/AlibekovAA/authcore/internal/common/crypto"
	commonerrors "github.com/AlibekovAA/authcore/internal/common/errors"
	"github.com/AlibekovAA/authcore/internal/observability/metrics"
)

const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

type Claims struct {
	Type      domain.UserType `json:"type"`
	TokenType string          `json:"tokenType,omitempty"`
	jwt.RegisteredClaims
}

func (c Claims) UserID() string {
	return c.Subject
}

// Kind returns the token type, treating tokens minted without one as access tokens.
func (c Claims) Kind() string {
	if c.TokenType == "" {
		return TypeAccess
	}
	return c.TokenType
}

func (c Claims) Expiry() (time.Time, bool) {
	if c.RegisteredClaims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return c.RegisteredClaims.ExpiresAt.Time, true
}

type RealmConfig struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type Config struct {
	Internal RealmConfig
	External RealmConfig
}

type realmKey struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

type Issuer struct {
	realms      map[domain.UserType]realmKey
	idGenerator commoncrypto.IDGenerator
	clock       clock.Clock
}

func NewIssuer(cfg Config, idGenerator commoncrypto.IDGenerator, clk clock.Clock) (*Issuer, error) {
	if len(cfg.Internal.Secret) < constants.JWTSecretMinLength {
		return nil, commonerrors.ErrConfigurationMissing.WithMessage("internal realm signing secret is missing or too short")
	}
	if len(cfg.External.Secret) < constants.JWTSecretMinLength {
		return nil, commonerrors.ErrConfigurationMissing.WithMessage("external realm signing secret is missing or too short")
	}
	if cfg.Internal.Secret == cfg.External.Secret {
		return nil, commonerrors.ErrConfigurationMissing.WithMessage("realm signing secrets must differ")
	}

	return &Issuer{
		realms: map[domain.UserType]realmKey{
			domain.UserTypeInternal: newRealmKey(cfg.Internal, constants.DefaultInternalAccessTokenTTL, constants.DefaultInternalRefreshTokenTTL),
			domain.UserTypeExternal: newRealmKey(cfg.External, constants.DefaultExternalAccessTokenTTL, constants.DefaultExternalRefreshTokenTTL),
		},
		idGenerator: idGenerator,
		clock:       clk,
	}, nil
}

func newRealmKey(rc RealmConfig, defaultAccess, defaultRefresh time.Duration) realmKey {
	k := realmKey{
		secret:     []byte(rc.Secret),
		accessTTL:  rc.AccessTTL,
		refreshTTL: rc.RefreshTTL,
	}
	if k.accessTTL <= 0 {
		k.accessTTL = defaultAccess
	}
	if k.refreshTTL <= 0 {
		k.refreshTTL = defaultRefresh
	}
	return k
}

func (i *Issuer) realm(userType domain.UserType) (realmKey, error) {
	k, ok := i.realms[userType]
	if !ok {
		return realmKey{}, commonerrors.ErrInvalidToken.WithMessage("unknown realm " + string(userType))
	}
	return k, nil
}

func (i *Issuer) AccessTTL(userType domain.UserType) time.Duration {
	k, err := i.realm(userType)
	if err != nil {
		return constants.DefaultExternalAccessTokenTTL
	}
	return k.accessTTL
}

func (i *Issuer) RefreshTTL(userType domain.UserType) time.Duration {
	k, err := i.realm(userType)
	if err != nil {
		return constants.DefaultExternalRefreshTokenTTL
	}
	return k.refreshTTL
}

// Mint signs an access token for userID in the given realm and returns it with
// its lifetime in seconds.
func (i *Issuer) Mint(userID string, userType domain.UserType) (string, int64, error) {
	k, err := i.realm(userType)
	if err != nil {
		return "", 0, err
	}
	signed, _, err := i.sign(userID, userType, TypeAccess, k.secret, k.accessTTL)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(k.accessTTL / time.Second), nil
}

// MintRefresh signs a non-rotating refresh JWT. Only the signed refresh
// strategy uses it.
func (i *Issuer) MintRefresh(userID string, userType domain.UserType) (string, time.Time, error) {
	k, err := i.realm(userType)
	if err != nil {
		return "", time.Time{}, err
	}
	return i.sign(userID, userType, TypeRefresh, k.secret, k.refreshTTL)
}

func (i *Issuer) sign(userID string, userType domain.UserType, tokenType string, secret []byte, ttl time.Duration) (string, time.Time, error) {
	jti, err := i.idGenerator.NewID()
	if err != nil {
		return "", time.Time{}, err
	}

	now := i.clock.Now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		Type:      userType,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}

	metrics.AccessTokensIssued.WithLabelValues(string(userType), tokenType).Inc()
	return signed, expiresAt, nil
}

func (i *Issuer) Verify(tokenString string, userType domain.UserType) (Claims, error) {
	claims, err := i.verify(tokenString, userType, TypeAccess)
	if err != nil {
		return Claims{}, commonerrors.ErrInvalidToken.WithCause(err)
	}
	return claims, nil
}

func (i *Issuer) VerifyRefresh(tokenString string, userType domain.UserType) (Claims, error) {
	claims, err := i.verify(tokenString, userType, TypeRefresh)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, domain.ErrTokenRefreshExpired.WithCause(err)
		}
		return Claims{}, domain.ErrInvalidRefreshToken.WithCause(err)
	}
	return claims, nil
}

// VerifyAllowExpired checks signature, realm and token type of an access
// token but accepts it past exp. Logout uses it to identify the holder of a
// stale session; it must not be used to authorize anything else.
func (i *Issuer) VerifyAllowExpired(tokenString string, userType domain.UserType) (Claims, error) {
	claims, err := i.parse(tokenString, userType, TypeAccess, jwt.WithoutClaimsValidation())
	if err != nil {
		return Claims{}, commonerrors.ErrInvalidToken.WithCause(err)
	}
	return claims, nil
}

func (i *Issuer) verify(tokenString string, userType domain.UserType, tokenType string) (Claims, error) {
	metrics.JWTValidationsTotal.WithLabelValues(string(userType)).Inc()

	claims, err := i.parse(tokenString, userType, tokenType, jwt.WithExpirationRequired())
	if err != nil {
		metrics.JWTValidationsFailed.WithLabelValues(string(userType)).Inc()
		return Claims{}, err
	}
	return claims, nil
}

func (i *Issuer) parse(tokenString string, userType domain.UserType, tokenType string, opts ...jwt.ParserOption) (Claims, error) {
	k, err := i.realm(userType)
	if err != nil {
		return Claims{}, err
	}

	opts = append(opts,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.clock.Now),
	)

	var claims Claims
	parsed, err := jwt.ParseWithClaims(
		tokenString,
		&claims,
		func(*jwt.Token) (any, error) { return k.secret, nil },
		opts...,
	)
	if err != nil {
		return Claims{}, err
	}
	if !parsed.Valid {
		return Claims{}, errors.New("token is not valid")
	}
	if claims.Subject == "" {
		return Claims{}, errors.New("missing sub claim")
	}
	if claims.Type != userType {
		return Claims{}, errors.New("token realm mismatch")
	}
	if claims.Kind() != tokenType {
		return Claims{}, errors.New("unexpected token type " + claims.Kind())
	}
	return claims, nil
}

// Decode reads claims without verifying the signature. Callers must not make
// authorization decisions from its result.
func Decode(tokenString string) (Claims, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, &claims); err != nil {
		return Claims{}, commonerrors.ErrInvalidToken.WithCause(err)
	}
	return claims, nil
}
