package jwtverify

import (
	"context"
	"net/http"
	"strings"
	"time"

	commonhttp "github.com/AlibekovAA/authcore/internal/common/http"
	"github.com/AlibekovAA/authcore/internal/common/logger"
)

type Claims struct {
	UserID    string
	UserType  string
	JTI       string
	ExpiresAt time.Time
	Token     string
}

// Authenticator verifies a raw bearer token. Errors should be domain errors so
// their code reaches the client.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Claims, error)
}

type AuthenticatorFunc func(ctx context.Context, token string) (Claims, error)

func (f AuthenticatorFunc) Authenticate(ctx context.Context, token string) (Claims, error) {
	return f(ctx, token)
}

type contextKey string

const claimsKey contextKey = "jwt_claims"

func Middleware(auth Authenticator, log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := BearerToken(r)
			if !ok {
				log.WithFields(r.Context(), logger.Fields{
					"path":   r.URL.Path,
					"action": "jwt_missing_authorization",
				}).Warn("jwt auth failed: missing or invalid authorization header")
				commonhttp.WriteErrorEnvelope(w, http.StatusUnauthorized, commonhttp.CodeMissingAuthorization, "missing or invalid authorization", nil, "")
				return
			}

			claims, err := auth.Authenticate(r.Context(), tokenString)
			if err != nil {
				log.WithFields(r.Context(), logger.Fields{
					"path":   r.URL.Path,
					"action": "jwt_auth_failed",
				}).Warnf("jwt auth failed: %v", err)
				commonhttp.HandleError(w, r, err, log)
				return
			}
			claims.Token = tokenString

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func BearerToken(r *http.Request) (string, bool) {
	raw := r.Header.Get("Authorization")
	if len(raw) < 7 || !strings.EqualFold(raw[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(raw[7:])
	return token, token != ""
}

func WithClaims(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

func FromContext(ctx context.Context) (Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(Claims)
	return claims, ok
}
