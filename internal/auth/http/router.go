package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	authdomain "github.com/AlibekovAA/authcore/internal/auth/domain"
	"github.com/AlibekovAA/authcore/internal/auth/lockout"
	"github.com/AlibekovAA/authcore/internal/auth/service"
	"github.com/AlibekovAA/authcore/internal/auth/token"
	commonerrors "github.com/AlibekovAA/authcore/internal/common/errors"
	commonhttp "github.com/AlibekovAA/authcore/internal/common/http"
	"github.com/AlibekovAA/authcore/internal/common/jwtverify"
	"github.com/AlibekovAA/authcore/internal/common/logger"
)

type AuthAPI interface {
	Login(ctx context.Context, input service.LoginInput) (service.LoginResult, error)
	Refresh(ctx context.Context, input service.RefreshInput) (service.RefreshResult, error)
	Logout(ctx context.Context, input service.LogoutInput)
	ChangePassword(ctx context.Context, input service.ChangePasswordInput) error
	Authenticate(ctx context.Context, accessToken string) (token.Claims, error)
	RevokeSessions(ctx context.Context, input service.RevokeInput) error
	UnlockIdentifier(ctx context.Context, identifier string) error
	ListLockedIdentifiers(ctx context.Context) ([]lockout.LockedIdentifier, error)
}

type Config struct {
	RequestTimeout time.Duration
	HealthChecks   map[string]commonhttp.HealthCheck
	// AdminUserIDs lists the internal principals allowed on the admin routes.
	// An empty list closes the admin routes entirely.
	AdminUserIDs []string
}

type loginRequest struct {
	Identifier string `json:"identifier" validate:"required,max=254"`
	Password   string `json:"password" validate:"required,max=72"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required"`
}

type unlockRequest struct {
	Identifier string `json:"identifier" validate:"required,max=254"`
}

type revokeRequest struct {
	UserID   string `json:"userId" validate:"required"`
	UserType string `json:"userType" validate:"required,oneof=internal external"`
	Reason   string `json:"reason" validate:"omitempty,oneof=admin_revoke account_deactivated"`
}

type loginResponse struct {
	AccessToken  string                `json:"accessToken"`
	RefreshToken string                `json:"refreshToken"`
	ExpiresIn    int64                 `json:"expiresIn"`
	User         authdomain.PublicUser `json:"user"`
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresIn    int64  `json:"expiresIn"`
}

type lockedResponse struct {
	Locked []lockout.LockedIdentifier `json:"locked"`
}

type Handler struct {
	internal AuthAPI
	external AuthAPI
	cfg      Config
	admins   map[string]struct{}
	log      *logger.Logger
}

func NewHandler(internal, external AuthAPI, cfg Config, log *logger.Logger) http.Handler {
	h := &Handler{internal: internal, external: external, cfg: cfg, log: log, admins: make(map[string]struct{}, len(cfg.AdminUserIDs))}
	for _, id := range cfg.AdminUserIDs {
		h.admins[id] = struct{}{}
	}
	limiter := commonhttp.NewStrictRateLimiter()

	internalAuth := jwtverify.Middleware(authenticatorFor(internal), log)
	externalAuth := jwtverify.Middleware(authenticatorFor(external), log)

	mux := http.NewServeMux()
	route := func(pattern, path string, handler http.Handler) {
		mux.Handle(pattern, limiter.MiddlewareForPath(path)(handler))
	}

	mux.HandleFunc("GET /health", commonhttp.HealthHandler(log, cfg.HealthChecks))
	mux.Handle("GET /metrics", promhttp.Handler())

	route("POST /api/auth/external/login", "/api/auth/external/login", h.timed(h.login))

	route("POST /api/auth/internal/refresh-token", "/api/auth/internal/refresh-token", h.timed(h.refresh(internal)))
	route("POST /api/auth/external/refresh-token", "/api/auth/external/refresh-token", h.timed(h.refresh(external)))

	route("POST /api/auth/internal/logout", "/api/auth/internal/logout", h.timed(h.logout(internal)))
	route("POST /api/auth/external/logout", "/api/auth/external/logout", h.timed(h.logout(external)))

	route("PATCH /api/auth/external/change-password", "/api/auth/external/change-password", externalAuth(h.timed(h.changePassword)))

	admin := func(next http.HandlerFunc) http.Handler {
		return internalAuth(h.requireAdmin(h.timed(next)))
	}
	route("GET /api/auth/admin/locked", "/api/auth/admin/locked", admin(h.listLocked))
	route("POST /api/auth/admin/unlock", "/api/auth/admin/unlock", admin(h.unlock))
	route("POST /api/auth/admin/revoke", "/api/auth/admin/revoke", admin(h.revoke))

	return commonhttp.BuildBaseHandler(log, mux)
}

func authenticatorFor(api AuthAPI) jwtverify.Authenticator {
	return jwtverify.AuthenticatorFunc(func(ctx context.Context, raw string) (jwtverify.Claims, error) {
		claims, err := api.Authenticate(ctx, raw)
		if err != nil {
			return jwtverify.Claims{}, err
		}
		out := jwtverify.Claims{
			UserID:   claims.UserID(),
			UserType: string(claims.Type),
			JTI:      claims.ID,
		}
		if exp, ok := claims.Expiry(); ok {
			out.ExpiresAt = exp
		}
		return out, nil
	})
}

func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, _ := jwtverify.FromContext(r.Context())
		if _, ok := h.admins[claims.UserID]; !ok {
			h.log.WithFields(r.Context(), logger.Fields{
				"user_id": claims.UserID,
				"path":    r.URL.Path,
				"action":  "admin_access_denied",
			}).Warn("admin route denied")
			commonhttp.HandleError(w, r, commonerrors.ErrForbidden, h.log)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) timed(next http.HandlerFunc) http.Handler {
	return commonhttp.WithTimeout(h.cfg.RequestTimeout)(next)
}

// decode reads and validates a JSON body. It writes the error response itself
// and reports whether the handler may continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := commonhttp.DecodeJSON(r, v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			commonhttp.WriteErrorEnvelope(w, http.StatusRequestEntityTooLarge, commonhttp.CodeRequestTooLarge, "request body too large", nil, "")
			return false
		}
		h.log.WithFields(r.Context(), logger.Fields{
			"path":   r.URL.Path,
			"action": "invalid_json",
		}).Warnf("invalid json: %v", err)
		commonhttp.WriteErrorEnvelope(w, http.StatusBadRequest, commonhttp.CodeInvalidJSON, "invalid json", nil, "")
		return false
	}
	if err := commonhttp.ValidateRequest(v); err != nil {
		commonhttp.HandleError(w, r, err, h.log)
		return false
	}
	return true
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.external.Login(r.Context(), service.LoginInput{
		Identifier: req.Identifier,
		Password:   req.Password,
	})
	if err != nil {
		commonhttp.HandleError(w, r, err, h.log)
		return
	}

	commonhttp.WriteJSON(w, http.StatusOK, loginResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresIn:    result.ExpiresIn,
		User:         result.User,
	})
}

func (h *Handler) refresh(api AuthAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req refreshRequest
		if err := commonhttp.DecodeJSON(r, &req); err != nil || req.RefreshToken == "" {
			commonhttp.WriteErrorEnvelope(w, http.StatusBadRequest, commonhttp.CodeMissingRefreshToken, "refresh token is required", nil, "")
			return
		}

		result, err := api.Refresh(r.Context(), service.RefreshInput{RefreshToken: req.RefreshToken})
		if err != nil {
			commonhttp.HandleError(w, r, err, h.log)
			return
		}

		commonhttp.WriteJSON(w, http.StatusOK, refreshResponse{
			AccessToken:  result.AccessToken,
			RefreshToken: result.RefreshToken,
			ExpiresIn:    result.ExpiresIn,
		})
	}
}

// logout accepts whatever bearer is presented. The service decides what the
// token still proves, so expired or already revoked tokens end the session
// instead of failing the request.
func (h *Handler) logout(api AuthAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accessToken, _ := jwtverify.BearerToken(r)

		var req logoutRequest
		if r.ContentLength != 0 {
			_ = commonhttp.DecodeJSON(r, &req)
		}

		api.Logout(r.Context(), service.LogoutInput{
			AccessToken:  accessToken,
			RefreshToken: req.RefreshToken,
		})

		commonhttp.WriteMessage(w, http.StatusOK, "logged out")
	}
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	claims, _ := jwtverify.FromContext(r.Context())

	var req changePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.external.ChangePassword(r.Context(), service.ChangePasswordInput{
		UserID:          claims.UserID,
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
		AccessToken:     claims.Token,
	})
	if err != nil {
		commonhttp.HandleError(w, r, err, h.log)
		return
	}

	commonhttp.WriteMessage(w, http.StatusOK, "password changed, please sign in again")
}

func (h *Handler) listLocked(w http.ResponseWriter, r *http.Request) {
	locked, err := h.external.ListLockedIdentifiers(r.Context())
	if err != nil {
		commonhttp.HandleError(w, r, err, h.log)
		return
	}
	if locked == nil {
		locked = []lockout.LockedIdentifier{}
	}
	commonhttp.WriteJSON(w, http.StatusOK, lockedResponse{Locked: locked})
}

func (h *Handler) unlock(w http.ResponseWriter, r *http.Request) {
	admin, _ := jwtverify.FromContext(r.Context())

	var req unlockRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.external.UnlockIdentifier(r.Context(), req.Identifier); err != nil {
		commonhttp.HandleError(w, r, err, h.log)
		return
	}

	h.log.WithFields(r.Context(), logger.Fields{
		"admin_id":   admin.UserID,
		"identifier": req.Identifier,
		"action":     "admin_unlock",
	}).Info("identifier unlocked by admin")
	commonhttp.WriteMessage(w, http.StatusOK, "identifier unlocked")
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	admin, _ := jwtverify.FromContext(r.Context())

	var req revokeRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := commonhttp.ValidateUUID(req.UserID); err != nil {
		commonhttp.HandleError(w, r, err, h.log)
		return
	}

	userType, ok := authdomain.ParseUserType(req.UserType)
	if !ok {
		commonhttp.HandleError(w, r, commonerrors.ErrValidation.WithMessage("unknown userType"), h.log)
		return
	}

	api := h.external
	if userType == authdomain.UserTypeInternal {
		api = h.internal
	}

	err := api.RevokeSessions(r.Context(), service.RevokeInput{
		UserID: req.UserID,
		Reason: authdomain.BlacklistReason(req.Reason),
	})
	if err != nil {
		commonhttp.HandleError(w, r, err, h.log)
		return
	}

	h.log.WithFields(r.Context(), logger.Fields{
		"admin_id":  admin.UserID,
		"user_id":   req.UserID,
		"user_type": req.UserType,
		"action":    "admin_revoke",
	}).Warn("sessions revoked by admin")
	commonhttp.WriteMessage(w, http.StatusOK, "sessions revoked")
}
