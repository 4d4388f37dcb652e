package domain

import (
	"net/http"

	commonerrors "github.com/AlibekovAA/authcore/internal/common/errors"
)

var (
	ErrInvalidCredentials = commonerrors.NewDomainError(
		"INVALID_CREDENTIALS",
		commonerrors.CategoryUnauthorized,
		http.StatusUnauthorized,
		"invalid identifier or password",
	)

	ErrAccountLocked = commonerrors.NewDomainError(
		"ACCOUNT_LOCKED",
		commonerrors.CategoryForbidden,
		http.StatusForbidden,
		"account is temporarily locked due to too many failed login attempts",
	)

	ErrAccountInactive = commonerrors.NewDomainError(
		"ACCOUNT_INACTIVE",
		commonerrors.CategoryForbidden,
		http.StatusForbidden,
		"account is inactive",
	)

	ErrInvalidRefreshToken = commonerrors.NewDomainError(
		"INVALID_REFRESH_TOKEN",
		commonerrors.CategoryUnauthorized,
		http.StatusUnauthorized,
		"invalid refresh token",
	)

	ErrTokenReuseDetected = commonerrors.NewDomainError(
		"TOKEN_REUSE_DETECTED",
		commonerrors.CategoryUnauthorized,
		http.StatusUnauthorized,
		"refresh token reuse detected, all sessions in this family were revoked",
	)

	ErrTokenRevoked = commonerrors.NewDomainError(
		"TOKEN_REVOKED",
		commonerrors.CategoryUnauthorized,
		http.StatusUnauthorized,
		"token has been revoked",
	)

	ErrTokenRefreshExpired = commonerrors.NewDomainError(
		"TOKEN_REFRESH_EXPIRED",
		commonerrors.CategoryUnauthorized,
		http.StatusUnauthorized,
		"refresh token expired",
	)
)
