package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	commonerrors "github.com/AlibekovAA/authcore/internal/common/errors"
	"github.com/AlibekovAA/authcore/internal/common/logger"
)

func testLogger() *logger.Logger {
	log, _ := logger.New("", "test", "error")
	return log
}

func TestHandleError_DomainErrorEnvelope(t *testing.T) {
	handler := TraceIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := commonerrors.ErrValidation.
			WithMessage("identifier is required").
			WithDetails(map[string]any{"field": "identifier"})
		HandleError(w, r, err, testLogger())
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/external/login", nil)
	req.Header.Set("X-Trace-ID", "trace-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var env ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Equal(t, "VALIDATION_FAILED", env.Code)
	require.Equal(t, "identifier is required", env.Message)
	require.Equal(t, "identifier", env.Details["field"])
	require.Equal(t, "trace-123", env.TraceID)
}

func TestHandleError_HidesUnknownErrors(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()

	HandleError(rec, req, errors.New("pq: password authentication failed"), testLogger())

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "password authentication")
}

func TestValidateRequest(t *testing.T) {
	type payload struct {
		Identifier string `json:"identifier" validate:"required"`
		UserType   string `json:"userType" validate:"oneof=internal external"`
	}

	require.NoError(t, ValidateRequest(&payload{Identifier: "a", UserType: "internal"}))

	err := ValidateRequest(&payload{UserType: "other"})
	domainErr, ok := commonerrors.AsDomainError(err)
	require.True(t, ok)
	require.Equal(t, "VALIDATION_FAILED", domainErr.Code())
	require.Equal(t, "required", domainErr.Details()["identifier"])
	require.Equal(t, "oneof", domainErr.Details()["userType"])
}

func TestStrictRateLimiter_BlocksAfterBurst(t *testing.T) {
	srl := NewStrictRateLimiter()
	t.Cleanup(srl.Stop)

	path := "/api/auth/external/login"
	handler := srl.MiddlewareForPath(path)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	var blocked bool
	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = "198.51.100.7:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			blocked = true
			break
		}
	}
	require.True(t, blocked)

	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.RemoteAddr = "198.51.100.8:5555"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMaxRequestSizeMiddleware(t *testing.T) {
	handler := MaxRequestSizeMiddleware(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 64)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.5:4040"
	require.Equal(t, "203.0.113.5", GetClientIP(req))

	req.Header.Set("X-Forwarded-For", "192.0.2.1, 10.0.0.1")
	require.Equal(t, "192.0.2.1", GetClientIP(req))

	req.Header.Set("X-Real-IP", "192.0.2.99")
	require.Equal(t, "192.0.2.99", GetClientIP(req))
}
