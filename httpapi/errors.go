package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/middleware"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

// Checked in order; wrapped errors match their first listed kind.
var errorMappings = []errorMapping{
	{authcore.ErrStoreUnavailable, http.StatusServiceUnavailable, "unavailable", "service unavailable"},
	{authcore.ErrInvalidInput, http.StatusBadRequest, "invalid_input", ""},
	{authcore.ErrAccountExists, http.StatusConflict, "account_exists", "account already exists"},
	{authcore.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials", "invalid credentials"},
	{authcore.ErrUnauthorized, http.StatusUnauthorized, "unauthorized", "unauthorized"},
	{authcore.ErrRevoked, http.StatusUnauthorized, "revoked", "token revoked"},
	{authcore.ErrExpired, http.StatusUnauthorized, "expired", "token expired"},
	{authcore.ErrAccountDisabled, http.StatusForbidden, "account_disabled", "account disabled"},
	{authcore.ErrForbidden, http.StatusForbidden, "forbidden", "forbidden"},
	{authcore.ErrInactive, http.StatusForbidden, "inactive", "key inactive"},
	{authcore.ErrInvalidToken, http.StatusBadRequest, "invalid_token", "invalid token"},
	{authcore.ErrExpiredToken, http.StatusBadRequest, "expired_token", "token expired"},
	{authcore.ErrNotFound, http.StatusNotFound, "not_found", "not found"},
	{authcore.ErrInvalidState, http.StatusConflict, "invalid_state", "operation not allowed in the current state"},
	{authcore.ErrEngineNotReady, http.StatusServiceUnavailable, "unavailable", "service unavailable"},
}

// ErrorHandler renders handler errors as JSON. Unknown errors become 500
// and are logged; their text never reaches the client.
func ErrorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body := renderError(err)
		if status == http.StatusInternalServerError {
			logger.Error("request failed",
				zap.String("path", c.Path()),
				zap.String("request_id", authcore.RequestIDFromContext(c.Request().Context())),
				zap.Error(err),
			)
		}

		var rlErr *authcore.RateLimitError
		if errors.As(err, &rlErr) {
			c.Response().Header().Set("Retry-After", strconv.Itoa(middleware.RetryAfterSeconds(rlErr)))
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			logger.Warn("writing error response failed", zap.Error(err))
		}
	}
}

func renderError(err error) (int, errorResponse) {
	var rlErr *authcore.RateLimitError
	if errors.As(err, &rlErr) {
		return http.StatusTooManyRequests, errorResponse{Error: "too many requests", Code: "rate_limited"}
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok {
			msg = s
		}
		return he.Code, errorResponse{Error: msg, Code: "http_error"}
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			msg := m.message
			if msg == "" {
				msg = err.Error()
			}
			return m.status, errorResponse{Error: msg, Code: m.code}
		}
	}
	return http.StatusInternalServerError, errorResponse{Error: "internal error", Code: "internal_error"}
}

func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, msg)
}
