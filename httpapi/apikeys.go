package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/middleware"
)

type createAPIKeyRequest struct {
	Label     string     `json:"label"`
	Scopes    []string   `json:"scopes"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type revokeAPIKeyRequest struct {
	Reason string `json:"reason"`
}

// ListAPIKeys lists the caller's keys. ?include_deleted=true adds revoked ones.
func (h *Handler) ListAPIKeys(c echo.Context) error {
	includeDeleted := false
	if raw := c.QueryParam("include_deleted"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return badRequest("include_deleted must be a boolean")
		}
		includeDeleted = v
	}
	keys, err := h.engine.ListAPIKeys(c.Request().Context(), principal(c).UserID, includeDeleted)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"api_keys": keys})
}

// CreateAPIKey issues a key. The raw key is only in this response.
func (h *Handler) CreateAPIKey(c echo.Context) error {
	var req createAPIKeyRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid body")
	}
	issued, err := h.engine.CreateAPIKey(c.Request().Context(), principal(c).UserID, authcore.CreateAPIKeyRequest{
		Label:     req.Label,
		Scopes:    req.Scopes,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, issued)
}

// RotateAPIKey replaces the secret of a key.
func (h *Handler) RotateAPIKey(c echo.Context) error {
	issued, err := h.engine.RotateAPIKey(c.Request().Context(), principal(c).UserID, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, issued)
}

// RevokeAPIKey soft-deletes a key. The body is optional.
func (h *Handler) RevokeAPIKey(c echo.Context) error {
	var req revokeAPIKeyRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return badRequest("invalid body")
		}
	}
	if err := h.engine.RevokeAPIKey(c.Request().Context(), principal(c).UserID, c.Param("id"), req.Reason); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// WhoAmIKey describes the API key used for the request.
func (h *Handler) WhoAmIKey(c echo.Context) error {
	key, ok := middleware.APIKeyFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	return c.JSON(http.StatusOK, key)
}
