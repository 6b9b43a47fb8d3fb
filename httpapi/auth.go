package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/middleware"
)

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	// Identifier is an email address or a username.
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// Register creates an account.
func (h *Handler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid body")
	}
	acct, err := h.engine.Register(c.Request().Context(), authcore.RegisterRequest{
		Email:    strings.TrimSpace(req.Email),
		Username: strings.TrimSpace(req.Username),
		Password: req.Password,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, acct)
}

// Login exchanges credentials for a token pair.
func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid body")
	}
	if strings.TrimSpace(req.Identifier) == "" || req.Password == "" {
		return badRequest("identifier and password are required")
	}
	pair, err := h.engine.Login(c.Request().Context(), req.Identifier, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pair)
}

// Refresh rotates a refresh token.
func (h *Handler) Refresh(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		return badRequest("refresh_token is required")
	}
	pair, err := h.engine.Refresh(c.Request().Context(), strings.TrimSpace(req.RefreshToken))
	if err != nil {
		return refreshFailure(err)
	}
	return c.JSON(http.StatusOK, pair)
}

// Logout ends the session of the presented refresh token.
func (h *Handler) Logout(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		return badRequest("refresh_token is required")
	}
	if err := h.engine.Logout(c.Request().Context(), strings.TrimSpace(req.RefreshToken)); err != nil {
		return refreshFailure(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// LogoutAll ends every session of the caller.
func (h *Handler) LogoutAll(c echo.Context) error {
	p := principal(c)
	n, err := h.engine.LogoutAll(c.Request().Context(), p.UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"revoked": n})
}

// ListSessions lists the live sessions of the caller.
func (h *Handler) ListSessions(c echo.Context) error {
	p := principal(c)
	sessions, err := h.engine.ListSessions(c.Request().Context(), p.UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"sessions": sessions})
}

// ChangePassword replaces the caller's password and ends every session.
func (h *Handler) ChangePassword(c echo.Context) error {
	var req changePasswordRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid body")
	}
	p := principal(c)
	if err := h.engine.ChangePassword(c.Request().Context(), p.UserID, req.OldPassword, req.NewPassword); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// refreshFailure hides whether an unknown refresh token ever existed.
func refreshFailure(err error) error {
	switch {
	case errors.Is(err, authcore.ErrNotFound), errors.Is(err, authcore.ErrInvalidToken):
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid refresh token")
	default:
		return err
	}
}

// principal is only called behind Guard, which always stores one.
func principal(c echo.Context) *authcore.Principal {
	p, ok := middleware.PrincipalFromContext(c.Request().Context())
	if !ok {
		return &authcore.Principal{}
	}
	return p
}
