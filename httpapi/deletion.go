package httpapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

type confirmDeletionRequest struct {
	Token string `json:"token"`
}

// RequestDeletion starts deletion of the caller's account. Delivering the
// token out of band is left to the caller of this API.
func (h *Handler) RequestDeletion(c echo.Context) error {
	ticket, err := h.engine.RequestAccountDeletion(c.Request().Context(), principal(c).UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, ticket)
}

// ConfirmDeletion consumes a deletion token. It needs no access token so
// the link can be opened from another device.
func (h *Handler) ConfirmDeletion(c echo.Context) error {
	var req confirmDeletionRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		return badRequest("token is required")
	}
	status, err := h.engine.ConfirmAccountDeletion(c.Request().Context(), strings.TrimSpace(req.Token))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, status)
}

// CancelDeletion returns the caller's account to active.
func (h *Handler) CancelDeletion(c echo.Context) error {
	if err := h.engine.CancelAccountDeletion(c.Request().Context(), principal(c).UserID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// DeletionStatus reports where the caller's account is in the workflow.
func (h *Handler) DeletionStatus(c echo.Context) error {
	status, err := h.engine.AccountDeletionStatus(c.Request().Context(), principal(c).UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, status)
}
