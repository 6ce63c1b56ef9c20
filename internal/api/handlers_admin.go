// handlers_admin.go - User account administration handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/filedeck/backend/internal/accounts"
	"github.com/filedeck/backend/internal/auth"
)

// AdminHandlerImpl implements the AdminHandler interface
type AdminHandlerImpl struct {
	accounts AccountService
	log      zerolog.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(accounts AccountService, log zerolog.Logger) AdminHandler {
	return &AdminHandlerImpl{
		accounts: accounts,
		log:      log.With().Str("component", "api.admin").Logger(),
	}
}

type deleteTokenRequest struct {
	Token string `json:"token" validate:"required"`
}

// HandleListUsers returns every account.
func (h *AdminHandlerImpl) HandleListUsers(c echo.Context) error {
	users, err := h.accounts.List(c.Request().Context())
	if err != nil {
		return NewInternalError("failed to list users", err)
	}
	return c.JSON(http.StatusOK, users)
}

// HandleGetUser returns one account.
func (h *AdminHandlerImpl) HandleGetUser(c echo.Context) error {
	id := c.Param("id")
	user, err := h.accounts.Get(c.Request().Context(), id)
	if err != nil {
		return FromDomain(err, id)
	}
	return c.JSON(http.StatusOK, user)
}

// HandleCreateUser adds an account.
func (h *AdminHandlerImpl) HandleCreateUser(c echo.Context) error {
	var req accounts.NewAccount
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	user, err := h.accounts.Create(c.Request().Context(), req)
	if err != nil {
		return FromDomain(err, "")
	}
	return c.JSON(http.StatusCreated, user)
}

// HandleUpdateUser applies a partial update. Email cannot change.
func (h *AdminHandlerImpl) HandleUpdateUser(c echo.Context) error {
	id := c.Param("id")
	var patch accounts.Patch
	if err := c.Bind(&patch); err != nil {
		return NewBadRequestError("invalid request body", err)
	}

	user, err := h.accounts.Update(c.Request().Context(), id, patch)
	if err != nil {
		return FromDomain(err, id)
	}
	return c.JSON(http.StatusOK, user)
}

// HandleRequestDelete starts a two-phase delete and returns the confirmation token.
func (h *AdminHandlerImpl) HandleRequestDelete(c echo.Context) error {
	id := c.Param("id")
	if claims := auth.ClaimsFrom(c); claims != nil && claims.UserID == id {
		return NewConflictError("you cannot delete your own account")
	}

	intent, err := h.accounts.RequestDelete(c.Request().Context(), id)
	if err != nil {
		return FromDomain(err, id)
	}
	return c.JSON(http.StatusAccepted, intent)
}

// HandleConfirmDelete executes a pending delete.
func (h *AdminHandlerImpl) HandleConfirmDelete(c echo.Context) error {
	var req deleteTokenRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	if err := h.accounts.ConfirmDelete(c.Request().Context(), req.Token); err != nil {
		return FromDomain(err, req.Token)
	}
	h.log.Info().Msg("user deleted")
	return c.NoContent(http.StatusNoContent)
}

// HandleCancelDelete discards a pending delete.
func (h *AdminHandlerImpl) HandleCancelDelete(c echo.Context) error {
	var req deleteTokenRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	if err := h.accounts.CancelDelete(req.Token); err != nil {
		return FromDomain(err, req.Token)
	}
	return c.NoContent(http.StatusNoContent)
}
