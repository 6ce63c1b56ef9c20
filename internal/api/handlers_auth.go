// handlers_auth.go - Sign-in handlers
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/filedeck/backend/internal/accounts"
	"github.com/filedeck/backend/internal/auth"
	"github.com/filedeck/backend/internal/models"
)

// AuthHandlerImpl implements the AuthHandler interface
type AuthHandlerImpl struct {
	accounts AccountService
	tokens   TokenIssuer
	signup   bool
	log      zerolog.Logger
}

// NewAuthHandler creates a new auth handler. signup enables self-service
// registration.
func NewAuthHandler(accounts AccountService, tokens TokenIssuer, signup bool, log zerolog.Logger) AuthHandler {
	return &AuthHandlerImpl{
		accounts: accounts,
		tokens:   tokens,
		signup:   signup,
		log:      log.With().Str("component", "api.auth").Logger(),
	}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type registerRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type loginResponse struct {
	AccessToken string             `json:"access_token"`
	TokenType   string             `json:"token_type"`
	ExpiresIn   int64              `json:"expires_in"`
	User        models.UserAccount `json:"user"`
}

// HandleLogin checks credentials and issues an access token.
func (h *AuthHandlerImpl) HandleLogin(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	user, err := h.accounts.Authenticate(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		h.log.Info().Str("email", req.Email).Err(err).Msg("sign-in rejected")
		return FromDomain(err, "")
	}

	return h.signIn(c, http.StatusOK, user)
}

// HandleRegister creates a regular account for the caller and signs it in.
func (h *AuthHandlerImpl) HandleRegister(c echo.Context) error {
	if !h.signup {
		return NewForbiddenError("registration is disabled")
	}
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	user, err := h.accounts.Create(c.Request().Context(), accounts.NewAccount{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     models.RoleUser,
	})
	if err != nil {
		return FromDomain(err, "")
	}
	h.log.Info().Str("email", user.Email).Str("user", user.ID).Msg("account registered")
	return h.signIn(c, http.StatusCreated, user)
}

// signIn issues an access token for user. The token is also set as an
// HttpOnly cookie so the WebSocket can authenticate.
func (h *AuthHandlerImpl) signIn(c echo.Context, status int, user models.UserAccount) error {
	token, err := h.tokens.GenerateAccessToken(user)
	if err != nil {
		return NewInternalError("failed to issue token", err)
	}

	c.SetCookie(&http.Cookie{
		Name:     auth.TokenCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(time.Duration(h.tokens.AccessTokenDuration()) * time.Second),
	})

	return c.JSON(status, loginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   h.tokens.AccessTokenDuration(),
		User:        user,
	})
}

// HandleLogout clears the token cookie.
func (h *AuthHandlerImpl) HandleLogout(c echo.Context) error {
	c.SetCookie(&http.Cookie{
		Name:     auth.TokenCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	return c.NoContent(http.StatusNoContent)
}

// HandleProfile returns the signed-in account.
func (h *AuthHandlerImpl) HandleProfile(c echo.Context) error {
	claims := auth.ClaimsFrom(c)
	if claims == nil {
		return NewUnauthorizedError("authentication required")
	}
	user, err := h.accounts.Get(c.Request().Context(), claims.UserID)
	if err != nil {
		return FromDomain(err, claims.UserID)
	}
	return c.JSON(http.StatusOK, user)
}
