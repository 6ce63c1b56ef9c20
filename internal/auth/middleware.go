package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/filedeck/backend/internal/models"
)

const (
	// TokenCookie is the cookie the browser keeps its access token in.
	TokenCookie = "token"
	claimsKey   = "auth.claims"
)

// TokenFromRequest extracts a bearer token from the Authorization header,
// the token cookie or, for WebSocket upgrades, the token query parameter.
func TokenFromRequest(c echo.Context) string {
	if h := c.Request().Header.Get(echo.HeaderAuthorization); h != "" {
		if scheme, tok, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
	}
	if cookie, err := c.Cookie(TokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return c.QueryParam("token")
}

// Middleware rejects requests without a valid access token and stores the
// claims on the context.
func Middleware(m *JWTManager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tok := TokenFromRequest(c)
			if tok == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing access token")
			}

			claims, err := m.ValidateToken(tok)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}

			c.Set(claimsKey, claims)
			return next(c)
		}
	}
}

// RequireRole rejects authenticated requests whose role does not match.
func RequireRole(role models.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims := ClaimsFrom(c)
			if claims == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing access token")
			}
			if claims.Role != role {
				return echo.NewHTTPError(http.StatusForbidden, "insufficient permissions")
			}
			return next(c)
		}
	}
}

// ClaimsFrom returns the claims stored by Middleware, or nil.
func ClaimsFrom(c echo.Context) *Claims {
	claims, _ := c.Get(claimsKey).(*Claims)
	return claims
}
