package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"marketchat/internal/infrastructure/firebase"
)

// TokenVerifier checks a Firebase ID token. *firebase.FirebaseAuthClient
// satisfies it.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*firebase.Identity, error)
}

type AuthMiddleware struct {
	verifier TokenVerifier
}

func NewAuthMiddleware(verifier TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
	}
}

// Authenticate requires "Authorization: Bearer <id token>" and stores uid,
// name and admin in the context.
func (m *AuthMiddleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header is required")
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization format")
		}

		return m.verify(c, parts[1], next)
	}
}

// AuthenticateWebSocket also accepts the token as ?token=, since browsers
// cannot set headers on a websocket handshake.
func (m *AuthMiddleware) AuthenticateWebSocket(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if token := c.QueryParam("token"); token != "" {
			return m.verify(c, token, next)
		}
		return m.Authenticate(next)(c)
	}
}

func (m *AuthMiddleware) verify(c echo.Context, token string, next echo.HandlerFunc) error {
	identity, err := m.verifier.VerifyToken(c.Request().Context(), token)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
	}

	c.Set("uid", identity.UID)
	c.Set("name", identity.Name)
	c.Set("admin", identity.Admin)

	return next(c)
}
