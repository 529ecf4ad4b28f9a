// Package middleware holds the HTTP authentication gate. Identity
// establishment itself is delegated to the chatkit.TokenVerifier
// collaborator; this layer only parses the header and populates the
// request context.
package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	chatkit "go.pilab.hu/chatkit"
	"go.pilab.hu/chatkit/domain"
	"go.pilab.hu/chatkit/internal/metrics"
)

// unauthorizedBody matches the bootstrap wire contract for rejected
// requests.
var unauthorizedBody = map[string]string{"error": "Unauthorized"}

// RequireAuth returns echo middleware that validates the Bearer token in
// the Authorization header and attaches the resulting identity to the
// request context. Requests failing authentication are rejected with 401
// before any handler work: no upstream call, no persistence.
func RequireAuth(verifier chatkit.TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				metrics.AuthFailuresTotal.Inc()
				return c.JSON(http.StatusUnauthorized, unauthorizedBody)
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				metrics.AuthFailuresTotal.Inc()
				return c.JSON(http.StatusUnauthorized, unauthorizedBody)
			}

			identity, err := verifier.Verify(c.Request().Context(), parts[1])
			if err != nil {
				log.Debug().
					Str("token_hash", chatkit.HashToken(parts[1])).
					Err(err).
					Msg("bearer token rejected")
				metrics.AuthFailuresTotal.Inc()
				return c.JSON(http.StatusUnauthorized, unauthorizedBody)
			}

			ctx := domain.WithIdentity(c.Request().Context(), identity)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
