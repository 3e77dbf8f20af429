package middlewares

import (
	"errors"
	"net/http"
	"strings"

	"github.com/geocoder89/habithub/internal/actorctx"
	"github.com/geocoder89/habithub/internal/gateway"
	"github.com/gin-gonic/gin"
)

// Keep this small interface so tests can fake it easily.
type Authenticator interface {
	Authenticate(raw string) (string, error)
}

type AuthMiddleware struct {
	auth Authenticator
}

func NewAuthMiddleware(auth Authenticator) *AuthMiddleware {
	return &AuthMiddleware{auth: auth}
}

// RequireAuth answers 401 when no bearer token is presented and 403 when the
// token is present but does not verify.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			abortError(c, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
			return
		}

		raw := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if raw == "" {
			abortError(c, http.StatusUnauthorized, "unauthorized", "Missing access token")
			return
		}

		userID, err := m.auth.Authenticate(raw)
		if err != nil {
			if errors.Is(err, gateway.ErrMissingToken) {
				abortError(c, http.StatusUnauthorized, "unauthorized", "Missing access token")
				return
			}
			abortError(c, http.StatusForbidden, "invalid_token", "Invalid or expired access token")
			return
		}

		c.Set(CtxUserID, userID)
		c.Request = c.Request.WithContext(actorctx.WithUserID(c.Request.Context(), userID))

		c.Next()
	}
}
