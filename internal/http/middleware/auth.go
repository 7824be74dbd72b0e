package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/doctalk/doctalk-backend/internal/apperr"
	"github.com/doctalk/doctalk-backend/internal/http/response"
	"github.com/doctalk/doctalk-backend/internal/logger"
	"github.com/doctalk/doctalk-backend/internal/services"
)

// userIDKey is the gin context key holding the authenticated user id.
const userIDKey = "auth.userID"

type AuthMiddleware struct {
	log  *logger.Logger
	auth *services.AuthService
}

func NewAuthMiddleware(log *logger.Logger, auth *services.AuthService) *AuthMiddleware {
	return &AuthMiddleware{log: log.With("middleware", "AuthMiddleware"), auth: auth}
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			response.Error(c, 401, string(apperr.KindUnauthorized), apperr.New(apperr.KindUnauthorized, "missing or invalid token"))
			c.Abort()
			return
		}
		userID, err := am.auth.VerifyToken(token)
		if err != nil {
			response.FromError(c, err)
			c.Abort()
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// extractToken checks the Authorization header first, then a token query
// parameter (EventSource cannot set headers).
func extractToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return header[7:]
	}
	return c.Query("token")
}

// UserID returns the authenticated user id stored by RequireAuth.
func UserID(c *gin.Context) int64 {
	v, _ := c.Get(userIDKey)
	id, _ := v.(int64)
	return id
}
