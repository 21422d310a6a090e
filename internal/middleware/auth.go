package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"campus-chat/internal/models"
	"campus-chat/internal/observability"
)

// TokenValidator resolves a bearer token to a user id.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (int, error)
}

// UserResolver loads the account behind a token and rejects deactivated ones.
type UserResolver interface {
	GetUser(ctx context.Context, userID int) (models.User, error)
}

// AuthMiddleware validates the Authorization header, checks the account is
// still active, and stores the caller's id as "userID".
func AuthMiddleware(validator TokenValidator, users UserResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := observability.BearerToken(c.Request, false)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "missing authorization"})
			return
		}

		userID, err := validator.ValidateToken(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid token"})
			return
		}

		user, err := users.GetUser(c.Request.Context(), userID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "unknown or inactive user"})
			return
		}

		c.Set("userID", user.ID)
		c.Next()
	}
}
