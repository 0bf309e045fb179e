package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/credstack/credstack/internal/utils"
)

// UserIdMiddleware resolves the caller identity from the trusted gateway
// headers. Requests without an identity are rejected before any handler runs.
func UserIdMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := ""
		for _, header := range utils.UserIdHeaders {
			if value := c.GetHeader(header); value != "" {
				userId = value
				break
			}
		}

		if userId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing user identity"})
			c.Abort()
			return
		}

		// Store in gin context for later use
		c.Set("UserId", userId)
		c.Next()
	}
}
