package middlewares

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/catalog_sync/config"
	"github.com/mmdatafocus/catalog_sync/utils"
)

const revokedTokenPrefix = "RevokedToken:"

// SessionMiddleware puts the operator named by a valid token into the request context.
// Requests without a token pass through; RequireOperator decides whether that is allowed.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}

		_, revoked, err := config.GetRedisValue(c.Request.Context(), revokedTokenPrefix+token)
		if err != nil || revoked {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		claims, err := utils.JwtValidate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetOperatorInContext(ctx, claims.Operator)
		ctx = utils.SetOperatorIdInContext(ctx, claims.ID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// LogoutHandler revokes the caller's token until it would have expired anyway.
func LogoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := utils.GetTokenFromContext(c.Request.Context())
		if !ok || token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		exp := 12 * time.Hour
		if claims, err := utils.JwtValidate(token); err == nil && claims.ExpiresAt > 0 {
			exp = time.Until(time.Unix(claims.ExpiresAt, 0))
		}
		if exp <= 0 {
			c.JSON(http.StatusOK, gin.H{"success": true})
			return
		}
		if err := config.SetRedisValue(c.Request.Context(), revokedTokenPrefix+token, "1", exp); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}
