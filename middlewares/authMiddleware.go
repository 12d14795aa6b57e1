package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/catalog_sync/config"
	"github.com/mmdatafocus/catalog_sync/utils"
)

// RequireOperator rejects requests that SessionMiddleware did not authenticate as a known operator id.
// AUTH_DISABLED=true turns the check off for local runs.
func RequireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		if config.EnvBoolDefault("AUTH_DISABLED", false) {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		op, ok := utils.GetOperatorFromContext(ctx)
		id, hasID := utils.GetOperatorIdFromContext(ctx)
		if !ok || op == "" || !hasID || id <= 0 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}
