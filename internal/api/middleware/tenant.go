package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	keyTenantID = "tenant_id"
	keyIsolated = "isolated"
	keyAdmin    = "admin"
)

func TenantID(c *gin.Context) string {
	return c.GetString(keyTenantID)
}

// Isolated reports whether the caller's tenant keeps its own view of the
// shared address pool.
func Isolated(c *gin.Context) bool {
	return c.GetBool(keyIsolated)
}

func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool(keyAdmin) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Admin role required"})
			c.Abort()
			return
		}
		c.Next()
	}
}
