// Package middleware holds gin middleware shared by the API, adapted from
// the teacher's plain net/http CORSMiddleware onto gin.HandlerFunc — the
// teacher's own LoggingMiddleware is superseded by gin.Logger() and not
// carried forward, see DESIGN.md.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CORS SETS PERMISSIVE CROSS-ORIGIN HEADERS AND SHORT-CIRCUITS PREFLIGHT REQUESTS
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
