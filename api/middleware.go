package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"tubescribe/config"
)

// AuthMiddleware gates the API behind the configured access code, presented
// as a bearer token. When auth is disabled every request passes through.
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.AuthEnable {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		code, isBearer := strings.CutPrefix(header, "Bearer ")
		switch {
		case header == "":
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "access code required"})
		case !isBearer:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "access code must be sent as a bearer token"})
		case code != cfg.AccessCode:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "access code does not match"})
		default:
			c.Next()
		}
	}
}
