package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"coach-backend/internal/shared/server/respond"
)

// OperatorAuth guards operator endpoints with a static bearer token.
// When no token is configured the endpoints are disabled entirely.
func OperatorAuth(token string) gin.HandlerFunc {
	token = strings.TrimSpace(token)
	return func(c *gin.Context) {
		if token == "" {
			respond.Error(c, http.StatusNotFound, "not_found", "not found", nil)
			return
		}
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		presented := strings.TrimSpace(strings.TrimPrefix(header, "Bearer"))
		if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
			return
		}
		c.Next()
	}
}
