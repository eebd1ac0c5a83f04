package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	requestIDKey      = "requestId"
	platformUserIDKey = "platformUserId"
)

// RequestID attaches a request ID to context and response header.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Writer.Header().Set("X-Request-Id", id)
		c.Next()
	}
}

// RequestIDFromContext fetches the request ID stored by RequestID middleware.
func RequestIDFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(requestIDKey)
	if id, ok := val.(string); ok {
		return id
	}
	return ""
}

// SetPlatformUserID records the platform user for request logging.
func SetPlatformUserID(c *gin.Context, userID string) {
	if userID != "" {
		c.Set(platformUserIDKey, userID)
	}
}

// PlatformUserIDFromContext returns the platform user recorded for this request.
func PlatformUserIDFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(platformUserIDKey)
	if id, ok := val.(string); ok {
		return id
	}
	return ""
}
