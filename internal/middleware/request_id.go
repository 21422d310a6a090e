package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"campus-chat/internal/observability"
)

const requestIDHeader = "X-Request-Id"

// RequestID propagates the caller's X-Request-Id or assigns a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
			c.Request.Header.Set(requestIDHeader, rid)
		}
		c.Set("request_id", rid)
		c.Header(requestIDHeader, rid)
		c.Request = c.Request.WithContext(observability.WithRequestID(c.Request.Context(), rid))
		c.Next()
	}
}
