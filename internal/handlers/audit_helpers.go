package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"campus-chat/internal/telemetry"
)

const requestIDContextKey = "request_id"

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-Id")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

// userIDFromContext returns the authenticated caller for audit records, or
// nil on unauthenticated routes.
func userIDFromContext(c *gin.Context) *int64 {
	userID := c.GetInt("userID")
	if userID <= 0 {
		return nil
	}
	value := int64(userID)
	return &value
}

// audit records a security-relevant chat action. A nil emitter is a no-op.
func audit(c *gin.Context, emitter *telemetry.AuditEmitter, action string, chatID int, text string) {
	emitter.Emit(c.Request.Context(), requestIDFromContext(c), userIDFromContext(c), telemetry.AuditPayload{
		Level:  "INFO",
		Action: action,
		Text:   text,
		ChatID: chatID,
	})
}
