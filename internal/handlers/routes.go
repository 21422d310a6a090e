package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"campus-chat/internal/telemetry"
)

// RegisterRoutes mounts the chat and message endpoints on an authenticated group.
// sendLimit runs before message sends.
func RegisterRoutes(r gin.IRoutes, chats *ChatHandler, messages *MessageHandler, sendLimit gin.HandlerFunc) {
	r.GET("/chats", chats.ListChats)
	r.GET("/chats/discover", chats.DiscoverChats)
	r.POST("/chats", chats.CreateChat)
	r.GET("/chats/:chat_id", chats.GetChat)
	r.POST("/chats/:chat_id/join", chats.JoinChat)
	r.POST("/chats/:chat_id/leave", chats.LeaveChat)
	r.GET("/chats/:chat_id/members", chats.ListMembers)
	r.PUT("/chats/:chat_id/members/:user_id/role", chats.ChangeRole)
	r.PUT("/chats/:chat_id/members/:user_id/mute", chats.MuteMember)

	r.GET("/chats/:chat_id/messages", messages.ListMessages)
	r.POST("/chats/:chat_id/messages", sendLimit, messages.SendMessage)
	r.POST("/chats/:chat_id/messages/mark-read", messages.MarkRead)
	r.PUT("/chats/:chat_id/messages/:message_id", messages.EditMessage)
	r.DELETE("/chats/:chat_id/messages/:message_id", messages.DeleteMessage)
}

// RegisterDebugRoutes mounts GET /debug/audit-test when enabled. It emits one
// audit record so the broker wiring can be checked end to end.
func RegisterDebugRoutes(r gin.IRoutes, emitter *telemetry.AuditEmitter, enabled bool) {
	if enabled {
		r.GET("/debug/audit-test", auditPing(emitter))
	}
}

func auditPing(emitter *telemetry.AuditEmitter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "audit emitter not configured"})
			return
		}
		audit(c, emitter, "debug.audit_test", 0, "audit ping")
		c.JSON(http.StatusOK, gin.H{"success": true, "request_id": requestIDFromContext(c)})
	}
}
