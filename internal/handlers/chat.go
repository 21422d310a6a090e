package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"campus-chat/internal/models"
	"campus-chat/internal/services"
	"campus-chat/internal/telemetry"
)

type MembershipService interface {
	CreateChat(ctx context.Context, creatorID int, in services.CreateChatInput) (services.ChatDetail, error)
	JoinChat(ctx context.Context, chatID, userID int) (services.MembershipChange, error)
	LeaveChat(ctx context.Context, chatID, userID int) (services.MembershipChange, error)
	ChangeRole(ctx context.Context, chatID, actorID, targetID int, role string) (models.ChatMember, error)
	SetMuted(ctx context.Context, chatID, actorID, targetID int, muted bool) (models.ChatMember, error)
	GetChat(ctx context.Context, chatID, userID int) (services.ChatDetail, error)
	ListUserChats(ctx context.Context, userID int, page services.Page) ([]models.ChatSummary, services.Page, error)
	DiscoverChats(ctx context.Context, userID int, filter models.DiscoverFilter, page services.Page) ([]models.Chat, services.Page, error)
	ListMembers(ctx context.Context, chatID, userID int) ([]models.MemberProfile, error)
}

// Broadcaster pushes the outcome of a REST mutation to live sockets.
type Broadcaster interface {
	MessageCreated(ctx context.Context, msg models.Message)
	MessageEdited(ctx context.Context, msg models.Message)
	MessageDeleted(ctx context.Context, msg models.Message)
	MemberJoined(ctx context.Context, change services.MembershipChange)
	MemberLeft(ctx context.Context, change services.MembershipChange)
	ReadMarked(ctx context.Context, chatID, userID int, readAt time.Time)
}

// ChatHandler serves chat and membership endpoints.
type ChatHandler struct {
	errorWriter
	membership  MembershipService
	broadcaster Broadcaster
	audit       *telemetry.AuditEmitter
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(membership MembershipService, broadcaster Broadcaster, emitter *telemetry.AuditEmitter, verbose bool) *ChatHandler {
	return &ChatHandler{
		errorWriter: errorWriter{verbose: verbose},
		membership:  membership,
		broadcaster: broadcaster,
		audit:       emitter,
	}
}

func pageFromQuery(c *gin.Context) (services.Page, error) {
	page, err := queryInt(c, "page", 1)
	if err != nil {
		return services.Page{}, err
	}
	limit, err := queryInt(c, "limit", 20)
	if err != nil {
		return services.Page{}, err
	}
	return services.NewPage(page, limit), nil
}

// ListChats returns the chats the caller belongs to.
func (h *ChatHandler) ListChats(c *gin.Context) {
	page, err := pageFromQuery(c)
	if err != nil {
		h.writeError(c, err)
		return
	}

	chats, page, err := h.membership.ListUserChats(c.Request.Context(), c.GetInt("userID"), page)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "chats": chats, "pagination": page})
}

// DiscoverChats lists public chats the caller has not joined.
func (h *ChatHandler) DiscoverChats(c *gin.Context) {
	page, err := pageFromQuery(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	filter := models.DiscoverFilter{
		Category:   c.Query("category"),
		University: c.Query("university"),
		Semester:   c.Query("semester"),
		Query:      c.Query("q"),
	}
	if c.Query("year") != "" {
		year, err := queryInt(c, "year", 0)
		if err != nil {
			h.writeError(c, err)
			return
		}
		filter.Year = &year
	}

	chats, page, err := h.membership.DiscoverChats(c.Request.Context(), c.GetInt("userID"), filter, page)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "chats": chats, "pagination": page})
}

// CreateChat creates a chat owned by the caller.
func (h *ChatHandler) CreateChat(c *gin.Context) {
	var in services.CreateChatInput
	if err := bindJSON(c, &in); err != nil {
		h.writeError(c, err)
		return
	}

	detail, err := h.membership.CreateChat(c.Request.Context(), c.GetInt("userID"), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	audit(c, h.audit, "chat.create", detail.Chat.ID, "chat created")
	c.JSON(http.StatusCreated, gin.H{"success": true, "chat": detail.Chat, "membership": detail.Membership})
}

// GetChat returns a chat to one of its members.
func (h *ChatHandler) GetChat(c *gin.Context) {
	chatID, err := pathID(c, "chat_id")
	if err != nil {
		h.writeError(c, err)
		return
	}

	detail, err := h.membership.GetChat(c.Request.Context(), chatID, c.GetInt("userID"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "chat": detail.Chat, "membership": detail.Membership})
}

// JoinChat adds the caller to a public chat.
func (h *ChatHandler) JoinChat(c *gin.Context) {
	chatID, err := pathID(c, "chat_id")
	if err != nil {
		h.writeError(c, err)
		return
	}

	change, err := h.membership.JoinChat(c.Request.Context(), chatID, c.GetInt("userID"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.broadcaster.MemberJoined(c.Request.Context(), change)
	audit(c, h.audit, "chat.join", chatID, "member joined")
	c.JSON(http.StatusOK, gin.H{"success": true, "chat": change.Chat, "membership": change.Member})
}

// LeaveChat removes the caller from a chat.
func (h *ChatHandler) LeaveChat(c *gin.Context) {
	chatID, err := pathID(c, "chat_id")
	if err != nil {
		h.writeError(c, err)
		return
	}

	change, err := h.membership.LeaveChat(c.Request.Context(), chatID, c.GetInt("userID"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.broadcaster.MemberLeft(c.Request.Context(), change)
	audit(c, h.audit, "chat.leave", chatID, "member left")
	c.JSON(http.StatusOK, gin.H{"success": true, "chat": change.Chat})
}

// ListMembers lists a chat's active members.
func (h *ChatHandler) ListMembers(c *gin.Context) {
	chatID, err := pathID(c, "chat_id")
	if err != nil {
		h.writeError(c, err)
		return
	}

	members, err := h.membership.ListMembers(c.Request.Context(), chatID, c.GetInt("userID"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "members": members})
}

// ChangeRole sets a member's role. Admin only.
func (h *ChatHandler) ChangeRole(c *gin.Context) {
	chatID, targetID, err := memberPath(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	var req struct {
		Role string `json:"role" binding:"required"`
	}
	if err := bindJSON(c, &req); err != nil {
		h.writeError(c, err)
		return
	}

	member, err := h.membership.ChangeRole(c.Request.Context(), chatID, c.GetInt("userID"), targetID, req.Role)
	if err != nil {
		h.writeError(c, err)
		return
	}
	audit(c, h.audit, "chat.role", chatID, "member role set to "+member.Role)
	c.JSON(http.StatusOK, gin.H{"success": true, "member": member})
}

// MuteMember mutes or unmutes a member. Moderators and admins only.
func (h *ChatHandler) MuteMember(c *gin.Context) {
	chatID, targetID, err := memberPath(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	var req struct {
		Muted *bool `json:"muted" binding:"required"`
	}
	if err := bindJSON(c, &req); err != nil {
		h.writeError(c, err)
		return
	}

	member, err := h.membership.SetMuted(c.Request.Context(), chatID, c.GetInt("userID"), targetID, *req.Muted)
	if err != nil {
		h.writeError(c, err)
		return
	}
	action := "chat.unmute"
	if member.IsMuted {
		action = "chat.mute"
	}
	audit(c, h.audit, action, chatID, "member mute changed")
	c.JSON(http.StatusOK, gin.H{"success": true, "member": member})
}

func memberPath(c *gin.Context) (int, int, error) {
	chatID, err := pathID(c, "chat_id")
	if err != nil {
		return 0, 0, err
	}
	userID, err := pathID(c, "user_id")
	if err != nil {
		return 0, 0, err
	}
	return chatID, userID, nil
}
