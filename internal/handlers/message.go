package handlers

import (
	"context"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"campus-chat/internal/apperr"
	"campus-chat/internal/models"
	"campus-chat/internal/services"
	"campus-chat/internal/telemetry"
)

// MaxMultipartMemory bounds the in-memory part of multipart uploads.
const MaxMultipartMemory = 8 << 20

type MessageService interface {
	SendMessage(ctx context.Context, in services.SendInput) (models.Message, bool, error)
	EditMessage(ctx context.Context, chatID, messageID, editorID int, content string) (models.Message, error)
	DeleteMessage(ctx context.Context, chatID, messageID, actorID int) (models.Message, error)
	ListMessages(ctx context.Context, chatID, userID, limit int, before *int) (models.MessagePage, error)
	MarkRead(ctx context.Context, chatID, userID int) (time.Time, error)
}

// AttachmentStore uploads files referenced by messages.
type AttachmentStore interface {
	Upload(ctx context.Context, fh *multipart.FileHeader) (models.Attachment, error)
	Remove(ctx context.Context, url string) error
}

// MessageHandler serves the message endpoints of a chat.
type MessageHandler struct {
	errorWriter
	messages    MessageService
	attachments AttachmentStore
	broadcaster Broadcaster
	audit       *telemetry.AuditEmitter
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(messages MessageService, attachments AttachmentStore, broadcaster Broadcaster, emitter *telemetry.AuditEmitter, verbose bool) *MessageHandler {
	return &MessageHandler{
		errorWriter: errorWriter{verbose: verbose},
		messages:    messages,
		attachments: attachments,
		broadcaster: broadcaster,
		audit:       emitter,
	}
}

type messagePageResponse struct {
	Success bool `json:"success"`
	models.MessagePage
}

// ListMessages returns one page of history older than ?before=.
func (h *MessageHandler) ListMessages(c *gin.Context) {
	chatID, err := pathID(c, "chat_id")
	if err != nil {
		h.writeError(c, err)
		return
	}
	limit, err := queryInt(c, "limit", services.DefaultPageSize)
	if err != nil {
		h.writeError(c, err)
		return
	}
	var before *int
	if c.Query("before") != "" {
		id, err := queryInt(c, "before", 0)
		if err != nil {
			h.writeError(c, err)
			return
		}
		before = &id
	}

	page, err := h.messages.ListMessages(c.Request.Context(), chatID, c.GetInt("userID"), limit, before)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, messagePageResponse{Success: true, MessagePage: page})
}

type sendMessageRequest struct {
	Content         string `json:"content" form:"content"`
	MessageType     string `json:"message_type" form:"message_type"`
	ReplyToID       *int   `json:"reply_to_id" form:"reply_to_id"`
	ClientMessageID string `json:"client_message_id" form:"client_message_id"`
}

// SendMessage accepts a JSON body or a multipart form with "files" parts.
// Replays of a known client_message_id answer 200 with the original message.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	chatID, err := pathID(c, "chat_id")
	if err != nil {
		h.writeError(c, err)
		return
	}

	var req sendMessageRequest
	var files []*multipart.FileHeader
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		form, err := c.MultipartForm()
		if err != nil {
			h.writeError(c, apperr.Validation("invalid multipart form"))
			return
		}
		if err := c.ShouldBind(&req); err != nil {
			h.writeError(c, apperr.Validation("invalid form fields"))
			return
		}
		files = form.File["files"]
	} else if err := bindJSON(c, &req); err != nil {
		h.writeError(c, err)
		return
	}
	if req.ClientMessageID == "" {
		req.ClientMessageID = c.GetHeader("Idempotency-Key")
	}
	if len(files) > services.MaxAttachments {
		h.writeError(c, apperr.Validation("at most %d attachments are allowed", services.MaxAttachments))
		return
	}

	ctx := c.Request.Context()
	attachments, err := h.upload(ctx, files)
	if err != nil {
		h.writeError(c, err)
		return
	}

	msg, created, err := h.messages.SendMessage(ctx, services.SendInput{
		ChatID:          chatID,
		SenderID:        c.GetInt("userID"),
		Content:         req.Content,
		MessageType:     req.MessageType,
		ReplyToID:       req.ReplyToID,
		ClientMessageID: req.ClientMessageID,
		Attachments:     attachments,
	})
	if err != nil || !created {
		h.discard(ctx, attachments)
	}
	if err != nil {
		h.writeError(c, err)
		return
	}

	if !created {
		c.JSON(http.StatusOK, gin.H{"success": true, "message": msg})
		return
	}
	h.broadcaster.MessageCreated(ctx, msg)
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": msg})
}

func (h *MessageHandler) upload(ctx context.Context, files []*multipart.FileHeader) ([]models.Attachment, error) {
	if len(files) == 0 {
		return nil, nil
	}
	attachments := make([]models.Attachment, 0, len(files))
	for _, fh := range files {
		att, err := h.attachments.Upload(ctx, fh)
		if err != nil {
			h.discard(ctx, attachments)
			return nil, err
		}
		attachments = append(attachments, att)
	}
	return attachments, nil
}

func (h *MessageHandler) discard(ctx context.Context, attachments []models.Attachment) {
	for _, a := range attachments {
		if err := h.attachments.Remove(ctx, a.URL); err != nil {
			log.Warn().Err(err).Str("url", a.URL).Msg("remove orphaned attachment failed")
		}
	}
}

// EditMessage replaces the content of the caller's message.
func (h *MessageHandler) EditMessage(c *gin.Context) {
	chatID, messageID, err := messagePath(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := bindJSON(c, &req); err != nil {
		h.writeError(c, err)
		return
	}

	msg, err := h.messages.EditMessage(c.Request.Context(), chatID, messageID, c.GetInt("userID"), req.Content)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.broadcaster.MessageEdited(c.Request.Context(), msg)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": msg})
}

// DeleteMessage soft-deletes a message.
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	chatID, messageID, err := messagePath(c)
	if err != nil {
		h.writeError(c, err)
		return
	}

	msg, err := h.messages.DeleteMessage(c.Request.Context(), chatID, messageID, c.GetInt("userID"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.broadcaster.MessageDeleted(c.Request.Context(), msg)
	if msg.DeletedBy != nil && *msg.DeletedBy != msg.SenderID {
		audit(c, h.audit, "message.moderate_delete", chatID, "message "+strconv.Itoa(messageID)+" deleted by moderator")
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": msg})
}

// MarkRead advances the caller's read cursor.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	chatID, err := pathID(c, "chat_id")
	if err != nil {
		h.writeError(c, err)
		return
	}

	userID := c.GetInt("userID")
	readAt, err := h.messages.MarkRead(c.Request.Context(), chatID, userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.broadcaster.ReadMarked(c.Request.Context(), chatID, userID, readAt)
	c.JSON(http.StatusOK, gin.H{"success": true, "last_read_at": readAt})
}

func messagePath(c *gin.Context) (int, int, error) {
	chatID, err := pathID(c, "chat_id")
	if err != nil {
		return 0, 0, err
	}
	messageID, err := pathID(c, "message_id")
	if err != nil {
		return 0, 0, err
	}
	return chatID, messageID, nil
}
