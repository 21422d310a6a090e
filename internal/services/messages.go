package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"campus-chat/internal/apperr"
	"campus-chat/internal/models"
	"campus-chat/internal/observability"
	"campus-chat/internal/repositories"
)

const (
	MaxContentLength   = 2000
	MaxAttachments     = 5
	DefaultEditWindow  = 15 * time.Minute
	DefaultPageSize    = 50
	MaxPageSize        = 100
	maxClientIDLength  = 64
	replyPreviewLength = 120
)

// MessageService is the single write path for messages, used by both the
// REST handlers and the websocket gateway.
type MessageService struct {
	store      repositories.Store
	now        func() time.Time
	editWindow time.Duration
}

// NewMessageService constructs a MessageService. A non-positive editWindow
// falls back to DefaultEditWindow.
func NewMessageService(store repositories.Store, editWindow time.Duration) *MessageService {
	if editWindow <= 0 {
		editWindow = DefaultEditWindow
	}
	return &MessageService{store: store, now: time.Now, editWindow: editWindow}
}

// SendInput describes a message to send.
type SendInput struct {
	ChatID          int
	SenderID        int
	Content         string
	MessageType     string
	ReplyToID       *int
	ClientMessageID string
	Attachments     []models.Attachment
}

func (in *SendInput) normalize() error {
	in.Content = strings.TrimSpace(in.Content)
	in.ClientMessageID = strings.TrimSpace(in.ClientMessageID)

	n := utf8.RuneCountInString(in.Content)
	if n == 0 && len(in.Attachments) == 0 {
		return apperr.Validation("content must not be empty")
	}
	if n > MaxContentLength {
		return apperr.Validation("content must be at most %d characters", MaxContentLength)
	}
	if len(in.Attachments) > MaxAttachments {
		return apperr.Validation("at most %d attachments are allowed", MaxAttachments)
	}
	if len(in.ClientMessageID) > maxClientIDLength {
		return apperr.Validation("client_message_id must be at most %d characters", maxClientIDLength)
	}

	if in.MessageType == "" {
		in.MessageType = inferMessageType(in.Attachments)
	}
	if !models.ValidMessageType(in.MessageType) {
		return apperr.Validation("unknown message type %q", in.MessageType)
	}
	if in.MessageType == models.MessageTypeSystem {
		return apperr.Validation("system messages cannot be sent by users")
	}
	return nil
}

func inferMessageType(attachments []models.Attachment) string {
	if len(attachments) == 0 {
		return models.MessageTypeText
	}
	for _, a := range attachments {
		if !strings.HasPrefix(a.MimeType, "image/") {
			return models.MessageTypeFile
		}
	}
	return models.MessageTypeImage
}

// SendMessage stores a message and returns it hydrated. The boolean is false
// when the call replayed an earlier send with the same client_message_id.
func (s *MessageService) SendMessage(ctx context.Context, in SendInput) (models.Message, bool, error) {
	if err := in.normalize(); err != nil {
		return models.Message{}, false, err
	}

	chat, err := s.store.GetChat(ctx, in.ChatID)
	if errors.Is(err, repositories.ErrChatNotFound) || (err == nil && !chat.IsActive) {
		return models.Message{}, false, apperr.NotFound("chat not found")
	}
	if err != nil {
		return models.Message{}, false, fmt.Errorf("send message: %w", err)
	}

	member, err := activeMembership(ctx, s.store, in.ChatID, in.SenderID, apperr.Forbidden("not a member of this chat"))
	if err != nil {
		return models.Message{}, false, wrap("send message", err)
	}
	if member.IsMuted {
		return models.Message{}, false, apperr.Forbidden("you are muted in this chat")
	}
	if in.MessageType == models.MessageTypeAnnouncement && !member.CanModerate() {
		return models.Message{}, false, apperr.Forbidden("only admins and moderators can post announcements")
	}

	if in.ClientMessageID != "" {
		if prior, ok, err := s.replay(ctx, in); err != nil || ok {
			return prior, false, err
		}
	}

	if in.ReplyToID != nil {
		target, err := s.store.GetMessage(ctx, *in.ReplyToID)
		if errors.Is(err, repositories.ErrMessageNotFound) {
			return models.Message{}, false, apperr.NotFound("reply target not found")
		}
		if err != nil {
			return models.Message{}, false, fmt.Errorf("send message: %w", err)
		}
		if target.ChatID != in.ChatID {
			return models.Message{}, false, apperr.Validation("reply target belongs to another chat")
		}
	}

	var clientID *string
	if in.ClientMessageID != "" {
		clientID = &in.ClientMessageID
	}

	var msg models.Message
	err = s.store.InTx(ctx, func(q repositories.Querier) error {
		created, err := q.CreateMessage(ctx, models.Message{
			ChatID:          in.ChatID,
			SenderID:        in.SenderID,
			Content:         in.Content,
			MessageType:     in.MessageType,
			ReplyToID:       in.ReplyToID,
			ClientMessageID: clientID,
		})
		if err != nil {
			return err
		}
		if len(in.Attachments) > 0 {
			if _, err := q.AddAttachments(ctx, created.ID, in.Attachments); err != nil {
				return err
			}
		}
		if err := q.TouchLastMessage(ctx, in.ChatID, created.CreatedAt); err != nil {
			return err
		}
		msg = created
		return nil
	})
	if errors.Is(err, repositories.ErrDuplicate) && in.ClientMessageID != "" {
		// lost the race against a concurrent retry of the same send
		prior, ok, err := s.replay(ctx, in)
		if err == nil && !ok {
			err = apperr.Conflict("duplicate message")
		}
		return prior, false, err
	}
	if err != nil {
		return models.Message{}, false, fmt.Errorf("send message: %w", err)
	}

	if err := s.hydrate(ctx, s.store, []*models.Message{&msg}); err != nil {
		return models.Message{}, false, fmt.Errorf("send message: %w", err)
	}

	observability.IncMessage(msg.MessageType)
	log.Debug().Int("chat_id", msg.ChatID).Int("message_id", msg.ID).Int("sender_id", msg.SenderID).Msg("message stored")
	return msg, true, nil
}

func (s *MessageService) replay(ctx context.Context, in SendInput) (models.Message, bool, error) {
	prior, err := s.store.FindByClientID(ctx, in.ChatID, in.SenderID, in.ClientMessageID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return models.Message{}, false, nil
	}
	if err != nil {
		return models.Message{}, false, fmt.Errorf("find by client id: %w", err)
	}
	if err := s.hydrate(ctx, s.store, []*models.Message{&prior}); err != nil {
		return models.Message{}, false, err
	}
	return prior, true, nil
}

// EditMessage replaces the content of the editor's own message within the edit window.
func (s *MessageService) EditMessage(ctx context.Context, chatID, messageID, editorID int, content string) (models.Message, error) {
	content = strings.TrimSpace(content)
	if n := utf8.RuneCountInString(content); n == 0 || n > MaxContentLength {
		return models.Message{}, apperr.Validation("content must be between 1 and %d characters", MaxContentLength)
	}

	msg, err := s.loadMessage(ctx, chatID, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.IsDeleted {
		return models.Message{}, apperr.Conflict("message has been deleted")
	}
	if msg.SenderID != editorID {
		return models.Message{}, apperr.Forbidden("only the sender can edit a message")
	}
	if msg.MessageType == models.MessageTypeSystem {
		return models.Message{}, apperr.Forbidden("system messages cannot be edited")
	}
	now := s.now()
	if now.Sub(msg.CreatedAt) >= s.editWindow {
		return models.Message{}, apperr.Expired("edit window has elapsed")
	}

	updated, err := s.store.UpdateContent(ctx, messageID, content, now)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return models.Message{}, apperr.Conflict("message has been deleted")
	}
	if err != nil {
		return models.Message{}, fmt.Errorf("edit message: %w", err)
	}
	if err := s.hydrate(ctx, s.store, []*models.Message{&updated}); err != nil {
		return models.Message{}, fmt.Errorf("edit message: %w", err)
	}
	return updated, nil
}

// DeleteMessage redacts a message. The sender and chat admins/moderators may delete.
func (s *MessageService) DeleteMessage(ctx context.Context, chatID, messageID, actorID int) (models.Message, error) {
	msg, err := s.loadMessage(ctx, chatID, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.IsDeleted {
		return models.Message{}, apperr.Conflict("message has already been deleted")
	}
	if msg.SenderID != actorID {
		member, err := activeMembership(ctx, s.store, chatID, actorID, apperr.Forbidden("not a member of this chat"))
		if err != nil {
			return models.Message{}, wrap("delete message", err)
		}
		if !member.CanModerate() {
			return models.Message{}, apperr.Forbidden("only the sender or a moderator can delete a message")
		}
	}

	deleted, err := s.store.SoftDelete(ctx, messageID, actorID, s.now())
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return models.Message{}, apperr.Conflict("message has already been deleted")
	}
	if err != nil {
		return models.Message{}, fmt.Errorf("delete message: %w", err)
	}
	if err := s.hydrate(ctx, s.store, []*models.Message{&deleted}); err != nil {
		return models.Message{}, fmt.Errorf("delete message: %w", err)
	}
	log.Info().Int("chat_id", chatID).Int("message_id", messageID).Int("actor_id", actorID).Msg("message deleted")
	return deleted, nil
}

// ListMessages returns one page of history older than the before cursor and
// advances the caller's read cursor.
func (s *MessageService) ListMessages(ctx context.Context, chatID, userID, limit int, before *int) (models.MessagePage, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	chat, err := s.store.GetChat(ctx, chatID)
	if errors.Is(err, repositories.ErrChatNotFound) || (err == nil && !chat.IsActive) {
		return models.MessagePage{}, apperr.NotFound("chat not found")
	}
	if err != nil {
		return models.MessagePage{}, fmt.Errorf("list messages: %w", err)
	}
	if _, err := activeMembership(ctx, s.store, chatID, userID, apperr.Forbidden("not a member of this chat")); err != nil {
		return models.MessagePage{}, wrap("list messages", err)
	}

	var cursor *repositories.Cursor
	if before != nil {
		anchor, err := s.store.GetMessage(ctx, *before)
		if errors.Is(err, repositories.ErrMessageNotFound) || (err == nil && anchor.ChatID != chatID) {
			return models.MessagePage{}, apperr.Validation("invalid before cursor")
		}
		if err != nil {
			return models.MessagePage{}, fmt.Errorf("list messages: %w", err)
		}
		cursor = &repositories.Cursor{CreatedAt: anchor.CreatedAt, ID: anchor.ID}
	}

	rows, err := s.store.ListMessages(ctx, chatID, cursor, limit+1)
	if err != nil {
		return models.MessagePage{}, fmt.Errorf("list messages: %w", err)
	}
	page := models.MessagePage{HasMore: len(rows) > limit}
	if page.HasMore {
		rows = rows[:limit]
	}

	// rows are newest first; clients render oldest first
	msgs := make([]models.Message, len(rows))
	for i := range rows {
		msgs[len(rows)-1-i] = rows[i]
	}
	ptrs := make([]*models.Message, len(msgs))
	for i := range msgs {
		ptrs[i] = &msgs[i]
	}
	if err := s.hydrate(ctx, s.store, ptrs); err != nil {
		return models.MessagePage{}, fmt.Errorf("list messages: %w", err)
	}
	page.Messages = msgs
	if len(msgs) > 0 {
		oldest, newest := msgs[0].ID, msgs[len(msgs)-1].ID
		page.OldestMessageID, page.NewestMessageID = &oldest, &newest
	}

	if _, err := s.store.AdvanceReadCursor(ctx, chatID, userID, s.now()); err != nil {
		log.Warn().Err(err).Int("chat_id", chatID).Int("user_id", userID).Msg("advance read cursor failed")
	}
	return page, nil
}

// MarkRead advances the caller's read cursor to now. It never moves backward.
func (s *MessageService) MarkRead(ctx context.Context, chatID, userID int) (time.Time, error) {
	readAt, err := s.store.AdvanceReadCursor(ctx, chatID, userID, s.now())
	if errors.Is(err, repositories.ErrMembershipNotFound) {
		return time.Time{}, apperr.Forbidden("not a member of this chat")
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("mark read: %w", err)
	}
	return readAt, nil
}

func (s *MessageService) loadMessage(ctx context.Context, chatID, messageID int) (models.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if errors.Is(err, repositories.ErrMessageNotFound) || (err == nil && msg.ChatID != chatID) {
		return models.Message{}, apperr.NotFound("message not found")
	}
	if err != nil {
		return models.Message{}, fmt.Errorf("load message: %w", err)
	}
	return msg, nil
}

// hydrate resolves senders, attachments and reply previews in three batched queries.
func (s *MessageService) hydrate(ctx context.Context, q repositories.Querier, msgs []*models.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	senderIDs := make([]int, 0, len(msgs))
	seen := map[int]struct{}{}
	liveIDs := make([]int, 0, len(msgs))
	replyIDs := make([]int, 0)
	for _, m := range msgs {
		if _, ok := seen[m.SenderID]; !ok {
			seen[m.SenderID] = struct{}{}
			senderIDs = append(senderIDs, m.SenderID)
		}
		if !m.IsDeleted {
			liveIDs = append(liveIDs, m.ID)
		}
		if m.ReplyToID != nil {
			replyIDs = append(replyIDs, *m.ReplyToID)
		}
	}

	users, err := q.BulkUsers(ctx, senderIDs)
	if err != nil {
		return fmt.Errorf("load senders: %w", err)
	}
	senders := make(map[int]models.UserSummary, len(users))
	for _, u := range users {
		senders[u.ID] = u
	}

	atts, err := q.ListAttachments(ctx, liveIDs)
	if err != nil {
		return fmt.Errorf("load attachments: %w", err)
	}
	byMessage := map[int][]models.Attachment{}
	for _, a := range atts {
		byMessage[a.MessageID] = append(byMessage[a.MessageID], a)
	}

	replies, err := q.GetMessagesByIDs(ctx, replyIDs)
	if err != nil {
		return fmt.Errorf("load reply targets: %w", err)
	}
	previews := make(map[int]models.ReplyPreview, len(replies))
	for _, r := range replies {
		previews[r.ID] = newReplyPreview(r)
	}

	for _, m := range msgs {
		if u, ok := senders[m.SenderID]; ok {
			u := u
			m.Sender = &u
		}
		m.Attachments = byMessage[m.ID]
		if m.Attachments == nil {
			m.Attachments = []models.Attachment{}
		}
		if m.ReplyToID != nil {
			if p, ok := previews[*m.ReplyToID]; ok {
				m.ReplyTo = &p
			}
		}
	}
	return nil
}

func newReplyPreview(m models.Message) models.ReplyPreview {
	content := m.Content
	if m.IsDeleted {
		content = models.DeletedPlaceholder
	} else if utf8.RuneCountInString(content) > replyPreviewLength {
		content = string([]rune(content)[:replyPreviewLength]) + "…"
	}
	return models.ReplyPreview{ID: m.ID, SenderID: m.SenderID, Content: content, IsDeleted: m.IsDeleted}
}
