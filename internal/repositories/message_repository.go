package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"campus-chat/internal/models"
)

// Cursor is the position of the oldest message a client has already seen.
type Cursor struct {
	CreatedAt time.Time
	ID        int
}

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	AddAttachments(ctx context.Context, messageID int, attachments []models.Attachment) ([]models.Attachment, error)
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
	FindByClientID(ctx context.Context, chatID int, senderID int, clientID string) (models.Message, error)
	// ListMessages returns up to limit messages strictly older than cursor, newest first.
	ListMessages(ctx context.Context, chatID int, cursor *Cursor, limit int) ([]models.Message, error)
	GetMessagesByIDs(ctx context.Context, ids []int) ([]models.Message, error)
	ListAttachments(ctx context.Context, messageIDs []int) ([]models.Attachment, error)
	UpdateContent(ctx context.Context, messageID int, content string, at time.Time) (models.Message, error)
	SoftDelete(ctx context.Context, messageID int, actorID int, at time.Time) (models.Message, error)
}

const messageColumns = `id, chat_id, sender_id, content, message_type, reply_to_id, client_message_id,
	is_edited, edited_at, is_deleted, deleted_at, deleted_by, created_at`

// CreateMessage persists a message. created_at is assigned by the database.
func (q *queries) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	var created models.Message
	err := sqlx.GetContext(ctx, q.db, &created, `INSERT INTO messages (chat_id, sender_id, content, message_type, reply_to_id, client_message_id)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+messageColumns,
		msg.ChatID, msg.SenderID, msg.Content, msg.MessageType, msg.ReplyToID, msg.ClientMessageID)
	if isUniqueViolation(err) {
		return models.Message{}, ErrDuplicate
	}
	if err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return created, nil
}

// AddAttachments stores attachment rows for a message.
func (q *queries) AddAttachments(ctx context.Context, messageID int, attachments []models.Attachment) ([]models.Attachment, error) {
	stored := make([]models.Attachment, 0, len(attachments))
	for _, a := range attachments {
		var row models.Attachment
		if err := sqlx.GetContext(ctx, q.db, &row, `INSERT INTO message_attachments (message_id, url, file_name, mime_type, size)
			VALUES ($1, $2, $3, $4, $5) RETURNING id, message_id, url, file_name, mime_type, size`,
			messageID, a.URL, a.FileName, a.MimeType, a.Size); err != nil {
			return nil, fmt.Errorf("insert attachment: %w", err)
		}
		stored = append(stored, row)
	}
	return stored, nil
}

// GetMessage fetches a single message.
func (q *queries) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := sqlx.GetContext(ctx, q.db, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// FindByClientID looks up a message by its sender-supplied idempotency token.
func (q *queries) FindByClientID(ctx context.Context, chatID int, senderID int, clientID string) (models.Message, error) {
	var msg models.Message
	err := sqlx.GetContext(ctx, q.db, &msg, `SELECT `+messageColumns+` FROM messages
		WHERE chat_id=$1 AND sender_id=$2 AND client_message_id=$3`, chatID, senderID, clientID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// ListMessages pages backwards through a chat keyed on (created_at, id).
func (q *queries) ListMessages(ctx context.Context, chatID int, cursor *Cursor, limit int) ([]models.Message, error) {
	msgs := []models.Message{}
	var err error
	if cursor == nil {
		err = sqlx.SelectContext(ctx, q.db, &msgs, `SELECT `+messageColumns+` FROM messages
			WHERE chat_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`, chatID, limit)
	} else {
		err = sqlx.SelectContext(ctx, q.db, &msgs, `SELECT `+messageColumns+` FROM messages
			WHERE chat_id=$1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC LIMIT $4`, chatID, cursor.CreatedAt, cursor.ID, limit)
	}
	return msgs, err
}

// GetMessagesByIDs fetches messages by id in no particular order.
func (q *queries) GetMessagesByIDs(ctx context.Context, ids []int) ([]models.Message, error) {
	msgs := []models.Message{}
	if len(ids) == 0 {
		return msgs, nil
	}
	err := sqlx.SelectContext(ctx, q.db, &msgs, `SELECT `+messageColumns+` FROM messages WHERE id = ANY($1)`, pq.Array(ids))
	return msgs, err
}

// ListAttachments returns the attachments of the given messages.
func (q *queries) ListAttachments(ctx context.Context, messageIDs []int) ([]models.Attachment, error) {
	atts := []models.Attachment{}
	if len(messageIDs) == 0 {
		return atts, nil
	}
	err := sqlx.SelectContext(ctx, q.db, &atts, `SELECT id, message_id, url, file_name, mime_type, size
		FROM message_attachments WHERE message_id = ANY($1) ORDER BY id`, pq.Array(messageIDs))
	return atts, err
}

// UpdateContent replaces the content of a live message and marks it edited.
func (q *queries) UpdateContent(ctx context.Context, messageID int, content string, at time.Time) (models.Message, error) {
	var msg models.Message
	err := sqlx.GetContext(ctx, q.db, &msg, `UPDATE messages SET content=$2, is_edited=TRUE, edited_at=$3
		WHERE id=$1 AND NOT is_deleted RETURNING `+messageColumns, messageID, content, at)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// SoftDelete redacts a message, keeping the row in place.
func (q *queries) SoftDelete(ctx context.Context, messageID int, actorID int, at time.Time) (models.Message, error) {
	var msg models.Message
	err := sqlx.GetContext(ctx, q.db, &msg, `UPDATE messages SET is_deleted=TRUE, content=$2, deleted_at=$3, deleted_by=$4
		WHERE id=$1 AND NOT is_deleted RETURNING `+messageColumns, messageID, models.DeletedPlaceholder, at, actorID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}
