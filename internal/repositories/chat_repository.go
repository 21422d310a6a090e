package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"campus-chat/internal/models"
)

// ChatRepository abstracts chat persistence.
type ChatRepository interface {
	CreateChat(ctx context.Context, chat models.Chat) (models.Chat, error)
	GetChat(ctx context.Context, chatID int) (models.Chat, error)
	// GetChatForUpdate locks the chat row until the surrounding transaction ends.
	GetChatForUpdate(ctx context.Context, chatID int) (models.Chat, error)
	AdjustMemberCount(ctx context.Context, chatID int, delta int) (int, error)
	TouchLastMessage(ctx context.Context, chatID int, at time.Time) error
	ListChatsForUser(ctx context.Context, userID int, limit, offset int) ([]models.ChatSummary, int, error)
	DiscoverChats(ctx context.Context, userID int, filter models.DiscoverFilter, limit, offset int) ([]models.Chat, int, error)
}

const chatColumns = `c.id, c.name, c.description, c.category, c.university, c.semester, c.year, c.is_private,
	c.member_limit, c.member_count, c.last_message_at, c.is_active, c.created_by, c.created_at, c.updated_at`

// CreateChat inserts a chat row.
func (q *queries) CreateChat(ctx context.Context, chat models.Chat) (models.Chat, error) {
	var created models.Chat
	err := sqlx.GetContext(ctx, q.db, &created, `INSERT INTO chats AS c
		(name, description, category, university, semester, year, is_private, member_limit, member_count, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+chatColumns,
		chat.Name, chat.Description, chat.Category, chat.University, chat.Semester, chat.Year,
		chat.IsPrivate, chat.MemberLimit, chat.MemberCount, chat.CreatedBy)
	if err != nil {
		return models.Chat{}, fmt.Errorf("insert chat: %w", err)
	}
	return created, nil
}

// GetChat fetches a single chat.
func (q *queries) GetChat(ctx context.Context, chatID int) (models.Chat, error) {
	return q.getChat(ctx, `SELECT `+chatColumns+` FROM chats c WHERE c.id=$1`, chatID)
}

// GetChatForUpdate fetches a chat holding a row lock.
func (q *queries) GetChatForUpdate(ctx context.Context, chatID int) (models.Chat, error) {
	return q.getChat(ctx, `SELECT `+chatColumns+` FROM chats c WHERE c.id=$1 FOR UPDATE`, chatID)
}

func (q *queries) getChat(ctx context.Context, query string, chatID int) (models.Chat, error) {
	var chat models.Chat
	err := sqlx.GetContext(ctx, q.db, &chat, query, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, ErrChatNotFound
	}
	return chat, err
}

// AdjustMemberCount adds delta to the denormalized member counter and returns the new value.
func (q *queries) AdjustMemberCount(ctx context.Context, chatID int, delta int) (int, error) {
	var count int
	err := sqlx.GetContext(ctx, q.db, &count,
		`UPDATE chats SET member_count = member_count + $2, updated_at = NOW() WHERE id=$1 RETURNING member_count`,
		chatID, delta)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrChatNotFound
	}
	return count, err
}

// TouchLastMessage moves last_message_at forward.
func (q *queries) TouchLastMessage(ctx context.Context, chatID int, at time.Time) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE chats SET last_message_at = GREATEST(COALESCE(last_message_at, $2), $2) WHERE id=$1`, chatID, at)
	return err
}

// ListChatsForUser returns the active chats the user belongs to, most recently active first.
func (q *queries) ListChatsForUser(ctx context.Context, userID int, limit, offset int) ([]models.ChatSummary, int, error) {
	var total int
	if err := sqlx.GetContext(ctx, q.db, &total, `SELECT COUNT(*) FROM chat_members cm
		INNER JOIN chats c ON c.id = cm.chat_id
		WHERE cm.user_id=$1 AND cm.is_active AND c.is_active`, userID); err != nil {
		return nil, 0, err
	}

	chats := []models.ChatSummary{}
	err := sqlx.SelectContext(ctx, q.db, &chats, `SELECT `+chatColumns+`, cm.role, cm.last_read_at,
		(SELECT COUNT(*) FROM messages m
			WHERE m.chat_id = c.id AND m.created_at > cm.last_read_at
			AND m.sender_id <> cm.user_id AND NOT m.is_deleted) AS unread_count
		FROM chats c
		INNER JOIN chat_members cm ON cm.chat_id = c.id
		WHERE cm.user_id=$1 AND cm.is_active AND c.is_active
		ORDER BY COALESCE(c.last_message_at, c.created_at) DESC, c.id DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	return chats, total, err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// DiscoverChats lists public active chats the user has not joined.
func (q *queries) DiscoverChats(ctx context.Context, userID int, filter models.DiscoverFilter, limit, offset int) ([]models.Chat, int, error) {
	where := []string{
		"c.is_active",
		"NOT c.is_private",
		"NOT EXISTS (SELECT 1 FROM chat_members cm WHERE cm.chat_id = c.id AND cm.user_id = $1 AND cm.is_active)",
	}
	args := []any{userID}
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Category != "" {
		add("c.category = $%d", filter.Category)
	}
	if filter.University != "" {
		add("c.university ILIKE $%d", "%"+likeEscaper.Replace(filter.University)+"%")
	}
	if filter.Semester != "" {
		add("c.semester = $%d", filter.Semester)
	}
	if filter.Year != nil {
		add("c.year = $%d", *filter.Year)
	}
	if filter.Query != "" {
		add("(c.name ILIKE $%[1]d OR c.description ILIKE $%[1]d)", "%"+likeEscaper.Replace(filter.Query)+"%")
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := sqlx.GetContext(ctx, q.db, &total, `SELECT COUNT(*) FROM chats c WHERE `+cond, args...); err != nil {
		return nil, 0, err
	}

	chats := []models.Chat{}
	query := fmt.Sprintf(`SELECT %s FROM chats c WHERE %s
		ORDER BY c.member_count DESC, c.created_at DESC LIMIT $%d OFFSET $%d`,
		chatColumns, cond, len(args)+1, len(args)+2)
	err := sqlx.SelectContext(ctx, q.db, &chats, query, append(args, limit, offset)...)
	return chats, total, err
}
