package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"campus-chat/internal/models"
)

// MemberRepository covers chat_members rows.
type MemberRepository interface {
	GetMembership(ctx context.Context, chatID int, userID int) (models.ChatMember, error)
	InsertMembership(ctx context.Context, member models.ChatMember) (models.ChatMember, error)
	ReactivateMembership(ctx context.Context, memberID int, at time.Time) (models.ChatMember, error)
	DeactivateMembership(ctx context.Context, memberID int, at time.Time) error
	UpdateRole(ctx context.Context, memberID int, role string) error
	SetMuted(ctx context.Context, memberID int, muted bool) error
	CountActiveAdmins(ctx context.Context, chatID int) (int, error)
	ListMembers(ctx context.Context, chatID int) ([]models.MemberProfile, error)
	ActiveChatIDs(ctx context.Context, userID int) ([]int, error)
	AdvanceReadCursor(ctx context.Context, chatID int, userID int, at time.Time) (time.Time, error)
}

const memberColumns = `id, chat_id, user_id, role, is_active, is_muted, joined_at, left_at, last_read_at`

// GetMembership returns the (chat, user) row whether active or dormant.
func (q *queries) GetMembership(ctx context.Context, chatID int, userID int) (models.ChatMember, error) {
	var m models.ChatMember
	err := sqlx.GetContext(ctx, q.db, &m, `SELECT `+memberColumns+` FROM chat_members WHERE chat_id=$1 AND user_id=$2`, chatID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ChatMember{}, ErrMembershipNotFound
	}
	return m, err
}

// InsertMembership creates a new membership row. A second row for the same
// (chat, user) pair fails with ErrDuplicate.
func (q *queries) InsertMembership(ctx context.Context, member models.ChatMember) (models.ChatMember, error) {
	var m models.ChatMember
	err := sqlx.GetContext(ctx, q.db, &m, `INSERT INTO chat_members (chat_id, user_id, role, is_active, joined_at, last_read_at)
		VALUES ($1, $2, $3, TRUE, $4, $4) RETURNING `+memberColumns,
		member.ChatID, member.UserID, member.Role, member.JoinedAt)
	if isUniqueViolation(err) {
		return models.ChatMember{}, ErrDuplicate
	}
	if err != nil {
		return models.ChatMember{}, fmt.Errorf("insert membership: %w", err)
	}
	return m, nil
}

// ReactivateMembership turns a dormant row back into a plain active membership.
func (q *queries) ReactivateMembership(ctx context.Context, memberID int, at time.Time) (models.ChatMember, error) {
	var m models.ChatMember
	err := sqlx.GetContext(ctx, q.db, &m, `UPDATE chat_members
		SET is_active = TRUE, role = 'member', is_muted = FALSE, joined_at = $2, left_at = NULL,
			last_read_at = GREATEST(last_read_at, $2)
		WHERE id=$1 RETURNING `+memberColumns, memberID, at)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ChatMember{}, ErrMembershipNotFound
	}
	return m, err
}

// DeactivateMembership marks a membership dormant.
func (q *queries) DeactivateMembership(ctx context.Context, memberID int, at time.Time) error {
	return execOne(ctx, q.db, ErrMembershipNotFound,
		`UPDATE chat_members SET is_active = FALSE, left_at = $2 WHERE id=$1 AND is_active`, memberID, at)
}

// UpdateRole changes a member's role.
func (q *queries) UpdateRole(ctx context.Context, memberID int, role string) error {
	return execOne(ctx, q.db, ErrMembershipNotFound,
		`UPDATE chat_members SET role = $2 WHERE id=$1`, memberID, role)
}

// SetMuted toggles the mute flag.
func (q *queries) SetMuted(ctx context.Context, memberID int, muted bool) error {
	return execOne(ctx, q.db, ErrMembershipNotFound,
		`UPDATE chat_members SET is_muted = $2 WHERE id=$1`, memberID, muted)
}

// CountActiveAdmins counts active admins of a chat.
func (q *queries) CountActiveAdmins(ctx context.Context, chatID int) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, q.db, &n,
		`SELECT COUNT(*) FROM chat_members WHERE chat_id=$1 AND is_active AND role='admin'`, chatID)
	return n, err
}

// ListMembers returns active members with their profiles, admins first.
func (q *queries) ListMembers(ctx context.Context, chatID int) ([]models.MemberProfile, error) {
	members := []models.MemberProfile{}
	err := sqlx.SelectContext(ctx, q.db, &members, `SELECT cm.id, cm.chat_id, cm.user_id, cm.role, cm.is_active, cm.is_muted,
		cm.joined_at, cm.left_at, cm.last_read_at, u.username, u.status
		FROM chat_members cm INNER JOIN users u ON u.id = cm.user_id
		WHERE cm.chat_id=$1 AND cm.is_active
		ORDER BY CASE cm.role WHEN 'admin' THEN 0 WHEN 'moderator' THEN 1 ELSE 2 END, cm.joined_at ASC`, chatID)
	return members, err
}

// ActiveChatIDs returns the chats the user is an active member of.
func (q *queries) ActiveChatIDs(ctx context.Context, userID int) ([]int, error) {
	ids := []int{}
	err := sqlx.SelectContext(ctx, q.db, &ids, `SELECT cm.chat_id FROM chat_members cm
		INNER JOIN chats c ON c.id = cm.chat_id
		WHERE cm.user_id=$1 AND cm.is_active AND c.is_active ORDER BY cm.chat_id`, userID)
	return ids, err
}

// AdvanceReadCursor moves last_read_at forward, never backward, and returns the stored value.
func (q *queries) AdvanceReadCursor(ctx context.Context, chatID int, userID int, at time.Time) (time.Time, error) {
	var readAt time.Time
	err := sqlx.GetContext(ctx, q.db, &readAt, `UPDATE chat_members SET last_read_at = GREATEST(last_read_at, $3)
		WHERE chat_id=$1 AND user_id=$2 AND is_active RETURNING last_read_at`, chatID, userID, at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrMembershipNotFound
	}
	return readAt, err
}

func execOne(ctx context.Context, db sqlx.ExecerContext, notFound error, query string, args ...any) error {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return notFound
	}
	return nil
}
