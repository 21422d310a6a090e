package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"campus-chat/internal/models"
)

// UserRepository reads user profiles and writes presence.
type UserRepository interface {
	GetUser(ctx context.Context, userID int) (models.User, error)
	BulkUsers(ctx context.Context, ids []int) ([]models.UserSummary, error)
	SetStatus(ctx context.Context, userID int, status string, at time.Time) error
}

// GetUser fetches a user by id.
func (q *queries) GetUser(ctx context.Context, userID int) (models.User, error) {
	var u models.User
	err := sqlx.GetContext(ctx, q.db, &u, `SELECT id, username, email, status, last_seen_at, is_active, created_at
		FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return u, err
}

// BulkUsers fetches multiple users in one call.
func (q *queries) BulkUsers(ctx context.Context, ids []int) ([]models.UserSummary, error) {
	users := []models.UserSummary{}
	if len(ids) == 0 {
		return users, nil
	}
	err := sqlx.SelectContext(ctx, q.db, &users, `SELECT id, username FROM users WHERE id = ANY($1)`, pq.Array(ids))
	return users, err
}

// SetStatus persists a presence status; going offline also records last_seen_at.
func (q *queries) SetStatus(ctx context.Context, userID int, status string, at time.Time) error {
	return execOne(ctx, q.db, ErrUserNotFound,
		`UPDATE users SET status=$2, last_seen_at = CASE WHEN $2 = 'offline' THEN $3 ELSE last_seen_at END WHERE id=$1`,
		userID, status, at)
}
