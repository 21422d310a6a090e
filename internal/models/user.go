package models

import "time"

// Presence statuses.
const (
	StatusOnline  = "online"
	StatusAway    = "away"
	StatusBusy    = "busy"
	StatusOffline = "offline"
)

// User is the subset of the user profile this service reads.
type User struct {
	ID         int        `db:"id" json:"id"`
	Username   string     `db:"username" json:"username"`
	Email      string     `db:"email" json:"-"`
	Status     string     `db:"status" json:"status"`
	LastSeenAt *time.Time `db:"last_seen_at" json:"last_seen_at,omitempty"`
	IsActive   bool       `db:"is_active" json:"-"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// UserSummary is embedded in message payloads.
type UserSummary struct {
	ID       int    `db:"id" json:"id"`
	Username string `db:"username" json:"username"`
}

// ValidStatus reports whether s is a presence status.
func ValidStatus(s string) bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy, StatusOffline:
		return true
	}
	return false
}
