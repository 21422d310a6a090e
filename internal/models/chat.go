package models

import "time"

// Chat categories accepted on creation.
var ChatCategories = []string{"general", "course", "study-group", "project", "social", "housing", "career", "visa", "other"}

// Chat is a named group room.
type Chat struct {
	ID            int        `db:"id" json:"id"`
	Name          string     `db:"name" json:"name"`
	Description   string     `db:"description" json:"description"`
	Category      string     `db:"category" json:"category"`
	University    string     `db:"university" json:"university,omitempty"`
	Semester      string     `db:"semester" json:"semester,omitempty"`
	Year          *int       `db:"year" json:"year,omitempty"`
	IsPrivate     bool       `db:"is_private" json:"is_private"`
	MemberLimit   int        `db:"member_limit" json:"member_limit"`
	MemberCount   int        `db:"member_count" json:"member_count"`
	LastMessageAt *time.Time `db:"last_message_at" json:"last_message_at,omitempty"`
	IsActive      bool       `db:"is_active" json:"is_active"`
	CreatedBy     int        `db:"created_by" json:"created_by"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// ChatSummary is a chat as listed for one of its members.
type ChatSummary struct {
	Chat
	Role        string    `db:"role" json:"role"`
	LastReadAt  time.Time `db:"last_read_at" json:"last_read_at"`
	UnreadCount int       `db:"unread_count" json:"unread_count"`
}

// DiscoverFilter narrows public chat discovery.
type DiscoverFilter struct {
	Category   string
	University string
	Semester   string
	Year       *int
	Query      string
}
