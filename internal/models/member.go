package models

import "time"

// Member roles.
const (
	RoleMember    = "member"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
)

// ChatMember is the membership of a user in a chat. A user who leaves keeps a
// dormant row that is reactivated on re-join.
type ChatMember struct {
	ID         int        `db:"id" json:"id"`
	ChatID     int        `db:"chat_id" json:"chat_id"`
	UserID     int        `db:"user_id" json:"user_id"`
	Role       string     `db:"role" json:"role"`
	IsActive   bool       `db:"is_active" json:"is_active"`
	IsMuted    bool       `db:"is_muted" json:"is_muted"`
	JoinedAt   time.Time  `db:"joined_at" json:"joined_at"`
	LeftAt     *time.Time `db:"left_at" json:"left_at,omitempty"`
	LastReadAt time.Time  `db:"last_read_at" json:"last_read_at"`
}

// CanModerate reports whether the member may delete others' messages.
func (m ChatMember) CanModerate() bool {
	return m.IsActive && (m.Role == RoleAdmin || m.Role == RoleModerator)
}

// IsAdmin reports whether the member is an active admin.
func (m ChatMember) IsAdmin() bool {
	return m.IsActive && m.Role == RoleAdmin
}

// MemberProfile is a membership joined with the user's public profile.
type MemberProfile struct {
	ChatMember
	Username string `db:"username" json:"username"`
	Status   string `db:"status" json:"status"`
}

// ValidRole reports whether role is assignable.
func ValidRole(role string) bool {
	switch role {
	case RoleMember, RoleModerator, RoleAdmin:
		return true
	}
	return false
}
