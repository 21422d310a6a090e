package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
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
	DefaultMemberLimit = 100
	MinMemberLimit     = 2
	MaxMemberLimit     = 1000
)

// MembershipService owns chat creation and the join/leave/role state machine.
// Every mutation runs in one transaction that first locks the chat row, so
// member_count and the admin invariant cannot race.
type MembershipService struct {
	store repositories.Store
	now   func() time.Time
}

// NewMembershipService constructs a MembershipService.
func NewMembershipService(store repositories.Store) *MembershipService {
	return &MembershipService{store: store, now: time.Now}
}

// CreateChatInput is the user-supplied part of a new chat.
type CreateChatInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	University  string `json:"university"`
	Semester    string `json:"semester"`
	Year        *int   `json:"year"`
	IsPrivate   bool   `json:"is_private"`
	MemberLimit int    `json:"member_limit"`
}

// MembershipChange is the outcome of a join or leave.
type MembershipChange struct {
	Chat          models.Chat       `json:"chat"`
	Member        models.ChatMember `json:"member"`
	SystemMessage models.Message    `json:"system_message"`
}

// ChatDetail is a chat as seen by one of its members.
type ChatDetail struct {
	Chat       models.Chat       `json:"chat"`
	Membership models.ChatMember `json:"membership"`
}

func (in *CreateChatInput) normalize() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.Category = strings.ToLower(strings.TrimSpace(in.Category))
	in.University = strings.TrimSpace(in.University)
	in.Semester = strings.TrimSpace(in.Semester)

	if n := utf8.RuneCountInString(in.Name); n < 3 || n > 100 {
		return apperr.Validation("name must be between 3 and 100 characters")
	}
	if utf8.RuneCountInString(in.Description) > 500 {
		return apperr.Validation("description must be at most 500 characters")
	}
	if !slices.Contains(models.ChatCategories, in.Category) {
		return apperr.Validation("category must be one of %s", strings.Join(models.ChatCategories, ", "))
	}
	if utf8.RuneCountInString(in.University) > 120 {
		return apperr.Validation("university must be at most 120 characters")
	}
	if utf8.RuneCountInString(in.Semester) > 20 {
		return apperr.Validation("semester must be at most 20 characters")
	}
	if in.Year != nil && (*in.Year < 2000 || *in.Year > 2100) {
		return apperr.Validation("year must be between 2000 and 2100")
	}
	if in.MemberLimit == 0 {
		in.MemberLimit = DefaultMemberLimit
	}
	if in.MemberLimit < MinMemberLimit || in.MemberLimit > MaxMemberLimit {
		return apperr.Validation("member_limit must be between %d and %d", MinMemberLimit, MaxMemberLimit)
	}
	return nil
}

// CreateChat creates a chat with the creator as its only member and admin.
func (s *MembershipService) CreateChat(ctx context.Context, creatorID int, in CreateChatInput) (ChatDetail, error) {
	if err := in.normalize(); err != nil {
		return ChatDetail{}, err
	}

	var detail ChatDetail
	err := s.store.InTx(ctx, func(q repositories.Querier) error {
		chat, err := q.CreateChat(ctx, models.Chat{
			Name:        in.Name,
			Description: in.Description,
			Category:    in.Category,
			University:  in.University,
			Semester:    in.Semester,
			Year:        in.Year,
			IsPrivate:   in.IsPrivate,
			MemberLimit: in.MemberLimit,
			MemberCount: 1,
			CreatedBy:   creatorID,
		})
		if err != nil {
			return err
		}
		member, err := q.InsertMembership(ctx, models.ChatMember{
			ChatID:   chat.ID,
			UserID:   creatorID,
			Role:     models.RoleAdmin,
			JoinedAt: s.now(),
		})
		if err != nil {
			return err
		}
		detail = ChatDetail{Chat: chat, Membership: member}
		return nil
	})
	if err != nil {
		return ChatDetail{}, fmt.Errorf("create chat: %w", err)
	}

	observability.IncMembershipChange("create")
	log.Info().Int("chat_id", detail.Chat.ID).Int("user_id", creatorID).Msg("chat created")
	return detail, nil
}

// JoinChat adds the user to a public chat, reactivating a dormant membership if one exists.
func (s *MembershipService) JoinChat(ctx context.Context, chatID, userID int) (MembershipChange, error) {
	var change MembershipChange
	err := s.store.InTx(ctx, func(q repositories.Querier) error {
		chat, err := lockActiveChat(ctx, q, chatID)
		if err != nil {
			return err
		}
		if chat.IsPrivate {
			return apperr.Forbidden("chat is private")
		}

		existing, err := q.GetMembership(ctx, chatID, userID)
		dormant := err == nil
		switch {
		case dormant && existing.IsActive:
			return apperr.Conflict("already a member of this chat")
		case err != nil && !errors.Is(err, repositories.ErrMembershipNotFound):
			return err
		}
		if chat.MemberCount >= chat.MemberLimit {
			return apperr.Capacity("chat is full")
		}

		user, err := lookupUser(ctx, q, userID)
		if err != nil {
			return err
		}

		now := s.now()
		var member models.ChatMember
		if dormant {
			member, err = q.ReactivateMembership(ctx, existing.ID, now)
		} else {
			member, err = q.InsertMembership(ctx, models.ChatMember{ChatID: chatID, UserID: userID, Role: models.RoleMember, JoinedAt: now})
			if errors.Is(err, repositories.ErrDuplicate) {
				return apperr.Conflict("already a member of this chat")
			}
		}
		if err != nil {
			return err
		}

		if chat.MemberCount, err = q.AdjustMemberCount(ctx, chatID, 1); err != nil {
			return err
		}
		msg, err := insertSystemMessage(ctx, q, chatID, user, user.Username+" joined the chat")
		if err != nil {
			return err
		}
		change = MembershipChange{Chat: chat, Member: member, SystemMessage: msg}
		return nil
	})
	if err != nil {
		return MembershipChange{}, wrap("join chat", err)
	}

	observability.IncMembershipChange("join")
	log.Info().Int("chat_id", chatID).Int("user_id", userID).Int("member_count", change.Chat.MemberCount).Msg("member joined")
	return change, nil
}

// LeaveChat deactivates the user's membership. The last admin cannot leave.
func (s *MembershipService) LeaveChat(ctx context.Context, chatID, userID int) (MembershipChange, error) {
	var change MembershipChange
	err := s.store.InTx(ctx, func(q repositories.Querier) error {
		chat, err := q.GetChatForUpdate(ctx, chatID)
		if errors.Is(err, repositories.ErrChatNotFound) {
			return apperr.NotFound("chat not found")
		}
		if err != nil {
			return err
		}

		member, err := activeMembership(ctx, q, chatID, userID, apperr.NotFound("not a member of this chat"))
		if err != nil {
			return err
		}
		if member.Role == models.RoleAdmin {
			if err := ensureAnotherAdmin(ctx, q, chatID, "the last admin cannot leave the chat"); err != nil {
				return err
			}
		}

		user, err := lookupUser(ctx, q, userID)
		if err != nil {
			return err
		}

		now := s.now()
		if err := q.DeactivateMembership(ctx, member.ID, now); err != nil {
			return err
		}
		member.IsActive = false
		member.LeftAt = &now

		if chat.MemberCount, err = q.AdjustMemberCount(ctx, chatID, -1); err != nil {
			return err
		}
		msg, err := insertSystemMessage(ctx, q, chatID, user, user.Username+" left the chat")
		if err != nil {
			return err
		}
		change = MembershipChange{Chat: chat, Member: member, SystemMessage: msg}
		return nil
	})
	if err != nil {
		return MembershipChange{}, wrap("leave chat", err)
	}

	observability.IncMembershipChange("leave")
	log.Info().Int("chat_id", chatID).Int("user_id", userID).Int("member_count", change.Chat.MemberCount).Msg("member left")
	return change, nil
}

// ChangeRole sets the role of another member. Only admins may change roles and
// the last admin cannot be demoted.
func (s *MembershipService) ChangeRole(ctx context.Context, chatID, actorID, targetID int, role string) (models.ChatMember, error) {
	if !models.ValidRole(role) {
		return models.ChatMember{}, apperr.Validation("role must be one of member, moderator, admin")
	}

	var target models.ChatMember
	err := s.store.InTx(ctx, func(q repositories.Querier) error {
		if _, err := lockActiveChat(ctx, q, chatID); err != nil {
			return err
		}
		actor, err := activeMembership(ctx, q, chatID, actorID, apperr.Forbidden("not a member of this chat"))
		if err != nil {
			return err
		}
		if !actor.IsAdmin() {
			return apperr.Forbidden("only admins can change roles")
		}
		target, err = activeMembership(ctx, q, chatID, targetID, apperr.NotFound("member not found"))
		if err != nil {
			return err
		}
		if target.Role == role {
			return nil
		}
		if target.Role == models.RoleAdmin {
			if err := ensureAnotherAdmin(ctx, q, chatID, "the last admin cannot be demoted"); err != nil {
				return err
			}
		}
		if err := q.UpdateRole(ctx, target.ID, role); err != nil {
			return err
		}
		target.Role = role
		return nil
	})
	if err != nil {
		return models.ChatMember{}, wrap("change role", err)
	}

	observability.IncMembershipChange("role")
	log.Info().Int("chat_id", chatID).Int("actor_id", actorID).Int("user_id", targetID).Str("role", role).Msg("member role changed")
	return target, nil
}

// SetMuted mutes or unmutes a member. Moderators and admins may mute anyone but admins.
func (s *MembershipService) SetMuted(ctx context.Context, chatID, actorID, targetID int, muted bool) (models.ChatMember, error) {
	var target models.ChatMember
	err := s.store.InTx(ctx, func(q repositories.Querier) error {
		if _, err := lockActiveChat(ctx, q, chatID); err != nil {
			return err
		}
		actor, err := activeMembership(ctx, q, chatID, actorID, apperr.Forbidden("not a member of this chat"))
		if err != nil {
			return err
		}
		if !actor.CanModerate() {
			return apperr.Forbidden("only admins and moderators can mute members")
		}
		target, err = activeMembership(ctx, q, chatID, targetID, apperr.NotFound("member not found"))
		if err != nil {
			return err
		}
		if target.Role == models.RoleAdmin {
			return apperr.Forbidden("admins cannot be muted")
		}
		if err := q.SetMuted(ctx, target.ID, muted); err != nil {
			return err
		}
		target.IsMuted = muted
		return nil
	})
	if err != nil {
		return models.ChatMember{}, wrap("set muted", err)
	}
	return target, nil
}

// GetChat returns a chat to one of its active members.
func (s *MembershipService) GetChat(ctx context.Context, chatID, userID int) (ChatDetail, error) {
	chat, member, err := s.memberOfActiveChat(ctx, chatID, userID)
	if err != nil {
		return ChatDetail{}, wrap("get chat", err)
	}
	return ChatDetail{Chat: chat, Membership: member}, nil
}

// RequireMember returns the caller's active membership in an active chat.
// Inactive or missing chats are a NotFoundError, non-members a ForbiddenError.
func (s *MembershipService) RequireMember(ctx context.Context, chatID, userID int) (models.ChatMember, error) {
	_, member, err := s.memberOfActiveChat(ctx, chatID, userID)
	if err != nil {
		return models.ChatMember{}, wrap("check membership", err)
	}
	return member, nil
}

func (s *MembershipService) memberOfActiveChat(ctx context.Context, chatID, userID int) (models.Chat, models.ChatMember, error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if errors.Is(err, repositories.ErrChatNotFound) || (err == nil && !chat.IsActive) {
		return models.Chat{}, models.ChatMember{}, apperr.NotFound("chat not found")
	}
	if err != nil {
		return models.Chat{}, models.ChatMember{}, err
	}
	member, err := activeMembership(ctx, s.store, chatID, userID, apperr.Forbidden("not a member of this chat"))
	if err != nil {
		return models.Chat{}, models.ChatMember{}, err
	}
	return chat, member, nil
}

// Page describes a page-number window.
type Page struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

// NewPage clamps page and limit to sane values.
func NewPage(page, limit int) Page {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 50 {
		limit = 50
	}
	return Page{Page: page, Limit: limit}
}

func (p Page) offset() int { return (p.Page - 1) * p.Limit }

// ListUserChats lists the chats the user is an active member of.
func (s *MembershipService) ListUserChats(ctx context.Context, userID int, page Page) ([]models.ChatSummary, Page, error) {
	chats, total, err := s.store.ListChatsForUser(ctx, userID, page.Limit, page.offset())
	if err != nil {
		return nil, page, fmt.Errorf("list chats: %w", err)
	}
	page.Total = total
	return chats, page, nil
}

// DiscoverChats lists public chats the user has not joined.
func (s *MembershipService) DiscoverChats(ctx context.Context, userID int, filter models.DiscoverFilter, page Page) ([]models.Chat, Page, error) {
	filter.Category = strings.ToLower(strings.TrimSpace(filter.Category))
	filter.Query = strings.TrimSpace(filter.Query)
	if filter.Category != "" && !slices.Contains(models.ChatCategories, filter.Category) {
		return nil, page, apperr.Validation("unknown category %q", filter.Category)
	}
	chats, total, err := s.store.DiscoverChats(ctx, userID, filter, page.Limit, page.offset())
	if err != nil {
		return nil, page, fmt.Errorf("discover chats: %w", err)
	}
	page.Total = total
	return chats, page, nil
}

// ListMembers lists the active members of a chat to one of its members.
func (s *MembershipService) ListMembers(ctx context.Context, chatID, userID int) ([]models.MemberProfile, error) {
	if _, err := s.RequireMember(ctx, chatID, userID); err != nil {
		return nil, err
	}
	members, err := s.store.ListMembers(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

// ActiveChatIDs returns the chats a user currently belongs to.
func (s *MembershipService) ActiveChatIDs(ctx context.Context, userID int) ([]int, error) {
	ids, err := s.store.ActiveChatIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("active chats: %w", err)
	}
	return ids, nil
}

func lockActiveChat(ctx context.Context, q repositories.Querier, chatID int) (models.Chat, error) {
	chat, err := q.GetChatForUpdate(ctx, chatID)
	if errors.Is(err, repositories.ErrChatNotFound) || (err == nil && !chat.IsActive) {
		return models.Chat{}, apperr.NotFound("chat not found")
	}
	return chat, err
}

func activeMembership(ctx context.Context, q repositories.Querier, chatID, userID int, missing error) (models.ChatMember, error) {
	member, err := q.GetMembership(ctx, chatID, userID)
	if errors.Is(err, repositories.ErrMembershipNotFound) || (err == nil && !member.IsActive) {
		return models.ChatMember{}, missing
	}
	return member, err
}

func ensureAnotherAdmin(ctx context.Context, q repositories.Querier, chatID int, reason string) error {
	admins, err := q.CountActiveAdmins(ctx, chatID)
	if err != nil {
		return err
	}
	if admins <= 1 {
		return apperr.Forbidden(reason)
	}
	return nil
}

func lookupUser(ctx context.Context, q repositories.Querier, userID int) (models.User, error) {
	user, err := q.GetUser(ctx, userID)
	if errors.Is(err, repositories.ErrUserNotFound) {
		return models.User{}, apperr.NotFound("user not found")
	}
	return user, err
}

func insertSystemMessage(ctx context.Context, q repositories.Querier, chatID int, user models.User, content string) (models.Message, error) {
	msg, err := q.CreateMessage(ctx, models.Message{
		ChatID:      chatID,
		SenderID:    user.ID,
		Content:     content,
		MessageType: models.MessageTypeSystem,
	})
	if err != nil {
		return models.Message{}, err
	}
	if err := q.TouchLastMessage(ctx, chatID, msg.CreatedAt); err != nil {
		return models.Message{}, err
	}
	msg.Sender = &models.UserSummary{ID: user.ID, Username: user.Username}
	msg.Attachments = []models.Attachment{}
	return msg, nil
}

// wrap annotates infrastructure errors but leaves classified errors readable.
func wrap(op string, err error) error {
	if apperr.KindOf(err) != apperr.KindInternal {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
