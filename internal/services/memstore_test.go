package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"campus-chat/internal/models"
	"campus-chat/internal/repositories"
)

// fakeClock is a settable clock shared by the store and the services under test.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// memStore is an in-memory repositories.Store. Transactions are serialized
// and roll back by restoring a snapshot, mirroring the row-lock contract of
// the postgres store.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	clock       *fakeClock
	nextID      int
	chats       map[int]models.Chat
	members     map[int]models.ChatMember
	messages    map[int]models.Message
	attachments []models.Attachment
	users       map[int]models.User
}

type memSnapshot struct {
	nextID      int
	chats       map[int]models.Chat
	members     map[int]models.ChatMember
	messages    map[int]models.Message
	attachments []models.Attachment
	users       map[int]models.User
}

func newMemStore(clock *fakeClock) *memStore {
	return &memStore{
		clock:    clock,
		chats:    map[int]models.Chat{},
		members:  map[int]models.ChatMember{},
		messages: map[int]models.Message{},
		users:    map[int]models.User{},
	}
}

func (s *memStore) addUser(id int, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = models.User{ID: id, Username: username, Status: models.StatusOffline, IsActive: true, CreatedAt: s.clock.Now()}
}

func (s *memStore) id() int {
	s.nextID++
	return s.nextID
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *memStore) InTx(_ context.Context, fn func(q repositories.Querier) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snap := memSnapshot{
		nextID:      s.nextID,
		chats:       copyMap(s.chats),
		members:     copyMap(s.members),
		messages:    copyMap(s.messages),
		attachments: append([]models.Attachment(nil), s.attachments...),
		users:       copyMap(s.users),
	}
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.nextID, s.chats, s.members, s.messages, s.attachments, s.users =
			snap.nextID, snap.chats, snap.members, snap.messages, snap.attachments, snap.users
		s.mu.Unlock()
		return err
	}
	return nil
}

// activeCount counts active memberships directly, for invariant checks.
func (s *memStore) activeCount(chatID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.members {
		if m.ChatID == chatID && m.IsActive {
			n++
		}
	}
	return n
}

func (s *memStore) rowsFor(chatID, userID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.members {
		if m.ChatID == chatID && m.UserID == userID {
			n++
		}
	}
	return n
}

// chats

func (s *memStore) CreateChat(_ context.Context, chat models.Chat) (models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat.ID = s.id()
	chat.IsActive = true
	chat.CreatedAt = s.clock.Now()
	chat.UpdatedAt = chat.CreatedAt
	s.chats[chat.ID] = chat
	return chat, nil
}

func (s *memStore) GetChat(_ context.Context, chatID int) (models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return models.Chat{}, repositories.ErrChatNotFound
	}
	return chat, nil
}

func (s *memStore) GetChatForUpdate(ctx context.Context, chatID int) (models.Chat, error) {
	return s.GetChat(ctx, chatID)
}

func (s *memStore) AdjustMemberCount(_ context.Context, chatID int, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return 0, repositories.ErrChatNotFound
	}
	chat.MemberCount += delta
	s.chats[chatID] = chat
	return chat.MemberCount, nil
}

func (s *memStore) TouchLastMessage(_ context.Context, chatID int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat := s.chats[chatID]
	if chat.LastMessageAt == nil || at.After(*chat.LastMessageAt) {
		chat.LastMessageAt = &at
	}
	s.chats[chatID] = chat
	return nil
}

func (s *memStore) ListChatsForUser(_ context.Context, userID int, limit, offset int) ([]models.ChatSummary, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := []models.ChatSummary{}
	for _, m := range s.members {
		chat := s.chats[m.ChatID]
		if m.UserID != userID || !m.IsActive || !chat.IsActive {
			continue
		}
		unread := 0
		for _, msg := range s.messages {
			if msg.ChatID == chat.ID && msg.CreatedAt.After(m.LastReadAt) && msg.SenderID != userID && !msg.IsDeleted {
				unread++
			}
		}
		all = append(all, models.ChatSummary{Chat: chat, Role: m.Role, LastReadAt: m.LastReadAt, UnreadCount: unread})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	return window(all, limit, offset), len(all), nil
}

func (s *memStore) DiscoverChats(_ context.Context, userID int, filter models.DiscoverFilter, limit, offset int) ([]models.Chat, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := []models.Chat{}
	for _, chat := range s.chats {
		if !chat.IsActive || chat.IsPrivate || s.isActiveMemberLocked(chat.ID, userID) {
			continue
		}
		if filter.Category != "" && chat.Category != filter.Category {
			continue
		}
		if filter.University != "" && !strings.Contains(strings.ToLower(chat.University), strings.ToLower(filter.University)) {
			continue
		}
		if filter.Semester != "" && chat.Semester != filter.Semester {
			continue
		}
		if filter.Year != nil && (chat.Year == nil || *chat.Year != *filter.Year) {
			continue
		}
		if q := strings.ToLower(filter.Query); q != "" &&
			!strings.Contains(strings.ToLower(chat.Name), q) && !strings.Contains(strings.ToLower(chat.Description), q) {
			continue
		}
		all = append(all, chat)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return window(all, limit, offset), len(all), nil
}

func window[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return []T{}
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}

// members

func (s *memStore) isActiveMemberLocked(chatID, userID int) bool {
	for _, m := range s.members {
		if m.ChatID == chatID && m.UserID == userID && m.IsActive {
			return true
		}
	}
	return false
}

func (s *memStore) GetMembership(_ context.Context, chatID int, userID int) (models.ChatMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		if m.ChatID == chatID && m.UserID == userID {
			return m, nil
		}
	}
	return models.ChatMember{}, repositories.ErrMembershipNotFound
}

func (s *memStore) InsertMembership(_ context.Context, member models.ChatMember) (models.ChatMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		if m.ChatID == member.ChatID && m.UserID == member.UserID {
			return models.ChatMember{}, repositories.ErrDuplicate
		}
	}
	member.ID = s.id()
	member.IsActive = true
	member.LastReadAt = member.JoinedAt
	s.members[member.ID] = member
	return member, nil
}

func (s *memStore) ReactivateMembership(_ context.Context, memberID int, at time.Time) (models.ChatMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberID]
	if !ok {
		return models.ChatMember{}, repositories.ErrMembershipNotFound
	}
	m.IsActive, m.Role, m.IsMuted, m.JoinedAt, m.LeftAt = true, models.RoleMember, false, at, nil
	if at.After(m.LastReadAt) {
		m.LastReadAt = at
	}
	s.members[memberID] = m
	return m, nil
}

func (s *memStore) DeactivateMembership(_ context.Context, memberID int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberID]
	if !ok || !m.IsActive {
		return repositories.ErrMembershipNotFound
	}
	m.IsActive, m.LeftAt = false, &at
	s.members[memberID] = m
	return nil
}

func (s *memStore) UpdateRole(_ context.Context, memberID int, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberID]
	if !ok {
		return repositories.ErrMembershipNotFound
	}
	m.Role = role
	s.members[memberID] = m
	return nil
}

func (s *memStore) SetMuted(_ context.Context, memberID int, muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberID]
	if !ok {
		return repositories.ErrMembershipNotFound
	}
	m.IsMuted = muted
	s.members[memberID] = m
	return nil
}

func (s *memStore) CountActiveAdmins(_ context.Context, chatID int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.members {
		if m.ChatID == chatID && m.IsActive && m.Role == models.RoleAdmin {
			n++
		}
	}
	return n, nil
}

func (s *memStore) ListMembers(_ context.Context, chatID int) ([]models.MemberProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.MemberProfile{}
	for _, m := range s.members {
		if m.ChatID == chatID && m.IsActive {
			u := s.users[m.UserID]
			out = append(out, models.MemberProfile{ChatMember: m, Username: u.Username, Status: u.Status})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) ActiveChatIDs(_ context.Context, userID int) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := []int{}
	for _, m := range s.members {
		if m.UserID == userID && m.IsActive && s.chats[m.ChatID].IsActive {
			ids = append(ids, m.ChatID)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

func (s *memStore) AdvanceReadCursor(_ context.Context, chatID int, userID int, at time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, m := range s.members {
		if m.ChatID == chatID && m.UserID == userID && m.IsActive {
			if at.After(m.LastReadAt) {
				m.LastReadAt = at
				s.members[id] = m
			}
			return m.LastReadAt, nil
		}
	}
	return time.Time{}, repositories.ErrMembershipNotFound
}

// messages

func (s *memStore) CreateMessage(_ context.Context, msg models.Message) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ClientMessageID != nil {
		for _, m := range s.messages {
			if m.ChatID == msg.ChatID && m.SenderID == msg.SenderID && m.ClientMessageID != nil && *m.ClientMessageID == *msg.ClientMessageID {
				return models.Message{}, repositories.ErrDuplicate
			}
		}
	}
	msg.ID = s.id()
	msg.CreatedAt = s.clock.Now()
	s.messages[msg.ID] = msg
	return msg, nil
}

func (s *memStore) AddAttachments(_ context.Context, messageID int, attachments []models.Attachment) ([]models.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]models.Attachment, 0, len(attachments))
	for _, a := range attachments {
		a.ID = s.id()
		a.MessageID = messageID
		s.attachments = append(s.attachments, a)
		stored = append(stored, a)
	}
	return stored, nil
}

func (s *memStore) GetMessage(_ context.Context, messageID int) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	return m, nil
}

func (s *memStore) FindByClientID(_ context.Context, chatID int, senderID int, clientID string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ChatID == chatID && m.SenderID == senderID && m.ClientMessageID != nil && *m.ClientMessageID == clientID {
			return m, nil
		}
	}
	return models.Message{}, repositories.ErrMessageNotFound
}

func (s *memStore) ListMessages(_ context.Context, chatID int, cursor *repositories.Cursor, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := []models.Message{}
	for _, m := range s.messages {
		if m.ChatID != chatID {
			continue
		}
		if cursor != nil && !(m.CreatedAt.Before(cursor.CreatedAt) || (m.CreatedAt.Equal(cursor.CreatedAt) && m.ID < cursor.ID)) {
			continue
		}
		all = append(all, m)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *memStore) GetMessagesByIDs(_ context.Context, ids []int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Message{}
	for _, id := range ids {
		if m, ok := s.messages[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) ListAttachments(_ context.Context, messageIDs []int) ([]models.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := map[int]bool{}
	for _, id := range messageIDs {
		want[id] = true
	}
	out := []models.Attachment{}
	for _, a := range s.attachments {
		if want[a.MessageID] {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) UpdateContent(_ context.Context, messageID int, content string, at time.Time) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok || m.IsDeleted {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	m.Content, m.IsEdited, m.EditedAt = content, true, &at
	s.messages[messageID] = m
	return m, nil
}

func (s *memStore) SoftDelete(_ context.Context, messageID int, actorID int, at time.Time) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok || m.IsDeleted {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	m.IsDeleted, m.Content, m.DeletedAt, m.DeletedBy = true, models.DeletedPlaceholder, &at, &actorID
	s.messages[messageID] = m
	return m, nil
}

// users

func (s *memStore) GetUser(_ context.Context, userID int) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return models.User{}, repositories.ErrUserNotFound
	}
	return u, nil
}

func (s *memStore) BulkUsers(_ context.Context, ids []int) ([]models.UserSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.UserSummary{}
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out = append(out, models.UserSummary{ID: u.ID, Username: u.Username})
		}
	}
	return out, nil
}

func (s *memStore) SetStatus(_ context.Context, userID int, status string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return repositories.ErrUserNotFound
	}
	u.Status = status
	if status == models.StatusOffline {
		u.LastSeenAt = &at
	}
	s.users[userID] = u
	return nil
}

var _ repositories.Store = (*memStore)(nil)
