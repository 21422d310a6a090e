package mocks

import (
	"context"
	"mime/multipart"
	"time"

	"github.com/stretchr/testify/mock"

	"campus-chat/internal/models"
	"campus-chat/internal/services"
)

type MembershipServiceMock struct {
	mock.Mock
}

func (m *MembershipServiceMock) CreateChat(ctx context.Context, creatorID int, in services.CreateChatInput) (services.ChatDetail, error) {
	args := m.Called(ctx, creatorID, in)
	var detail services.ChatDetail
	if val := args.Get(0); val != nil {
		detail = val.(services.ChatDetail)
	}
	return detail, args.Error(1)
}

func (m *MembershipServiceMock) JoinChat(ctx context.Context, chatID, userID int) (services.MembershipChange, error) {
	args := m.Called(ctx, chatID, userID)
	var change services.MembershipChange
	if val := args.Get(0); val != nil {
		change = val.(services.MembershipChange)
	}
	return change, args.Error(1)
}

func (m *MembershipServiceMock) LeaveChat(ctx context.Context, chatID, userID int) (services.MembershipChange, error) {
	args := m.Called(ctx, chatID, userID)
	var change services.MembershipChange
	if val := args.Get(0); val != nil {
		change = val.(services.MembershipChange)
	}
	return change, args.Error(1)
}

func (m *MembershipServiceMock) ChangeRole(ctx context.Context, chatID, actorID, targetID int, role string) (models.ChatMember, error) {
	args := m.Called(ctx, chatID, actorID, targetID, role)
	var member models.ChatMember
	if val := args.Get(0); val != nil {
		member = val.(models.ChatMember)
	}
	return member, args.Error(1)
}

func (m *MembershipServiceMock) SetMuted(ctx context.Context, chatID, actorID, targetID int, muted bool) (models.ChatMember, error) {
	args := m.Called(ctx, chatID, actorID, targetID, muted)
	var member models.ChatMember
	if val := args.Get(0); val != nil {
		member = val.(models.ChatMember)
	}
	return member, args.Error(1)
}

func (m *MembershipServiceMock) GetChat(ctx context.Context, chatID, userID int) (services.ChatDetail, error) {
	args := m.Called(ctx, chatID, userID)
	var detail services.ChatDetail
	if val := args.Get(0); val != nil {
		detail = val.(services.ChatDetail)
	}
	return detail, args.Error(1)
}

func (m *MembershipServiceMock) ListUserChats(ctx context.Context, userID int, page services.Page) ([]models.ChatSummary, services.Page, error) {
	args := m.Called(ctx, userID, page)
	var list []models.ChatSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.ChatSummary)
	}
	return list, args.Get(1).(services.Page), args.Error(2)
}

func (m *MembershipServiceMock) DiscoverChats(ctx context.Context, userID int, filter models.DiscoverFilter, page services.Page) ([]models.Chat, services.Page, error) {
	args := m.Called(ctx, userID, filter, page)
	var list []models.Chat
	if val := args.Get(0); val != nil {
		list = val.([]models.Chat)
	}
	return list, args.Get(1).(services.Page), args.Error(2)
}

func (m *MembershipServiceMock) ListMembers(ctx context.Context, chatID, userID int) ([]models.MemberProfile, error) {
	args := m.Called(ctx, chatID, userID)
	var list []models.MemberProfile
	if val := args.Get(0); val != nil {
		list = val.([]models.MemberProfile)
	}
	return list, args.Error(1)
}

type MessageServiceMock struct {
	mock.Mock
}

func (m *MessageServiceMock) SendMessage(ctx context.Context, in services.SendInput) (models.Message, bool, error) {
	args := m.Called(ctx, in)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Bool(1), args.Error(2)
}

func (m *MessageServiceMock) EditMessage(ctx context.Context, chatID, messageID, editorID int, content string) (models.Message, error) {
	args := m.Called(ctx, chatID, messageID, editorID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageServiceMock) DeleteMessage(ctx context.Context, chatID, messageID, actorID int) (models.Message, error) {
	args := m.Called(ctx, chatID, messageID, actorID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageServiceMock) ListMessages(ctx context.Context, chatID, userID, limit int, before *int) (models.MessagePage, error) {
	args := m.Called(ctx, chatID, userID, limit, before)
	var page models.MessagePage
	if val := args.Get(0); val != nil {
		page = val.(models.MessagePage)
	}
	return page, args.Error(1)
}

func (m *MessageServiceMock) MarkRead(ctx context.Context, chatID, userID int) (time.Time, error) {
	args := m.Called(ctx, chatID, userID)
	var at time.Time
	if val := args.Get(0); val != nil {
		at = val.(time.Time)
	}
	return at, args.Error(1)
}

type BroadcasterMock struct {
	mock.Mock
}

func (m *BroadcasterMock) MessageCreated(ctx context.Context, msg models.Message) {
	m.Called(ctx, msg)
}

func (m *BroadcasterMock) MessageEdited(ctx context.Context, msg models.Message) {
	m.Called(ctx, msg)
}

func (m *BroadcasterMock) MessageDeleted(ctx context.Context, msg models.Message) {
	m.Called(ctx, msg)
}

func (m *BroadcasterMock) MemberJoined(ctx context.Context, change services.MembershipChange) {
	m.Called(ctx, change)
}

func (m *BroadcasterMock) MemberLeft(ctx context.Context, change services.MembershipChange) {
	m.Called(ctx, change)
}

func (m *BroadcasterMock) ReadMarked(ctx context.Context, chatID, userID int, readAt time.Time) {
	m.Called(ctx, chatID, userID, readAt)
}

type AttachmentStoreMock struct {
	mock.Mock
}

func (m *AttachmentStoreMock) Upload(ctx context.Context, fh *multipart.FileHeader) (models.Attachment, error) {
	args := m.Called(ctx, fh)
	var att models.Attachment
	if val := args.Get(0); val != nil {
		att = val.(models.Attachment)
	}
	return att, args.Error(1)
}

func (m *AttachmentStoreMock) Remove(ctx context.Context, url string) error {
	args := m.Called(ctx, url)
	return args.Error(0)
}
