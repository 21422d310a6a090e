package handlers

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"campus-chat/internal/apperr"
	"campus-chat/internal/mocks"
	"campus-chat/internal/models"
	"campus-chat/internal/services"
)

type messageFixture struct {
	messages    *mocks.MessageServiceMock
	attachments *mocks.AttachmentStoreMock
	broadcaster *mocks.BroadcasterMock
	router      *gin.Engine
}

func newMessageFixture() messageFixture {
	f := messageFixture{
		messages:    new(mocks.MessageServiceMock),
		attachments: new(mocks.AttachmentStoreMock),
		broadcaster: new(mocks.BroadcasterMock),
	}
	chats := NewChatHandler(new(mocks.MembershipServiceMock), f.broadcaster, nil, false)
	handler := NewMessageHandler(f.messages, f.attachments, f.broadcaster, nil, false)
	f.router = setupRouter(chats, handler)
	return f
}

func intPtr(v int) *int { return &v }

func TestListMessagesWithCursor(t *testing.T) {
	f := newMessageFixture()
	page := models.MessagePage{
		Messages:        []models.Message{{ID: 7, ChatID: 5, Content: "hi"}},
		HasMore:         true,
		OldestMessageID: intPtr(7),
		NewestMessageID: intPtr(7),
	}
	f.messages.On("ListMessages", mock.Anything, 5, 1, 1, intPtr(9)).Return(page, nil).Once()

	rec := do(f.router, http.MethodGet, "/chats/5/messages?limit=1&before=9", "")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, true, resp["has_more"])
	assert.Equal(t, float64(7), resp["oldest_message_id"])
	assert.Len(t, resp["messages"], 1)
	f.messages.AssertExpectations(t)
}

func TestListMessagesDefaultsWithoutCursor(t *testing.T) {
	f := newMessageFixture()
	f.messages.On("ListMessages", mock.Anything, 5, 1, services.DefaultPageSize, (*int)(nil)).
		Return(models.MessagePage{Messages: []models.Message{}}, nil).Once()

	rec := do(f.router, http.MethodGet, "/chats/5/messages", "")

	require.Equal(t, http.StatusOK, rec.Code)
	f.messages.AssertExpectations(t)
}

func TestListMessagesNonMember(t *testing.T) {
	f := newMessageFixture()
	f.messages.On("ListMessages", mock.Anything, 5, 1, mock.Anything, mock.Anything).
		Return(nil, apperr.Forbidden("not a member of this chat")).Once()

	rec := do(f.router, http.MethodGet, "/chats/5/messages", "")

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSendMessageJSON(t *testing.T) {
	f := newMessageFixture()
	in := services.SendInput{ChatID: 5, SenderID: 1, Content: "hello", ReplyToID: intPtr(3), ClientMessageID: "c-1"}
	msg := models.Message{ID: 10, ChatID: 5, SenderID: 1, Content: "hello"}
	f.messages.On("SendMessage", mock.Anything, in).Return(msg, true, nil).Once()
	f.broadcaster.On("MessageCreated", mock.Anything, msg).Once()

	rec := do(f.router, http.MethodPost, "/chats/5/messages", `{"content":"hello","reply_to_id":3,"client_message_id":"c-1"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	f.messages.AssertExpectations(t)
	f.broadcaster.AssertExpectations(t)
}

func TestSendMessageReplayReturns200WithoutBroadcast(t *testing.T) {
	f := newMessageFixture()
	msg := models.Message{ID: 10, ChatID: 5, SenderID: 1, Content: "hello"}
	f.messages.On("SendMessage", mock.Anything, services.SendInput{ChatID: 5, SenderID: 1, Content: "hello", ClientMessageID: "key-1"}).
		Return(msg, false, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/chats/5/messages", bytes.NewBufferString(`{"content":"hello"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "key-1")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	f.broadcaster.AssertNotCalled(t, "MessageCreated", mock.Anything, mock.Anything)
}

func TestSendMessageMuted(t *testing.T) {
	f := newMessageFixture()
	f.messages.On("SendMessage", mock.Anything, mock.Anything).Return(nil, false, apperr.Forbidden("you are muted in this chat")).Once()

	rec := do(f.router, http.MethodPost, "/chats/5/messages", `{"content":"hello"}`)

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "you are muted in this chat", decodeBody(t, rec)["message"])
}

func multipartRequest(t *testing.T, fields map[string]string, files map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for name, content := range files {
		part, err := w.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/chats/5/messages", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestSendMessageMultipartUploadsFiles(t *testing.T) {
	f := newMessageFixture()
	att := models.Attachment{URL: "http://minio/chat-attachments/messages/a.pdf", FileName: "notes.pdf", MimeType: "application/pdf", Size: 4}
	f.attachments.On("Upload", mock.Anything, mock.AnythingOfType("*multipart.FileHeader")).Return(att, nil).Once()
	f.messages.On("SendMessage", mock.Anything, services.SendInput{
		ChatID:      5,
		SenderID:    1,
		Content:     "see attached",
		ReplyToID:   intPtr(2),
		Attachments: []models.Attachment{att},
	}).Return(models.Message{ID: 11, ChatID: 5}, true, nil).Once()
	f.broadcaster.On("MessageCreated", mock.Anything, mock.Anything).Once()

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, multipartRequest(t, map[string]string{"content": "see attached", "reply_to_id": "2"}, map[string]string{"notes.pdf": "%PDF"}))

	require.Equal(t, http.StatusCreated, rec.Code)
	f.attachments.AssertExpectations(t)
	f.messages.AssertExpectations(t)
}

func TestSendMessageRemovesUploadsOnFailure(t *testing.T) {
	f := newMessageFixture()
	att := models.Attachment{URL: "http://minio/chat-attachments/messages/b.png"}
	f.attachments.On("Upload", mock.Anything, mock.Anything).Return(att, nil).Once()
	f.attachments.On("Remove", mock.Anything, att.URL).Return(nil).Once()
	f.messages.On("SendMessage", mock.Anything, mock.Anything).Return(nil, false, apperr.NotFound("reply target not found")).Once()

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, multipartRequest(t, map[string]string{"reply_to_id": "99"}, map[string]string{"b.png": "png"}))

	require.Equal(t, http.StatusNotFound, rec.Code)
	f.attachments.AssertExpectations(t)
}

func TestSendMessageTooManyFiles(t *testing.T) {
	f := newMessageFixture()
	files := map[string]string{}
	for _, name := range []string{"1.txt", "2.txt", "3.txt", "4.txt", "5.txt", "6.txt"} {
		files[name] = "x"
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, multipartRequest(t, map[string]string{"content": "hi"}, files))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	f.attachments.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything)
}

func TestEditMessageExpired(t *testing.T) {
	f := newMessageFixture()
	f.messages.On("EditMessage", mock.Anything, 5, 10, 1, "fixed").Return(nil, apperr.Expired("edit window has elapsed")).Once()

	rec := do(f.router, http.MethodPut, "/chats/5/messages/10", `{"content":"fixed"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	f.broadcaster.AssertNotCalled(t, "MessageEdited", mock.Anything, mock.Anything)
}

func TestEditMessageBroadcasts(t *testing.T) {
	f := newMessageFixture()
	msg := models.Message{ID: 10, ChatID: 5, Content: "fixed", IsEdited: true}
	f.messages.On("EditMessage", mock.Anything, 5, 10, 1, "fixed").Return(msg, nil).Once()
	f.broadcaster.On("MessageEdited", mock.Anything, msg).Once()

	rec := do(f.router, http.MethodPut, "/chats/5/messages/10", `{"content":"fixed"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	f.broadcaster.AssertExpectations(t)
}

func TestDeleteMessageBroadcasts(t *testing.T) {
	f := newMessageFixture()
	deletedBy := 1
	msg := models.Message{ID: 10, ChatID: 5, SenderID: 1, IsDeleted: true, DeletedBy: &deletedBy, Content: models.DeletedPlaceholder}
	f.messages.On("DeleteMessage", mock.Anything, 5, 10, 1).Return(msg, nil).Once()
	f.broadcaster.On("MessageDeleted", mock.Anything, msg).Once()

	rec := do(f.router, http.MethodDelete, "/chats/5/messages/10", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.DeletedPlaceholder, decodeBody(t, rec)["message"].(map[string]any)["content"])
	f.broadcaster.AssertExpectations(t)
}

func TestDeleteMessageAlreadyDeleted(t *testing.T) {
	f := newMessageFixture()
	f.messages.On("DeleteMessage", mock.Anything, 5, 10, 1).Return(nil, apperr.Conflict("message has already been deleted")).Once()

	rec := do(f.router, http.MethodDelete, "/chats/5/messages/10", "")

	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestMarkRead(t *testing.T) {
	f := newMessageFixture()
	readAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.messages.On("MarkRead", mock.Anything, 5, 1).Return(readAt, nil).Once()
	f.broadcaster.On("ReadMarked", mock.Anything, 5, 1, readAt).Once()

	rec := do(f.router, http.MethodPost, "/chats/5/messages/mark-read", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2026-03-01T12:00:00Z", decodeBody(t, rec)["last_read_at"])
	f.broadcaster.AssertExpectations(t)
}
