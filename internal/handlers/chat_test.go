package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"campus-chat/internal/apperr"
	"campus-chat/internal/mocks"
	"campus-chat/internal/models"
	"campus-chat/internal/services"
)

func setupRouter(chats *ChatHandler, messages *MessageHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", 1)
		c.Next()
	})
	RegisterRoutes(r, chats, messages, func(c *gin.Context) { c.Next() })
	return r
}

type chatFixture struct {
	membership  *mocks.MembershipServiceMock
	broadcaster *mocks.BroadcasterMock
	router      *gin.Engine
}

func newChatFixture(verbose bool) chatFixture {
	f := chatFixture{
		membership:  new(mocks.MembershipServiceMock),
		broadcaster: new(mocks.BroadcasterMock),
	}
	chats := NewChatHandler(f.membership, f.broadcaster, nil, verbose)
	messages := NewMessageHandler(new(mocks.MessageServiceMock), new(mocks.AttachmentStoreMock), f.broadcaster, nil, verbose)
	f.router = setupRouter(chats, messages)
	return f
}

func do(r http.Handler, method, path string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestListChatsSuccess(t *testing.T) {
	f := newChatFixture(false)
	f.membership.On("ListUserChats", mock.Anything, 1, services.Page{Page: 2, Limit: 10}).
		Return([]models.ChatSummary{{Chat: models.Chat{ID: 3, Name: "Algorithms"}, Role: models.RoleMember}}, services.Page{Page: 2, Limit: 10, Total: 11}, nil).Once()

	rec := do(f.router, http.MethodGet, "/chats?page=2&limit=10", "")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, true, resp["success"])
	assert.Len(t, resp["chats"], 1)
	assert.Equal(t, float64(11), resp["pagination"].(map[string]any)["total"])
	f.membership.AssertExpectations(t)
}

func TestListChatsClampsLimit(t *testing.T) {
	f := newChatFixture(false)
	f.membership.On("ListUserChats", mock.Anything, 1, services.Page{Page: 1, Limit: 50}).
		Return([]models.ChatSummary{}, services.Page{Page: 1, Limit: 50}, nil).Once()

	rec := do(f.router, http.MethodGet, "/chats?limit=500", "")

	require.Equal(t, http.StatusOK, rec.Code)
	f.membership.AssertExpectations(t)
}

func TestListChatsInternalErrorIsHidden(t *testing.T) {
	f := newChatFixture(false)
	f.membership.On("ListUserChats", mock.Anything, 1, mock.Anything).
		Return(nil, services.Page{}, assert.AnError).Once()

	rec := do(f.router, http.MethodGet, "/chats", "")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, "internal server error", resp["message"])
}

func TestListChatsInternalErrorVerbose(t *testing.T) {
	f := newChatFixture(true)
	f.membership.On("ListUserChats", mock.Anything, 1, mock.Anything).
		Return(nil, services.Page{}, assert.AnError).Once()

	rec := do(f.router, http.MethodGet, "/chats", "")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["message"], assert.AnError.Error())
}

func TestDiscoverChatsPassesFilters(t *testing.T) {
	f := newChatFixture(false)
	year := 2025
	filter := models.DiscoverFilter{Category: "course", University: "TU Berlin", Semester: "WS", Year: &year, Query: "algo"}
	f.membership.On("DiscoverChats", mock.Anything, 1, filter, services.Page{Page: 1, Limit: 20}).
		Return([]models.Chat{{ID: 4}}, services.Page{Page: 1, Limit: 20, Total: 1}, nil).Once()

	rec := do(f.router, http.MethodGet, "/chats/discover?category=course&university=TU+Berlin&semester=WS&year=2025&q=algo", "")

	require.Equal(t, http.StatusOK, rec.Code)
	f.membership.AssertExpectations(t)
}

func TestDiscoverChatsRejectsBadYear(t *testing.T) {
	f := newChatFixture(false)

	rec := do(f.router, http.MethodGet, "/chats/discover?year=soon", "")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	f.membership.AssertNotCalled(t, "DiscoverChats", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateChatReturns201(t *testing.T) {
	f := newChatFixture(false)
	in := services.CreateChatInput{Name: "Linear Algebra", Category: "course", MemberLimit: 2}
	f.membership.On("CreateChat", mock.Anything, 1, in).Return(services.ChatDetail{
		Chat:       models.Chat{ID: 8, Name: "Linear Algebra", MemberCount: 1, MemberLimit: 2},
		Membership: models.ChatMember{ChatID: 8, UserID: 1, Role: models.RoleAdmin, IsActive: true},
	}, nil).Once()

	rec := do(f.router, http.MethodPost, "/chats", `{"name":"Linear Algebra","category":"course","member_limit":2}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, "admin", resp["membership"].(map[string]any)["role"])
	f.membership.AssertExpectations(t)
}

func TestCreateChatValidationError(t *testing.T) {
	f := newChatFixture(false)
	f.membership.On("CreateChat", mock.Anything, 1, mock.Anything).
		Return(nil, apperr.Validation("name must be between 3 and 100 characters")).Once()

	rec := do(f.router, http.MethodPost, "/chats", `{"name":"x","category":"course"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "name must be between 3 and 100 characters", decodeBody(t, rec)["message"])
}

func TestCreateChatMalformedBody(t *testing.T) {
	f := newChatFixture(false)

	rec := do(f.router, http.MethodPost, "/chats", `{"name":`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetChatForbiddenForNonMember(t *testing.T) {
	f := newChatFixture(false)
	f.membership.On("GetChat", mock.Anything, 5, 1).Return(nil, apperr.Forbidden("not a member of this chat")).Once()

	rec := do(f.router, http.MethodGet, "/chats/5", "")

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetChatInvalidID(t *testing.T) {
	f := newChatFixture(false)

	rec := do(f.router, http.MethodGet, "/chats/abc", "")

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJoinChatBroadcasts(t *testing.T) {
	f := newChatFixture(false)
	change := services.MembershipChange{
		Chat:   models.Chat{ID: 5, MemberCount: 2},
		Member: models.ChatMember{ChatID: 5, UserID: 1, Role: models.RoleMember, IsActive: true},
	}
	f.membership.On("JoinChat", mock.Anything, 5, 1).Return(change, nil).Once()
	f.broadcaster.On("MemberJoined", mock.Anything, change).Once()

	rec := do(f.router, http.MethodPost, "/chats/5/join", "")

	require.Equal(t, http.StatusOK, rec.Code)
	f.membership.AssertExpectations(t)
	f.broadcaster.AssertExpectations(t)
}

func TestJoinChatErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"full", apperr.Capacity("chat is full"), http.StatusConflict},
		{"already member", apperr.Conflict("already a member of this chat"), http.StatusConflict},
		{"private", apperr.Forbidden("chat is private"), http.StatusForbidden},
		{"missing", apperr.NotFound("chat not found"), http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newChatFixture(false)
			f.membership.On("JoinChat", mock.Anything, 5, 1).Return(nil, tc.err).Once()

			rec := do(f.router, http.MethodPost, "/chats/5/join", "")

			require.Equal(t, tc.status, rec.Code)
			f.broadcaster.AssertNotCalled(t, "MemberJoined", mock.Anything, mock.Anything)
		})
	}
}

func TestLeaveChatSoleAdmin(t *testing.T) {
	f := newChatFixture(false)
	f.membership.On("LeaveChat", mock.Anything, 5, 1).Return(nil, apperr.Forbidden("the last admin cannot leave the chat")).Once()

	rec := do(f.router, http.MethodPost, "/chats/5/leave", "")

	require.Equal(t, http.StatusForbidden, rec.Code)
	f.broadcaster.AssertNotCalled(t, "MemberLeft", mock.Anything, mock.Anything)
}

func TestLeaveChatBroadcasts(t *testing.T) {
	f := newChatFixture(false)
	change := services.MembershipChange{Chat: models.Chat{ID: 5, MemberCount: 1}, Member: models.ChatMember{ChatID: 5, UserID: 1}}
	f.membership.On("LeaveChat", mock.Anything, 5, 1).Return(change, nil).Once()
	f.broadcaster.On("MemberLeft", mock.Anything, change).Once()

	rec := do(f.router, http.MethodPost, "/chats/5/leave", "")

	require.Equal(t, http.StatusOK, rec.Code)
	f.broadcaster.AssertExpectations(t)
}

func TestChangeRole(t *testing.T) {
	f := newChatFixture(false)
	f.membership.On("ChangeRole", mock.Anything, 5, 1, 2, "moderator").
		Return(models.ChatMember{ChatID: 5, UserID: 2, Role: models.RoleModerator}, nil).Once()

	rec := do(f.router, http.MethodPut, "/chats/5/members/2/role", `{"role":"moderator"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	f.membership.AssertExpectations(t)
}

func TestMuteMemberRequiresFlag(t *testing.T) {
	f := newChatFixture(false)

	rec := do(f.router, http.MethodPut, "/chats/5/members/2/mute", `{}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	f.membership.AssertNotCalled(t, "SetMuted", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestMuteMember(t *testing.T) {
	f := newChatFixture(false)
	f.membership.On("SetMuted", mock.Anything, 5, 1, 2, false).
		Return(models.ChatMember{ChatID: 5, UserID: 2}, nil).Once()

	rec := do(f.router, http.MethodPut, "/chats/5/members/2/mute", `{"muted":false}`)

	require.Equal(t, http.StatusOK, rec.Code)
	f.membership.AssertExpectations(t)
}

func TestListMembers(t *testing.T) {
	f := newChatFixture(false)
	f.membership.On("ListMembers", mock.Anything, 5, 1).
		Return([]models.MemberProfile{{ChatMember: models.ChatMember{UserID: 1}, Username: "ana"}}, nil).Once()

	rec := do(f.router, http.MethodGet, "/chats/5/members", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["members"], 1)
}
