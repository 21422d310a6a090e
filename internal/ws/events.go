package ws

import (
	"time"

	"campus-chat/internal/apperr"
	"campus-chat/internal/models"
)

// Inbound events.
const (
	EventJoinChat         = "join-chat"
	EventLeaveChat        = "leave-chat"
	EventSendMessage      = "send-message"
	EventEditMessage      = "edit-message"
	EventDeleteMessage    = "delete-message"
	EventTypingStart      = "typing-start"
	EventTypingStop       = "typing-stop"
	EventMarkMessagesRead = "mark-messages-read"
	EventUserStatusChange = "user-status-change"
)

// Outbound events.
const (
	EventConnected         = "connected"
	EventJoinedChat        = "joined-chat"
	EventLeftChat          = "left-chat"
	EventNewMessage        = "new-message"
	EventMessageEdited     = "message-edited"
	EventMessageDeleted    = "message-deleted"
	EventUserTyping        = "user-typing"
	EventUserStoppedTyping = "user-stopped-typing"
	EventMessagesRead      = "messages-read"
	EventUserStatusChanged = "user-status-changed"
	EventMemberJoined      = "member-joined"
	EventMemberLeft        = "member-left"
	EventError             = "error"
)

type chatRef struct {
	ChatID int `json:"chatId"`
}

type sendMessageData struct {
	ChatID          int    `json:"chatId"`
	Content         string `json:"content"`
	MessageType     string `json:"messageType"`
	ReplyToID       *int   `json:"replyToId"`
	ClientMessageID string `json:"clientMessageId"`
}

type editMessageData struct {
	ChatID    int    `json:"chatId"`
	MessageID int    `json:"messageId"`
	Content   string `json:"content"`
}

type deleteMessageData struct {
	ChatID    int `json:"chatId"`
	MessageID int `json:"messageId"`
}

type statusChangeData struct {
	Status string `json:"status"`
}

type messagePayload struct {
	ChatID  int            `json:"chatId"`
	Message models.Message `json:"message"`
}

type typingPayload struct {
	ChatID   int    `json:"chatId"`
	UserID   int    `json:"userId"`
	Username string `json:"username"`
}

type readPayload struct {
	ChatID int       `json:"chatId"`
	UserID int       `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

type memberPayload struct {
	ChatID      int    `json:"chatId"`
	UserID      int    `json:"userId"`
	Role        string `json:"role,omitempty"`
	MemberCount int    `json:"memberCount"`
}

type statusChangedPayload struct {
	UserID int       `json:"userId"`
	Status string    `json:"status"`
	At     time.Time `json:"at"`
}

type connectedPayload struct {
	UserID   int    `json:"userId"`
	Username string `json:"username"`
	ChatIDs  []int  `json:"chatIds"`
}

type errorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Event   string `json:"event,omitempty"`
}

func statusPayload(userID int, status string, at time.Time) statusChangedPayload {
	return statusChangedPayload{UserID: userID, Status: status, At: at.UTC()}
}

// errorEvent turns a service error into an error frame. Internal details are
// only exposed when verbose is set.
func errorEvent(err error, inbound string, verbose bool) models.Event {
	return models.Event{Event: EventError, Data: errorPayload{
		Message: apperr.MessageOf(err, verbose),
		Code:    apperr.KindOf(err).String(),
		Event:   inbound,
	}}
}
