package ws

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"campus-chat/internal/models"
	"campus-chat/internal/observability"
	"campus-chat/internal/services"
)

const (
	notificationRoutingKey = "notifications.chat_message"
	notificationPreviewLen = 140
)

// MemberLister lists the active members of a chat without an access check.
type MemberLister interface {
	ListMembers(ctx context.Context, chatID int) ([]models.MemberProfile, error)
}

// Dispatcher fans out the results of message and membership operations to
// live sockets, and to the broker for members with no open socket. REST
// handlers and the gateway both publish through it.
type Dispatcher struct {
	hub     *Hub
	members MemberLister
}

func NewDispatcher(hub *Hub, members MemberLister) *Dispatcher {
	return &Dispatcher{hub: hub, members: members}
}

// MessageCreated broadcasts a new message to its room, sender included.
func (d *Dispatcher) MessageCreated(ctx context.Context, msg models.Message) {
	d.hub.BroadcastToChat(msg.ChatID, models.Event{Event: EventNewMessage, Data: messagePayload{ChatID: msg.ChatID, Message: msg}}, 0)
	if msg.MessageType != models.MessageTypeSystem {
		d.notifyOffline(ctx, msg)
	}
}

func (d *Dispatcher) MessageEdited(_ context.Context, msg models.Message) {
	d.hub.BroadcastToChat(msg.ChatID, models.Event{Event: EventMessageEdited, Data: messagePayload{ChatID: msg.ChatID, Message: msg}}, 0)
}

func (d *Dispatcher) MessageDeleted(_ context.Context, msg models.Message) {
	d.hub.BroadcastToChat(msg.ChatID, models.Event{Event: EventMessageDeleted, Data: messagePayload{ChatID: msg.ChatID, Message: msg}}, 0)
}

// MemberJoined subscribes the joiner's open sockets to the room and announces the join.
func (d *Dispatcher) MemberJoined(ctx context.Context, change services.MembershipChange) {
	chatID := change.Chat.ID
	d.hub.JoinUser(chatID, change.Member.UserID)
	d.hub.BroadcastToChat(chatID, models.Event{Event: EventMemberJoined, Data: memberPayload{
		ChatID:      chatID,
		UserID:      change.Member.UserID,
		Role:        change.Member.Role,
		MemberCount: change.Chat.MemberCount,
	}}, 0)
	d.MessageCreated(ctx, change.SystemMessage)
}

// MemberLeft announces the departure, then drops the leaver's sockets from the room.
func (d *Dispatcher) MemberLeft(ctx context.Context, change services.MembershipChange) {
	chatID := change.Chat.ID
	d.hub.LeaveUser(chatID, change.Member.UserID)
	d.hub.BroadcastToChat(chatID, models.Event{Event: EventMemberLeft, Data: memberPayload{
		ChatID:      chatID,
		UserID:      change.Member.UserID,
		MemberCount: change.Chat.MemberCount,
	}}, 0)
	d.hub.SendToUser(change.Member.UserID, models.Event{Event: EventLeftChat, Data: chatRef{ChatID: chatID}})
	d.MessageCreated(ctx, change.SystemMessage)
}

// ReadMarked tells the rest of the room that userID has read up to readAt.
func (d *Dispatcher) ReadMarked(_ context.Context, chatID, userID int, readAt time.Time) {
	d.hub.BroadcastToChat(chatID, models.Event{Event: EventMessagesRead, Data: readPayload{ChatID: chatID, UserID: userID, ReadAt: readAt}}, userID)
}

// StatusChanged broadcasts a presence change to every connected user.
func (d *Dispatcher) StatusChanged(userID int, status string) {
	d.hub.BroadcastAll(models.Event{Event: EventUserStatusChanged, Data: statusPayload(userID, status, time.Now())})
}

type offlineNotification struct {
	ChatID       int    `json:"chat_id"`
	MessageID    int    `json:"message_id"`
	SenderID     int    `json:"sender_id"`
	SenderName   string `json:"sender_name,omitempty"`
	Preview      string `json:"preview"`
	MessageType  string `json:"message_type"`
	RecipientIDs []int  `json:"recipient_ids"`
}

func (d *Dispatcher) notifyOffline(ctx context.Context, msg models.Message) {
	if d.members == nil {
		return
	}
	members, err := d.members.ListMembers(ctx, msg.ChatID)
	if err != nil {
		log.Warn().Err(err).Int("chat_id", msg.ChatID).Msg("list members for notification failed")
		return
	}

	recipients := make([]int, 0)
	for _, m := range members {
		if m.UserID == msg.SenderID || m.IsMuted || !m.IsActive || d.hub.IsOnline(m.UserID) {
			continue
		}
		recipients = append(recipients, m.UserID)
	}
	if len(recipients) == 0 {
		return
	}

	note := offlineNotification{
		ChatID:       msg.ChatID,
		MessageID:    msg.ID,
		SenderID:     msg.SenderID,
		Preview:      preview(msg.Content),
		MessageType:  msg.MessageType,
		RecipientIDs: recipients,
	}
	if msg.Sender != nil {
		note.SenderName = msg.Sender.Username
	}
	if err := observability.PublishEvent(ctx, notificationRoutingKey,
		observability.NewEnvelope("chat_notifications", "chat_message", note), observability.HeadersFromContext(ctx)); err != nil {
		log.Warn().Err(err).Int("chat_id", msg.ChatID).Int("message_id", msg.ID).Msg("offline notification failed")
		return
	}
	observability.AddOfflineNotifications(len(recipients))
}

func preview(content string) string {
	if utf8.RuneCountInString(content) <= notificationPreviewLen {
		return content
	}
	return string([]rune(content)[:notificationPreviewLen]) + "…"
}
