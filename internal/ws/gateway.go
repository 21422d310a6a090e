package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"campus-chat/internal/apperr"
	"campus-chat/internal/models"
	"campus-chat/internal/observability"
	"campus-chat/internal/services"
)

const frameTimeout = 10 * time.Second

type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (int, error)
}

type MembershipService interface {
	ActiveChatIDs(ctx context.Context, userID int) ([]int, error)
	RequireMember(ctx context.Context, chatID, userID int) (models.ChatMember, error)
}

type MessageService interface {
	SendMessage(ctx context.Context, in services.SendInput) (models.Message, bool, error)
	EditMessage(ctx context.Context, chatID, messageID, editorID int, content string) (models.Message, error)
	DeleteMessage(ctx context.Context, chatID, messageID, actorID int) (models.Message, error)
	MarkRead(ctx context.Context, chatID, userID int) (time.Time, error)
}

type PresenceService interface {
	GetUser(ctx context.Context, userID int) (models.User, error)
	SetStatus(ctx context.Context, userID int, status string) error
}

// SendLimiter throttles message sends per user.
type SendLimiter interface {
	AllowSend(ctx context.Context, userID int) bool
}

// Gateway upgrades authenticated requests to websockets and routes inbound
// frames to the same services the REST handlers use.
type Gateway struct {
	hub        *Hub
	auth       TokenValidator
	members    MembershipService
	messages   MessageService
	presence   PresenceService
	limiter    SendLimiter
	dispatcher *Dispatcher
	verbose    bool
	upgrader   websocket.Upgrader
}

func NewGateway(hub *Hub, auth TokenValidator, members MembershipService, messages MessageService, presence PresenceService, limiter SendLimiter, dispatcher *Dispatcher, verbose bool) *Gateway {
	return &Gateway{
		hub:        hub,
		auth:       auth,
		members:    members,
		messages:   messages,
		presence:   presence,
		limiter:    limiter,
		dispatcher: dispatcher,
		verbose:    verbose,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handle authenticates the handshake, upgrades, and serves the socket until it closes.
func (g *Gateway) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("campus-chat/ws").Start(c.Request.Context(), "ws.handshake")
	c.Request = c.Request.WithContext(ctx)

	user, err := g.authenticate(ctx, c.Request)
	if err != nil {
		span.End()
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": apperr.MessageOf(err, false)})
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.End()
		log.Debug().Err(err).Int("user_id", user.ID).Msg("websocket upgrade failed")
		return
	}

	info := ConnInfo{
		UserID:      user.ID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	client := NewClient(user.ID, user.Username, conn, info)
	client.Info.ConnID = client.ID
	span.End()

	g.serve(context.WithoutCancel(ctx), client)
}

func (g *Gateway) authenticate(ctx context.Context, r *http.Request) (models.User, error) {
	token := observability.BearerToken(r, true)
	if token == "" {
		return models.User{}, apperr.Auth("missing token")
	}
	userID, err := g.auth.ValidateToken(ctx, token)
	if err != nil {
		return models.User{}, apperr.Auth("invalid token")
	}
	return g.presence.GetUser(ctx, userID)
}

func (g *Gateway) serve(ctx context.Context, client *Client) {
	g.hub.Register(ctx, client)
	publishLifecycle(ctx, client.Info, "ws_connect", "")
	log.Info().Str("conn_id", client.ID).Int("user_id", client.UserID).Msg("websocket connected")

	chatIDs, err := g.members.ActiveChatIDs(ctx, client.UserID)
	if err != nil {
		log.Warn().Err(err).Int("user_id", client.UserID).Msg("load chats for socket failed")
		chatIDs = []int{}
	}
	for _, id := range chatIDs {
		g.hub.Join(id, client)
	}
	_ = client.SendEvent(models.Event{Event: EventConnected, Data: connectedPayload{
		UserID:   client.UserID,
		Username: client.Username,
		ChatIDs:  chatIDs,
	}})

	reason := g.readLoop(ctx, client)

	g.hub.Unregister(client)
	publishLifecycle(ctx, client.Info, "ws_disconnect", reason)
	log.Info().Str("conn_id", client.ID).Int("user_id", client.UserID).Str("reason", reason).Msg("websocket disconnected")
}

func (g *Gateway) readLoop(ctx context.Context, client *Client) string {
	conn := client.ws
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				publishLifecycle(ctx, client.Info, "ws_error", err.Error())
			}
			return err.Error()
		}
		g.HandleFrame(ctx, client, raw)
	}
}

type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// HandleFrame processes one inbound frame. Failures are reported to the
// client as error frames and never close the socket.
func (g *Gateway) HandleFrame(ctx context.Context, client *Client, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
		_ = client.SendEvent(errorEvent(apperr.Validation("malformed frame"), "", g.verbose))
		return
	}
	observability.IncWSEvent("in", frame.Event)

	ctx, cancel := context.WithTimeout(ctx, frameTimeout)
	defer cancel()

	if err := g.dispatch(ctx, client, frame); err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			log.Error().Err(err).Str("event", frame.Event).Int("user_id", client.UserID).Msg("websocket event failed")
		}
		_ = client.SendEvent(errorEvent(err, frame.Event, g.verbose))
	}
}

func (g *Gateway) dispatch(ctx context.Context, client *Client, frame inboundFrame) error {
	switch frame.Event {
	case EventJoinChat:
		var in chatRef
		if err := decode(frame.Data, &in); err != nil {
			return err
		}
		if _, err := g.members.RequireMember(ctx, in.ChatID, client.UserID); err != nil {
			return err
		}
		g.hub.Join(in.ChatID, client)
		return client.SendEvent(models.Event{Event: EventJoinedChat, Data: in})

	case EventLeaveChat:
		var in chatRef
		if err := decode(frame.Data, &in); err != nil {
			return err
		}
		g.hub.Leave(in.ChatID, client)
		return client.SendEvent(models.Event{Event: EventLeftChat, Data: in})

	case EventSendMessage:
		var in sendMessageData
		if err := decode(frame.Data, &in); err != nil {
			return err
		}
		if g.limiter != nil && !g.limiter.AllowSend(ctx, client.UserID) {
			return apperr.RateLimited("rate limit exceeded")
		}
		msg, created, err := g.messages.SendMessage(ctx, services.SendInput{
			ChatID:          in.ChatID,
			SenderID:        client.UserID,
			Content:         in.Content,
			MessageType:     in.MessageType,
			ReplyToID:       in.ReplyToID,
			ClientMessageID: in.ClientMessageID,
		})
		if err != nil {
			return err
		}
		if !created {
			return client.SendEvent(models.Event{Event: EventNewMessage, Data: messagePayload{ChatID: msg.ChatID, Message: msg}})
		}
		g.dispatcher.MessageCreated(ctx, msg)
		return nil

	case EventEditMessage:
		var in editMessageData
		if err := decode(frame.Data, &in); err != nil {
			return err
		}
		msg, err := g.messages.EditMessage(ctx, in.ChatID, in.MessageID, client.UserID, in.Content)
		if err != nil {
			return err
		}
		g.dispatcher.MessageEdited(ctx, msg)
		return nil

	case EventDeleteMessage:
		var in deleteMessageData
		if err := decode(frame.Data, &in); err != nil {
			return err
		}
		msg, err := g.messages.DeleteMessage(ctx, in.ChatID, in.MessageID, client.UserID)
		if err != nil {
			return err
		}
		g.dispatcher.MessageDeleted(ctx, msg)
		return nil

	case EventTypingStart, EventTypingStop:
		var in chatRef
		if err := decode(frame.Data, &in); err != nil {
			return err
		}
		if !g.hub.InRoom(in.ChatID, client) {
			return apperr.Forbidden("join the chat room first")
		}
		out := EventUserTyping
		if frame.Event == EventTypingStop {
			out = EventUserStoppedTyping
		}
		g.hub.BroadcastToChat(in.ChatID, models.Event{Event: out, Data: typingPayload{
			ChatID:   in.ChatID,
			UserID:   client.UserID,
			Username: client.Username,
		}}, client.UserID)
		return nil

	case EventMarkMessagesRead:
		var in chatRef
		if err := decode(frame.Data, &in); err != nil {
			return err
		}
		readAt, err := g.messages.MarkRead(ctx, in.ChatID, client.UserID)
		if err != nil {
			return err
		}
		g.dispatcher.ReadMarked(ctx, in.ChatID, client.UserID, readAt)
		return nil

	case EventUserStatusChange:
		var in statusChangeData
		if err := decode(frame.Data, &in); err != nil {
			return err
		}
		if err := g.presence.SetStatus(ctx, client.UserID, in.Status); err != nil {
			return err
		}
		g.dispatcher.StatusChanged(client.UserID, in.Status)
		return nil
	}
	return apperr.Validation("unknown event %q", frame.Event)
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return apperr.Validation("missing event data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.Validation("malformed event data")
	}
	return nil
}
