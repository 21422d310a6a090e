package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"campus-chat/internal/models"
	"campus-chat/internal/observability"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxFrameSize   = 64 << 10
	sendBufferSize = 128
)

var (
	errClientClosed = errors.New("connection closed")
	errBufferFull   = errors.New("connection buffer exceeded")
)

// Client is one websocket session. All writes go through the send queue and
// a single write loop; a client whose queue fills up is disconnected.
type Client struct {
	ID       string
	UserID   int
	Username string
	Info     ConnInfo

	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	mu   sync.Mutex
	shut bool

	// rooms is guarded by Hub.mu.
	rooms map[int]struct{}
}

// NewClient wraps ws for the given user. ws may be nil in tests, in which
// case queued frames stay readable from the send channel.
func NewClient(userID int, username string, ws *websocket.Conn, info ConnInfo) *Client {
	return &Client{
		ID:       uuid.NewString(),
		UserID:   userID,
		Username: username,
		Info:     info,
		ws:       ws,
		send:     make(chan []byte, sendBufferSize),
		done:     make(chan struct{}),
		rooms:    make(map[int]struct{}),
	}
}

// Start launches the write loop. It must be called exactly once.
func (c *Client) Start() {
	if c.ws != nil {
		go c.writeLoop()
	}
}

// Send enqueues an encoded frame.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	if c.shut {
		c.mu.Unlock()
		return errClientClosed
	}
	select {
	case c.send <- payload:
		c.mu.Unlock()
		return nil
	default:
	}
	c.mu.Unlock()

	log.Warn().Str("conn_id", c.ID).Int("user_id", c.UserID).Msg("websocket send buffer full, disconnecting")
	c.Close(websocket.ClosePolicyViolation, "send buffer full")
	return errBufferFull
}

// SendEvent encodes and enqueues one event frame.
func (c *Client) SendEvent(evt models.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	observability.IncWSEvent("out", evt.Event)
	return c.Send(payload)
}

// Close terminates the connection and stops the write loop. Safe to call repeatedly.
func (c *Client) Close(code int, reason string) {
	c.mu.Lock()
	if c.shut {
		c.mu.Unlock()
		return
	}
	c.shut = true
	close(c.done)
	c.mu.Unlock()

	if c.ws != nil {
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.ws.Close()
	}
}

// Done is closed once the client has been shut down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.Close(websocket.CloseInternalServerErr, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseGoingAway, "ping failed")
				return
			}
		}
	}
}

func (c *Client) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}
