package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"campus-chat/internal/models"
	"campus-chat/internal/observability"
)

// DefaultPresenceGrace is how long a user stays online after their last socket closes.
const DefaultPresenceGrace = 30 * time.Second

// StatusStore persists presence.
type StatusStore interface {
	SetStatus(ctx context.Context, userID int, status string) error
}

type offlineTimer struct {
	timer *time.Timer
	seq   uint64
}

// Hub tracks live sockets per user and per chat room. It is a cache rebuilt
// from reconnecting clients; membership is never decided here.
type Hub struct {
	mu sync.RWMutex
	// presenceMu orders presence writes so a late offline cannot land after a reconnect.
	presenceMu sync.Mutex
	users      map[int]map[*Client]struct{}
	rooms      map[int]map[*Client]struct{}
	timers     map[int]offlineTimer
	seq        uint64
	grace      time.Duration
	statuses   StatusStore
}

// NewHub creates an empty hub. A non-positive grace uses DefaultPresenceGrace.
func NewHub(statuses StatusStore, grace time.Duration) *Hub {
	if grace <= 0 {
		grace = DefaultPresenceGrace
	}
	return &Hub{
		users:    make(map[int]map[*Client]struct{}),
		rooms:    make(map[int]map[*Client]struct{}),
		timers:   make(map[int]offlineTimer),
		grace:    grace,
		statuses: statuses,
	}
}

// Register attaches a client and starts its write loop. The first socket of a
// user who was offline flips them online; a reconnect inside the grace window
// only cancels the pending offline transition.
func (h *Hub) Register(ctx context.Context, c *Client) {
	h.mu.Lock()
	conns := h.users[c.UserID]
	if conns == nil {
		conns = make(map[*Client]struct{})
		h.users[c.UserID] = conns
	}
	first := len(conns) == 0
	conns[c] = struct{}{}

	pending, hadTimer := h.timers[c.UserID]
	if hadTimer {
		pending.timer.Stop()
		delete(h.timers, c.UserID)
	}
	h.mu.Unlock()

	c.Start()
	observability.IncWSActive()

	if first && !hadTimer {
		h.setPresence(ctx, c.UserID, models.StatusOnline)
	}
}

// Unregister detaches a client from the hub and every room. When it was the
// user's last socket the offline grace timer starts.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	conns, ok := h.users[c.UserID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, tracked := conns[c]; !tracked {
		h.mu.Unlock()
		return
	}
	delete(conns, c)
	for chatID := range c.rooms {
		h.leaveLocked(chatID, c)
	}

	last := len(conns) == 0
	if last {
		delete(h.users, c.UserID)
		h.seq++
		seq := h.seq
		userID := c.UserID
		h.timers[userID] = offlineTimer{
			seq:   seq,
			timer: time.AfterFunc(h.grace, func() { h.expirePresence(userID, seq) }),
		}
	}
	h.mu.Unlock()

	observability.DecWSActive()
	c.Close(websocket.CloseNormalClosure, "")
}

func (h *Hub) expirePresence(userID int, seq uint64) {
	h.mu.Lock()
	pending, ok := h.timers[userID]
	if !ok || pending.seq != seq || len(h.users[userID]) > 0 {
		h.mu.Unlock()
		return
	}
	delete(h.timers, userID)
	h.mu.Unlock()

	h.setPresence(context.Background(), userID, models.StatusOffline)
}

func (h *Hub) setPresence(ctx context.Context, userID int, status string) {
	h.presenceMu.Lock()
	defer h.presenceMu.Unlock()

	if status == models.StatusOffline {
		h.mu.RLock()
		connected := len(h.users[userID]) > 0
		h.mu.RUnlock()
		if connected {
			return
		}
	}
	if h.statuses != nil {
		if err := h.statuses.SetStatus(ctx, userID, status); err != nil {
			log.Warn().Err(err).Int("user_id", userID).Str("status", status).Msg("persist presence failed")
		}
	}
	h.BroadcastAll(models.Event{Event: EventUserStatusChanged, Data: statusPayload(userID, status, time.Now())})
}

// Join subscribes a client to a chat room.
func (h *Hub) Join(chatID int, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.users[c.UserID][c]; !ok {
		return
	}
	room := h.rooms[chatID]
	if room == nil {
		room = make(map[*Client]struct{})
		h.rooms[chatID] = room
	}
	room[c] = struct{}{}
	c.rooms[chatID] = struct{}{}
}

// Leave unsubscribes a client from a chat room.
func (h *Hub) Leave(chatID int, c *Client) {
	h.mu.Lock()
	h.leaveLocked(chatID, c)
	h.mu.Unlock()
}

// JoinUser subscribes every open socket of userID to the room.
func (h *Hub) JoinUser(chatID, userID int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := h.users[userID]
	if len(conns) == 0 {
		return
	}
	room := h.rooms[chatID]
	if room == nil {
		room = make(map[*Client]struct{})
		h.rooms[chatID] = room
	}
	for c := range conns {
		room[c] = struct{}{}
		c.rooms[chatID] = struct{}{}
	}
}

// LeaveUser unsubscribes every open socket of userID from the room.
func (h *Hub) LeaveUser(chatID, userID int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.users[userID] {
		h.leaveLocked(chatID, c)
	}
}

func (h *Hub) leaveLocked(chatID int, c *Client) {
	delete(c.rooms, chatID)
	room := h.rooms[chatID]
	if room == nil {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, chatID)
	}
}

// InRoom reports whether the client is subscribed to the chat room.
func (h *Hub) InRoom(chatID int, c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[chatID][c]
	return ok
}

// IsOnline reports whether userID has at least one open socket.
func (h *Hub) IsOnline(userID int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

// BroadcastToChat delivers evt to every socket in the room except those of
// excludeUserID (0 excludes nobody). It returns the number of sockets reached.
func (h *Hub) BroadcastToChat(chatID int, evt models.Event, excludeUserID int) int {
	payload, ok := encode(evt)
	if !ok {
		return 0
	}
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[chatID]))
	for c := range h.rooms[chatID] {
		if excludeUserID != 0 && c.UserID == excludeUserID {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	return deliver(targets, evt.Event, payload)
}

// SendToUser delivers evt to every socket of userID.
func (h *Hub) SendToUser(userID int, evt models.Event) int {
	payload, ok := encode(evt)
	if !ok {
		return 0
	}
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.users[userID]))
	for c := range h.users[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	return deliver(targets, evt.Event, payload)
}

// BroadcastAll delivers evt to every connected socket.
func (h *Hub) BroadcastAll(evt models.Event) int {
	payload, ok := encode(evt)
	if !ok {
		return 0
	}
	h.mu.RLock()
	targets := make([]*Client, 0)
	for _, conns := range h.users {
		for c := range conns {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	return deliver(targets, evt.Event, payload)
}

// Close disconnects every client and drops pending presence timers.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0)
	for _, conns := range h.users {
		for c := range conns {
			clients = append(clients, c)
		}
	}
	for _, t := range h.timers {
		t.timer.Stop()
	}
	h.users = make(map[int]map[*Client]struct{})
	h.rooms = make(map[int]map[*Client]struct{})
	h.timers = make(map[int]offlineTimer)
	h.mu.Unlock()

	for _, c := range clients {
		c.Close(websocket.CloseGoingAway, "server shutdown")
	}
}

func encode(evt models.Event) ([]byte, bool) {
	payload, err := json.Marshal(evt)
	if err != nil {
		log.Error().Err(err).Str("event", evt.Event).Msg("encode websocket event failed")
		return nil, false
	}
	return payload, true
}

func deliver(targets []*Client, event string, payload []byte) int {
	delivered := 0
	for _, c := range targets {
		if err := c.Send(payload); err == nil {
			delivered++
		}
	}
	if delivered > 0 {
		observability.IncWSEvent("out", event)
	}
	return delivered
}
