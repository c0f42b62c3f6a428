package ws

import (
	"context"
	"sync"
	"time"

	"github.com/chatrelay/internal/events"
	"github.com/chatrelay/internal/logger"
)

// Roster resolves chat membership for join checks and typing relay.
type Roster interface {
	Participants(ctx context.Context, chatID string) ([]string, error)
}

// HandlerFunc processes one incoming socket event.
type HandlerFunc func(ctx context.Context, c *Client, msg Incoming)

// Hub tracks live connections keyed by user id. A user may hold several
// connections (tabs, devices); events addressed to the user reach all of
// them. Incoming events dispatch through an explicit registry so each event
// name maps to exactly one handler.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	rooms    map[string]map[*Client]struct{}
	total    int
	maxConns int

	roster   Roster
	handlers map[events.Type]HandlerFunc

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(roster Roster, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	h := &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
		maxConns:   maxConns,
		roster:     roster,
		handlers:   make(map[events.Type]HandlerFunc),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
	h.Handle(events.JoinChat, h.handleJoinChat)
	h.Handle(events.LeaveChat, h.handleLeaveChat)
	h.Handle(events.StartTyping, h.handleTyping)
	h.Handle(events.StopTyping, h.handleTyping)
	return h
}

// Handle binds an event name to its handler. Later bindings replace earlier
// ones.
func (h *Hub) Handle(t events.Type, fn HandlerFunc) {
	h.handlers[t] = fn
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.rooms = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()
}

// removeClient is the per-connection teardown: the connection leaves every
// chat room it joined, so no room keeps a reference to a dead socket.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	if len(clients) == 0 {
		delete(h.clients, c.userID)
	}
	for chatID := range c.joined {
		if room, ok := h.rooms[chatID]; ok {
			delete(room, c)
			if len(room) == 0 {
				delete(h.rooms, chatID)
			}
		}
	}
	c.joined = nil
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()
}

// dispatch routes one incoming event through the registry.
func (h *Hub) dispatch(ctx context.Context, c *Client, msg Incoming) {
	fn, ok := h.handlers[msg.Type]
	if !ok {
		h.sendToClient(c, events.Event{Type: events.Error, Payload: "unknown event type"})
		return
	}
	fn(ctx, c, msg)
}

func (h *Hub) handleJoinChat(ctx context.Context, c *Client, msg Incoming) {
	if msg.ChatID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	participants, err := h.roster.Participants(ctx, msg.ChatID)
	if err != nil {
		logger.Errorf("ws join chat=%s user=%s: %v", msg.ChatID, c.userID, err)
		h.sendToClient(c, events.Event{Type: events.Error, Payload: "chat not found"})
		return
	}
	member := false
	for _, id := range participants {
		if id == c.userID {
			member = true
			break
		}
	}
	if !member {
		h.sendToClient(c, events.Event{Type: events.Error, Payload: "not a participant"})
		return
	}

	h.mu.Lock()
	if _, ok := h.rooms[msg.ChatID]; !ok {
		h.rooms[msg.ChatID] = make(map[*Client]struct{})
	}
	h.rooms[msg.ChatID][c] = struct{}{}
	if c.joined == nil {
		c.joined = make(map[string]struct{})
	}
	c.joined[msg.ChatID] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) handleLeaveChat(ctx context.Context, c *Client, msg Incoming) {
	if msg.ChatID == "" {
		return
	}
	h.mu.Lock()
	if room, ok := h.rooms[msg.ChatID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, msg.ChatID)
		}
	}
	delete(c.joined, msg.ChatID)
	h.mu.Unlock()
}

// handleTyping relays start/stop typing to the other connections joined to
// the chat. Indicators are transient; nothing is persisted.
func (h *Hub) handleTyping(ctx context.Context, c *Client, msg Incoming) {
	if msg.ChatID == "" {
		return
	}
	out := events.Event{Type: msg.Type, Payload: events.TypingPayload{
		ChatID: msg.ChatID,
		UserID: c.userID,
	}}

	h.mu.RLock()
	room, ok := h.rooms[msg.ChatID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(room))
	for member := range room {
		if member.userID != c.userID {
			targets = append(targets, member)
		}
	}
	h.mu.RUnlock()

	for _, t := range targets {
		h.sendToClient(t, out)
	}
}

// EmitToUser delivers ev to every live connection of userID on this
// instance. No-op when the user is not connected here.
func (h *Hub) EmitToUser(userID string, ev events.Event) {
	h.mu.RLock()
	clients, ok := h.clients[userID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, ev)
	}
}

// IsOnline reports whether the user has at least one live connection here.
// Push notifications are skipped for online users.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

func (h *Hub) sendToClient(c *Client, ev events.Event) {
	select {
	case c.send <- ev:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
