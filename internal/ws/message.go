package ws

import "github.com/chatrelay/internal/events"

// Incoming is what the client sends to the server. The delivery path itself
// is REST; sockets only carry presence-style events (join, leave, typing).
type Incoming struct {
	Type   events.Type `json:"type"`
	ChatID string      `json:"chatId,omitempty"`
}
