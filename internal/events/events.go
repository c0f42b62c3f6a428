// Package events defines the server-to-client event vocabulary and the
// fan-out contract. Events are addressed to users, never to sockets: every
// open connection of a recipient receives the event.
package events

type Type string

const (
	// Outbound.
	NewMessage            Type = "newMessage"
	MessageUpdated        Type = "messageUpdated"
	MessageDeleted        Type = "messageDeleted"
	MessageRead           Type = "messageRead"
	MessageAcknowledgment Type = "messageAcknowledgment"
	UploadProgress        Type = "uploadProgress"
	Error                 Type = "error"

	// Inbound, relayed to other chat members as-is.
	StartTyping Type = "startTyping"
	StopTyping  Type = "stopTyping"

	// Inbound only.
	JoinChat  Type = "joinChat"
	LeaveChat Type = "leaveChat"
)

// Event is the wire envelope for everything pushed over a socket.
type Event struct {
	Type    Type `json:"type"`
	Payload any  `json:"payload"`
}

// Emitter delivers an event to every live connection of a user. The hub
// implements it directly; the Redis bridge implements it for multi-instance
// deployments.
type Emitter interface {
	EmitToUser(userID string, ev Event)
}

// --- Typed payloads (hot-path, no map[string]any) ---

// UploadState describes attachment upload progress. Progress counts
// processed files, failures included, so clients can show "2 of 3" even when
// a file was skipped.
type UploadState struct {
	InProgress bool `json:"inProgress"`
	Progress   int  `json:"progress"`
	Total      int  `json:"total"`
}

// UploadProgressPayload reports one attachment's progress inside a send.
type UploadProgressPayload struct {
	MessageID    string      `json:"messageId"`
	ChatID       string      `json:"chatId"`
	FileName     string      `json:"fileName,omitempty"`
	Failed       bool        `json:"failed,omitempty"`
	UploadStatus UploadState `json:"uploadStatus"`
}

// MessageReadPayload tells a sender their messages in a chat were read.
// MessageIDs lists the sender's own messages covered by the read, when known.
type MessageReadPayload struct {
	ChatID     string   `json:"chatId"`
	ReadBy     string   `json:"readBy"`
	MessageIDs []string `json:"messageIds,omitempty"`
}

// MessageDeletedPayload goes to the remaining participants after a delete.
// LastMessage is nil when the chat became empty.
type MessageDeletedPayload struct {
	MessageID   string              `json:"messageId"`
	ChatID      string              `json:"chatId"`
	LastMessage *LastMessageSummary `json:"lastMessage"`
}

// LastMessageSummary lets clients refresh a chat list row without a refetch.
type LastMessageSummary struct {
	Content     string `json:"content"`
	Attachments int    `json:"attachments"`
}

// TypingPayload relays typing indicators.
type TypingPayload struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}
