// Package delivery orchestrates the message lifecycle: validation, duplicate
// suppression, attachment storage, status progression and per-user event
// fan-out. Handlers call it; it never touches HTTP.
package delivery

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/chatrelay/internal/apperr"
	"github.com/chatrelay/internal/blob"
	"github.com/chatrelay/internal/events"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/repository"
)

// MessageStore is the message persistence contract, satisfied by
// repository.MessageRepo.
type MessageStore interface {
	Create(ctx context.Context, msg *model.Message) error
	FindDuplicate(ctx context.Context, sender, chat primitive.ObjectID, content string, fileIDs []string, window time.Duration) (*model.Message, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*model.Message, error)
	GetStructured(ctx context.Context, id primitive.ObjectID) (*model.Message, error)
	Update(ctx context.Context, msg *model.Message) error
	UpdateStatus(ctx context.Context, id primitive.ObjectID, next model.MessageStatus, reader primitive.ObjectID) (*model.Message, error)
	MarkChatRead(ctx context.Context, chat, reader primitive.ObjectID) (bool, error)
	ListByChat(ctx context.Context, chat primitive.ObjectID) ([]model.Message, error)
	LastMessage(ctx context.Context, chat primitive.ObjectID) (*model.Message, error)
	DeleteByID(ctx context.Context, id primitive.ObjectID) error
	DeleteAllOfChat(ctx context.Context, chat primitive.ObjectID) ([]model.Message, error)
}

// ChatDirectory resolves chats and maintains their lastMessage pointer,
// satisfied by repository.ChatRepo.
type ChatDirectory interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*model.Chat, error)
	SetLastMessage(ctx context.Context, chatID primitive.ObjectID, messageID *primitive.ObjectID) error
}

// BlobStore stores attachment payloads with content dedup, satisfied by
// blob.Store.
type BlobStore interface {
	Put(ctx context.Context, name, mimeType, uploaderID string, data []byte) (info *blob.FileInfo, reused bool, err error)
	Delete(ctx context.Context, fileID string) error
}

// Pusher sends web push notifications. nil disables push.
type Pusher interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}

// Presence reports whether a user has a live socket; push is skipped for
// online users. nil means unknown, which pushes to everyone but the sender.
type Presence interface {
	IsOnline(userID string) bool
}

type Config struct {
	PublicBaseURL  string
	DedupWindow    time.Duration
	MaxAttachments int
}

type Service struct {
	messages MessageStore
	chats    ChatDirectory
	blobs    BlobStore
	emitter  events.Emitter
	push     Pusher
	presence Presence
	cfg      Config
}

func New(messages MessageStore, chats ChatDirectory, blobs BlobStore, emitter events.Emitter, push Pusher, presence Presence, cfg Config) *Service {
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 5 * time.Minute
	}
	if cfg.MaxAttachments <= 0 {
		cfg.MaxAttachments = 5
	}
	return &Service{
		messages: messages,
		chats:    chats,
		blobs:    blobs,
		emitter:  emitter,
		push:     push,
		presence: presence,
		cfg:      cfg,
	}
}

// Upload is one attachment arriving with a send request, already read into
// memory by the handler (uploads are size-capped).
type Upload struct {
	Name     string
	MimeType string
	Size     int64
	Data     []byte
}

// Acknowledgment is delivered to the sender only, both in the HTTP response
// and as a socket event.
type Acknowledgment struct {
	Type           string   `json:"type"`
	Message        string   `json:"message"`
	DuplicateFiles []string `json:"duplicateFiles,omitempty"`
}

const (
	AckSent      = "acknowledgment"
	AckDuplicate = "duplicate"
	AckFailed    = "failed"
)

// MessageView is a message decorated with response-only projections.
type MessageView struct {
	*model.Message
	UploadStatus   *events.UploadState `json:"uploadStatus,omitempty"`
	DuplicateFiles []string            `json:"duplicateFiles,omitempty"`
}

// SendResult is what the send endpoint returns.
type SendResult struct {
	Message        MessageView     `json:"message"`
	Acknowledgment *Acknowledgment `json:"acknowledgment,omitempty"`
}

// fileURL builds the public download URL for a stored blob.
func (s *Service) fileURL(fileID string) string {
	return s.cfg.PublicBaseURL + "/api/files/" + fileID
}

// loadChatForUser fetches the chat and enforces membership.
func (s *Service) loadChatForUser(ctx context.Context, chatID, userID primitive.ObjectID) (*model.Chat, error) {
	chat, err := s.chats.GetByID(ctx, chatID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("no chat found")
	}
	if err != nil {
		return nil, apperr.Internal("load chat", err)
	}
	if !chat.HasParticipant(userID) {
		return nil, apperr.AuthFailure("you are not a participant in this chat")
	}
	return chat, nil
}

func parseID(hex, what string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return primitive.NilObjectID, apperr.Validation("invalid " + what)
	}
	return id, nil
}

// emitToParticipants fans an event out to every participant, optionally
// excluding one user.
func (s *Service) emitToParticipants(chat *model.Chat, ev events.Event, exclude primitive.ObjectID) {
	for _, p := range chat.Participants {
		if p == exclude {
			continue
		}
		s.emitter.EmitToUser(p.Hex(), ev)
	}
}

// notifyOffline pushes a notification to every participant except the sender
// who has no live connection. Best-effort, fire and forget.
func (s *Service) notifyOffline(chat *model.Chat, sender primitive.ObjectID, title, body string, data map[string]string) {
	if s.push == nil {
		return
	}
	for _, p := range chat.Participants {
		if p == sender {
			continue
		}
		uid := p.Hex()
		if s.presence != nil && s.presence.IsOnline(uid) {
			continue
		}
		go s.push.Notify(context.Background(), uid, title, body, data)
	}
}
