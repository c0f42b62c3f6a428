package delivery

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/chatrelay/internal/apperr"
	"github.com/chatrelay/internal/events"
	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/repository"
)

// DeleteMessage removes a message, its blobs (best effort) and repairs the
// chat's lastMessage pointer when the deleted message was it. Only the sender
// may delete, and only while still a chat participant. The remaining
// participants get a messageDeleted event; the deleter does not.
func (s *Service) DeleteMessage(ctx context.Context, userHex, messageHex string) error {
	defer logger.DeferLogDuration("delivery.DeleteMessage", time.Now())()

	user, err := parseID(userHex, "user id")
	if err != nil {
		return err
	}
	messageID, err := parseID(messageHex, "message id")
	if err != nil {
		return err
	}

	msg, err := s.messages.GetByID(ctx, messageID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.Validation("invalid message id, message not found")
	}
	if err != nil {
		return apperr.Internal("load message", err)
	}

	chat, err := s.chats.GetByID(ctx, msg.Chat)
	if err != nil {
		return apperr.Internal("chat not found for message", err)
	}
	if !chat.HasParticipant(user) {
		return apperr.AuthFailure("you don't own the message")
	}
	if msg.Sender != user {
		return apperr.AuthFailure("you don't own the message")
	}

	s.deleteBlobs(ctx, msg)

	if err := s.messages.DeleteByID(ctx, messageID); err != nil {
		return apperr.Internal("delete message", err)
	}

	// Repoint lastMessage only when the deleted message held it.
	var summary *events.LastMessageSummary
	if chat.LastMessage != nil && *chat.LastMessage == messageID {
		last, err := s.messages.LastMessage(ctx, chat.ID)
		if err != nil {
			logger.Errorf("recompute last message chat=%s: %v", chat.ID.Hex(), err)
		} else {
			var lastID *primitive.ObjectID
			if last != nil {
				lastID = &last.ID
				summary = &events.LastMessageSummary{
					Content:     last.Content,
					Attachments: len(last.Attachments),
				}
			}
			if err := s.chats.SetLastMessage(ctx, chat.ID, lastID); err != nil {
				logger.Errorf("set last message chat=%s: %v", chat.ID.Hex(), err)
			}
		}
	}

	s.emitToParticipants(chat, events.Event{Type: events.MessageDeleted, Payload: events.MessageDeletedPayload{
		MessageID:   messageID.Hex(),
		ChatID:      chat.ID.Hex(),
		LastMessage: summary,
	}}, user)
	return nil
}

// DeleteAllMessagesOfChat wipes a chat's history with its blobs and clears
// the lastMessage pointer. In group chats only the admin may do it. Used by
// the chat service when a chat is torn down; no per-message events go out.
func (s *Service) DeleteAllMessagesOfChat(ctx context.Context, userHex, chatHex string) (int, error) {
	defer logger.DeferLogDuration("delivery.DeleteAllMessagesOfChat", time.Now())()

	user, err := parseID(userHex, "user id")
	if err != nil {
		return 0, err
	}
	chatID, err := parseID(chatHex, "chat id")
	if err != nil {
		return 0, err
	}
	chat, err := s.loadChatForUser(ctx, chatID, user)
	if err != nil {
		return 0, err
	}
	if chat.IsGroupChat && chat.Admin != user {
		return 0, apperr.AuthFailure("only the chat admin can clear the history")
	}

	deleted, err := s.messages.DeleteAllOfChat(ctx, chatID)
	if err != nil {
		return 0, apperr.Internal("delete chat messages", err)
	}
	for i := range deleted {
		s.deleteBlobs(ctx, &deleted[i])
	}
	if err := s.chats.SetLastMessage(ctx, chatID, nil); err != nil {
		logger.Errorf("clear last message chat=%s: %v", chatHex, err)
	}
	return len(deleted), nil
}

// deleteBlobs removes a message's stored attachments. Failures are logged
// and skipped so the document delete still proceeds.
func (s *Service) deleteBlobs(ctx context.Context, msg *model.Message) {
	for _, a := range msg.Attachments {
		if a.FileID == "" || a.Pending() {
			continue
		}
		if err := s.blobs.Delete(ctx, a.FileID); err != nil {
			logger.Errorf("delete blob %s of message %s: %v", a.FileID, msg.ID.Hex(), err)
		}
	}
}
