package delivery

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/chatrelay/internal/apperr"
	"github.com/chatrelay/internal/events"
	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/model"
)

// ListMessages returns the chat history oldest-first and, as a side effect,
// marks everything the reader had not seen as read. Each affected sender gets
// a messageRead event listing which of their messages were covered.
func (s *Service) ListMessages(ctx context.Context, userHex, chatHex string) ([]model.Message, error) {
	defer logger.DeferLogDuration("delivery.ListMessages", time.Now())()

	user, err := parseID(userHex, "user id")
	if err != nil {
		return nil, err
	}
	chatID, err := parseID(chatHex, "chat id")
	if err != nil {
		return nil, err
	}
	if _, err := s.loadChatForUser(ctx, chatID, user); err != nil {
		return nil, err
	}

	messages, err := s.messages.ListByChat(ctx, chatID)
	if err != nil {
		return nil, apperr.Internal("list messages", err)
	}

	unreadBySender := unreadGroupedBySender(messages, user)
	if len(unreadBySender) > 0 {
		if _, err := s.messages.MarkChatRead(ctx, chatID, user); err != nil {
			logger.Errorf("mark chat read chat=%s user=%s: %v", chatHex, userHex, err)
		} else {
			s.notifyRead(chatHex, userHex, unreadBySender)
		}
	}
	return messages, nil
}

// MarkChatRead marks every foreign unread message in the chat as read in one
// bulk update. Returns whether anything changed and how many messages the
// read now covers; repeats are no-ops and emit nothing.
func (s *Service) MarkChatRead(ctx context.Context, userHex, chatHex string) (updated bool, covered int, err error) {
	defer logger.DeferLogDuration("delivery.MarkChatRead", time.Now())()

	user, err := parseID(userHex, "user id")
	if err != nil {
		return false, 0, err
	}
	chatID, err := parseID(chatHex, "chat id")
	if err != nil {
		return false, 0, err
	}
	if _, err := s.loadChatForUser(ctx, chatID, user); err != nil {
		return false, 0, err
	}

	messages, err := s.messages.ListByChat(ctx, chatID)
	if err != nil {
		return false, 0, apperr.Internal("list messages", err)
	}
	unreadBySender := unreadGroupedBySender(messages, user)

	updated, err = s.messages.MarkChatRead(ctx, chatID, user)
	if err != nil {
		return false, 0, apperr.Internal("mark chat read", err)
	}
	if updated {
		s.notifyRead(chatHex, userHex, unreadBySender)
	}
	for _, ids := range unreadBySender {
		covered += len(ids)
	}
	return updated, covered, nil
}

// unreadGroupedBySender maps sender hex -> ids of their messages the reader
// has not seen yet. The reader's own messages never count.
func unreadGroupedBySender(messages []model.Message, reader primitive.ObjectID) map[string][]string {
	out := make(map[string][]string)
	for _, m := range messages {
		if m.Sender == reader || m.ReadByUser(reader) {
			continue
		}
		key := m.Sender.Hex()
		out[key] = append(out[key], m.ID.Hex())
	}
	return out
}

func (s *Service) notifyRead(chatHex, readerHex string, unreadBySender map[string][]string) {
	for senderHex, messageIDs := range unreadBySender {
		s.emitter.EmitToUser(senderHex, events.Event{Type: events.MessageRead, Payload: events.MessageReadPayload{
			ChatID:     chatHex,
			ReadBy:     readerHex,
			MessageIDs: messageIDs,
		}})
	}
}
