package delivery

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/chatrelay/internal/apperr"
	"github.com/chatrelay/internal/events"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/repository"
)

// AdvanceStatus moves a message forward along the status path on behalf of a
// recipient (delivered or read). Backward transitions are ignored, never
// errors: the caller's goal state was already reached. The sender gets a
// messageUpdated event when the status actually changed.
func (s *Service) AdvanceStatus(ctx context.Context, userHex, messageHex string, next model.MessageStatus) (*model.Message, error) {
	user, err := parseID(userHex, "user id")
	if err != nil {
		return nil, err
	}
	messageID, err := parseID(messageHex, "message id")
	if err != nil {
		return nil, err
	}
	if !next.Valid() {
		return nil, apperr.Validation("unknown message status")
	}
	if next != model.StatusDelivered && next != model.StatusRead {
		return nil, apperr.Validation("only delivered and read can be reported")
	}

	msg, err := s.messages.GetByID(ctx, messageID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("message not found")
	}
	if err != nil {
		return nil, apperr.Internal("load message", err)
	}
	if msg.Sender == user {
		return nil, apperr.Validation("cannot report status for your own message")
	}
	if _, err := s.loadChatForUser(ctx, msg.Chat, user); err != nil {
		return nil, err
	}

	before := msg.Status
	reader := user
	if next != model.StatusRead {
		reader = primitive.NilObjectID
	}
	updated, err := s.messages.UpdateStatus(ctx, messageID, next, reader)
	if err != nil {
		return nil, apperr.Internal("update message status", err)
	}

	if updated.Status != before {
		s.emitter.EmitToUser(msg.Sender.Hex(), events.Event{
			Type:    events.MessageUpdated,
			Payload: MessageView{Message: updated},
		})
	}
	return updated, nil
}
