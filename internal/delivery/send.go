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

// SendMessage runs the full send pipeline. A retry inside the dedup window
// with the same sender, chat and content returns the original message with a
// duplicate acknowledgment instead of creating a second one.
func (s *Service) SendMessage(ctx context.Context, senderHex, chatHex, content string, uploads []Upload) (*SendResult, error) {
	defer logger.DeferLogDuration("delivery.SendMessage", time.Now())()

	sender, err := parseID(senderHex, "user id")
	if err != nil {
		return nil, err
	}
	chatID, err := parseID(chatHex, "chat id")
	if err != nil {
		return nil, err
	}
	if content == "" && len(uploads) == 0 {
		return nil, apperr.Validation("no content provided")
	}
	if len(uploads) > s.cfg.MaxAttachments {
		return nil, apperr.Validation("too many attachments")
	}

	chat, err := s.loadChatForUser(ctx, chatID, sender)
	if err != nil {
		return nil, err
	}

	// Duplicate suppression keys on content; attachment-only sends have no
	// stored file ids yet, so they always create a fresh message.
	if content != "" {
		dup, err := s.messages.FindDuplicate(ctx, sender, chatID, content, nil, s.cfg.DedupWindow)
		if err != nil {
			return nil, apperr.Internal("duplicate check", err)
		}
		if dup != nil {
			logger.Infof("duplicate message suppressed chat=%s user=%s original=%s", chatHex, senderHex, dup.ID.Hex())
			view, err := s.structuredView(ctx, dup.ID)
			if err != nil {
				return nil, err
			}
			return &SendResult{
				Message:        view,
				Acknowledgment: &Acknowledgment{Type: AckDuplicate, Message: "duplicate message suppressed"},
			}, nil
		}
	}

	if len(uploads) == 0 {
		return s.sendText(ctx, chat, sender, content)
	}
	return s.sendWithAttachments(ctx, chat, sender, content, uploads)
}

// sendText creates a text-only message, immediately sent.
func (s *Service) sendText(ctx context.Context, chat *model.Chat, sender primitive.ObjectID, content string) (*SendResult, error) {
	msg := &model.Message{
		Sender:  sender,
		Chat:    chat.ID,
		Content: content,
		Status:  model.StatusSent,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, apperr.Internal("create message", err)
	}
	if err := s.chats.SetLastMessage(ctx, chat.ID, &msg.ID); err != nil {
		logger.Errorf("set last message chat=%s: %v", chat.ID.Hex(), err)
	}

	view, err := s.structuredView(ctx, msg.ID)
	if err != nil {
		return nil, err
	}
	s.emitToParticipants(chat, events.Event{Type: events.NewMessage, Payload: view}, primitive.NilObjectID)
	s.pushNewMessage(chat, view)

	return &SendResult{
		Message:        view,
		Acknowledgment: &Acknowledgment{Type: AckSent, Message: "Message sent successfully"},
	}, nil
}

// sendWithAttachments broadcasts a pending placeholder first, stores each
// blob with per-file progress events, then finalizes the message. One failed
// file never fails the whole send; the message fails only when nothing at all
// could be delivered.
func (s *Service) sendWithAttachments(ctx context.Context, chat *model.Chat, sender primitive.ObjectID, content string, uploads []Upload) (*SendResult, error) {
	placeholders := make([]model.Attachment, 0, len(uploads))
	for _, u := range uploads {
		placeholders = append(placeholders, model.PlaceholderAttachment(u.Name, u.MimeType, u.Size))
	}
	pending := &model.Message{
		Sender:      sender,
		Chat:        chat.ID,
		Content:     content,
		Attachments: placeholders,
		Status:      model.StatusSending,
	}
	if err := s.messages.Create(ctx, pending); err != nil {
		return nil, apperr.Internal("create pending message", err)
	}

	total := len(uploads)
	pendingView, err := s.structuredView(ctx, pending.ID)
	if err != nil {
		return nil, err
	}
	pendingView.UploadStatus = &events.UploadState{InProgress: true, Progress: 0, Total: total}
	s.emitToParticipants(chat, events.Event{Type: events.NewMessage, Payload: pendingView}, primitive.NilObjectID)

	stored := make([]model.Attachment, 0, total)
	processed := 0
	for _, u := range uploads {
		processed++
		info, reused, err := s.blobs.Put(ctx, u.Name, u.MimeType, sender.Hex(), u.Data)
		if err != nil {
			logger.Errorf("store attachment %q message=%s: %v", u.Name, pending.ID.Hex(), err)
			s.emitToParticipants(chat, events.Event{Type: events.UploadProgress, Payload: events.UploadProgressPayload{
				MessageID:    pending.ID.Hex(),
				ChatID:       chat.ID.Hex(),
				FileName:     u.Name,
				Failed:       true,
				UploadStatus: events.UploadState{InProgress: processed < total, Progress: processed, Total: total},
			}}, primitive.NilObjectID)
			continue
		}
		if reused {
			logger.Infof("duplicate attachment %q reused blob=%s", u.Name, info.ID)
		}
		stored = append(stored, model.Attachment{
			URL:         s.fileURL(info.ID),
			FileID:      info.ID,
			Name:        u.Name,
			Size:        u.Size,
			Type:        u.MimeType,
			IsDuplicate: reused,
		})
		s.emitToParticipants(chat, events.Event{Type: events.UploadProgress, Payload: events.UploadProgressPayload{
			MessageID:    pending.ID.Hex(),
			ChatID:       chat.ID.Hex(),
			FileName:     u.Name,
			UploadStatus: events.UploadState{InProgress: processed < total, Progress: processed, Total: total},
		}}, primitive.NilObjectID)
	}

	completed := len(stored)
	status := model.StatusSent
	if completed == 0 && content == "" {
		status = model.StatusFailed
	}
	pending.Attachments = stored
	pending.Status = status
	if err := s.messages.Update(ctx, pending); err != nil {
		return nil, apperr.Internal("finalize message", err)
	}
	if status != model.StatusFailed {
		if err := s.chats.SetLastMessage(ctx, chat.ID, &pending.ID); err != nil {
			logger.Errorf("set last message chat=%s: %v", chat.ID.Hex(), err)
		}
	}

	var duplicateFiles []string
	for _, a := range stored {
		if a.IsDuplicate {
			duplicateFiles = append(duplicateFiles, a.Name)
		}
	}

	finalView, err := s.structuredView(ctx, pending.ID)
	if err != nil {
		return nil, err
	}
	// The stored slice carries the response-only isDuplicate flags the
	// database round-trip drops.
	finalView.Attachments = stored
	finalView.UploadStatus = &events.UploadState{InProgress: false, Progress: completed, Total: total}
	finalView.DuplicateFiles = duplicateFiles
	s.emitToParticipants(chat, events.Event{Type: events.MessageUpdated, Payload: finalView}, primitive.NilObjectID)

	ack := &Acknowledgment{Type: AckSent, Message: "Message sent successfully", DuplicateFiles: duplicateFiles}
	if status == model.StatusFailed {
		ack = &Acknowledgment{Type: AckFailed, Message: "all attachments failed to upload"}
	}
	s.emitter.EmitToUser(sender.Hex(), events.Event{Type: events.MessageAcknowledgment, Payload: ack})

	if status != model.StatusFailed {
		s.pushNewMessage(chat, finalView)
	}
	return &SendResult{Message: finalView, Acknowledgment: ack}, nil
}

func (s *Service) structuredView(ctx context.Context, id primitive.ObjectID) (MessageView, error) {
	msg, err := s.messages.GetStructured(ctx, id)
	if err != nil {
		return MessageView{}, apperr.Internal("load structured message", err)
	}
	return MessageView{Message: msg}, nil
}

// pushNewMessage notifies offline recipients: sender name as title,
// truncated content or an attachment marker as body.
func (s *Service) pushNewMessage(chat *model.Chat, view MessageView) {
	if s.push == nil {
		return
	}
	title := "New message"
	if view.SenderInfo != nil && view.SenderInfo.Username != "" {
		title = view.SenderInfo.Username
	}
	body := view.Content
	if body == "" {
		body = "Attachment"
	}
	if len(body) > 120 {
		body = body[:117] + "..."
	}
	data := map[string]string{
		"chatId":    view.Chat.Hex(),
		"messageId": view.ID.Hex(),
	}
	s.notifyOffline(chat, view.Sender, title, body, data)
}
