package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/chatrelay/internal/apperr"
	"github.com/chatrelay/internal/delivery"
	"github.com/chatrelay/internal/middleware"
	"github.com/chatrelay/internal/model"
)

type MessageHandler struct {
	svc           *delivery.Service
	maxUploadSize int64
}

func NewMessageHandler(svc *delivery.Service, maxUploadSize int64) *MessageHandler {
	return &MessageHandler{svc: svc, maxUploadSize: maxUploadSize}
}

// GetAllMessages returns the chat history and marks it read for the caller.
// GET /api/chats/{chatId}/messages
func (h *MessageHandler) GetAllMessages(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	chatID := chi.URLParam(r, "chatId")

	messages, err := h.svc.ListMessages(r.Context(), userID, chatID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{
		Message: "messages retrieved successfully",
		Data:    messages,
	})
}

// SendMessage accepts a text message (JSON) or a multipart form with up to
// the configured number of attachment files.
// POST /api/chats/{chatId}/messages
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	chatID := chi.URLParam(r, "chatId")

	content, uploads, err := h.parseSendRequest(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	result, err := h.svc.SendMessage(r.Context(), userID, chatID, content, uploads)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, successResponse{
		Message: "Message sent successfully",
		Data:    result,
	})
}

// parseSendRequest reads content and attachments from either a multipart
// form or a JSON body. Attachment payloads are buffered in memory; the form
// parse is capped by the configured upload size.
func (h *MessageHandler) parseSendRequest(r *http.Request) (string, []delivery.Upload, error) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		var body struct {
			Content string `json:"content"`
		}
		if r.Body != nil {
			if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil && err != io.EOF {
				return "", nil, apperr.Validation("malformed request body")
			}
		}
		return strings.TrimSpace(body.Content), nil, nil
	}

	r.Body = http.MaxBytesReader(nil, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		return "", nil, apperr.Validation("attachments exceed the upload limit")
	}
	content := strings.TrimSpace(r.FormValue("content"))

	var uploads []delivery.Upload
	if r.MultipartForm != nil {
		for _, fh := range r.MultipartForm.File["attachments"] {
			f, err := fh.Open()
			if err != nil {
				return "", nil, apperr.Internal("open attachment", err)
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return "", nil, apperr.Internal("read attachment", err)
			}
			// Browsers URL-encode spaces as '+' in some upload paths; store
			// the human-readable name.
			name := strings.TrimSpace(strings.ReplaceAll(fh.Filename, "+", " "))
			uploads = append(uploads, delivery.Upload{
				Name:     name,
				MimeType: fh.Header.Get("Content-Type"),
				Size:     fh.Size,
				Data:     data,
			})
		}
	}
	return content, uploads, nil
}

// MarkMessagesAsRead marks all foreign messages in the chat read.
// POST /api/chats/{chatId}/messages/read
func (h *MessageHandler) MarkMessagesAsRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	chatID := chi.URLParam(r, "chatId")

	updated, covered, err := h.svc.MarkChatRead(r.Context(), userID, chatID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{
		Message: "Messages marked as read",
		Data: map[string]any{
			"updated":      updated,
			"readMessages": covered,
		},
	})
}

// UpdateMessageStatus lets a recipient report delivered or read for a single
// message.
// POST /api/messages/{messageId}/status
func (h *MessageHandler) UpdateMessageStatus(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	messageID := chi.URLParam(r, "messageId")

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Status == "" {
		writeError(w, http.StatusBadRequest, "status required")
		return
	}

	msg, err := h.svc.AdvanceStatus(r.Context(), userID, messageID, model.MessageStatus(body.Status))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{
		Message: "message status updated",
		Data:    msg,
	})
}

// DeleteMessage removes one of the caller's own messages.
// DELETE /api/messages/{messageId}
func (h *MessageHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	messageID := chi.URLParam(r, "messageId")

	if err := h.svc.DeleteMessage(r.Context(), userID, messageID); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Message: "message deleted successfully"})
}

// DeleteAllMessages clears a chat's history (admin only for group chats).
// DELETE /api/chats/{chatId}/messages
func (h *MessageHandler) DeleteAllMessages(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	chatID := chi.URLParam(r, "chatId")

	deleted, err := h.svc.DeleteAllMessagesOfChat(r.Context(), userID, chatID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{
		Message: "chat history deleted",
		Data:    map[string]int{"deleted": deleted},
	})
}
