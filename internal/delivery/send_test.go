package delivery

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/chatrelay/internal/apperr"
	"github.com/chatrelay/internal/events"
	"github.com/chatrelay/internal/model"
)

func TestSendMessage_Text(t *testing.T) {
	w := newTestWorld()
	ctx := context.Background()

	result, err := w.svc.SendMessage(ctx, w.alice.Hex(), w.chat.ID.Hex(), "hello bob", nil)
	require.NoError(t, err)

	assert.Equal(t, model.StatusSent, result.Message.Status)
	assert.Equal(t, "hello bob", result.Message.Content)
	assert.Equal(t, AckSent, result.Acknowledgment.Type)

	// both participants get newMessage, sender included
	assert.Equal(t, []events.Type{events.NewMessage}, w.emitter.typesFor(w.alice.Hex()))
	assert.Equal(t, []events.Type{events.NewMessage}, w.emitter.typesFor(w.bob.Hex()))

	// chat now points at the new message
	chat, _ := w.chats.GetByID(ctx, w.chat.ID)
	require.NotNil(t, chat.LastMessage)
	assert.Equal(t, result.Message.ID, *chat.LastMessage)
}

func TestSendMessage_EmptyRejected(t *testing.T) {
	w := newTestWorld()

	_, err := w.svc.SendMessage(context.Background(), w.alice.Hex(), w.chat.ID.Hex(), "", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, apperr.HTTPStatus(err))
}

func TestSendMessage_UnknownChat(t *testing.T) {
	w := newTestWorld()

	_, err := w.svc.SendMessage(context.Background(), w.alice.Hex(), primitive.NewObjectID().Hex(), "hi", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, apperr.HTTPStatus(err))
}

func TestSendMessage_NonParticipantForbidden(t *testing.T) {
	w := newTestWorld()
	eve := primitive.NewObjectID()

	_, err := w.svc.SendMessage(context.Background(), eve.Hex(), w.chat.ID.Hex(), "let me in", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, apperr.HTTPStatus(err))
	assert.Empty(t, w.emitter.eventsFor(w.bob.Hex()))
}

func TestSendMessage_DuplicateSuppressed(t *testing.T) {
	w := newTestWorld()
	ctx := context.Background()

	first, err := w.svc.SendMessage(ctx, w.alice.Hex(), w.chat.ID.Hex(), "are you there?", nil)
	require.NoError(t, err)
	w.emitter.reset()

	second, err := w.svc.SendMessage(ctx, w.alice.Hex(), w.chat.ID.Hex(), "are you there?", nil)
	require.NoError(t, err)

	// the retry resolves to the original message and emits nothing
	assert.Equal(t, first.Message.ID, second.Message.ID)
	assert.Equal(t, AckDuplicate, second.Acknowledgment.Type)
	assert.Empty(t, w.emitter.eventsFor(w.alice.Hex()))
	assert.Empty(t, w.emitter.eventsFor(w.bob.Hex()))

	msgs, _ := w.messages.ListByChat(ctx, w.chat.ID)
	assert.Len(t, msgs, 1)
}

func TestSendMessage_DuplicateWindowExpired(t *testing.T) {
	w := newTestWorld()
	ctx := context.Background()

	first, err := w.svc.SendMessage(ctx, w.alice.Hex(), w.chat.ID.Hex(), "are you there?", nil)
	require.NoError(t, err)

	// age the original past the dedup window, then resend verbatim
	w.messages.mu.Lock()
	w.messages.byID[first.Message.ID].CreatedAt = time.Now().Add(-10 * time.Minute)
	w.messages.mu.Unlock()
	w.emitter.reset()

	second, err := w.svc.SendMessage(ctx, w.alice.Hex(), w.chat.ID.Hex(), "are you there?", nil)
	require.NoError(t, err)

	assert.NotEqual(t, first.Message.ID, second.Message.ID)
	assert.Equal(t, AckSent, second.Acknowledgment.Type)
	assert.Equal(t, []events.Type{events.NewMessage}, w.emitter.typesFor(w.bob.Hex()))

	msgs, _ := w.messages.ListByChat(ctx, w.chat.ID)
	assert.Len(t, msgs, 2)
}

func TestSendMessage_DifferentContentNotDuplicate(t *testing.T) {
	w := newTestWorld()
	ctx := context.Background()

	first, err := w.svc.SendMessage(ctx, w.alice.Hex(), w.chat.ID.Hex(), "ping", nil)
	require.NoError(t, err)
	second, err := w.svc.SendMessage(ctx, w.alice.Hex(), w.chat.ID.Hex(), "pong", nil)
	require.NoError(t, err)

	assert.NotEqual(t, first.Message.ID, second.Message.ID)
}

func TestSendMessage_WithAttachments(t *testing.T) {
	w := newTestWorld()
	ctx := context.Background()

	uploads := []Upload{
		{Name: "photo.png", MimeType: "image/png", Size: 3, Data: []byte("abc")},
		{Name: "notes.txt", MimeType: "text/plain", Size: 5, Data: []byte("hello")},
	}
	result, err := w.svc.SendMessage(ctx, w.alice.Hex(), w.chat.ID.Hex(), "see attached", uploads)
	require.NoError(t, err)

	assert.Equal(t, model.StatusSent, result.Message.Status)
	require.Len(t, result.Message.Attachments, 2)
	for _, a := range result.Message.Attachments {
		assert.NotEqual(t, model.PendingFileID, a.FileID)
		assert.Contains(t, a.URL, "/api/files/"+a.FileID)
		assert.False(t, a.IsDuplicate)
	}
	require.NotNil(t, result.Message.UploadStatus)
	assert.False(t, result.Message.UploadStatus.InProgress)
	assert.Equal(t, 2, result.Message.UploadStatus.Progress)

	// bob sees: pending newMessage, two progress updates, final update
	assert.Equal(t, []events.Type{
		events.NewMessage,
		events.UploadProgress,
		events.UploadProgress,
		events.MessageUpdated,
	}, w.emitter.typesFor(w.bob.Hex()))

	// the acknowledgment goes to the sender only
	aliceTypes := w.emitter.typesFor(w.alice.Hex())
	assert.Contains(t, aliceTypes, events.MessageAcknowledgment)
	assert.NotContains(t, w.emitter.typesFor(w.bob.Hex()), events.MessageAcknowledgment)
}

func TestSendMessage_OneFailedFileDoesNotFailSend(t *testing.T) {
	w := newTestWorld()
	ctx := context.Background()
	w.blobs.fail["broken.bin"] = true

	uploads := []Upload{
		{Name: "ok1.txt", MimeType: "text/plain", Size: 1, Data: []byte("1")},
		{Name: "broken.bin", MimeType: "application/octet-stream", Size: 1, Data: []byte("2")},
		{Name: "ok2.txt", MimeType: "text/plain", Size: 1, Data: []byte("3")},
	}
	result, err := w.svc.SendMessage(ctx, w.alice.Hex(), w.chat.ID.Hex(), "", uploads)
	require.NoError(t, err)

	assert.Equal(t, model.StatusSent, result.Message.Status)
	assert.Len(t, result.Message.Attachments, 2)
	assert.Equal(t, 2, result.Message.UploadStatus.Progress)
	assert.Equal(t, 3, result.Message.UploadStatus.Total)
	assert.Equal(t, AckSent, result.Acknowledgment.Type)

	// every file produced a progress event, the broken one flagged as failed
	var failedEvents, maxProgress int
	for _, ev := range w.emitter.eventsFor(w.bob.Hex()) {
		p, ok := ev.Payload.(events.UploadProgressPayload)
		if !ok {
			continue
		}
		if p.UploadStatus.Progress > maxProgress {
			maxProgress = p.UploadStatus.Progress
		}
		if p.Failed {
			failedEvents++
			assert.Equal(t, "broken.bin", p.FileName)
		}
	}
	assert.Equal(t, 1, failedEvents)
	assert.Equal(t, 3, maxProgress)
}

func TestSendMessage_AllFilesFailedNoContent(t *testing.T) {
	w := newTestWorld()
	ctx := context.Background()
	w.blobs.fail["a.bin"] = true
	w.blobs.fail["b.bin"] = true

	uploads := []Upload{
		{Name: "a.bin", MimeType: "application/octet-stream", Size: 1, Data: []byte("a")},
		{Name: "b.bin", MimeType: "application/octet-stream", Size: 1, Data: []byte("b")},
	}
	result, err := w.svc.SendMessage(ctx, w.alice.Hex(), w.chat.ID.Hex(), "", uploads)
	require.NoError(t, err)

	assert.Equal(t, model.StatusFailed, result.Message.Status)
	assert.Empty(t, result.Message.Attachments)
	assert.Equal(t, AckFailed, result.Acknowledgment.Type)

	// a failed message never becomes the chat's last message
	chat, _ := w.chats.GetByID(ctx, w.chat.ID)
	assert.Nil(t, chat.LastMessage)
}

func TestSendMessage_DuplicateFileReusesBlob(t *testing.T) {
	w := newTestWorld()
	ctx := context.Background()
	payload := []byte("identical bytes")

	first, err := w.svc.SendMessage(ctx, w.alice.Hex(), w.chat.ID.Hex(), "v1", []Upload{
		{Name: "doc.pdf", MimeType: "application/pdf", Size: int64(len(payload)), Data: payload},
	})
	require.NoError(t, err)

	second, err := w.svc.SendMessage(ctx, w.bob.Hex(), w.chat.ID.Hex(), "v2", []Upload{
		{Name: "copy-of-doc.pdf", MimeType: "application/pdf", Size: int64(len(payload)), Data: payload},
	})
	require.NoError(t, err)

	// same bytes resolve to the same blob, flagged as duplicate
	assert.Equal(t, first.Message.Attachments[0].FileID, second.Message.Attachments[0].FileID)
	assert.True(t, second.Message.Attachments[0].IsDuplicate)
	assert.Equal(t, []string{"copy-of-doc.pdf"}, second.Message.DuplicateFiles)
	assert.Equal(t, []string{"copy-of-doc.pdf"}, second.Acknowledgment.DuplicateFiles)
	assert.False(t, first.Message.Attachments[0].IsDuplicate)
}

func TestSendMessage_TooManyAttachments(t *testing.T) {
	w := newTestWorld()

	uploads := make([]Upload, 6)
	for i := range uploads {
		uploads[i] = Upload{Name: "f", MimeType: "text/plain", Size: 1, Data: []byte{byte(i)}}
	}
	_, err := w.svc.SendMessage(context.Background(), w.alice.Hex(), w.chat.ID.Hex(), "", uploads)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, apperr.HTTPStatus(err))
}
