package delivery

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/chatrelay/internal/apperr"
	"github.com/chatrelay/internal/events"
	"github.com/chatrelay/internal/model"
)

func TestListMessages_OrderedAndMarkedRead(t *testing.T) {
	w := newTestWorld()
	ctx := context.Background()

	_, err := w.svc.SendMessage(ctx, w.alice.Hex(), w.chat.ID.Hex(), "first", nil)
	require.NoError(t, err)
	_, err = w.svc.SendMessage(ctx, w.alice.Hex(), w.chat.ID.Hex(), "second", nil)
	require.NoError(t, err)
	w.emitter.reset()

	msgs, err := w.svc.ListMessages(ctx, w.bob.Hex(), w.chat.ID.Hex())
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "second", msgs[1].Content)

	// alice, the sender, learns which of her messages bob read
	aliceEvents := w.emitter.eventsFor(w.alice.Hex())
	require.Len(t, aliceEvents, 1)
	assert.Equal(t, events.MessageRead, aliceEvents[0].Type)
	payload := aliceEvents[0].Payload.(events.MessageReadPayload)
	assert.Equal(t, w.bob.Hex(), payload.ReadBy)
	assert.Equal(t, w.chat.ID.Hex(), payload.ChatID)
	assert.ElementsMatch(t, []string{msgs[0].ID.Hex(), msgs[1].ID.Hex()}, payload.MessageIDs)
	assert.Empty(t, w.emitter.eventsFor(w.bob.Hex()))

	// stored messages now carry read status and bob in readBy
	stored, _ := w.messages.ListByChat(ctx, w.chat.ID)
	for _, m := range stored {
		assert.Equal(t, model.StatusRead, m.Status)
		assert.True(t, m.ReadByUser(w.bob))
	}
}

func TestListMessages_OwnMessagesNotMarked(t *testing.T) {
	w := newTestWorld()
	ctx := context.Background()

	_, err := w.svc.SendMessage(ctx, w.alice.Hex(), w.chat.ID.Hex(), "hi", nil)
	require.NoError(t, err)
	w.emitter.reset()

	_, err = w.svc.ListMessages(ctx, w.alice.Hex(), w.chat.ID.Hex())
	require.NoError(t, err)

	// reading your own chat emits no read receipts
	assert.Empty(t, w.emitter.eventsFor(w.alice.Hex()))
	assert.Empty(t, w.emitter.eventsFor(w.bob.Hex()))

	stored, _ := w.messages.ListByChat(ctx, w.chat.ID)
	assert.Equal(t, model.StatusSent, stored[0].Status)
}

func TestListMessages_NonParticipant(t *testing.T) {
	w := newTestWorld()
	eve := primitive.NewObjectID()

	_, err := w.svc.ListMessages(context.Background(), eve.Hex(), w.chat.ID.Hex())
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, apperr.HTTPStatus(err))
}

func TestMarkChatRead_CountsAndIdempotence(t *testing.T) {
	w := newTestWorld()
	ctx := context.Background()

	_, err := w.svc.SendMessage(ctx, w.alice.Hex(), w.chat.ID.Hex(), "one", nil)
	require.NoError(t, err)
	_, err = w.svc.SendMessage(ctx, w.alice.Hex(), w.chat.ID.Hex(), "two", nil)
	require.NoError(t, err)
	w.emitter.reset()

	updated, covered, err := w.svc.MarkChatRead(ctx, w.bob.Hex(), w.chat.ID.Hex())
	require.NoError(t, err)
	assert.True(t, updated)
	assert.Equal(t, 2, covered)
	assert.Equal(t, []events.Type{events.MessageRead}, w.emitter.typesFor(w.alice.Hex()))

	// a repeat read is a no-op and stays silent
	w.emitter.reset()
	updated, covered, err = w.svc.MarkChatRead(ctx, w.bob.Hex(), w.chat.ID.Hex())
	require.NoError(t, err)
	assert.False(t, updated)
	assert.Zero(t, covered)
	assert.Empty(t, w.emitter.eventsFor(w.alice.Hex()))
}

func TestMarkChatRead_EmptyChat(t *testing.T) {
	w := newTestWorld()

	updated, covered, err := w.svc.MarkChatRead(context.Background(), w.bob.Hex(), w.chat.ID.Hex())
	require.NoError(t, err)
	assert.False(t, updated)
	assert.Zero(t, covered)
}

func TestMarkChatRead_InvalidChatID(t *testing.T) {
	w := newTestWorld()

	_, _, err := w.svc.MarkChatRead(context.Background(), w.bob.Hex(), "not-a-hex-id")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, apperr.HTTPStatus(err))
}
