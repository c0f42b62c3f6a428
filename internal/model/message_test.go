package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestMessageStatus_Valid(t *testing.T) {
	for _, s := range []MessageStatus{StatusSending, StatusSent, StatusDelivered, StatusRead, StatusFailed} {
		assert.True(t, s.Valid(), "status %s", s)
	}
	assert.False(t, MessageStatus("archived").Valid())
	assert.False(t, MessageStatus("").Valid())
}

func TestMessageStatus_CanAdvance(t *testing.T) {
	tests := []struct {
		from, to MessageStatus
		want     bool
	}{
		{StatusSending, StatusSent, true},
		{StatusSending, StatusFailed, true},
		{StatusSending, StatusDelivered, false},
		{StatusSending, StatusRead, false},
		{StatusSent, StatusDelivered, true},
		{StatusSent, StatusRead, true},
		{StatusSent, StatusSending, false},
		{StatusSent, StatusFailed, false},
		{StatusDelivered, StatusRead, true},
		{StatusDelivered, StatusSent, false},
		{StatusRead, StatusDelivered, false},
		{StatusRead, StatusSent, false},
		{StatusFailed, StatusSent, false},
		{StatusFailed, StatusRead, false},
		// restating the current status is always allowed
		{StatusSent, StatusSent, true},
		{StatusRead, StatusRead, true},
		{StatusFailed, StatusFailed, true},
		// unknown statuses never transition
		{MessageStatus("bogus"), StatusSent, false},
		{StatusSent, MessageStatus("bogus"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanAdvance(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestMessageStatus_Predecessors(t *testing.T) {
	assert.Equal(t, []MessageStatus{StatusSending}, StatusSent.Predecessors())
	assert.Equal(t, []MessageStatus{StatusSent}, StatusDelivered.Predecessors())
	assert.Equal(t, []MessageStatus{StatusSent, StatusDelivered}, StatusRead.Predecessors())
	assert.Equal(t, []MessageStatus{StatusSending}, StatusFailed.Predecessors())

	// read never appears as a predecessor, so a status write filtered on
	// the set cannot regress a read message
	for _, s := range []MessageStatus{StatusSent, StatusDelivered, StatusFailed} {
		assert.NotContains(t, s.Predecessors(), StatusRead, "predecessors of %s", s)
	}

	// a status is never its own predecessor, restating is a no-op write
	assert.NotContains(t, StatusRead.Predecessors(), StatusRead)
	assert.Empty(t, StatusSending.Predecessors())
	assert.Empty(t, MessageStatus("bogus").Predecessors())
}

func TestAttachment_Pending(t *testing.T) {
	a := PlaceholderAttachment("report.pdf", "application/pdf", 1024)
	assert.True(t, a.Pending())
	assert.Equal(t, "#pending", a.URL)
	assert.Equal(t, PendingFileID, a.FileID)
	assert.Equal(t, "report.pdf", a.Name)

	a.FileID = primitive.NewObjectID().Hex()
	assert.False(t, a.Pending())
}

func TestMessage_ReadByUser(t *testing.T) {
	alice := primitive.NewObjectID()
	bob := primitive.NewObjectID()
	msg := Message{ReadBy: []primitive.ObjectID{alice}}

	assert.True(t, msg.ReadByUser(alice))
	assert.False(t, msg.ReadByUser(bob))
}

func TestMessage_Empty(t *testing.T) {
	assert.True(t, (&Message{}).Empty())
	assert.False(t, (&Message{Content: "hi"}).Empty())
	assert.False(t, (&Message{Attachments: []Attachment{PlaceholderAttachment("a", "text/plain", 1)}}).Empty())
}

func TestChat_HasParticipant(t *testing.T) {
	alice := primitive.NewObjectID()
	bob := primitive.NewObjectID()
	eve := primitive.NewObjectID()
	chat := Chat{Participants: []primitive.ObjectID{alice, bob}}

	assert.True(t, chat.HasParticipant(alice))
	assert.True(t, chat.HasParticipant(bob))
	assert.False(t, chat.HasParticipant(eve))
}
