package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MessageStatus is the delivery state of a message. Transitions only move
// forward: sending -> sent|failed, sent -> delivered -> read. CanAdvance is
// the single place that knows the order; callers must consult it before
// persisting a status change.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// rank orders statuses along the forward path. failed is terminal.
func (s MessageStatus) rank() int {
	switch s {
	case StatusSending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	case StatusFailed:
		return 4
	default:
		return -1
	}
}

// Valid reports whether s is one of the known statuses.
func (s MessageStatus) Valid() bool { return s.rank() >= 0 }

// CanAdvance reports whether a transition from s to next is allowed.
// A status may always restate itself (idempotent updates).
func (s MessageStatus) CanAdvance(next MessageStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	switch s {
	case StatusSending:
		return next == StatusSent || next == StatusFailed
	case StatusSent:
		return next == StatusDelivered || next == StatusRead
	case StatusDelivered:
		return next == StatusRead
	default:
		// read and failed are terminal
		return false
	}
}

// Predecessors returns the statuses that may be overwritten when advancing
// to s, excluding s itself. Status writes use the set as an update filter,
// so a concurrent writer holding a stale status cannot move a message
// backward: the filter simply matches nothing.
func (s MessageStatus) Predecessors() []MessageStatus {
	var out []MessageStatus
	for _, p := range []MessageStatus{StatusSending, StatusSent, StatusDelivered, StatusRead, StatusFailed} {
		if p != s && p.CanAdvance(s) {
			out = append(out, p)
		}
	}
	return out
}

// PendingFileID marks an attachment whose blob upload has not finished yet.
const PendingFileID = "pending"

// Attachment is embedded in a message. URL is derived from FileID and the
// public base URL; IsDuplicate is a response-only projection and is never
// persisted.
type Attachment struct {
	URL         string `bson:"url" json:"url"`
	FileID      string `bson:"fileId" json:"fileId"`
	Name        string `bson:"name" json:"name"`
	Size        int64  `bson:"size" json:"size"`
	Type        string `bson:"type" json:"type"`
	IsDuplicate bool   `bson:"-" json:"isDuplicate,omitempty"`
}

// Pending reports whether the attachment is still a placeholder.
func (a Attachment) Pending() bool { return a.FileID == PendingFileID }

// PlaceholderAttachment builds the transient record shown while a file
// uploads.
func PlaceholderAttachment(name, mimeType string, size int64) Attachment {
	return Attachment{
		URL:    "#pending",
		FileID: PendingFileID,
		Name:   name,
		Size:   size,
		Type:   mimeType,
	}
}

type Message struct {
	ID          primitive.ObjectID   `bson:"_id,omitempty" json:"_id"`
	Sender      primitive.ObjectID   `bson:"sender" json:"senderId"`
	Chat        primitive.ObjectID   `bson:"chat" json:"chatId"`
	Content     string               `bson:"content" json:"content"`
	Attachments []Attachment         `bson:"attachments" json:"attachments"`
	Status      MessageStatus        `bson:"status" json:"status"`
	ReadBy      []primitive.ObjectID `bson:"readBy" json:"readBy"`
	CreatedAt   time.Time            `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time            `bson:"updatedAt" json:"updatedAt"`

	// SenderInfo is resolved by the aggregation lookup; it is not a stored
	// field.
	SenderInfo *UserPublic `bson:"senderInfo,omitempty" json:"sender,omitempty"`
}

// ReadByUser reports whether userID is already in the readBy set.
func (m *Message) ReadByUser(userID primitive.ObjectID) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// Empty reports whether the message carries neither content nor attachments.
// Such a message is invalid and must never be created.
func (m *Message) Empty() bool {
	return m.Content == "" && len(m.Attachments) == 0
}
