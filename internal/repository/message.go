package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/chatrelay/internal/model"
)

type MessageRepo struct {
	col *mongo.Collection
}

func NewMessageRepo(db *mongo.Database) *MessageRepo {
	return &MessageRepo{col: db.Collection(CollMessages)}
}

// Create inserts msg and fills in its id and timestamps.
func (r *MessageRepo) Create(ctx context.Context, msg *model.Message) error {
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now
	if msg.Attachments == nil {
		msg.Attachments = []model.Attachment{}
	}
	if msg.ReadBy == nil {
		msg.ReadBy = []primitive.ObjectID{}
	}
	res, err := r.col.InsertOne(ctx, msg)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if id, ok := res.InsertedID.(primitive.ObjectID); ok {
		msg.ID = id
	}
	return nil
}

// FindDuplicate looks for the newest message from sender in chat inside the
// dedup window with the same content and (for attachments) at least one of
// the same stored file ids. Pending placeholders never match. Returns
// (nil, nil) when there is no candidate.
func (r *MessageRepo) FindDuplicate(ctx context.Context, sender, chat primitive.ObjectID, content string, fileIDs []string, window time.Duration) (*model.Message, error) {
	filter := bson.M{
		"sender":    sender,
		"chat":      chat,
		"createdAt": bson.M{"$gte": time.Now().UTC().Add(-window)},
	}
	if content != "" {
		filter["content"] = content
	}
	stored := make([]string, 0, len(fileIDs))
	for _, id := range fileIDs {
		if id != "" && id != model.PendingFileID {
			stored = append(stored, id)
		}
	}
	if len(stored) > 0 {
		filter["attachments.fileId"] = bson.M{"$in": stored}
	}

	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	var msg model.Message
	err := r.col.FindOne(ctx, filter, opts).Decode(&msg)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find duplicate message: %w", err)
	}
	return &msg, nil
}

// GetByID returns a single message without the sender lookup.
func (r *MessageRepo) GetByID(ctx context.Context, id primitive.ObjectID) (*model.Message, error) {
	var msg model.Message
	err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&msg)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &msg, nil
}

// Update persists content, attachments and status of an existing message and
// bumps updatedAt.
func (r *MessageRepo) Update(ctx context.Context, msg *model.Message) error {
	msg.UpdatedAt = time.Now().UTC()
	res, err := r.col.UpdateByID(ctx, msg.ID, bson.M{"$set": bson.M{
		"content":     msg.Content,
		"attachments": msg.Attachments,
		"status":      msg.Status,
		"updatedAt":   msg.UpdatedAt,
	}})
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus moves a message along the status path. The forward-only rule
// lives in the update filter, not in application code: the write only matches
// while the stored status is a predecessor of next, so a racing writer with a
// stale read cannot move the message backward. A filter miss means the
// message is already at or past next, which is the outcome the caller wanted.
func (r *MessageRepo) UpdateStatus(ctx context.Context, id primitive.ObjectID, next model.MessageStatus, reader primitive.ObjectID) (*model.Message, error) {
	now := time.Now().UTC()
	_, err := r.col.UpdateOne(ctx,
		bson.M{"_id": id, "status": bson.M{"$in": next.Predecessors()}},
		bson.M{"$set": bson.M{"status": next, "updatedAt": now}},
	)
	if err != nil {
		return nil, fmt.Errorf("update message status: %w", err)
	}
	// readBy is a grow-only set, safe to record regardless of whether the
	// status write matched.
	if next == model.StatusRead && !reader.IsZero() {
		if _, err := r.col.UpdateByID(ctx, id, bson.M{
			"$addToSet": bson.M{"readBy": reader},
			"$set":      bson.M{"updatedAt": now},
		}); err != nil {
			return nil, fmt.Errorf("record reader: %w", err)
		}
	}
	return r.GetByID(ctx, id)
}

// MarkChatRead marks every message in chat not sent by reader and not yet
// read by them as read, in one bulk update. Returns whether anything changed,
// so callers can skip the read event on repeats.
func (r *MessageRepo) MarkChatRead(ctx context.Context, chat, reader primitive.ObjectID) (bool, error) {
	res, err := r.col.UpdateMany(ctx,
		bson.M{
			"chat":   chat,
			"sender": bson.M{"$ne": reader},
			"readBy": bson.M{"$ne": reader},
		},
		bson.M{
			"$set":      bson.M{"status": model.StatusRead, "updatedAt": time.Now().UTC()},
			"$addToSet": bson.M{"readBy": reader},
		},
	)
	if err != nil {
		return false, fmt.Errorf("mark chat read: %w", err)
	}
	return res.ModifiedCount > 0, nil
}

// ListByChat returns the chat history oldest-first with the sender profile
// joined in from the users collection.
func (r *MessageRepo) ListByChat(ctx context.Context, chat primitive.ObjectID) ([]model.Message, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"chat": chat}}},
		{{Key: "$lookup", Value: bson.M{
			"from":         CollUsers,
			"localField":   "sender",
			"foreignField": "_id",
			"as":           "senderInfo",
		}}},
		{{Key: "$unwind", Value: bson.M{
			"path":                       "$senderInfo",
			"preserveNullAndEmptyArrays": true,
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "createdAt", Value: 1}}}},
	}
	cur, err := r.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer cur.Close(ctx)

	messages := []model.Message{}
	if err := cur.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return messages, nil
}

// GetStructured returns one message with the sender profile joined in, the
// shape pushed over sockets and returned from the send endpoint.
func (r *MessageRepo) GetStructured(ctx context.Context, id primitive.ObjectID) (*model.Message, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"_id": id}}},
		{{Key: "$lookup", Value: bson.M{
			"from":         CollUsers,
			"localField":   "sender",
			"foreignField": "_id",
			"as":           "senderInfo",
		}}},
		{{Key: "$unwind", Value: bson.M{
			"path":                       "$senderInfo",
			"preserveNullAndEmptyArrays": true,
		}}},
	}
	cur, err := r.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("structured message: %w", err)
	}
	defer cur.Close(ctx)

	var messages []model.Message
	if err := cur.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("decode structured message: %w", err)
	}
	if len(messages) == 0 {
		return nil, ErrNotFound
	}
	return &messages[0], nil
}

// LastMessage returns the newest message of a chat, or (nil, nil) for an
// empty chat.
func (r *MessageRepo) LastMessage(ctx context.Context, chat primitive.ObjectID) (*model.Message, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	var msg model.Message
	err := r.col.FindOne(ctx, bson.M{"chat": chat}, opts).Decode(&msg)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last message: %w", err)
	}
	return &msg, nil
}

// DeleteByID removes a message document. Blob cleanup is the caller's job.
func (r *MessageRepo) DeleteByID(ctx context.Context, id primitive.ObjectID) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAllOfChat removes every message of a chat and returns the deleted
// documents so attachment blobs can be cleaned up afterwards.
func (r *MessageRepo) DeleteAllOfChat(ctx context.Context, chat primitive.ObjectID) ([]model.Message, error) {
	cur, err := r.col.Find(ctx, bson.M{"chat": chat})
	if err != nil {
		return nil, fmt.Errorf("find chat messages: %w", err)
	}
	var messages []model.Message
	if err := cur.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("decode chat messages: %w", err)
	}
	if _, err := r.col.DeleteMany(ctx, bson.M{"chat": chat}); err != nil {
		return nil, fmt.Errorf("delete chat messages: %w", err)
	}
	return messages, nil
}
