package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/chatrelay/internal/model"
)

type ChatRepo struct {
	col *mongo.Collection
}

func NewChatRepo(db *mongo.Database) *ChatRepo {
	return &ChatRepo{col: db.Collection(CollChats)}
}

func (r *ChatRepo) GetByID(ctx context.Context, id primitive.ObjectID) (*model.Chat, error) {
	var chat model.Chat
	err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&chat)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	return &chat, nil
}

// SetLastMessage repoints the chat's lastMessage. nil clears the pointer
// (the chat became empty after a delete).
func (r *ChatRepo) SetLastMessage(ctx context.Context, chatID primitive.ObjectID, messageID *primitive.ObjectID) error {
	update := bson.M{"$set": bson.M{"updatedAt": time.Now().UTC()}}
	if messageID == nil {
		update["$unset"] = bson.M{"lastMessage": ""}
	} else {
		update["$set"].(bson.M)["lastMessage"] = *messageID
	}
	res, err := r.col.UpdateByID(ctx, chatID, update)
	if err != nil {
		return fmt.Errorf("set last message: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Participants returns the member ids of a chat without loading the whole
// document elsewhere.
func (r *ChatRepo) Participants(ctx context.Context, chatID primitive.ObjectID) ([]primitive.ObjectID, error) {
	chat, err := r.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return chat.Participants, nil
}
