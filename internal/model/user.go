package model

import "go.mongodb.org/mongo-driver/bson/primitive"

// UserPublic is the sender projection attached to messages by the
// aggregation lookup. The users collection itself is owned by the external
// account service.
type UserPublic struct {
	ID        primitive.ObjectID `bson:"_id" json:"_id"`
	Username  string             `bson:"username" json:"username"`
	Email     string             `bson:"email,omitempty" json:"email,omitempty"`
	AvatarURL string             `bson:"avatarUrl,omitempty" json:"avatarUrl,omitempty"`
}
