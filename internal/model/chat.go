package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Chat is read-mostly from the delivery core's point of view: membership is
// administered elsewhere, the core only reads participants and maintains the
// lastMessage pointer after sends and deletes.
type Chat struct {
	ID           primitive.ObjectID   `bson:"_id,omitempty" json:"_id"`
	Name         string               `bson:"name" json:"name"`
	IsGroupChat  bool                 `bson:"isGroupChat" json:"isGroupChat"`
	Participants []primitive.ObjectID `bson:"participants" json:"participants"`
	Admin        primitive.ObjectID   `bson:"admin,omitempty" json:"admin,omitempty"`
	LastMessage  *primitive.ObjectID  `bson:"lastMessage,omitempty" json:"lastMessage,omitempty"`
	CreatedAt    time.Time            `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time            `bson:"updatedAt" json:"updatedAt"`
}

// HasParticipant reports whether userID belongs to the chat. Callers must
// treat "not found" as an authorization failure; membership is required, the
// historical inverted check is a known defect and is not reproduced here.
func (c *Chat) HasParticipant(userID primitive.ObjectID) bool {
	for _, id := range c.Participants {
		if id == userID {
			return true
		}
	}
	return false
}