package model

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Subscription is a directed edge from a subscriber account to a channel
// account in the `subscriptions` collection. Edges are not unique.
type Subscription struct {
	ID         bson.ObjectID `bson:"_id,omitempty" json:"_id"`
	Subscriber bson.ObjectID `bson:"subscriber" json:"subscriber"`
	Channel    bson.ObjectID `bson:"channel" json:"channel"`
	CreatedAt  time.Time     `bson:"createdAt" json:"createdAt"`
	UpdatedAt  time.Time     `bson:"updatedAt" json:"updatedAt"`
}
