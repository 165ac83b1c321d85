package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/iliyamo/videotube-accounts/internal/database"
	"github.com/iliyamo/videotube-accounts/internal/model"
)

// SubscriptionRepo persists subscription edges.
type SubscriptionRepo struct {
	subs *mongo.Collection
	now  func() time.Time
}

func NewSubscriptionRepo(db *mongo.Database) *SubscriptionRepo {
	return &SubscriptionRepo{
		subs: db.Collection(database.SubscriptionsCollection),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Toggle removes every edge from subscriber to channel if any exist and
// otherwise inserts one. It reports whether an edge exists afterwards.
func (r *SubscriptionRepo) Toggle(ctx context.Context, subscriber, channel bson.ObjectID) (bool, error) {
	res, err := r.subs.DeleteMany(ctx, bson.D{
		{Key: "subscriber", Value: subscriber},
		{Key: "channel", Value: channel},
	})
	if err != nil {
		return false, err
	}
	if res.DeletedCount > 0 {
		return false, nil
	}

	now := r.now()
	edge := model.Subscription{
		ID:         bson.NewObjectID(),
		Subscriber: subscriber,
		Channel:    channel,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := r.subs.InsertOne(ctx, edge); err != nil {
		return false, err
	}
	return true, nil
}
