package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/iliyamo/videotube-accounts/internal/config"
)

// Collection names shared by the repositories.
const (
	UsersCollection         = "users"
	SubscriptionsCollection = "subscriptions"
	VideosCollection        = "videos"
)

// ErrUnavailable is returned when no connection could be established.
var ErrUnavailable = errors.New("mongo unavailable")

// Open connects to MongoDB, retrying cfg.RetryAttempts times, and verifies
// the connection with a ping.
func Open(ctx context.Context, cfg config.MongoConfig) (*mongo.Client, error) {
	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		client, err := mongo.Connect(
			options.Client().
				ApplyURI(cfg.URL).
				SetConnectTimeout(cfg.ConnectTimeout).
				SetMaxPoolSize(cfg.MaxPoolSize).
				SetMinPoolSize(cfg.MinPoolSize).
				SetMaxConnIdleTime(cfg.MaxConnIdleTime),
		)
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = client.Ping(pingCtx, nil)
			cancel()
			if err == nil {
				return client, nil
			}
			_ = client.Disconnect(context.Background())
		}
		lastErr = err

		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return nil, errors.Join(ErrUnavailable, ctx.Err())
			case <-time.After(cfg.RetryInterval):
			}
		}
	}
	return nil, errors.Join(ErrUnavailable, lastErr)
}

// EnsureIndexes creates the indexes the repositories rely on. The unique
// username and email indexes are what make registration race-free.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	users := db.Collection(UsersCollection)
	if _, err := users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true).SetName("username_unique")},
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetName("email_unique")},
		{Keys: bson.D{{Key: "fullname", Value: 1}}, Options: options.Index().SetName("fullname")},
	}); err != nil {
		return fmt.Errorf("users indexes: %w", err)
	}

	subs := db.Collection(SubscriptionsCollection)
	if _, err := subs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "channel", Value: 1}}, Options: options.Index().SetName("channel")},
		{Keys: bson.D{{Key: "subscriber", Value: 1}, {Key: "channel", Value: 1}}, Options: options.Index().SetName("subscriber_channel")},
	}); err != nil {
		return fmt.Errorf("subscriptions indexes: %w", err)
	}
	return nil
}

// Healthcheck returns a probe that pings the server.
func Healthcheck(client *mongo.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := client.Ping(ctx, nil); err != nil {
			return errors.Join(ErrUnavailable, err)
		}
		return nil
	}
}
