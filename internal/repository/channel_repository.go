package repository

import (
	"context"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/iliyamo/videotube-accounts/internal/database"
	"github.com/iliyamo/videotube-accounts/internal/model"
)

// ChannelProfilePipeline builds the aggregation that looks an account up by
// username and joins `subscriptions` against it twice: once on `channel` to
// count subscribers and once on `subscriber` to count followed channels.
// viewer may be nil for anonymous requests, in which case isSubscribed is false.
func ChannelProfilePipeline(username string, viewer *bson.ObjectID) mongo.Pipeline {
	var isSubscribed any = false
	if viewer != nil {
		isSubscribed = bson.D{{Key: "$cond", Value: bson.D{
			{Key: "if", Value: bson.D{{Key: "$in", Value: bson.A{*viewer, "$subscribers.subscriber"}}}},
			{Key: "then", Value: true},
			{Key: "else", Value: false},
		}}}
	}

	return mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "username", Value: strings.ToLower(strings.TrimSpace(username))}}}},
		{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: database.SubscriptionsCollection},
			{Key: "localField", Value: "_id"},
			{Key: "foreignField", Value: "channel"},
			{Key: "as", Value: "subscribers"},
		}}},
		{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: database.SubscriptionsCollection},
			{Key: "localField", Value: "_id"},
			{Key: "foreignField", Value: "subscriber"},
			{Key: "as", Value: "subscribedTo"},
		}}},
		{{Key: "$addFields", Value: bson.D{
			{Key: "subscribersCount", Value: bson.D{{Key: "$size", Value: "$subscribers"}}},
			{Key: "channelsSubscribedToCount", Value: bson.D{{Key: "$size", Value: "$subscribedTo"}}},
			{Key: "isSubscribed", Value: isSubscribed},
		}}},
		{{Key: "$project", Value: bson.D{
			{Key: "fullname", Value: 1},
			{Key: "username", Value: 1},
			{Key: "subscribersCount", Value: 1},
			{Key: "channelsSubscribedToCount", Value: 1},
			{Key: "isSubscribed", Value: 1},
			{Key: "avatar", Value: 1},
			{Key: "coverImage", Value: 1},
			{Key: "email", Value: 1},
		}}},
	}
}

// WatchHistoryPipeline resolves an account's watchHistory ids against the
// `videos` collection and each video's owner against `users`.
func WatchHistoryPipeline(id bson.ObjectID) mongo.Pipeline {
	ownerLookup := bson.D{{Key: "$lookup", Value: bson.D{
		{Key: "from", Value: database.UsersCollection},
		{Key: "localField", Value: "owner"},
		{Key: "foreignField", Value: "_id"},
		{Key: "as", Value: "owner"},
		{Key: "pipeline", Value: bson.A{
			bson.D{{Key: "$project", Value: bson.D{
				{Key: "fullname", Value: 1},
				{Key: "username", Value: 1},
				{Key: "avatar", Value: 1},
			}}},
		}},
	}}}

	return mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "_id", Value: id}}}},
		{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: database.VideosCollection},
			{Key: "localField", Value: "watchHistory"},
			{Key: "foreignField", Value: "_id"},
			{Key: "as", Value: "watchHistory"},
			{Key: "pipeline", Value: bson.A{
				ownerLookup,
				bson.D{{Key: "$addFields", Value: bson.D{{Key: "owner", Value: bson.D{{Key: "$first", Value: "$owner"}}}}}},
			}},
		}}},
		{{Key: "$project", Value: bson.D{{Key: "watchHistory", Value: 1}}}},
	}
}

// ChannelProfile runs ChannelProfilePipeline and returns the single row.
func (r *AccountRepo) ChannelProfile(ctx context.Context, username string, viewer *bson.ObjectID) (model.ChannelProfile, error) {
	cur, err := r.users.Aggregate(ctx, ChannelProfilePipeline(username, viewer))
	if err != nil {
		return model.ChannelProfile{}, err
	}
	var rows []model.ChannelProfile
	if err := cur.All(ctx, &rows); err != nil {
		return model.ChannelProfile{}, err
	}
	if len(rows) == 0 {
		return model.ChannelProfile{}, ErrNotFound
	}
	return rows[0], nil
}

// WatchHistory returns the resolved watch history of an account.
func (r *AccountRepo) WatchHistory(ctx context.Context, id bson.ObjectID) ([]model.WatchedVideo, error) {
	cur, err := r.users.Aggregate(ctx, WatchHistoryPipeline(id))
	if err != nil {
		return nil, err
	}
	var rows []struct {
		WatchHistory []model.WatchedVideo `bson:"watchHistory"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	if rows[0].WatchHistory == nil {
		return []model.WatchedVideo{}, nil
	}
	return rows[0].WatchHistory, nil
}
