package model

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Account is a document in the `users` collection. Username and email are
// stored lower-cased and trimmed and are each covered by a unique index.
// PasswordHash and RefreshToken never leave the process: their json tags
// are "-" and Sanitized clears them as well.
type Account struct {
	ID           bson.ObjectID   `bson:"_id,omitempty" json:"_id"`
	Username     string          `bson:"username" json:"username"`
	Email        string          `bson:"email" json:"email"`
	FullName     string          `bson:"fullname" json:"fullname"`
	Avatar       string          `bson:"avatar" json:"avatar"`
	CoverImage   string          `bson:"coverImage" json:"coverImage"`
	WatchHistory []bson.ObjectID `bson:"watchHistory" json:"watchHistory"`
	PasswordHash string          `bson:"password" json:"-"`
	RefreshToken string          `bson:"refreshToken,omitempty" json:"-"`
	CreatedAt    time.Time       `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time       `bson:"updatedAt" json:"updatedAt"`
}

// Sanitized returns a copy safe to hand to clients.
func (a Account) Sanitized() Account {
	a.PasswordHash = ""
	a.RefreshToken = ""
	if a.WatchHistory == nil {
		a.WatchHistory = []bson.ObjectID{}
	}
	return a
}

// ChannelProfile is the projection returned by the channel aggregation.
type ChannelProfile struct {
	ID                        bson.ObjectID `bson:"_id" json:"_id"`
	FullName                  string        `bson:"fullname" json:"fullname"`
	Username                  string        `bson:"username" json:"username"`
	Email                     string        `bson:"email" json:"email"`
	Avatar                    string        `bson:"avatar" json:"avatar"`
	CoverImage                string        `bson:"coverImage" json:"coverImage"`
	SubscribersCount          int64         `bson:"subscribersCount" json:"subscribersCount"`
	ChannelsSubscribedToCount int64         `bson:"channelsSubscribedToCount" json:"channelsSubscribedToCount"`
	IsSubscribed              bool          `bson:"isSubscribed" json:"isSubscribed"`
}

// VideoOwner is the slice of an account embedded in watch history entries.
type VideoOwner struct {
	FullName string `bson:"fullname" json:"fullname"`
	Username string `bson:"username" json:"username"`
	Avatar   string `bson:"avatar" json:"avatar"`
}

// WatchedVideo is one entry of an account's watch history, resolved from
// the `videos` collection.
type WatchedVideo struct {
	ID        bson.ObjectID `bson:"_id" json:"_id"`
	Title     string        `bson:"title" json:"title"`
	Thumbnail string        `bson:"thumbnail" json:"thumbnail"`
	VideoFile string        `bson:"videoFile" json:"videoFile"`
	Duration  float64       `bson:"duration" json:"duration"`
	Views     int64         `bson:"views" json:"views"`
	Owner     *VideoOwner   `bson:"owner,omitempty" json:"owner,omitempty"`
}
