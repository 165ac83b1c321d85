// Package service implements the account operations behind the HTTP
// handlers: registration, session issuance and rotation, profile and media
// updates, and the channel aggregation.
package service

import (
	"context"
	"mime/multipart"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/iliyamo/videotube-accounts/internal/model"
	"github.com/iliyamo/videotube-accounts/internal/queue"
)

// AccountStore is the credential store. *repository.AccountRepo implements it.
type AccountStore interface {
	Create(ctx context.Context, a *model.Account) error
	ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error)
	FindByUsernameOrEmail(ctx context.Context, username, email string) (model.Account, error)
	GetByID(ctx context.Context, id bson.ObjectID) (model.Account, error)
	SetRefreshToken(ctx context.Context, id bson.ObjectID, token string) error
	RotateRefreshToken(ctx context.Context, id bson.ObjectID, presented, next string) error
	ClearRefreshToken(ctx context.Context, id bson.ObjectID) error
	UpdatePassword(ctx context.Context, id bson.ObjectID, hash string) error
	UpdateProfile(ctx context.Context, id bson.ObjectID, fullName, email string) (model.Account, error)
	ReplaceAvatar(ctx context.Context, id bson.ObjectID, url string) (string, model.Account, error)
	ReplaceCoverImage(ctx context.Context, id bson.ObjectID, url string) (string, model.Account, error)
	ChannelProfile(ctx context.Context, username string, viewer *bson.ObjectID) (model.ChannelProfile, error)
	WatchHistory(ctx context.Context, id bson.ObjectID) ([]model.WatchedVideo, error)
}

// SubscriptionStore persists subscription edges.
type SubscriptionStore interface {
	Toggle(ctx context.Context, subscriber, channel bson.ObjectID) (bool, error)
}

// MediaHost stores uploaded files and returns their public URLs.
type MediaHost interface {
	Upload(ctx context.Context, fh *multipart.FileHeader, folder string) (string, error)
	Delete(ctx context.Context, url string) error
}

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Compare(hash, plain string) bool
}

// EventPublisher forwards account events to the broker. It may be nil.
type EventPublisher interface {
	PublishAccountEvent(ctx context.Context, ev queue.AccountEvent) error
	PublishMediaOrphaned(ctx context.Context, ev queue.MediaOrphanedEvent) error
}
