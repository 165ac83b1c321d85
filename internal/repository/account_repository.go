package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/iliyamo/videotube-accounts/internal/database"
	"github.com/iliyamo/videotube-accounts/internal/model"
)

// AccountRepo persists accounts in the `users` collection.
type AccountRepo struct {
	users *mongo.Collection
	now   func() time.Time
}

func NewAccountRepo(db *mongo.Database) *AccountRepo {
	return &AccountRepo{
		users: db.Collection(database.UsersCollection),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Create inserts a new account and fills in its ID and timestamps.
func (r *AccountRepo) Create(ctx context.Context, a *model.Account) error {
	now := r.now()
	if a.ID.IsZero() {
		a.ID = bson.NewObjectID()
	}
	if a.WatchHistory == nil {
		a.WatchHistory = []bson.ObjectID{}
	}
	a.CreatedAt, a.UpdatedAt = now, now

	if _, err := r.users.InsertOne(ctx, a); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// ExistsByUsernameOrEmail reports whether any account uses username or email.
func (r *AccountRepo) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	filter, ok := identifierFilter(username, email)
	if !ok {
		return false, nil
	}
	n, err := r.users.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// FindByUsernameOrEmail returns the first account matching either identifier.
// Empty identifiers are ignored.
func (r *AccountRepo) FindByUsernameOrEmail(ctx context.Context, username, email string) (model.Account, error) {
	filter, ok := identifierFilter(username, email)
	if !ok {
		return model.Account{}, ErrNotFound
	}
	return r.findOne(ctx, filter)
}

// GetByID fetches an account by id.
func (r *AccountRepo) GetByID(ctx context.Context, id bson.ObjectID) (model.Account, error) {
	return r.findOne(ctx, bson.D{{Key: "_id", Value: id}})
}

// SetRefreshToken stores token as the account's current refresh token.
func (r *AccountRepo) SetRefreshToken(ctx context.Context, id bson.ObjectID, token string) error {
	return r.updateByID(ctx, id, bson.D{
		{Key: "$set", Value: bson.D{{Key: "refreshToken", Value: token}, {Key: "updatedAt", Value: r.now()}}},
	})
}

// RotateRefreshToken replaces presented with next only if presented is still
// the stored value. A lost race or a replayed token yields ErrStaleToken.
func (r *AccountRepo) RotateRefreshToken(ctx context.Context, id bson.ObjectID, presented, next string) error {
	res, err := r.users.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}, {Key: "refreshToken", Value: presented}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "refreshToken", Value: next}, {Key: "updatedAt", Value: r.now()}}}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrStaleToken
	}
	return nil
}

// ClearRefreshToken removes the stored refresh token. Clearing an already
// empty token succeeds.
func (r *AccountRepo) ClearRefreshToken(ctx context.Context, id bson.ObjectID) error {
	return r.updateByID(ctx, id, bson.D{
		{Key: "$unset", Value: bson.D{{Key: "refreshToken", Value: ""}}},
		{Key: "$set", Value: bson.D{{Key: "updatedAt", Value: r.now()}}},
	})
}

// UpdatePassword stores a new password hash.
func (r *AccountRepo) UpdatePassword(ctx context.Context, id bson.ObjectID, hash string) error {
	return r.updateByID(ctx, id, bson.D{
		{Key: "$set", Value: bson.D{{Key: "password", Value: hash}, {Key: "updatedAt", Value: r.now()}}},
	})
}

// UpdateProfile sets fullname and email and returns the updated account.
func (r *AccountRepo) UpdateProfile(ctx context.Context, id bson.ObjectID, fullName, email string) (model.Account, error) {
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "fullname", Value: fullName},
		{Key: "email", Value: email},
		{Key: "updatedAt", Value: r.now()},
	}}}
	var a model.Account
	err := r.users.FindOneAndUpdate(ctx, bson.D{{Key: "_id", Value: id}}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&a)
	if err != nil {
		return model.Account{}, translate(err)
	}
	return a, nil
}

// ReplaceAvatar stores a new avatar URL and returns the previous one along
// with the updated account.
func (r *AccountRepo) ReplaceAvatar(ctx context.Context, id bson.ObjectID, url string) (string, model.Account, error) {
	return r.replaceImage(ctx, id, "avatar", url)
}

// ReplaceCoverImage stores a new cover image URL and returns the previous one
// along with the updated account.
func (r *AccountRepo) ReplaceCoverImage(ctx context.Context, id bson.ObjectID, url string) (string, model.Account, error) {
	return r.replaceImage(ctx, id, "coverImage", url)
}

func (r *AccountRepo) replaceImage(ctx context.Context, id bson.ObjectID, field, url string) (string, model.Account, error) {
	now := r.now()
	update := bson.D{{Key: "$set", Value: bson.D{{Key: field, Value: url}, {Key: "updatedAt", Value: now}}}}

	var before model.Account
	err := r.users.FindOneAndUpdate(ctx, bson.D{{Key: "_id", Value: id}}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.Before)).Decode(&before)
	if err != nil {
		return "", model.Account{}, translate(err)
	}

	after := before
	after.UpdatedAt = now
	previous := before.Avatar
	if field == "avatar" {
		after.Avatar = url
	} else {
		previous = before.CoverImage
		after.CoverImage = url
	}
	return previous, after, nil
}

func (r *AccountRepo) findOne(ctx context.Context, filter any) (model.Account, error) {
	var a model.Account
	if err := r.users.FindOne(ctx, filter).Decode(&a); err != nil {
		return model.Account{}, translate(err)
	}
	return a, nil
}

func (r *AccountRepo) updateByID(ctx context.Context, id bson.ObjectID, update any) error {
	res, err := r.users.UpdateByID(ctx, id, update)
	if err != nil {
		return translate(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// identifierFilter builds an $or over the non-empty identifiers.
func identifierFilter(username, email string) (bson.D, bool) {
	var or bson.A
	if u := strings.ToLower(strings.TrimSpace(username)); u != "" {
		or = append(or, bson.D{{Key: "username", Value: u}})
	}
	if e := strings.ToLower(strings.TrimSpace(email)); e != "" {
		or = append(or, bson.D{{Key: "email", Value: e}})
	}
	if len(or) == 0 {
		return nil, false
	}
	return bson.D{{Key: "$or", Value: or}}, true
}

func translate(err error) error {
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return ErrDuplicate
	default:
		return err
	}
}
