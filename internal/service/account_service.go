package service

import (
	"context"
	"errors"
	"log/slog"
	"mime/multipart"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/iliyamo/videotube-accounts/internal/apperr"
	"github.com/iliyamo/videotube-accounts/internal/logging"
	"github.com/iliyamo/videotube-accounts/internal/model"
	"github.com/iliyamo/videotube-accounts/internal/queue"
	"github.com/iliyamo/videotube-accounts/internal/repository"
	"github.com/iliyamo/videotube-accounts/internal/utils"
)

const (
	avatarFolder = "avatars"
	coverFolder  = "covers"

	// cleanupTimeout bounds inline media deletion, which runs detached from
	// the request context.
	cleanupTimeout = 10 * time.Second
)

// TokenPair is a freshly issued access/refresh pair.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Session is the result of a successful login.
type Session struct {
	Account model.Account
	Tokens  TokenPair
}

// RegisterInput carries the registration form.
type RegisterInput struct {
	FullName string
	Email    string
	Username string
	Password string
	Avatar   *multipart.FileHeader
	Cover    *multipart.FileHeader
}

// AccountService is the session manager and the home of every account operation.
type AccountService struct {
	accounts AccountStore
	subs     SubscriptionStore
	media    MediaHost
	hasher   PasswordHasher
	tokens   *utils.Signer
	events   EventPublisher
	logger   *slog.Logger
	now      func() time.Time
}

// NewAccountService wires the service. events may be nil, in which case
// no events are published and orphaned media is deleted inline.
func NewAccountService(accounts AccountStore, subs SubscriptionStore, media MediaHost, hasher PasswordHasher, tokens *utils.Signer, events EventPublisher, logger *slog.Logger) *AccountService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountService{
		accounts: accounts,
		subs:     subs,
		media:    media,
		hasher:   hasher,
		tokens:   tokens,
		events:   events,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Register creates an account after uploading its avatar and optional cover.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (model.Account, error) {
	fullName := strings.TrimSpace(in.FullName)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	username := strings.ToLower(strings.TrimSpace(in.Username))
	if fullName == "" || email == "" || username == "" || strings.TrimSpace(in.Password) == "" {
		return model.Account{}, apperr.Validation("All fields are required")
	}

	exists, err := s.accounts.ExistsByUsernameOrEmail(ctx, username, email)
	if err != nil {
		return model.Account{}, internal(err)
	}
	if exists {
		return model.Account{}, apperr.Conflict("User with email or username already exists")
	}
	if in.Avatar == nil {
		return model.Account{}, apperr.Validation("Avatar file is required")
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		if errors.Is(err, utils.ErrPasswordTooLong) {
			return model.Account{}, apperr.Validation("Password is too long")
		}
		return model.Account{}, internal(err)
	}

	avatarURL, err := s.media.Upload(ctx, in.Avatar, avatarFolder)
	if err != nil || avatarURL == "" {
		return model.Account{}, apperr.Upload("Avatar file is required", err)
	}

	var coverURL string
	if in.Cover != nil {
		coverURL, err = s.media.Upload(ctx, in.Cover, coverFolder)
		if err != nil {
			logging.FromContextOr(ctx, s.logger).Warn("cover image upload failed, continuing without it", "username", username, "error", err)
			coverURL = ""
		}
	}

	a := &model.Account{
		Username:     username,
		Email:        email,
		FullName:     fullName,
		Avatar:       avatarURL,
		CoverImage:   coverURL,
		PasswordHash: hash,
	}
	if err := s.accounts.Create(ctx, a); err != nil {
		s.release(ctx, "", "registration failed", avatarURL, coverURL)
		if errors.Is(err, repository.ErrDuplicate) {
			return model.Account{}, apperr.Conflict("User with email or username already exists")
		}
		return model.Account{}, internal(err)
	}

	s.publish(ctx, queue.AccountRegistered, *a)
	return a.Sanitized(), nil
}

// Login verifies credentials and starts a new session. Either identifier
// may be used; the stored refresh token is replaced.
func (s *AccountService) Login(ctx context.Context, username, email, password string) (Session, error) {
	if strings.TrimSpace(username) == "" && strings.TrimSpace(email) == "" {
		return Session{}, apperr.Validation("username or email is required")
	}

	a, err := s.accounts.FindByUsernameOrEmail(ctx, username, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Session{}, apperr.NotFound("User does not exist")
		}
		return Session{}, internal(err)
	}
	if !s.hasher.Compare(a.PasswordHash, password) {
		return Session{}, apperr.Auth("Invalid user credentials")
	}

	pair, err := s.issue(a)
	if err != nil {
		return Session{}, err
	}
	if err := s.accounts.SetRefreshToken(ctx, a.ID, pair.RefreshToken); err != nil {
		return Session{}, internal(err)
	}

	s.publish(ctx, queue.AccountLoggedIn, a)
	return Session{Account: a.Sanitized(), Tokens: pair}, nil
}

// Logout clears the stored refresh token. Access tokens already issued stay
// valid until they expire. Logging out twice is not an error.
func (s *AccountService) Logout(ctx context.Context, id bson.ObjectID) error {
	if err := s.accounts.ClearRefreshToken(ctx, id); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return internal(err)
	}
	s.publish(ctx, queue.AccountLoggedOut, model.Account{ID: id})
	return nil
}

// RefreshSession exchanges a refresh token for a new pair. The presented
// token is single use: rotation only succeeds while it is still the stored
// value, so a replayed or concurrently rotated token is rejected.
func (s *AccountService) RefreshSession(ctx context.Context, presented string) (TokenPair, error) {
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return TokenPair{}, apperr.Auth("unauthorized request")
	}

	claims, err := s.tokens.ParseRefresh(presented)
	if err != nil {
		return TokenPair{}, &apperr.Error{Kind: apperr.KindAuth, Message: "Invalid refresh token", Err: err}
	}
	id, err := bson.ObjectIDFromHex(claims.AccountID)
	if err != nil {
		return TokenPair{}, apperr.Auth("Invalid refresh token")
	}

	a, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return TokenPair{}, apperr.Auth("Invalid refresh token")
		}
		return TokenPair{}, internal(err)
	}
	if a.RefreshToken == "" || a.RefreshToken != presented {
		return TokenPair{}, apperr.Auth("Refresh token is expired or used")
	}

	pair, err := s.issue(a)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.accounts.RotateRefreshToken(ctx, id, presented, pair.RefreshToken); err != nil {
		if errors.Is(err, repository.ErrStaleToken) {
			return TokenPair{}, apperr.Auth("Refresh token is expired or used")
		}
		return TokenPair{}, internal(err)
	}
	return pair, nil
}

// ChangePassword replaces the password hash after verifying the current
// password. Existing sessions are left untouched.
func (s *AccountService) ChangePassword(ctx context.Context, id bson.ObjectID, current, next string) error {
	if current == "" || next == "" {
		return apperr.Validation("Both current and new password are required")
	}
	a, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return s.accountErr(err)
	}
	if !s.hasher.Compare(a.PasswordHash, current) {
		return apperr.Auth("Invalid old password")
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		if errors.Is(err, utils.ErrPasswordTooLong) {
			return apperr.Validation("Password is too long")
		}
		return internal(err)
	}
	if err := s.accounts.UpdatePassword(ctx, id, hash); err != nil {
		return s.accountErr(err)
	}

	s.publish(ctx, queue.AccountPasswordChanged, a)
	return nil
}

// UpdateProfile sets fullname and email.
func (s *AccountService) UpdateProfile(ctx context.Context, id bson.ObjectID, fullName, email string) (model.Account, error) {
	fullName = strings.TrimSpace(fullName)
	email = strings.ToLower(strings.TrimSpace(email))
	if fullName == "" || email == "" {
		return model.Account{}, apperr.Validation("All fields are required")
	}

	owner, err := s.accounts.FindByUsernameOrEmail(ctx, "", email)
	switch {
	case err == nil && owner.ID != id:
		return model.Account{}, apperr.Conflict("Email is already in use")
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return model.Account{}, internal(err)
	}

	a, err := s.accounts.UpdateProfile(ctx, id, fullName, email)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return model.Account{}, apperr.Conflict("Email is already in use")
		}
		return model.Account{}, s.accountErr(err)
	}

	s.publish(ctx, queue.AccountProfileUpdated, a)
	return a.Sanitized(), nil
}

// UpdateAvatar uploads a new avatar and releases the previous one.
func (s *AccountService) UpdateAvatar(ctx context.Context, id bson.ObjectID, fh *multipart.FileHeader) (model.Account, error) {
	if fh == nil {
		return model.Account{}, apperr.Validation("Avatar file is missing")
	}
	return s.replaceImage(ctx, id, fh, avatarFolder, "Error while uploading avatar", s.accounts.ReplaceAvatar, queue.AccountAvatarUpdated)
}

// UpdateCoverImage uploads a new cover image and releases the previous one.
func (s *AccountService) UpdateCoverImage(ctx context.Context, id bson.ObjectID, fh *multipart.FileHeader) (model.Account, error) {
	if fh == nil {
		return model.Account{}, apperr.Validation("Cover image file is missing")
	}
	return s.replaceImage(ctx, id, fh, coverFolder, "Error while uploading cover image", s.accounts.ReplaceCoverImage, queue.AccountCoverUpdated)
}

type replaceFunc func(ctx context.Context, id bson.ObjectID, url string) (string, model.Account, error)

func (s *AccountService) replaceImage(ctx context.Context, id bson.ObjectID, fh *multipart.FileHeader, folder, failMsg string, replace replaceFunc, event string) (model.Account, error) {
	url, err := s.media.Upload(ctx, fh, folder)
	if err != nil || url == "" {
		return model.Account{}, apperr.Upload(failMsg, err)
	}

	previous, a, err := replace(ctx, id, url)
	if err != nil {
		s.release(ctx, id.Hex(), "update failed", url)
		return model.Account{}, s.accountErr(err)
	}

	s.release(ctx, id.Hex(), folder+" replaced", previous)
	s.publish(ctx, event, a)
	return a.Sanitized(), nil
}

// GetChannelProfile returns the public channel view of username. viewer is
// nil for anonymous requests, in which case isSubscribed is false.
func (s *AccountService) GetChannelProfile(ctx context.Context, viewer *bson.ObjectID, username string) (model.ChannelProfile, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return model.ChannelProfile{}, apperr.Validation("username is missing")
	}
	p, err := s.accounts.ChannelProfile(ctx, username, viewer)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.ChannelProfile{}, apperr.NotFound("channel does not exist")
		}
		return model.ChannelProfile{}, internal(err)
	}
	return p, nil
}

// ToggleSubscription subscribes viewer to the channel or, when already
// subscribed, removes the subscription. It reports the resulting state.
func (s *AccountService) ToggleSubscription(ctx context.Context, viewer bson.ObjectID, channelUsername string) (bool, error) {
	channelUsername = strings.ToLower(strings.TrimSpace(channelUsername))
	if channelUsername == "" {
		return false, apperr.Validation("username is missing")
	}
	channel, err := s.accounts.FindByUsernameOrEmail(ctx, channelUsername, "")
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, apperr.NotFound("channel does not exist")
		}
		return false, internal(err)
	}
	if channel.ID == viewer {
		return false, apperr.Validation("cannot subscribe to your own channel")
	}

	subscribed, err := s.subs.Toggle(ctx, viewer, channel.ID)
	if err != nil {
		return false, internal(err)
	}
	return subscribed, nil
}

// GetWatchHistory lists the videos in the account's watch history, oldest first.
func (s *AccountService) GetWatchHistory(ctx context.Context, id bson.ObjectID) ([]model.WatchedVideo, error) {
	if _, err := s.accounts.GetByID(ctx, id); err != nil {
		return nil, s.accountErr(err)
	}
	videos, err := s.accounts.WatchHistory(ctx, id)
	if err != nil {
		return nil, internal(err)
	}
	if videos == nil {
		videos = []model.WatchedVideo{}
	}
	return videos, nil
}

// Authenticate resolves an access token to the sanitized account it names.
func (s *AccountService) Authenticate(ctx context.Context, accessToken string) (model.Account, error) {
	if strings.TrimSpace(accessToken) == "" {
		return model.Account{}, apperr.Auth("Unauthorized request")
	}
	claims, err := s.tokens.ParseAccess(accessToken)
	if err != nil {
		return model.Account{}, &apperr.Error{Kind: apperr.KindAuth, Message: "Invalid Access Token", Err: err}
	}
	id, err := bson.ObjectIDFromHex(claims.AccountID)
	if err != nil {
		return model.Account{}, apperr.Auth("Invalid Access Token")
	}
	a, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Account{}, apperr.Auth("Invalid Access Token")
		}
		return model.Account{}, internal(err)
	}
	return a.Sanitized(), nil
}

func (s *AccountService) issue(a model.Account) (TokenPair, error) {
	access, err := s.tokens.IssueAccess(a.ID.Hex(), a.Email, a.Username, a.FullName)
	if err != nil {
		return TokenPair{}, internal(err)
	}
	refresh, err := s.tokens.IssueRefresh(a.ID.Hex())
	if err != nil {
		return TokenPair{}, internal(err)
	}
	return TokenPair{
		AccessToken:      access.Value,
		AccessExpiresAt:  access.Exp,
		RefreshToken:     refresh.Value,
		RefreshExpiresAt: refresh.Exp,
	}, nil
}

// release hands unreferenced assets to the media reaper, or deletes them
// inline when no broker is configured or publishing fails.
func (s *AccountService) release(ctx context.Context, accountID, reason string, urls ...string) {
	for _, url := range urls {
		if url == "" {
			continue
		}
		if s.events != nil {
			err := s.events.PublishMediaOrphaned(ctx, queue.MediaOrphanedEvent{
				URL:        url,
				AccountID:  accountID,
				Reason:     reason,
				OccurredAt: s.now(),
			})
			if err == nil {
				continue
			}
		}
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		if err := s.media.Delete(dctx, url); err != nil {
			logging.FromContextOr(ctx, s.logger).Warn("orphaned media not deleted", "url", url, "reason", reason, "error", err)
		}
		cancel()
	}
}

func (s *AccountService) publish(ctx context.Context, typ string, a model.Account) {
	if s.events == nil {
		return
	}
	ev := queue.AccountEvent{Type: typ, AccountID: a.ID.Hex(), Username: a.Username, OccurredAt: s.now()}
	if err := s.events.PublishAccountEvent(ctx, ev); err != nil {
		logging.FromContextOr(ctx, s.logger).Warn("account event not published", "type", typ, "error", err)
	}
}

// accountErr maps store errors for operations on an authenticated account.
func (s *AccountService) accountErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("User does not exist")
	}
	return internal(err)
}

func internal(err error) error {
	return apperr.Internal("Something went wrong", err)
}
