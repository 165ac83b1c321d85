package service

import (
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/iliyamo/videotube-accounts/internal/apperr"
	"github.com/iliyamo/videotube-accounts/internal/model"
	"github.com/iliyamo/videotube-accounts/internal/queue"
	"github.com/iliyamo/videotube-accounts/internal/utils"
)

type fixture struct {
	svc      *AccountService
	accounts *memAccounts
	subs     *memSubs
	media    *memMedia
	events   *memEvents
}

func newFixture(t *testing.T, withEvents bool) *fixture {
	t.Helper()
	subs := &memSubs{}
	f := &fixture{
		accounts: newMemAccounts(subs),
		subs:     subs,
		media:    &memMedia{failures: map[string]error{}},
	}
	var events EventPublisher
	if withEvents {
		f.events = &memEvents{}
		events = f.events
	}
	signer := utils.NewSigner("access-secret", "refresh-secret", time.Minute, time.Hour)
	f.svc = NewAccountService(f.accounts, subs, f.media, utils.BcryptHasher{Cost: 4}, signer, events, nil)
	return f
}

func file(name string) *multipart.FileHeader {
	return &multipart.FileHeader{Filename: name, Size: 10}
}

func (f *fixture) register(t *testing.T, username string) model.Account {
	t.Helper()
	a, err := f.svc.Register(context.Background(), RegisterInput{
		FullName: "Name " + username,
		Email:    username + "@example.com",
		Username: username,
		Password: "secret-" + username,
		Avatar:   file("a.png"),
	})
	require.NoError(t, err)
	return a
}

func assertKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, apperr.KindOf(err), "error: %v", err)
}

func TestRegisterNormalizesAndSanitizes(t *testing.T) {
	f := newFixture(t, true)

	a, err := f.svc.Register(context.Background(), RegisterInput{
		FullName: "  Alice Liddell ",
		Email:    " Alice@Example.COM",
		Username: "  Alice ",
		Password: "wonderland",
		Avatar:   file("a.png"),
		Cover:    file("c.png"),
	})
	require.NoError(t, err)

	assert.Equal(t, "alice", a.Username)
	assert.Equal(t, "alice@example.com", a.Email)
	assert.Equal(t, "Alice Liddell", a.FullName)
	assert.Equal(t, "https://cdn.test/avatars/1.png", a.Avatar)
	assert.Equal(t, "https://cdn.test/covers/2.png", a.CoverImage)
	assert.Empty(t, a.PasswordHash)
	assert.Empty(t, a.RefreshToken)

	body, err := json.Marshal(a)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "password")
	assert.NotContains(t, string(body), "refreshToken")

	stored, err := f.accounts.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "wonderland", stored.PasswordHash)
	assert.Equal(t, []string{queue.AccountRegistered}, f.events.types())
}

func TestRegisterDuplicateUsernameConflicts(t *testing.T) {
	f := newFixture(t, false)
	f.register(t, "bob")
	uploads := len(f.media.uploaded)

	_, err := f.svc.Register(context.Background(), RegisterInput{
		FullName: "Other Bob",
		Email:    "other@example.com",
		Username: "BOB",
		Password: "pw",
		Avatar:   file("a.png"),
	})
	assertKind(t, err, apperr.KindConflict)
	assert.Len(t, f.media.uploaded, uploads, "no upload for a rejected registration")
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, RegisterInput{FullName: "x", Email: "x@example.com", Username: "  ", Password: "pw", Avatar: file("a.png")})
	assertKind(t, err, apperr.KindValidation)

	_, err = f.svc.Register(ctx, RegisterInput{FullName: "x", Email: "x@example.com", Username: "x", Password: "pw"})
	assertKind(t, err, apperr.KindValidation)
	assert.Contains(t, err.Error(), "Avatar file is required")
}

func TestRegisterAvatarUploadFailure(t *testing.T) {
	f := newFixture(t, false)
	f.media.failures[avatarFolder] = errors.New("bucket down")

	_, err := f.svc.Register(context.Background(), RegisterInput{
		FullName: "x", Email: "x@example.com", Username: "x", Password: "pw", Avatar: file("a.png"),
	})
	assertKind(t, err, apperr.KindUpload)
	_, err = f.accounts.FindByUsernameOrEmail(context.Background(), "x", "")
	assert.Error(t, err, "no account without an avatar")
}

func TestRegisterCoverFailureIsPartialSuccess(t *testing.T) {
	f := newFixture(t, false)
	f.media.failures[coverFolder] = errors.New("bucket down")

	a, err := f.svc.Register(context.Background(), RegisterInput{
		FullName: "x", Email: "x@example.com", Username: "x", Password: "pw",
		Avatar: file("a.png"), Cover: file("c.png"),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, a.Avatar)
	assert.Empty(t, a.CoverImage)
}

func TestRegisterRaceReleasesUploads(t *testing.T) {
	f := newFixture(t, false)
	f.accounts.createErr = errDuplicate()

	_, err := f.svc.Register(context.Background(), RegisterInput{
		FullName: "x", Email: "x@example.com", Username: "x", Password: "pw",
		Avatar: file("a.png"), Cover: file("c.png"),
	})
	assertKind(t, err, apperr.KindConflict)
	assert.ElementsMatch(t, f.media.uploaded, f.media.deleted)
}

func TestLogin(t *testing.T) {
	f := newFixture(t, false)
	reg := f.register(t, "carol")
	ctx := context.Background()

	s, err := f.svc.Login(ctx, "carol", "", "secret-carol")
	require.NoError(t, err)
	assert.Equal(t, reg.ID, s.Account.ID)
	assert.Empty(t, s.Account.RefreshToken)
	assert.NotEmpty(t, s.Tokens.AccessToken)
	assert.NotEmpty(t, s.Tokens.RefreshToken)

	stored, err := f.accounts.GetByID(ctx, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Tokens.RefreshToken, stored.RefreshToken)

	_, err = f.svc.Login(ctx, "", "CAROL@example.com", "secret-carol")
	assert.NoError(t, err, "email works as identifier")

	_, err = f.svc.Login(ctx, "carol", "", "wrong")
	assertKind(t, err, apperr.KindAuth)

	_, err = f.svc.Login(ctx, "nobody", "", "x")
	assertKind(t, err, apperr.KindNotFound)

	_, err = f.svc.Login(ctx, " ", "", "x")
	assertKind(t, err, apperr.KindValidation)
}

func TestRefreshTokenIsSingleUse(t *testing.T) {
	f := newFixture(t, false)
	f.register(t, "dave")
	ctx := context.Background()

	s, err := f.svc.Login(ctx, "dave", "", "secret-dave")
	require.NoError(t, err)

	next, err := f.svc.RefreshSession(ctx, s.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, s.Tokens.RefreshToken, next.RefreshToken)

	_, err = f.svc.RefreshSession(ctx, s.Tokens.RefreshToken)
	assertKind(t, err, apperr.KindAuth)

	_, err = f.svc.RefreshSession(ctx, next.RefreshToken)
	assert.NoError(t, err)
}

func TestRefreshLosesConcurrentRotation(t *testing.T) {
	f := newFixture(t, false)
	reg := f.register(t, "erin")
	ctx := context.Background()

	s, err := f.svc.Login(ctx, "erin", "", "secret-erin")
	require.NoError(t, err)

	f.accounts.beforeRotate = func(id bson.ObjectID) {
		_ = f.accounts.SetRefreshToken(ctx, id, "rotated-elsewhere")
	}
	_, err = f.svc.RefreshSession(ctx, s.Tokens.RefreshToken)
	assertKind(t, err, apperr.KindAuth)

	stored, err := f.accounts.GetByID(ctx, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, "rotated-elsewhere", stored.RefreshToken)
}

func TestRefreshRejectsBadTokens(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	_, err := f.svc.RefreshSession(ctx, "")
	assertKind(t, err, apperr.KindAuth)

	_, err = f.svc.RefreshSession(ctx, "not-a-jwt")
	assertKind(t, err, apperr.KindAuth)

	ghost, err := f.svc.tokens.IssueRefresh(bson.NewObjectID().Hex())
	require.NoError(t, err)
	_, err = f.svc.RefreshSession(ctx, ghost.Value)
	assertKind(t, err, apperr.KindAuth)

	f.register(t, "frank")
	s, err := f.svc.Login(ctx, "frank", "", "secret-frank")
	require.NoError(t, err)
	_, err = f.svc.RefreshSession(ctx, s.Tokens.AccessToken)
	assertKind(t, err, apperr.KindAuth)
}

func TestLogoutInvalidatesRefreshButNotAccess(t *testing.T) {
	f := newFixture(t, true)
	reg := f.register(t, "gina")
	ctx := context.Background()

	s, err := f.svc.Login(ctx, "gina", "", "secret-gina")
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, reg.ID))
	require.NoError(t, f.svc.Logout(ctx, reg.ID), "logout is idempotent")

	_, err = f.svc.RefreshSession(ctx, s.Tokens.RefreshToken)
	assertKind(t, err, apperr.KindAuth)

	a, err := f.svc.Authenticate(ctx, s.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, reg.ID, a.ID)
	assert.Contains(t, f.events.types(), queue.AccountLoggedOut)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t, false)
	reg := f.register(t, "hank")
	ctx := context.Background()

	s, err := f.svc.Login(ctx, "hank", "", "secret-hank")
	require.NoError(t, err)

	assertKind(t, f.svc.ChangePassword(ctx, reg.ID, "", "new"), apperr.KindValidation)
	assertKind(t, f.svc.ChangePassword(ctx, reg.ID, "wrong", "new"), apperr.KindAuth)
	require.NoError(t, f.svc.ChangePassword(ctx, reg.ID, "secret-hank", "new-pass"))

	_, err = f.svc.Login(ctx, "hank", "", "secret-hank")
	assertKind(t, err, apperr.KindAuth)

	_, err = f.svc.RefreshSession(ctx, s.Tokens.RefreshToken)
	assert.NoError(t, err, "existing sessions survive a password change")

	_, err = f.svc.Login(ctx, "hank", "", "new-pass")
	assert.NoError(t, err)
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t, false)
	ivy := f.register(t, "ivy")
	f.register(t, "jack")
	ctx := context.Background()

	_, err := f.svc.UpdateProfile(ctx, ivy.ID, "Ivy", "JACK@example.com")
	assertKind(t, err, apperr.KindConflict)

	_, err = f.svc.UpdateProfile(ctx, ivy.ID, "", "ivy@example.com")
	assertKind(t, err, apperr.KindValidation)

	a, err := f.svc.UpdateProfile(ctx, ivy.ID, " Ivy Green ", "ivy@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Ivy Green", a.FullName)
	assert.Empty(t, a.PasswordHash)

	a, err = f.svc.UpdateProfile(ctx, ivy.ID, "Ivy", "Ivy.Green@example.com")
	require.NoError(t, err)
	assert.Equal(t, "ivy.green@example.com", a.Email)

	_, err = f.svc.UpdateProfile(ctx, bson.NewObjectID(), "x", "x@example.com")
	assertKind(t, err, apperr.KindNotFound)
}

func TestUpdateAvatarReleasesPreviousThroughQueue(t *testing.T) {
	f := newFixture(t, true)
	reg := f.register(t, "kim")
	ctx := context.Background()

	a, err := f.svc.UpdateAvatar(ctx, reg.ID, file("new.png"))
	require.NoError(t, err)
	assert.NotEqual(t, reg.Avatar, a.Avatar)

	require.Len(t, f.events.orphans, 1)
	assert.Equal(t, reg.Avatar, f.events.orphans[0].URL)
	assert.Equal(t, reg.ID.Hex(), f.events.orphans[0].AccountID)
	assert.Empty(t, f.media.deleted)

	_, err = f.svc.UpdateAvatar(ctx, reg.ID, nil)
	assertKind(t, err, apperr.KindValidation)
}

func TestUpdateCoverImageDeletesInlineWithoutBroker(t *testing.T) {
	f := newFixture(t, false)
	reg := f.register(t, "lee")
	ctx := context.Background()

	first, err := f.svc.UpdateCoverImage(ctx, reg.ID, file("c1.png"))
	require.NoError(t, err)
	assert.Empty(t, f.media.deleted, "no previous cover to release")

	second, err := f.svc.UpdateCoverImage(ctx, reg.ID, file("c2.png"))
	require.NoError(t, err)
	assert.Equal(t, []string{first.CoverImage}, f.media.deleted)
	assert.NotEqual(t, first.CoverImage, second.CoverImage)
}

func TestReleaseFallsBackWhenPublishFails(t *testing.T) {
	f := newFixture(t, true)
	f.events.orphanErr = errors.New("broker down")
	reg := f.register(t, "max")

	_, err := f.svc.UpdateAvatar(context.Background(), reg.ID, file("new.png"))
	require.NoError(t, err)
	assert.Equal(t, []string{reg.Avatar}, f.media.deleted)
}

func TestUpdateAvatarUploadFailure(t *testing.T) {
	f := newFixture(t, false)
	reg := f.register(t, "ned")
	f.media.failures[avatarFolder] = errors.New("bucket down")

	_, err := f.svc.UpdateAvatar(context.Background(), reg.ID, file("new.png"))
	assertKind(t, err, apperr.KindUpload)

	stored, err := f.accounts.GetByID(context.Background(), reg.ID)
	require.NoError(t, err)
	assert.Equal(t, reg.Avatar, stored.Avatar)
}

func TestChannelProfileCounts(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	target := f.register(t, "target")
	a := f.register(t, "viewer-a")
	b := f.register(t, "viewer-b")
	c := f.register(t, "viewer-c")
	other := f.register(t, "other")

	for _, sub := range []model.Account{a, b, c} {
		f.subs.add(sub.ID, target.ID)
	}
	f.subs.add(target.ID, other.ID)

	p, err := f.svc.GetChannelProfile(ctx, &a.ID, "TARGET")
	require.NoError(t, err)
	assert.Equal(t, int64(3), p.SubscribersCount)
	assert.Equal(t, int64(1), p.ChannelsSubscribedToCount)
	assert.True(t, p.IsSubscribed)
	assert.Equal(t, "target", p.Username)

	p, err = f.svc.GetChannelProfile(ctx, &other.ID, "target")
	require.NoError(t, err)
	assert.False(t, p.IsSubscribed)

	p, err = f.svc.GetChannelProfile(ctx, nil, "target")
	require.NoError(t, err)
	assert.False(t, p.IsSubscribed)

	_, err = f.svc.GetChannelProfile(ctx, nil, "ghost")
	assertKind(t, err, apperr.KindNotFound)

	_, err = f.svc.GetChannelProfile(ctx, nil, " ")
	assertKind(t, err, apperr.KindValidation)
}

func TestToggleSubscription(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	channel := f.register(t, "chan")
	viewer := f.register(t, "fan")

	on, err := f.svc.ToggleSubscription(ctx, viewer.ID, "chan")
	require.NoError(t, err)
	assert.True(t, on)

	p, err := f.svc.GetChannelProfile(ctx, &viewer.ID, "chan")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.SubscribersCount)
	assert.True(t, p.IsSubscribed)

	on, err = f.svc.ToggleSubscription(ctx, viewer.ID, "chan")
	require.NoError(t, err)
	assert.False(t, on)

	_, err = f.svc.ToggleSubscription(ctx, channel.ID, "chan")
	assertKind(t, err, apperr.KindValidation)

	_, err = f.svc.ToggleSubscription(ctx, viewer.ID, "ghost")
	assertKind(t, err, apperr.KindNotFound)
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t, false)
	reg := f.register(t, "olga")
	ctx := context.Background()

	s, err := f.svc.Login(ctx, "olga", "", "secret-olga")
	require.NoError(t, err)

	a, err := f.svc.Authenticate(ctx, s.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, reg.ID, a.ID)
	assert.Empty(t, a.RefreshToken)

	_, err = f.svc.Authenticate(ctx, "")
	assertKind(t, err, apperr.KindAuth)
	_, err = f.svc.Authenticate(ctx, s.Tokens.RefreshToken)
	assertKind(t, err, apperr.KindAuth)

	ghost, err := f.svc.tokens.IssueAccess(bson.NewObjectID().Hex(), "g@example.com", "ghost", "Ghost")
	require.NoError(t, err)
	_, err = f.svc.Authenticate(ctx, ghost.Value)
	assertKind(t, err, apperr.KindAuth)
}

func TestWatchHistory(t *testing.T) {
	f := newFixture(t, false)
	reg := f.register(t, "pat")
	ctx := context.Background()

	videos, err := f.svc.GetWatchHistory(ctx, reg.ID)
	require.NoError(t, err)
	assert.NotNil(t, videos)
	assert.Empty(t, videos)

	vid := bson.NewObjectID()
	_, err = f.accounts.mutate(reg.ID, func(a *model.Account) { a.WatchHistory = []bson.ObjectID{vid} })
	require.NoError(t, err)
	videos, err = f.svc.GetWatchHistory(ctx, reg.ID)
	require.NoError(t, err)
	require.Len(t, videos, 1)
	assert.Equal(t, vid, videos[0].ID)

	_, err = f.svc.GetWatchHistory(ctx, bson.NewObjectID())
	assertKind(t, err, apperr.KindNotFound)
}

func TestRegisterLowercasesUsernameExample(t *testing.T) {
	f := newFixture(t, false)
	a, err := f.svc.Register(context.Background(), RegisterInput{
		FullName: "Ada Lovelace",
		Email:    "ada@x.com",
		Username: "Ada",
		Password: "p@ss",
		Avatar:   file("file1.png"),
	})
	require.NoError(t, err)
	assert.Equal(t, "ada", a.Username)

	body, err := json.Marshal(a)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(body, &fields))
	assert.NotContains(t, fields, "password")
	assert.NotContains(t, fields, "refreshToken")
	assert.Contains(t, fields, "avatar")
}
