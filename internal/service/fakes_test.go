package service

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/iliyamo/videotube-accounts/internal/model"
	"github.com/iliyamo/videotube-accounts/internal/queue"
	"github.com/iliyamo/videotube-accounts/internal/repository"
)

// memAccounts is an in-memory AccountStore with the same uniqueness and
// compare-and-swap semantics as the MongoDB repository.
type memAccounts struct {
	mu           sync.Mutex
	byID         map[bson.ObjectID]model.Account
	subs         *memSubs
	createErr    error
	beforeRotate func(id bson.ObjectID)
}

func newMemAccounts(subs *memSubs) *memAccounts {
	return &memAccounts{byID: map[bson.ObjectID]model.Account{}, subs: subs}
}

func (m *memAccounts) Create(_ context.Context, a *model.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, other := range m.byID {
		if other.Username == a.Username || other.Email == a.Email {
			return repository.ErrDuplicate
		}
	}
	a.ID = bson.NewObjectID()
	a.CreatedAt, a.UpdatedAt = time.Now(), time.Now()
	m.byID[a.ID] = *a
	return nil
}

func (m *memAccounts) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	_, err := m.FindByUsernameOrEmail(ctx, username, email)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (m *memAccounts) FindByUsernameOrEmail(_ context.Context, username, email string) (model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	username = strings.ToLower(strings.TrimSpace(username))
	email = strings.ToLower(strings.TrimSpace(email))
	for _, a := range m.byID {
		if (username != "" && a.Username == username) || (email != "" && a.Email == email) {
			return a, nil
		}
	}
	return model.Account{}, repository.ErrNotFound
}

func (m *memAccounts) GetByID(_ context.Context, id bson.ObjectID) (model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return model.Account{}, repository.ErrNotFound
	}
	return a, nil
}

func (m *memAccounts) mutate(id bson.ObjectID, fn func(a *model.Account)) (model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return model.Account{}, repository.ErrNotFound
	}
	fn(&a)
	a.UpdatedAt = time.Now()
	m.byID[id] = a
	return a, nil
}

func (m *memAccounts) SetRefreshToken(_ context.Context, id bson.ObjectID, token string) error {
	_, err := m.mutate(id, func(a *model.Account) { a.RefreshToken = token })
	return err
}

func (m *memAccounts) RotateRefreshToken(_ context.Context, id bson.ObjectID, presented, next string) error {
	if m.beforeRotate != nil {
		m.beforeRotate(id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok || a.RefreshToken != presented {
		return repository.ErrStaleToken
	}
	a.RefreshToken = next
	m.byID[id] = a
	return nil
}

func (m *memAccounts) ClearRefreshToken(_ context.Context, id bson.ObjectID) error {
	_, err := m.mutate(id, func(a *model.Account) { a.RefreshToken = "" })
	return err
}

func (m *memAccounts) UpdatePassword(_ context.Context, id bson.ObjectID, hash string) error {
	_, err := m.mutate(id, func(a *model.Account) { a.PasswordHash = hash })
	return err
}

func (m *memAccounts) UpdateProfile(_ context.Context, id bson.ObjectID, fullName, email string) (model.Account, error) {
	m.mu.Lock()
	for otherID, other := range m.byID {
		if otherID != id && other.Email == email {
			m.mu.Unlock()
			return model.Account{}, repository.ErrDuplicate
		}
	}
	m.mu.Unlock()
	return m.mutate(id, func(a *model.Account) { a.FullName, a.Email = fullName, email })
}

func (m *memAccounts) ReplaceAvatar(_ context.Context, id bson.ObjectID, url string) (string, model.Account, error) {
	var previous string
	a, err := m.mutate(id, func(a *model.Account) { previous, a.Avatar = a.Avatar, url })
	return previous, a, err
}

func (m *memAccounts) ReplaceCoverImage(_ context.Context, id bson.ObjectID, url string) (string, model.Account, error) {
	var previous string
	a, err := m.mutate(id, func(a *model.Account) { previous, a.CoverImage = a.CoverImage, url })
	return previous, a, err
}

func (m *memAccounts) ChannelProfile(ctx context.Context, username string, viewer *bson.ObjectID) (model.ChannelProfile, error) {
	a, err := m.FindByUsernameOrEmail(ctx, username, "")
	if err != nil {
		return model.ChannelProfile{}, err
	}
	p := model.ChannelProfile{
		ID:         a.ID,
		FullName:   a.FullName,
		Username:   a.Username,
		Email:      a.Email,
		Avatar:     a.Avatar,
		CoverImage: a.CoverImage,
	}
	for _, e := range m.subs.all() {
		if e.Channel == a.ID {
			p.SubscribersCount++
			if viewer != nil && e.Subscriber == *viewer {
				p.IsSubscribed = true
			}
		}
		if e.Subscriber == a.ID {
			p.ChannelsSubscribedToCount++
		}
	}
	return p, nil
}

func (m *memAccounts) WatchHistory(_ context.Context, id bson.ObjectID) ([]model.WatchedVideo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.WatchedVideo
	for _, v := range m.byID[id].WatchHistory {
		out = append(out, model.WatchedVideo{ID: v, Title: "video " + v.Hex()})
	}
	return out, nil
}

type memSubs struct {
	mu    sync.Mutex
	edges []model.Subscription
}

func (s *memSubs) add(subscriber, channel bson.ObjectID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges = append(s.edges, model.Subscription{ID: bson.NewObjectID(), Subscriber: subscriber, Channel: channel})
}

func (s *memSubs) all() []model.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Subscription(nil), s.edges...)
}

func (s *memSubs) Toggle(_ context.Context, subscriber, channel bson.ObjectID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.edges[:0]
	removed := false
	for _, e := range s.edges {
		if e.Subscriber == subscriber && e.Channel == channel {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	s.edges = kept
	if removed {
		return false, nil
	}
	s.edges = append(s.edges, model.Subscription{ID: bson.NewObjectID(), Subscriber: subscriber, Channel: channel})
	return true, nil
}

type memMedia struct {
	mu        sync.Mutex
	n         int
	uploaded  []string
	deleted   []string
	failures  map[string]error
	deleteErr error
}

func (m *memMedia) Upload(_ context.Context, _ *multipart.FileHeader, folder string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[folder]; err != nil {
		return "", err
	}
	m.n++
	url := fmt.Sprintf("https://cdn.test/%s/%d.png", folder, m.n)
	m.uploaded = append(m.uploaded, url)
	return url, nil
}

func (m *memMedia) Delete(_ context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deleted = append(m.deleted, url)
	return nil
}

type memEvents struct {
	mu        sync.Mutex
	accounts  []queue.AccountEvent
	orphans   []queue.MediaOrphanedEvent
	orphanErr error
}

func (e *memEvents) PublishAccountEvent(_ context.Context, ev queue.AccountEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.accounts = append(e.accounts, ev)
	return nil
}

func (e *memEvents) PublishMediaOrphaned(_ context.Context, ev queue.MediaOrphanedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.orphanErr != nil {
		return e.orphanErr
	}
	e.orphans = append(e.orphans, ev)
	return nil
}

func (e *memEvents) types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.accounts))
	for _, ev := range e.accounts {
		out = append(out, ev.Type)
	}
	return out
}

func errDuplicate() error { return repository.ErrDuplicate }
