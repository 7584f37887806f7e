package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"notifyhub/internal/idempotency"
	"notifyhub/internal/model"
	"notifyhub/internal/ratelimit"
	"notifyhub/internal/repository"
)

type fakeStore struct {
	byID  map[string]*model.Notification
	byKey map[string]*model.Notification

	insertErr error
	inserts   int

	// missKeyOnce makes the next FindByIdempotencyKey miss, simulating a
	// concurrent writer landing between lookup and insert.
	missKeyOnce bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byID:  make(map[string]*model.Notification),
		byKey: make(map[string]*model.Notification),
	}
}

func (s *fakeStore) InsertIfAbsent(ctx context.Context, n *model.Notification) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	if _, exists := s.byKey[n.IdempotencyKey]; exists {
		return repository.ErrDuplicateIdempotencyKey
	}
	s.inserts++
	n.Version = 1
	n.CreatedAt = time.Now().UTC()
	n.UpdatedAt = n.CreatedAt
	s.byID[n.ID] = n
	s.byKey[n.IdempotencyKey] = n
	return nil
}

func (s *fakeStore) FindByID(ctx context.Context, id string) (*model.Notification, error) {
	n, ok := s.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return n, nil
}

func (s *fakeStore) FindByIdempotencyKey(ctx context.Context, key string) (*model.Notification, error) {
	if s.missKeyOnce {
		s.missKeyOnce = false
		return nil, repository.ErrNotFound
	}
	n, ok := s.byKey[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return n, nil
}

func (s *fakeStore) FindByUserID(ctx context.Context, userID string, limit int) ([]*model.Notification, error) {
	var out []*model.Notification
	for _, n := range s.byID {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *fakeStore) FindByCorrelationID(ctx context.Context, correlationID string, limit int) ([]*model.Notification, error) {
	var out []*model.Notification
	for _, n := range s.byID {
		if n.CorrelationID == correlationID {
			out = append(out, n)
		}
	}
	return out, nil
}

type fakeLimiter struct {
	userAllowed     bool
	templateAllowed bool
	userCalls       int
	templateCalls   int
}

func (l *fakeLimiter) AdmitUser(ctx context.Context, userID string) (ratelimit.Result, error) {
	l.userCalls++
	return ratelimit.Result{
		Allowed:      l.userAllowed,
		Scope:        ratelimit.ScopeUser,
		CurrentCount: 6,
		MaxAllowed:   5,
	}, nil
}

func (l *fakeLimiter) AdmitTemplate(ctx context.Context, userID, templateID string) (ratelimit.Result, error) {
	l.templateCalls++
	return ratelimit.Result{
		Allowed:      l.templateAllowed,
		Scope:        ratelimit.ScopeTemplate,
		CurrentCount: 3,
		MaxAllowed:   2,
	}, nil
}

type fakeDispatcher struct {
	published []*model.Notification
	err       error
}

func (d *fakeDispatcher) Publish(ctx context.Context, n *model.Notification) error {
	d.published = append(d.published, n)
	return d.err
}

func newTestService() (*Service, *fakeStore, *fakeLimiter, *fakeDispatcher) {
	store := newFakeStore()
	limiter := &fakeLimiter{userAllowed: true, templateAllowed: true}
	dispatcher := &fakeDispatcher{}
	svc := NewService(store, limiter, dispatcher, idempotency.NewCache(16), zap.NewNop())
	return svc, store, limiter, dispatcher
}

func validRequest() *Request {
	return &Request{
		UserID:     "u1",
		Channel:    model.ChannelEmail,
		TemplateID: "welcome",
		TemplateParams: map[string]any{
			"email": "user@example.com",
		},
		IdempotencyKey: "key-1",
	}
}

func TestAdmitHappyPath(t *testing.T) {
	svc, store, _, dispatcher := newTestService()

	res, err := svc.Admit(context.Background(), validRequest())
	require.NoError(t, err)

	assert.False(t, res.Duplicate)
	assert.NotEmpty(t, res.Notification.ID)
	assert.Equal(t, model.StatusPending, res.Notification.Status)
	assert.Equal(t, model.PriorityMedium, res.Notification.Priority, "priority defaults to MEDIUM")
	assert.Equal(t, 0, res.Notification.DeliveryAttempts)
	assert.Equal(t, 1, store.inserts)

	require.Len(t, dispatcher.published, 1)
	assert.Equal(t, res.Notification.ID, dispatcher.published[0].ID)
}

func TestAdmitDuplicateKey(t *testing.T) {
	svc, store, limiter, dispatcher := newTestService()

	first, err := svc.Admit(context.Background(), validRequest())
	require.NoError(t, err)

	second, err := svc.Admit(context.Background(), validRequest())
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Notification.ID, second.Notification.ID)
	assert.Equal(t, 1, store.inserts, "no second insert")
	assert.Len(t, dispatcher.published, 1, "no second publish")
	assert.Equal(t, 1, limiter.userCalls, "duplicate did not consume rate budget")
}

func TestAdmitDerivesKeyWhenAbsent(t *testing.T) {
	svc, _, _, _ := newTestService()

	req := validRequest()
	req.IdempotencyKey = ""

	res, err := svc.Admit(context.Background(), req)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Notification.IdempotencyKey)

	// Without a caller-supplied key, a replay is a new notification.
	req2 := validRequest()
	req2.IdempotencyKey = ""
	res2, err := svc.Admit(context.Background(), req2)
	require.NoError(t, err)
	assert.False(t, res2.Duplicate)
	assert.NotEqual(t, res.Notification.ID, res2.Notification.ID)
}

func TestAdmitUserRateLimited(t *testing.T) {
	svc, store, limiter, dispatcher := newTestService()
	limiter.userAllowed = false

	_, err := svc.Admit(context.Background(), validRequest())

	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, ratelimit.ScopeUser, rateErr.Result.Scope)
	assert.Zero(t, store.inserts, "denied request leaves no record")
	assert.Empty(t, dispatcher.published)
	assert.Zero(t, limiter.templateCalls, "template window not touched after user denial")
}

func TestAdmitTemplateRateLimited(t *testing.T) {
	svc, store, limiter, _ := newTestService()
	limiter.templateAllowed = false

	_, err := svc.Admit(context.Background(), validRequest())

	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, ratelimit.ScopeTemplate, rateErr.Result.Scope)
	assert.Zero(t, store.inserts)
}

func TestAdmitValidation(t *testing.T) {
	svc, _, _, _ := newTestService()

	cases := []func(*Request){
		func(r *Request) { r.UserID = "" },
		func(r *Request) { r.Channel = "FAX" },
		func(r *Request) { r.TemplateID = "" },
		func(r *Request) { r.Priority = "URGENT" },
	}

	for _, mutate := range cases {
		req := validRequest()
		mutate(req)
		_, err := svc.Admit(context.Background(), req)
		assert.ErrorIs(t, err, ErrValidation)
	}
}

func TestAdmitLostInsertRace(t *testing.T) {
	svc, store, _, dispatcher := newTestService()

	// Another writer wins the unique-index race between our lookup and
	// our insert: the lookup misses, the insert collides, the re-read
	// sees the winner.
	winner := &model.Notification{
		ID:             "winner",
		UserID:         "u1",
		Channel:        model.ChannelEmail,
		TemplateID:     "welcome",
		IdempotencyKey: "key-1",
		Status:         model.StatusPending,
	}
	store.byKey["key-1"] = winner
	store.byID["winner"] = winner
	store.missKeyOnce = true
	store.insertErr = repository.ErrDuplicateIdempotencyKey

	res, err := svc.Admit(context.Background(), validRequest())
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, "winner", res.Notification.ID)
	assert.Empty(t, dispatcher.published, "loser does not publish")
}

func TestAdmitSucceedsWhenPublishFails(t *testing.T) {
	svc, store, _, dispatcher := newTestService()
	dispatcher.err = errors.New("broker down")

	res, err := svc.Admit(context.Background(), validRequest())
	require.NoError(t, err, "durable insert wins; sweeper redrives later")
	assert.False(t, res.Duplicate)
	assert.Equal(t, 1, store.inserts)
}

func TestQueryHelpers(t *testing.T) {
	svc, _, _, _ := newTestService()

	req := validRequest()
	req.CorrelationID = "corr-1"
	res, err := svc.Admit(context.Background(), req)
	require.NoError(t, err)

	got, err := svc.GetByID(context.Background(), res.Notification.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Notification.ID, got.ID)

	list, err := svc.GetByUser(context.Background(), "u1", 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = svc.GetByCorrelation(context.Background(), "corr-1", 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = svc.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
