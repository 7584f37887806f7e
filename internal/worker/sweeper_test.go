package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"notifyhub/internal/model"
)

type fakeRedriver struct {
	published []*model.Notification
	err       error
}

func (f *fakeRedriver) Publish(ctx context.Context, n *model.Notification) error {
	f.published = append(f.published, n)
	return f.err
}

func newTestSweeper(store SweepStore, redriver Redriver, dlq DLQPublisher) *Sweeper {
	return NewSweeper(store, redriver, dlq, nil, time.Minute, 5*time.Minute, 3, 100, zap.NewNop())
}

func stuck(id string, status model.Status, attempts int, age time.Duration) *model.Notification {
	created := time.Now().UTC().Add(-age)
	return &model.Notification{
		ID:               id,
		UserID:           "u1",
		Channel:          model.ChannelEmail,
		TemplateID:       "welcome",
		IdempotencyKey:   "key-" + id,
		Status:           status,
		DeliveryAttempts: attempts,
		Version:          1,
		CreatedAt:        created,
	}
}

func TestSweepRedrivesStuckPending(t *testing.T) {
	n := stuck("n1", model.StatusPending, 0, time.Hour)
	store := newMemStore(n)
	redriver := &fakeRedriver{}
	dlq := &fakeDLQ{}

	s := newTestSweeper(store, redriver, dlq)
	s.sweep(context.Background())

	require.Len(t, redriver.published, 1)
	assert.Equal(t, "n1", redriver.published[0].ID)
	assert.Zero(t, dlq.calls)
}

func TestSweepIgnoresFreshRecords(t *testing.T) {
	n := stuck("n1", model.StatusPending, 0, time.Minute)
	store := newMemStore(n)
	redriver := &fakeRedriver{}

	s := newTestSweeper(store, redriver, &fakeDLQ{})
	s.sweep(context.Background())

	assert.Empty(t, redriver.published, "records inside the cutoff are left alone")
}

func TestSweepDemotesInterruptedRetrying(t *testing.T) {
	n := stuck("n1", model.StatusRetrying, 1, time.Hour)
	store := newMemStore(n)
	redriver := &fakeRedriver{}

	s := newTestSweeper(store, redriver, &fakeDLQ{})
	s.sweep(context.Background())

	got := store.records["n1"]
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Equal(t, "delivery attempt interrupted", got.ErrorMessage)
	require.Len(t, redriver.published, 1)
	assert.Equal(t, model.StatusFailed, redriver.published[0].Status)
}

func TestSweepParksExhaustedRecords(t *testing.T) {
	n := stuck("n1", model.StatusFailed, 3, time.Hour)
	store := newMemStore(n)
	redriver := &fakeRedriver{}
	dlq := &fakeDLQ{}

	s := newTestSweeper(store, redriver, dlq)
	s.sweep(context.Background())

	got := store.records["n1"]
	assert.Equal(t, model.StatusPermanentFailure, got.Status)
	assert.Contains(t, got.ErrorMessage, "exhausted")
	assert.Empty(t, redriver.published, "exhausted records are parked, not redriven")
	assert.Equal(t, 1, dlq.calls)
}

func TestSweepLeavesInFlightFinalAttemptAlone(t *testing.T) {
	n := stuck("n1", model.StatusRetrying, 3, time.Hour)
	now := time.Now().UTC()
	n.LastAttemptedAt = &now
	store := newMemStore(n)
	redriver := &fakeRedriver{}
	dlq := &fakeDLQ{}

	s := newTestSweeper(store, redriver, dlq)
	s.sweep(context.Background())

	got := store.records["n1"]
	assert.Equal(t, model.StatusRetrying, got.Status, "a fresh final attempt may still be in flight")
	assert.Empty(t, redriver.published)
	assert.Zero(t, dlq.calls)
}

func TestSweepParksAbandonedExhaustedRetrying(t *testing.T) {
	n := stuck("n1", model.StatusRetrying, 3, time.Hour)
	last := time.Now().UTC().Add(-time.Hour)
	n.LastAttemptedAt = &last
	store := newMemStore(n)
	redriver := &fakeRedriver{}
	dlq := &fakeDLQ{}

	s := newTestSweeper(store, redriver, dlq)
	s.sweep(context.Background())

	got := store.records["n1"]
	assert.Equal(t, model.StatusPermanentFailure, got.Status)
	assert.Contains(t, got.ErrorMessage, "exhausted")
	assert.Empty(t, redriver.published)
	assert.Equal(t, 1, dlq.calls)
}

func TestSweepLeavesTerminalRecordsAlone(t *testing.T) {
	sent := stuck("n1", model.StatusSent, 1, time.Hour)
	parked := stuck("n2", model.StatusPermanentFailure, 3, time.Hour)
	store := newMemStore(sent, parked)
	redriver := &fakeRedriver{}
	dlq := &fakeDLQ{}

	s := newTestSweeper(store, redriver, dlq)
	s.sweep(context.Background())

	assert.Empty(t, redriver.published)
	assert.Zero(t, dlq.calls)
	assert.Equal(t, model.StatusSent, store.records["n1"].Status)
	assert.Equal(t, model.StatusPermanentFailure, store.records["n2"].Status)
}
