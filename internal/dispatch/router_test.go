package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"notifyhub/internal/model"
)

type fakePublisher struct {
	routingKey string
	key        string
	payload    any
	headers    amqp091.Table
	err        error
	calls      int
}

func (f *fakePublisher) PublishWithHeaders(ctx context.Context, routingKey, key string, payload any, headers amqp091.Table) error {
	f.calls++
	f.routingKey = routingKey
	f.key = key
	f.payload = payload
	f.headers = headers
	return f.err
}

func testNotification(channel model.Channel) *model.Notification {
	return &model.Notification{
		ID:             "n1",
		UserID:         "u1",
		Channel:        channel,
		TemplateID:     "welcome",
		Priority:       model.PriorityHigh,
		IdempotencyKey: "key-1",
		Status:         model.StatusPending,
	}
}

func TestPublishRoutesByChannel(t *testing.T) {
	cases := []struct {
		channel model.Channel
		topic   string
	}{
		{model.ChannelEmail, "notification-email"},
		{model.ChannelSMS, "notification-sms"},
		{model.ChannelPush, "notification-push"},
	}

	for _, tc := range cases {
		pub := &fakePublisher{}
		router := NewRouter(pub, nil, zap.NewNop())

		err := router.Publish(context.Background(), testNotification(tc.channel))
		require.NoError(t, err)
		assert.Equal(t, tc.topic, pub.routingKey)
	}
}

func TestPublishCarriesOrderingKeyAndPriority(t *testing.T) {
	pub := &fakePublisher{}
	router := NewRouter(pub, nil, zap.NewNop())

	n := testNotification(model.ChannelEmail)
	require.NoError(t, router.Publish(context.Background(), n))

	assert.Equal(t, "key-1", pub.key)
	assert.Equal(t, "HIGH", pub.headers["priority"])
	assert.Same(t, n, pub.payload)
}

func TestPublishUnknownChannel(t *testing.T) {
	pub := &fakePublisher{}
	router := NewRouter(pub, nil, zap.NewNop())

	n := testNotification("FAX")
	err := router.Publish(context.Background(), n)
	assert.ErrorIs(t, err, ErrUnknownChannel)
	assert.Zero(t, pub.calls)
}

func TestPublishPropagatesBrokerError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	router := NewRouter(pub, nil, zap.NewNop())

	err := router.Publish(context.Background(), testNotification(model.ChannelSMS))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "notification-sms")
}
