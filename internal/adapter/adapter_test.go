package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"notifyhub/internal/model"
)

func notification(channel model.Channel, params map[string]any) *model.Notification {
	return &model.Notification{
		ID:             "n1",
		UserID:         "u1",
		Channel:        channel,
		TemplateID:     "welcome",
		TemplateParams: params,
		Status:         model.StatusRetrying,
	}
}

func providerServer(t *testing.T, status int, capture *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		if capture != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(capture))
		}
		w.WriteHeader(status)
	}))
}

func TestEmailDeliverSuccess(t *testing.T) {
	var body map[string]any
	srv := providerServer(t, http.StatusOK, &body)
	defer srv.Close()

	a := NewEmailAdapter(srv.URL, time.Second, zap.NewNop())
	ok, err := a.Deliver(context.Background(), notification(model.ChannelEmail, map[string]any{
		"email":   "user@example.com",
		"subject": "Hello",
		"content": "World",
	}))

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "user@example.com", body["to"])
	assert.Equal(t, "Hello", body["subject"])
	assert.Equal(t, "welcome", body["template"])
}

func TestEmailDeliverMissingAddress(t *testing.T) {
	a := NewEmailAdapter("http://unused", time.Second, zap.NewNop())

	ok, err := a.Deliver(context.Background(), notification(model.ChannelEmail, nil))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestEmailDeliverInvalidAddress(t *testing.T) {
	a := NewEmailAdapter("http://unused", time.Second, zap.NewNop())

	ok, err := a.Deliver(context.Background(), notification(model.ChannelEmail, map[string]any{
		"email": "not-an-address",
	}))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestEmailDeliverTruncatesLongSubject(t *testing.T) {
	var body map[string]any
	srv := providerServer(t, http.StatusOK, &body)
	defer srv.Close()

	a := NewEmailAdapter(srv.URL, time.Second, zap.NewNop())
	ok, err := a.Deliver(context.Background(), notification(model.ChannelEmail, map[string]any{
		"email":   "user@example.com",
		"subject": strings.Repeat("x", 300),
	}))

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, body["subject"], 255)
}

func TestEmailDeliverTruncatesSubjectOnRuneBoundary(t *testing.T) {
	var body map[string]any
	srv := providerServer(t, http.StatusOK, &body)
	defer srv.Close()

	a := NewEmailAdapter(srv.URL, time.Second, zap.NewNop())
	ok, err := a.Deliver(context.Background(), notification(model.ChannelEmail, map[string]any{
		"email":   "user@example.com",
		"subject": strings.Repeat("通", 300),
	}))

	require.NoError(t, err)
	assert.True(t, ok)

	subject, isString := body["subject"].(string)
	require.True(t, isString)
	assert.True(t, utf8.ValidString(subject))
	assert.Equal(t, 255, utf8.RuneCountInString(subject))
}

func TestEmailDeliverProviderFailure(t *testing.T) {
	srv := providerServer(t, http.StatusBadGateway, nil)
	defer srv.Close()

	a := NewEmailAdapter(srv.URL, time.Second, zap.NewNop())
	ok, err := a.Deliver(context.Background(), notification(model.ChannelEmail, map[string]any{
		"email": "user@example.com",
	}))

	assert.False(t, ok)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidPayload, "provider failure is retryable")
	assert.Contains(t, err.Error(), "502")
}

func TestSMSDeliverValidation(t *testing.T) {
	a := NewSMSAdapter("http://unused", time.Second, zap.NewNop())

	ok, err := a.Deliver(context.Background(), notification(model.ChannelSMS, nil))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	ok, err = a.Deliver(context.Background(), notification(model.ChannelSMS, map[string]any{
		"phone": "not-a-number",
	}))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestSMSDeliverSuccess(t *testing.T) {
	var body map[string]any
	srv := providerServer(t, http.StatusOK, &body)
	defer srv.Close()

	a := NewSMSAdapter(srv.URL, time.Second, zap.NewNop())
	ok, err := a.Deliver(context.Background(), notification(model.ChannelSMS, map[string]any{
		"phone":   "+358401234567",
		"message": "hi",
	}))

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "+358401234567", body["to"])
	assert.Equal(t, "hi", body["message"])
}

func TestPushDeliverValidation(t *testing.T) {
	a := NewPushAdapter("http://unused", time.Second, zap.NewNop())

	ok, err := a.Deliver(context.Background(), notification(model.ChannelPush, nil))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	ok, err = a.Deliver(context.Background(), notification(model.ChannelPush, map[string]any{
		"deviceToken": "short",
	}))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestPushDeliverSuccess(t *testing.T) {
	var body map[string]any
	srv := providerServer(t, http.StatusOK, &body)
	defer srv.Close()

	a := NewPushAdapter(srv.URL, time.Second, zap.NewNop())
	ok, err := a.Deliver(context.Background(), notification(model.ChannelPush, map[string]any{
		"deviceToken": "token-1234567890",
		"title":       "Ping",
	}))

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "token-1234567890", body["token"])
	assert.Equal(t, "Ping", body["title"])
}

func TestRegistryLookup(t *testing.T) {
	email := NewEmailAdapter("http://unused", time.Second, zap.NewNop())
	sms := NewSMSAdapter("http://unused", time.Second, zap.NewNop())

	r := NewRegistry(zap.NewNop(), email, sms)

	a, err := r.Get(model.ChannelEmail)
	require.NoError(t, err)
	assert.Equal(t, model.ChannelEmail, a.Channel())

	assert.True(t, r.Has(model.ChannelSMS))
	assert.False(t, r.Has(model.ChannelPush))

	_, err = r.Get(model.ChannelPush)
	assert.Error(t, err)
}
