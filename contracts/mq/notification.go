package mq

import (
	"encoding/json"
	"time"

	"notifyhub/internal/model"
)

// Routing keys (and queue names) per delivery channel, plus the dead
// letter queue. The ordering key of a message is the notification's
// idempotency key, so all messages for one notification land on one
// queue consumer.
const (
	TopicEmail = "notification-email"
	TopicSMS   = "notification-sms"
	TopicPush  = "notification-push"
	TopicDLQ   = "notification-dlq"
)

// TopicForChannel maps a delivery channel to its routing key. Returns
// "" for unknown channels; the caller treats that as a configuration
// error.
func TopicForChannel(ch model.Channel) string {
	switch ch {
	case model.ChannelEmail:
		return TopicEmail
	case model.ChannelSMS:
		return TopicSMS
	case model.ChannelPush:
		return TopicPush
	}
	return ""
}

// DeadLetterPayload wraps a message that exhausted normal processing.
// OriginalPayload is kept as raw JSON so the auditor can replay it.
type DeadLetterPayload struct {
	OriginalTopic   string          `json:"original_topic"`
	OriginalKey     string          `json:"original_key"`
	OriginalPayload json.RawMessage `json:"original_payload"`
	ErrorReason     string          `json:"error_reason"`
	Timestamp       time.Time       `json:"timestamp"`
}
