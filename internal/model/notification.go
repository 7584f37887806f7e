package model

import (
	"fmt"
	"time"
)

// Channel is the delivery channel of a notification.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
	ChannelPush  Channel = "PUSH"
)

// Valid reports whether c is one of the supported channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush:
		return true
	}
	return false
}

// Priority of a notification. Propagated as a message header, does not
// affect admission.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

// Status is the lifecycle state of a notification.
type Status string

const (
	StatusPending          Status = "PENDING"
	StatusRetrying         Status = "RETRYING"
	StatusSent             Status = "SENT"
	StatusFailed           Status = "FAILED"
	StatusPermanentFailure Status = "PERMANENT_FAILURE"
)

// Terminal reports whether no further transitions are allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusPermanentFailure
}

// CanTransition reports whether the state machine allows from -> to.
// SENT and PERMANENT_FAILURE are terminal.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	switch from {
	case StatusPending:
		return to == StatusRetrying
	case StatusRetrying:
		return to == StatusSent || to == StatusFailed || to == StatusPermanentFailure
	case StatusFailed:
		return to == StatusRetrying || to == StatusPermanentFailure
	}
	return false
}

// Notification is the unit of work moving through the pipeline.
// Version is the optimistic-concurrency token; every persisted mutation
// must go through the repository's CompareAndUpdate.
type Notification struct {
	ID               string         `json:"id"`
	UserID           string         `json:"user_id"`
	Channel          Channel        `json:"channel"`
	TemplateID       string         `json:"template_id"`
	TemplateParams   map[string]any `json:"template_params,omitempty"`
	Priority         Priority       `json:"priority"`
	CorrelationID    string         `json:"correlation_id,omitempty"`
	IdempotencyKey   string         `json:"idempotency_key"`
	Status           Status         `json:"status"`
	DeliveryAttempts int            `json:"delivery_attempts"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	LastAttemptedAt  *time.Time     `json:"last_attempted_at,omitempty"`
	Version          int64          `json:"version"`
}

// MessageKey returns the broker partition/ordering key: the idempotency
// key when present, otherwise userID-id.
func (n *Notification) MessageKey() string {
	if n.IdempotencyKey != "" {
		return n.IdempotencyKey
	}
	return fmt.Sprintf("%s-%s", n.UserID, n.ID)
}

// Param returns the string value of a template parameter, or "" when it
// is absent or not a string.
func (n *Notification) Param(key string) string {
	if n.TemplateParams == nil {
		return ""
	}
	if v, ok := n.TemplateParams[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
