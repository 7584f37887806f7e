package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	mqcontracts "notifyhub/contracts/mq"
	"notifyhub/internal/adapter"
	"notifyhub/internal/model"
	"notifyhub/pkg/metrics"
	"notifyhub/pkg/retry"
	"notifyhub/pkg/util"
)

// errAlreadyProcessed marks a redelivery of a notification that a prior
// attempt already drove to a terminal state. The message is acked
// without touching the record.
var errAlreadyProcessed = errors.New("notification already in terminal state")

// Store is the slice of the notification repository the consumer needs.
type Store interface {
	UpdateWithRetry(ctx context.Context, id string, mutate func(*model.Notification) error) (*model.Notification, error)
}

// DLQPublisher parks a poisoned message on the dead letter exchange.
type DLQPublisher interface {
	PublishToDLQ(routingKey, key string, payload []byte, originalError string) error
}

// DeliveryConsumer processes one channel's queue: it drives the
// notification through RETRYING and into SENT, FAILED, or
// PERMANENT_FAILURE, calling the provider adapter in between. The store
// is the source of truth for attempt counts; the in-process retry loop
// only shortens the path to the next attempt.
type DeliveryConsumer struct {
	store       Store
	adapter     adapter.Adapter
	dlq         DLQPublisher
	topic       string
	maxAttempts int
	strategy    retry.Strategy
	logger      *zap.Logger
}

func NewDeliveryConsumer(store Store, ad adapter.Adapter, dlq DLQPublisher, maxAttempts int, logger *zap.Logger) *DeliveryConsumer {
	return &DeliveryConsumer{
		store:       store,
		adapter:     ad,
		dlq:         dlq,
		topic:       mqcontracts.TopicForChannel(ad.Channel()),
		maxAttempts: maxAttempts,
		strategy:    retry.DefaultStrategy(),
		logger:      logger,
	}
}

// Handle is the mq.MessageHandler for this channel's queue. It always
// returns nil after recording the outcome durably: redelivery via nack
// would only duplicate what the store and the DLQ already capture.
// A non-nil return is reserved for store unavailability, where requeue
// is the only safe option.
func (c *DeliveryConsumer) Handle(ctx context.Context, key string, data json.RawMessage) error {
	var n model.Notification
	if err := json.Unmarshal(data, &n); err != nil {
		c.logger.Error("Undecodable message, parking on DLQ",
			zap.String("topic", c.topic),
			zap.String("key", key),
			zap.Error(err),
		)
		c.parkOnDLQ(key, data, fmt.Sprintf("undecodable payload: %v", err))
		return nil
	}

	err := retry.Do(ctx, c.strategy, func() error {
		return c.processOnce(ctx, n.ID)
	})

	if err == nil || errors.Is(err, errAlreadyProcessed) {
		return nil
	}
	if ctx.Err() != nil {
		// Shutdown mid-message: requeue rather than park.
		return err
	}

	c.logger.Error("Delivery attempts exhausted, parking on DLQ",
		zap.String("notification_id", n.ID),
		zap.String("topic", c.topic),
		zap.Error(err),
	)
	c.parkOnDLQ(key, data, err.Error())
	return nil
}

// processOnce runs a single delivery attempt: claim the record as
// RETRYING with the attempt counted, call the provider, then record the
// terminal or retryable outcome.
func (c *DeliveryConsumer) processOnce(ctx context.Context, id string) error {
	n, err := c.claim(ctx, id)
	if err != nil {
		return err
	}

	_, deliverErr := c.adapter.Deliver(ctx, n)
	if deliverErr == nil {
		return c.recordOutcome(ctx, id, model.StatusSent, "")
	}

	if errors.Is(deliverErr, adapter.ErrInvalidPayload) {
		// Nothing a retry can fix. Park the record immediately.
		if err := c.recordOutcome(ctx, id, model.StatusPermanentFailure, deliverErr.Error()); err != nil {
			return err
		}
		return retry.Permanent(deliverErr)
	}

	if n.DeliveryAttempts >= c.maxAttempts {
		if err := c.recordOutcome(ctx, id, model.StatusPermanentFailure, deliverErr.Error()); err != nil {
			return err
		}
		return retry.Permanent(fmt.Errorf("delivery attempts exhausted after %d: %w", n.DeliveryAttempts, deliverErr))
	}

	if err := c.recordOutcome(ctx, id, model.StatusFailed, deliverErr.Error()); err != nil {
		return err
	}

	// A non-retryable error class will fail the same way on the next
	// attempt; stop the in-process loop and leave the record to the
	// sweeper instead of burning the remaining budget now.
	if retryable, errType := util.IsRetryableError(deliverErr); !retryable {
		c.logger.Warn("Non-retryable delivery error",
			zap.String("notification_id", id),
			zap.String("error_type", errType),
			zap.Error(deliverErr),
		)
		return retry.Permanent(deliverErr)
	}
	return deliverErr
}

// claim moves the record to RETRYING and counts the attempt before the
// provider is called, so a crash mid-call still shows in the counter.
func (c *DeliveryConsumer) claim(ctx context.Context, id string) (*model.Notification, error) {
	n, err := c.store.UpdateWithRetry(ctx, id, func(n *model.Notification) error {
		if n.Status.Terminal() {
			return errAlreadyProcessed
		}
		if !model.CanTransition(n.Status, model.StatusRetrying) {
			return fmt.Errorf("cannot transition %s from %s to %s", n.ID, n.Status, model.StatusRetrying)
		}
		now := time.Now().UTC()
		n.Status = model.StatusRetrying
		n.DeliveryAttempts++
		n.LastAttemptedAt = &now
		return nil
	})
	if err != nil {
		if errors.Is(err, errAlreadyProcessed) {
			c.logger.Info("Skipping redelivery of terminal notification",
				zap.String("notification_id", id),
			)
			return nil, retry.Permanent(errAlreadyProcessed)
		}
		return nil, err
	}
	return n, nil
}

func (c *DeliveryConsumer) recordOutcome(ctx context.Context, id string, status model.Status, errorMessage string) error {
	_, err := c.store.UpdateWithRetry(ctx, id, func(n *model.Notification) error {
		if !model.CanTransition(n.Status, status) {
			return fmt.Errorf("cannot transition %s from %s to %s", n.ID, n.Status, status)
		}
		n.Status = status
		n.ErrorMessage = errorMessage
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record %s outcome: %w", status, err)
	}

	channel := string(c.adapter.Channel())
	switch status {
	case model.StatusSent:
		metrics.IncrementDeliveryAttempt(channel, "sent")
		c.logger.Info("Notification delivered",
			zap.String("notification_id", id),
			zap.String("channel", channel),
		)
	case model.StatusPermanentFailure:
		metrics.IncrementDeliveryAttempt(channel, "permanent_failure")
		c.logger.Error("Notification permanently failed",
			zap.String("notification_id", id),
			zap.String("channel", channel),
			zap.String("error", errorMessage),
		)
	default:
		metrics.IncrementDeliveryAttempt(channel, "failed")
		c.logger.Warn("Notification delivery failed",
			zap.String("notification_id", id),
			zap.String("channel", channel),
			zap.String("error", errorMessage),
		)
	}
	return nil
}

// parkOnDLQ is best effort: a DLQ publish failure is logged and
// swallowed so it can never wedge the work queue.
func (c *DeliveryConsumer) parkOnDLQ(key string, original json.RawMessage, reason string) {
	payload := mqcontracts.DeadLetterPayload{
		OriginalTopic:   c.topic,
		OriginalKey:     key,
		OriginalPayload: original,
		ErrorReason:     reason,
		Timestamp:       time.Now().UTC(),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("Failed to marshal DLQ payload",
			zap.String("topic", c.topic),
			zap.Error(err),
		)
		return
	}

	if err := c.dlq.PublishToDLQ(mqcontracts.TopicDLQ, key, body, reason); err != nil {
		c.logger.Error("Failed to publish to DLQ",
			zap.String("topic", c.topic),
			zap.String("key", key),
			zap.Error(err),
		)
		return
	}

	metrics.IncrementDLQMessage(c.topic)
}
