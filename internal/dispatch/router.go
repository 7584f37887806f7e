package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	mqcontracts "notifyhub/contracts/mq"
	"notifyhub/internal/model"
	"notifyhub/pkg/metrics"
	"notifyhub/pkg/outbox"
	"notifyhub/pkg/trace"
	"notifyhub/pkg/util"
)

// ErrUnknownChannel means a notification carries a channel no topic is
// configured for. This is a configuration error, not a runtime surprise.
var ErrUnknownChannel = errors.New("no topic for channel")

const publishTimeout = 5 * time.Second

// Publisher is the broker-facing capability the router needs.
type Publisher interface {
	PublishWithHeaders(ctx context.Context, routingKey, key string, payload any, headers amqp091.Table) error
}

// Router resolves a notification's channel to a broker topic and
// publishes it. Inside an ambient transaction the message is written to
// the outbox instead, so a rolled-back insert never produces an orphan
// message; the outbox dispatcher publishes it after commit.
type Router struct {
	publisher  Publisher
	outboxRepo *outbox.Repository
	logger     *zap.Logger
}

func NewRouter(publisher Publisher, outboxRepo *outbox.Repository, logger *zap.Logger) *Router {
	return &Router{
		publisher:  publisher,
		outboxRepo: outboxRepo,
		logger:     logger,
	}
}

// Publish sends the notification to its channel topic immediately. The
// store write must already be durably acknowledged. Publish failures are
// classified and logged; they never mutate notification state.
func (r *Router) Publish(ctx context.Context, n *model.Notification) error {
	topic := mqcontracts.TopicForChannel(n.Channel)
	if topic == "" {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, n.Channel)
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	headers := amqp091.Table{
		"priority": string(n.Priority),
	}
	if traceID := trace.FromContext(ctx); traceID != "" {
		headers["x-trace-id"] = traceID
	}

	start := time.Now()
	err := r.publisher.PublishWithHeaders(publishCtx, topic, n.MessageKey(), n, headers)
	elapsed := time.Since(start)

	if err != nil {
		errorType := util.ClassifyPublishError(err)
		metrics.RecordBrokerPublish(topic, "failure", errorType, elapsed)
		r.logger.Error("Failed to publish notification",
			zap.String("notification_id", n.ID),
			zap.String("topic", topic),
			zap.String("error_type", errorType),
			zap.Error(err),
		)
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	metrics.RecordBrokerPublish(topic, "success", "", elapsed)
	r.logger.Info("Notification published",
		zap.String("notification_id", n.ID),
		zap.String("topic", topic),
		zap.Duration("latency", elapsed),
	)
	return nil
}

// PublishTx defers the publish past the commit of tx by inserting the
// message into the outbox within the same transaction.
func (r *Router) PublishTx(ctx context.Context, tx pgx.Tx, n *model.Notification) error {
	topic := mqcontracts.TopicForChannel(n.Channel)
	if topic == "" {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, n.Channel)
	}

	id := n.ID
	if err := outbox.InsertEventInTx(ctx, tx, r.outboxRepo, "notification", &id, topic, n.MessageKey(), n); err != nil {
		return fmt.Errorf("failed to enqueue notification to outbox: %w", err)
	}

	r.logger.Debug("Notification deferred to outbox",
		zap.String("notification_id", n.ID),
		zap.String("topic", topic),
	)
	return nil
}
