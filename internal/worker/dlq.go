package worker

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	mqcontracts "notifyhub/contracts/mq"
)

// DeadLetterStore persists drained dead letters for later inspection.
type DeadLetterStore interface {
	Insert(ctx context.Context, payload *mqcontracts.DeadLetterPayload) error
}

// DLQConsumer drains the dead letter queue into the dead_letters table
// so operators can inspect failures without queue tooling. It never
// returns an error: a dead letter that cannot even be archived is
// logged and acked, because requeueing it would loop forever.
type DLQConsumer struct {
	store  DeadLetterStore
	logger *zap.Logger
}

func NewDLQConsumer(store DeadLetterStore, logger *zap.Logger) *DLQConsumer {
	return &DLQConsumer{
		store:  store,
		logger: logger,
	}
}

// Handle is the mq.MessageHandler for the dead letter queue.
func (c *DLQConsumer) Handle(ctx context.Context, key string, data json.RawMessage) error {
	var payload mqcontracts.DeadLetterPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		c.logger.Error("Undecodable dead letter",
			zap.String("key", key),
			zap.Error(err),
		)
		return nil
	}

	c.logger.Warn("Dead letter received",
		zap.String("key", key),
		zap.String("original_topic", payload.OriginalTopic),
		zap.String("error_reason", payload.ErrorReason),
	)

	if err := c.store.Insert(ctx, &payload); err != nil {
		c.logger.Error("Failed to archive dead letter",
			zap.String("key", key),
			zap.Error(err),
		)
	}
	return nil
}
