package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	mqcontracts "notifyhub/contracts/mq"
	"notifyhub/internal/model"
	"notifyhub/pkg/metrics"
	"notifyhub/pkg/util"
)

// SweepStore is the repository slice the sweeper reads stuck records
// through.
type SweepStore interface {
	Store
	FindRetryable(ctx context.Context, status model.Status, cutoff time.Time, maxAttempts, limit int) ([]*model.Notification, error)
	FindExhausted(ctx context.Context, cutoff time.Time, maxAttempts, limit int) ([]*model.Notification, error)
}

// Redriver republishes a notification to its channel topic.
type Redriver interface {
	Publish(ctx context.Context, n *model.Notification) error
}

// Sweeper is the safety net behind the consumers: on a fixed interval
// it republishes notifications whose broker message was lost or whose
// worker crashed mid-attempt, and parks records whose attempt budget is
// spent. The store's version tokens make the sweep safe to run
// alongside live consumers.
type Sweeper struct {
	store       SweepStore
	redriver    Redriver
	dlq         DLQPublisher
	deduper     *util.Deduper
	interval    time.Duration
	cutoff      time.Duration
	maxAttempts int
	batchSize   int
	logger      *zap.Logger
}

// NewSweeper builds a sweeper. deduper may be nil; with it, concurrent
// worker instances skip records another instance already claimed this
// cycle.
func NewSweeper(store SweepStore, redriver Redriver, dlq DLQPublisher, deduper *util.Deduper, interval, cutoff time.Duration, maxAttempts, batchSize int, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		store:       store,
		redriver:    redriver,
		dlq:         dlq,
		deduper:     deduper,
		interval:    interval,
		cutoff:      cutoff,
		maxAttempts: maxAttempts,
		batchSize:   batchSize,
		logger:      logger,
	}
}

// claim reports whether this instance should handle the record.
func (s *Sweeper) claim(ctx context.Context, scope, id string) bool {
	if s.deduper == nil {
		return true
	}
	return s.deduper.AcquireOnce(ctx, scope, id)
}

// Start runs the sweep loop until the context is cancelled. Call it in
// a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("Sweeper started",
		zap.Duration("interval", s.interval),
		zap.Duration("cutoff", s.cutoff),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sweeper stopping")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.cutoff)

	s.redriveStatus(ctx, model.StatusPending, cutoff)
	s.redriveStatus(ctx, model.StatusFailed, cutoff)
	s.redriveInterrupted(ctx, cutoff)
	s.parkExhausted(ctx, cutoff)
}

// redriveStatus republishes records stuck in a republishable status past
// the cutoff.
func (s *Sweeper) redriveStatus(ctx context.Context, status model.Status, cutoff time.Time) {
	records, err := s.store.FindRetryable(ctx, status, cutoff, s.maxAttempts, s.batchSize)
	if err != nil {
		s.logger.Error("Sweep query failed",
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return
	}

	for _, n := range records {
		if !s.claim(ctx, "redrive", n.ID) {
			continue
		}
		s.redrive(ctx, n)
	}
}

// redriveInterrupted handles records a worker left in RETRYING: demote
// to FAILED first so the consumer can claim them again, then republish.
func (s *Sweeper) redriveInterrupted(ctx context.Context, cutoff time.Time) {
	records, err := s.store.FindRetryable(ctx, model.StatusRetrying, cutoff, s.maxAttempts, s.batchSize)
	if err != nil {
		s.logger.Error("Sweep query failed",
			zap.String("status", string(model.StatusRetrying)),
			zap.Error(err),
		)
		return
	}

	for _, n := range records {
		if !s.claim(ctx, "redrive", n.ID) {
			continue
		}
		demoted, err := s.store.UpdateWithRetry(ctx, n.ID, func(n *model.Notification) error {
			if n.Status != model.StatusRetrying {
				return errAlreadyProcessed
			}
			n.Status = model.StatusFailed
			n.ErrorMessage = "delivery attempt interrupted"
			return nil
		})
		if err != nil {
			if !errors.Is(err, errAlreadyProcessed) {
				s.logger.Error("Failed to demote interrupted notification",
					zap.String("notification_id", n.ID),
					zap.Error(err),
				)
				metrics.IncrementSweeperRedrive("error")
			}
			continue
		}
		s.redrive(ctx, demoted)
	}
}

func (s *Sweeper) redrive(ctx context.Context, n *model.Notification) {
	if err := s.redriver.Publish(ctx, n); err != nil {
		s.logger.Error("Failed to redrive notification",
			zap.String("notification_id", n.ID),
			zap.Error(err),
		)
		metrics.IncrementSweeperRedrive("error")
		return
	}

	metrics.IncrementSweeperRedrive("redriven")
	s.logger.Info("Redrove stuck notification",
		zap.String("notification_id", n.ID),
		zap.String("status", string(n.Status)),
		zap.Int("delivery_attempts", n.DeliveryAttempts),
	)
}

// parkExhausted moves records whose attempts reached the budget into
// PERMANENT_FAILURE and parks a copy on the DLQ for the audit trail.
// The cutoff keeps a RETRYING record whose final attempt is still in
// flight out of reach until the consumer has recorded its outcome.
func (s *Sweeper) parkExhausted(ctx context.Context, cutoff time.Time) {
	records, err := s.store.FindExhausted(ctx, cutoff, s.maxAttempts, s.batchSize)
	if err != nil {
		s.logger.Error("Exhausted query failed", zap.Error(err))
		return
	}

	for _, n := range records {
		if !s.claim(ctx, "park", n.ID) {
			continue
		}
		reason := fmt.Sprintf("delivery attempts exhausted after %d", n.DeliveryAttempts)
		updated, err := s.store.UpdateWithRetry(ctx, n.ID, func(n *model.Notification) error {
			if !model.CanTransition(n.Status, model.StatusPermanentFailure) {
				return errAlreadyProcessed
			}
			n.Status = model.StatusPermanentFailure
			n.ErrorMessage = reason
			return nil
		})
		if err != nil {
			if !errors.Is(err, errAlreadyProcessed) {
				s.logger.Error("Failed to park exhausted notification",
					zap.String("notification_id", n.ID),
					zap.Error(err),
				)
			}
			continue
		}

		s.logger.Error("Notification permanently failed",
			zap.String("notification_id", updated.ID),
			zap.Int("delivery_attempts", updated.DeliveryAttempts),
		)
		s.parkRecord(updated, reason)
	}
}

// parkRecord publishes the record to the DLQ, best effort.
func (s *Sweeper) parkRecord(n *model.Notification, reason string) {
	topic := mqcontracts.TopicForChannel(n.Channel)

	body, err := json.Marshal(n)
	if err != nil {
		s.logger.Error("Failed to marshal notification for DLQ",
			zap.String("notification_id", n.ID),
			zap.Error(err),
		)
		return
	}

	payload := mqcontracts.DeadLetterPayload{
		OriginalTopic:   topic,
		OriginalKey:     n.MessageKey(),
		OriginalPayload: body,
		ErrorReason:     reason,
		Timestamp:       time.Now().UTC(),
	}

	dlqBody, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("Failed to marshal DLQ payload",
			zap.String("notification_id", n.ID),
			zap.Error(err),
		)
		return
	}

	if err := s.dlq.PublishToDLQ(mqcontracts.TopicDLQ, n.MessageKey(), dlqBody, reason); err != nil {
		s.logger.Error("Failed to publish to DLQ",
			zap.String("notification_id", n.ID),
			zap.Error(err),
		)
		return
	}

	metrics.IncrementDLQMessage(topic)
}
