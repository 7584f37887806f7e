package notification

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"notifyhub/internal/idempotency"
	"notifyhub/internal/model"
	"notifyhub/internal/repository"
)

// NewTransactionalService builds a service whose admission path writes
// the notification and its outbox message in one transaction. The
// outbox dispatcher publishes after commit, so a rolled-back insert can
// never leak a broker message.
func NewTransactionalService(repo *repository.NotificationRepository, limiter Limiter, dispatcher Dispatcher, txDispatcher TxDispatcher, cache *idempotency.Cache, logger *zap.Logger) *Service {
	return &Service{
		store:      repo,
		limiter:    limiter,
		dispatcher: dispatcher,
		cache:      cache,
		logger:     logger,
		pool:       repo.Pool(),
		txStore:    repo,
		txRoute:    txDispatcher,
	}
}

func (s *Service) persistAndDispatchTx(ctx context.Context, n *model.Notification) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin admission transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.txStore.InsertIfAbsentTx(ctx, tx, n); err != nil {
		if errors.Is(err, repository.ErrDuplicateIdempotencyKey) {
			return false, nil
		}
		return false, err
	}

	if err := s.txRoute.PublishTx(ctx, tx, n); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit admission transaction: %w", err)
	}
	return true, nil
}
