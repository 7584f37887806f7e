package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	mqcontracts "notifyhub/contracts/mq"
)

// DeadLetterRepository persists drained DLQ messages for audit and
// manual follow-up.
type DeadLetterRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewDeadLetterRepository(db *pgxpool.Pool, logger *zap.Logger) *DeadLetterRepository {
	return &DeadLetterRepository{
		db:     db,
		logger: logger,
	}
}

// Insert records one dead letter.
func (r *DeadLetterRepository) Insert(ctx context.Context, p *mqcontracts.DeadLetterPayload) error {
	query := `
		INSERT INTO dead_letters (original_topic, original_key, original_payload, error_reason, failed_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRow(ctx, query,
		p.OriginalTopic,
		p.OriginalKey,
		p.OriginalPayload,
		p.ErrorReason,
		p.Timestamp,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to insert dead letter: %w", err)
	}

	r.logger.Debug("Dead letter persisted",
		zap.Int64("id", id),
		zap.String("original_topic", p.OriginalTopic),
		zap.String("original_key", p.OriginalKey),
	)
	return nil
}

// ListRecent returns the newest dead letters for the admin surface.
func (r *DeadLetterRepository) ListRecent(ctx context.Context, limit int) ([]*mqcontracts.DeadLetterPayload, error) {
	query := `
		SELECT original_topic, original_key, original_payload, error_reason, failed_at
		FROM dead_letters
		ORDER BY failed_at DESC
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letters: %w", err)
	}
	defer rows.Close()

	var payloads []*mqcontracts.DeadLetterPayload
	for rows.Next() {
		var p mqcontracts.DeadLetterPayload
		if err := rows.Scan(&p.OriginalTopic, &p.OriginalKey, &p.OriginalPayload, &p.ErrorReason, &p.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		payloads = append(payloads, &p)
	}

	return payloads, rows.Err()
}
