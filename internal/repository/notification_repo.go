package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"notifyhub/internal/model"
	"notifyhub/pkg/metrics"
)

var (
	// ErrNotFound means no notification exists for the given key.
	ErrNotFound = errors.New("notification not found")
	// ErrDuplicateIdempotencyKey means an insert hit the unique index on
	// idempotency_key. The caller re-reads the existing record.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	// ErrVersionConflict means a conditional update lost the race; the
	// caller re-reads and retries.
	ErrVersionConflict = errors.New("notification version conflict")
)

const pgUniqueViolation = "23505"

const notificationColumns = `
	id, user_id, channel, template_id, template_params, priority,
	correlation_id, idempotency_key, status, delivery_attempts,
	error_message, created_at, updated_at, last_attempted_at, version`

// NotificationRepository is the durable Notification Store. All
// mutations after insert go through CompareAndUpdate so concurrent
// writers cannot lose updates.
type NotificationRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewNotificationRepository(db *pgxpool.Pool, logger *zap.Logger) *NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
	}
}

// Pool exposes the underlying pool for transactional admission.
func (r *NotificationRepository) Pool() *pgxpool.Pool {
	return r.db
}

// InsertIfAbsent inserts a new notification. The unique index on
// idempotency_key is the enforcement point for duplicate admission: a
// losing concurrent writer gets ErrDuplicateIdempotencyKey and must
// re-read the winner's record.
func (r *NotificationRepository) InsertIfAbsent(ctx context.Context, n *model.Notification) error {
	return r.insert(ctx, r.db, n)
}

// InsertIfAbsentTx is InsertIfAbsent inside an open transaction, used by
// the admission path that defers publishing to the outbox dispatcher.
func (r *NotificationRepository) InsertIfAbsentTx(ctx context.Context, tx pgx.Tx, n *model.Notification) error {
	return r.insert(ctx, tx, n)
}

type execQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *NotificationRepository) insert(ctx context.Context, q execQuerier, n *model.Notification) error {
	query := `
		INSERT INTO notifications (
			id, user_id, channel, template_id, template_params, priority,
			correlation_id, idempotency_key, status, delivery_attempts,
			error_message, created_at, updated_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1)
		RETURNING created_at, updated_at, version
	`

	now := time.Now().UTC()
	err := q.QueryRow(ctx, query,
		n.ID,
		n.UserID,
		n.Channel,
		n.TemplateID,
		n.TemplateParams,
		n.Priority,
		nullable(n.CorrelationID),
		n.IdempotencyKey,
		n.Status,
		n.DeliveryAttempts,
		nullable(n.ErrorMessage),
		now,
		now,
	).Scan(&n.CreatedAt, &n.UpdatedAt, &n.Version)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to insert notification: %w", err)
	}

	return nil
}

// FindByID returns the notification with the given id.
func (r *NotificationRepository) FindByID(ctx context.Context, id string) (*model.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`
	return r.findOne(ctx, query, id)
}

// FindByIdempotencyKey returns the notification admitted under the key.
func (r *NotificationRepository) FindByIdempotencyKey(ctx context.Context, key string) (*model.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE idempotency_key = $1`
	return r.findOne(ctx, query, key)
}

// FindByUserID lists a user's notifications, newest first.
func (r *NotificationRepository) FindByUserID(ctx context.Context, userID string, limit int) ([]*model.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	return r.findMany(ctx, query, userID, limit)
}

// FindByCorrelationID lists notifications sharing a caller-supplied
// grouping key.
func (r *NotificationRepository) FindByCorrelationID(ctx context.Context, correlationID string, limit int) ([]*model.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE correlation_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	return r.findMany(ctx, query, correlationID, limit)
}

// CompareAndUpdate writes n conditionally on expectedVersion and bumps
// the version token. Returns ErrVersionConflict when another writer got
// there first, ErrNotFound when the record is gone.
func (r *NotificationRepository) CompareAndUpdate(ctx context.Context, n *model.Notification, expectedVersion int64) error {
	query := `
		UPDATE notifications
		SET status = $1,
		    delivery_attempts = $2,
		    error_message = $3,
		    last_attempted_at = $4,
		    updated_at = $5,
		    version = version + 1
		WHERE id = $6 AND version = $7
	`

	now := time.Now().UTC()
	tag, err := r.db.Exec(ctx, query,
		n.Status,
		n.DeliveryAttempts,
		nullable(n.ErrorMessage),
		n.LastAttemptedAt,
		now,
		n.ID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// Disambiguate a lost race from a missing record.
		if _, findErr := r.FindByID(ctx, n.ID); findErr != nil {
			return findErr
		}
		return ErrVersionConflict
	}

	n.Version = expectedVersion + 1
	n.UpdatedAt = now
	return nil
}

// UpdateWithRetry runs the read-mutate-write cycle with bounded retries
// on version conflicts: 5 attempts, 100ms delay doubling each round.
// The mutator sees a fresh record every attempt; returning an error
// aborts the cycle.
func (r *NotificationRepository) UpdateWithRetry(ctx context.Context, id string, mutate func(*model.Notification) error) (*model.Notification, error) {
	const maxAttempts = 5

	for attempt := 0; attempt < maxAttempts; attempt++ {
		n, err := r.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}

		expectedVersion := n.Version
		if err := mutate(n); err != nil {
			return nil, err
		}

		err = r.CompareAndUpdate(ctx, n, expectedVersion)
		if err == nil {
			return n, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}

		metrics.IncrementVersionConflict("update_notification")
		r.logger.Warn("Version conflict updating notification, retrying",
			zap.String("notification_id", id),
			zap.Int("attempt", attempt+1),
		)

		delay := time.Duration(100*math.Pow(2, float64(attempt))) * time.Millisecond
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("update of notification %s: %w", id, ErrVersionConflict)
}

// FindRetryable returns stuck records for the retry sweep: given status,
// last activity older than cutoff, attempts below maxAttempts.
func (r *NotificationRepository) FindRetryable(ctx context.Context, status model.Status, cutoff time.Time, maxAttempts, limit int) ([]*model.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE status = $1
		AND COALESCE(last_attempted_at, created_at) < $2
		AND delivery_attempts < $3
		ORDER BY COALESCE(last_attempted_at, created_at) ASC
		LIMIT $4
	`
	return r.findMany(ctx, query, status, cutoff, maxAttempts, limit)
}

// FindExhausted returns non-terminal records whose attempts reached
// maxAttempts; the sweeper parks them as PERMANENT_FAILURE. FAILED
// records qualify immediately because their outcome is already
// recorded. A RETRYING record only qualifies once its last attempt is
// older than cutoff: a fresh one may be a final attempt still in
// flight in a live consumer.
func (r *NotificationRepository) FindExhausted(ctx context.Context, cutoff time.Time, maxAttempts, limit int) ([]*model.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE delivery_attempts >= $1
		AND (
			status = $2
			OR (status = $3 AND COALESCE(last_attempted_at, created_at) < $4)
		)
		ORDER BY updated_at ASC
		LIMIT $5
	`
	return r.findMany(ctx, query, maxAttempts, model.StatusFailed, model.StatusRetrying, cutoff, limit)
}

func (r *NotificationRepository) findOne(ctx context.Context, query string, args ...any) (*model.Notification, error) {
	row := r.db.QueryRow(ctx, query, args...)
	n, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query notification: %w", err)
	}
	return n, nil
}

func (r *NotificationRepository) findMany(ctx context.Context, query string, args ...any) ([]*model.Notification, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (*model.Notification, error) {
	var n model.Notification
	var correlationID, errorMessage *string

	err := row.Scan(
		&n.ID,
		&n.UserID,
		&n.Channel,
		&n.TemplateID,
		&n.TemplateParams,
		&n.Priority,
		&correlationID,
		&n.IdempotencyKey,
		&n.Status,
		&n.DeliveryAttempts,
		&errorMessage,
		&n.CreatedAt,
		&n.UpdatedAt,
		&n.LastAttemptedAt,
		&n.Version,
	)
	if err != nil {
		return nil, err
	}

	if correlationID != nil {
		n.CorrelationID = *correlationID
	}
	if errorMessage != nil {
		n.ErrorMessage = *errorMessage
	}

	return &n, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
