package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"notifyhub/internal/idempotency"
	"notifyhub/internal/model"
	"notifyhub/internal/ratelimit"
	"notifyhub/internal/repository"
	"notifyhub/pkg/metrics"
)

// ErrValidation marks a structurally invalid admission request.
var ErrValidation = errors.New("invalid notification request")

// RateLimitError is returned when admission is denied by a rate window.
// The request leaves no trace in the store but has consumed a slot of
// the window.
type RateLimitError struct {
	Result ratelimit.Result
}

func (e *RateLimitError) Error() string {
	return e.Result.Error()
}

// Store is the durable notification store the service admits into.
type Store interface {
	InsertIfAbsent(ctx context.Context, n *model.Notification) error
	FindByID(ctx context.Context, id string) (*model.Notification, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*model.Notification, error)
	FindByUserID(ctx context.Context, userID string, limit int) ([]*model.Notification, error)
	FindByCorrelationID(ctx context.Context, correlationID string, limit int) ([]*model.Notification, error)
}

// Limiter guards admission with fixed rate windows.
type Limiter interface {
	AdmitUser(ctx context.Context, userID string) (ratelimit.Result, error)
	AdmitTemplate(ctx context.Context, userID, templateID string) (ratelimit.Result, error)
}

// Dispatcher hands an admitted notification to the broker.
type Dispatcher interface {
	Publish(ctx context.Context, n *model.Notification) error
}

// Request is one admission attempt from a caller.
type Request struct {
	UserID         string         `json:"user_id" binding:"required"`
	Channel        model.Channel  `json:"channel" binding:"required"`
	TemplateID     string         `json:"template_id" binding:"required"`
	TemplateParams map[string]any `json:"template_params"`
	Priority       model.Priority `json:"priority"`
	CorrelationID  string         `json:"correlation_id"`
	IdempotencyKey string         `json:"idempotency_key"`
}

// Result of admission. Duplicate means the request matched an already
// admitted notification and nothing new was created or published.
type Result struct {
	Notification *model.Notification
	Duplicate    bool
}

// Service runs the admission pipeline: idempotency first, rate windows
// second, durable insert third, broker publish last. A request rejected
// by a rate window leaves no record; a duplicate is detected before any
// window is touched so replays cannot burn rate budget.
type Service struct {
	store      Store
	limiter    Limiter
	dispatcher Dispatcher
	cache      *idempotency.Cache
	logger     *zap.Logger

	// Set only in transactional mode, where insert and outbox enqueue
	// share one transaction.
	pool    *pgxpool.Pool
	txStore *repository.NotificationRepository
	txRoute TxDispatcher
}

// TxDispatcher defers the publish past commit via the outbox.
type TxDispatcher interface {
	PublishTx(ctx context.Context, tx pgx.Tx, n *model.Notification) error
}

func NewService(store Store, limiter Limiter, dispatcher Dispatcher, cache *idempotency.Cache, logger *zap.Logger) *Service {
	return &Service{
		store:      store,
		limiter:    limiter,
		dispatcher: dispatcher,
		cache:      cache,
		logger:     logger,
	}
}

// Admit runs the full admission pipeline for one request.
func (s *Service) Admit(ctx context.Context, req *Request) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	if req.Priority == "" {
		req.Priority = model.PriorityMedium
	}

	key := req.IdempotencyKey
	if key == "" {
		key = idempotency.DeriveKey(req.Channel, req.TemplateID, req.UserID, req.CorrelationID)
	}

	// Idempotency before rate limiting: a replayed request must not
	// consume window budget.
	if existing, err := s.lookupExisting(ctx, key); err != nil {
		return nil, err
	} else if existing != nil {
		metrics.IncrementAdmission("duplicate", string(req.Channel))
		s.logger.Info("Duplicate notification request",
			zap.String("idempotency_key", key),
			zap.String("notification_id", existing.ID),
		)
		return &Result{Notification: existing, Duplicate: true}, nil
	}

	if err := s.checkRateLimits(ctx, req); err != nil {
		return nil, err
	}

	n := &model.Notification{
		ID:             uuid.NewString(),
		UserID:         req.UserID,
		Channel:        req.Channel,
		TemplateID:     req.TemplateID,
		TemplateParams: req.TemplateParams,
		Priority:       req.Priority,
		CorrelationID:  req.CorrelationID,
		IdempotencyKey: key,
		Status:         model.StatusPending,
	}

	inserted, err := s.persistAndDispatch(ctx, n)
	if err != nil {
		return nil, err
	}
	if !inserted {
		// Lost the insert race: another writer admitted the same key
		// between our lookup and our insert. Surface the winner.
		existing, err := s.store.FindByIdempotencyKey(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to load notification after duplicate insert: %w", err)
		}
		s.cache.Put(key, existing.ID)
		metrics.IncrementAdmission("duplicate", string(req.Channel))
		return &Result{Notification: existing, Duplicate: true}, nil
	}

	s.cache.Put(key, n.ID)
	metrics.IncrementAdmission("admitted", string(req.Channel))
	s.logger.Info("Notification admitted",
		zap.String("notification_id", n.ID),
		zap.String("user_id", n.UserID),
		zap.String("channel", string(n.Channel)),
		zap.String("idempotency_key", key),
	)

	return &Result{Notification: n}, nil
}

// GetByID returns a notification by id.
func (s *Service) GetByID(ctx context.Context, id string) (*model.Notification, error) {
	return s.store.FindByID(ctx, id)
}

// GetByUser lists a user's notifications, newest first.
func (s *Service) GetByUser(ctx context.Context, userID string, limit int) ([]*model.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.FindByUserID(ctx, userID, limit)
}

// GetByCorrelation lists notifications under one correlation id.
func (s *Service) GetByCorrelation(ctx context.Context, correlationID string, limit int) ([]*model.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.FindByCorrelationID(ctx, correlationID, limit)
}

func validate(req *Request) error {
	if req.UserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if !req.Channel.Valid() {
		return fmt.Errorf("%w: unsupported channel %q", ErrValidation, req.Channel)
	}
	if req.TemplateID == "" {
		return fmt.Errorf("%w: template_id is required", ErrValidation)
	}
	switch req.Priority {
	case "", model.PriorityLow, model.PriorityMedium, model.PriorityHigh:
	default:
		return fmt.Errorf("%w: unsupported priority %q", ErrValidation, req.Priority)
	}
	return nil
}

// lookupExisting checks the process-local cache first, then the store.
// The store is the source of truth; the cache only short-circuits hot
// duplicates.
func (s *Service) lookupExisting(ctx context.Context, key string) (*model.Notification, error) {
	if id, ok := s.cache.Get(key); ok {
		n, err := s.store.FindByID(ctx, id)
		if err == nil {
			return n, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}

	n, err := s.store.FindByIdempotencyKey(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	s.cache.Put(key, n.ID)
	return n, nil
}

func (s *Service) checkRateLimits(ctx context.Context, req *Request) error {
	userRes, err := s.limiter.AdmitUser(ctx, req.UserID)
	if err != nil {
		return fmt.Errorf("user rate limit check failed: %w", err)
	}
	if !userRes.Allowed {
		metrics.IncrementAdmission("rate_limited", string(req.Channel))
		return &RateLimitError{Result: userRes}
	}

	tmplRes, err := s.limiter.AdmitTemplate(ctx, req.UserID, req.TemplateID)
	if err != nil {
		return fmt.Errorf("template rate limit check failed: %w", err)
	}
	if !tmplRes.Allowed {
		metrics.IncrementAdmission("rate_limited", string(req.Channel))
		return &RateLimitError{Result: tmplRes}
	}

	return nil
}

// persistAndDispatch writes the notification and hands it to the broker.
// Returns inserted=false when the idempotency key lost an insert race.
// A publish failure after a durable insert is logged, not surfaced: the
// record stays PENDING and the retry sweeper redrives it.
func (s *Service) persistAndDispatch(ctx context.Context, n *model.Notification) (bool, error) {
	if s.pool != nil {
		return s.persistAndDispatchTx(ctx, n)
	}

	if err := s.store.InsertIfAbsent(ctx, n); err != nil {
		if errors.Is(err, repository.ErrDuplicateIdempotencyKey) {
			return false, nil
		}
		return false, err
	}

	if err := s.dispatcher.Publish(ctx, n); err != nil {
		s.logger.Error("Publish after admission failed, sweeper will redrive",
			zap.String("notification_id", n.ID),
			zap.Error(err),
		)
	}
	return true, nil
}
