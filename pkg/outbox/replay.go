package outbox

import (
	"context"
	"fmt"
	"time"

	"notifyhub/pkg/mq"
)

// ReplayService re-publishes parked outbox events on operator request.
type ReplayService struct {
	repo      *Repository
	publisher *mq.Publisher
}

func NewReplayService(repo *Repository, publisher *mq.Publisher) *ReplayService {
	return &ReplayService{
		repo:      repo,
		publisher: publisher,
	}
}

// ReplayEvent publishes the event immediately and resets its outbox row
// so the dispatcher does not double-send it.
func (s *ReplayService) ReplayEvent(ctx context.Context, eventID int64) error {
	event, err := s.repo.GetEventByID(ctx, eventID)
	if err != nil {
		return fmt.Errorf("failed to get event: %w", err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.publisher.Publish(publishCtx, event.RoutingKey, event.MessageKey, event.Payload); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	if err := s.repo.MarkAsSent(ctx, event.ID); err != nil {
		return fmt.Errorf("failed to mark event as sent: %w", err)
	}

	return nil
}

// ListFailed returns parked events for the admin surface.
func (s *ReplayService) ListFailed(ctx context.Context, limit int) ([]*Event, error) {
	return s.repo.GetFailedEvents(ctx, limit)
}
