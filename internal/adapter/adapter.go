package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"notifyhub/internal/model"
	"notifyhub/pkg/circuitbreaker"
	"notifyhub/pkg/metrics"
)

// ErrInvalidPayload marks a structural validation failure (bad address,
// missing token) that no retry can fix. Consumers classify it as
// PERMANENT_FAILURE immediately.
var ErrInvalidPayload = errors.New("invalid notification payload")

// Adapter delivers one notification through an external provider.
// Deliver returns (true, nil) on success and (false, err) on failure;
// err wrapping ErrInvalidPayload means the payload itself is broken.
type Adapter interface {
	Channel() model.Channel
	Deliver(ctx context.Context, n *model.Notification) (bool, error)
}

// providerClient posts JSON to an external provider endpoint with a hard
// timeout and a circuit breaker, shared by all channel adapters.
type providerClient struct {
	channel model.Channel
	url     string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

func newProviderClient(channel model.Channel, url string, timeout time.Duration, logger *zap.Logger) providerClient {
	return providerClient{
		channel: channel,
		url:     url,
		client:  &http.Client{Timeout: timeout},
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig()),
		logger:  logger,
	}
}

// post sends the provider request body. Timeout and non-2xx responses
// are failures; the breaker trips on consecutive failures so a dead
// provider does not burn every message's retry budget.
func (p *providerClient) post(ctx context.Context, body any) error {
	return p.breaker.Execute(func() error {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal provider request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to build provider request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		start := time.Now()
		resp, err := p.client.Do(req)
		elapsed := time.Since(start)

		if err != nil {
			metrics.RecordProviderCall(string(p.channel), "error", elapsed)
			return fmt.Errorf("failed to call provider: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			metrics.RecordProviderCall(string(p.channel), fmt.Sprintf("%d", resp.StatusCode), elapsed)
			return fmt.Errorf("provider returned status %d", resp.StatusCode)
		}

		metrics.RecordProviderCall(string(p.channel), "success", elapsed)
		return nil
	})
}
