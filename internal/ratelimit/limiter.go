package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"notifyhub/config"
	"notifyhub/pkg/metrics"
)

// Scope names which window denied a request.
type Scope string

const (
	ScopeUser     Scope = "user"
	ScopeTemplate Scope = "user_template"
)

const (
	userRateKeyPrefix     = "rate:user:"
	templateRateKeyPrefix = "rate:template:"
)

// incrWithTTL increments the window counter and assigns the TTL in the
// same script, so two concurrent first-requests cannot stomp each
// other's expiry.
var incrWithTTL = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Result reports the outcome of one window check. CurrentCount includes
// the denied request itself: the limiter increments first and checks
// after, so a denied request still consumes a slot of the window.
type Result struct {
	Allowed      bool
	Scope        Scope
	CurrentCount int64
	MaxAllowed   int
	Window       time.Duration
}

// Error renders the denial as a caller-facing message.
func (r Result) Error() string {
	switch r.Scope {
	case ScopeTemplate:
		return fmt.Sprintf("template rate limit exceeded: maximum %d notifications allowed per %s", r.MaxAllowed, r.Window)
	default:
		return fmt.Sprintf("user rate limit exceeded: maximum %d notifications allowed per %s", r.MaxAllowed, r.Window)
	}
}

// Limiter is a fixed-window rate limiter over Redis counters. Counters
// expire with their window; there is no cleanup job.
type Limiter struct {
	rdb    redis.Scripter
	cfg    config.RateLimitConfig
	logger *zap.Logger
}

func NewLimiter(rdb redis.Scripter, cfg config.RateLimitConfig, logger *zap.Logger) *Limiter {
	return &Limiter{
		rdb:    rdb,
		cfg:    cfg,
		logger: logger,
	}
}

// AdmitUser checks the per-user window.
func (l *Limiter) AdmitUser(ctx context.Context, userID string) (Result, error) {
	key := userRateKeyPrefix + userID
	return l.admit(ctx, ScopeUser, key, l.cfg.UserMaxRequests, l.cfg.UserWindow())
}

// AdmitTemplate checks the per-user-per-template window.
func (l *Limiter) AdmitTemplate(ctx context.Context, userID, templateID string) (Result, error) {
	key := templateRateKeyPrefix + userID + ":" + templateID
	return l.admit(ctx, ScopeTemplate, key, l.cfg.TemplateMaxRequests, l.cfg.TemplateWindow())
}

func (l *Limiter) admit(ctx context.Context, scope Scope, key string, maxCount int, window time.Duration) (Result, error) {
	count, err := incrWithTTL.Run(ctx, l.rdb, []string{key}, window.Milliseconds()).Int64()
	if err != nil {
		return Result{}, fmt.Errorf("failed to increment rate counter: %w", err)
	}

	result := Result{
		Allowed:      count <= int64(maxCount),
		Scope:        scope,
		CurrentCount: count,
		MaxAllowed:   maxCount,
		Window:       window,
	}

	if !result.Allowed {
		metrics.IncrementRateLimitDenied(string(scope))
		l.logger.Warn("Rate limit exceeded",
			zap.String("scope", string(scope)),
			zap.String("key", key),
			zap.Int64("count", count),
			zap.Int("max", maxCount),
		)
		return result, nil
	}

	l.logger.Debug("Rate limit check passed",
		zap.String("scope", string(scope)),
		zap.String("key", key),
		zap.Int64("count", count),
		zap.Int("max", maxCount),
	)
	return result, nil
}
