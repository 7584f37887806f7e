package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Admission outcomes: admitted, duplicate, rate_limited, rejected, capacity
	AdmissionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_admission_count",
			Help: "Total number of notification admission requests by outcome",
		},
		[]string{"outcome", "channel"},
	)

	// Rate limit denials by scope (user / user_template)
	RateLimitDeniedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_rate_limit_denied_count",
			Help: "Total number of requests denied by the rate limiter",
		},
		[]string{"scope"},
	)

	// Broker publish attempts by topic and status (success / failure)
	BrokerPublishCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_broker_publish_count",
			Help: "Total number of broker publish attempts",
		},
		[]string{"topic", "status", "error_type"},
	)

	// Broker publish latency (milliseconds)
	BrokerPublishLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_broker_publish_latency_ms",
			Help:    "Broker publish latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1ms to ~4s
		},
		[]string{"topic"},
	)

	// Delivery attempts by channel and outcome (sent / failed / permanent_failure)
	DeliveryAttemptCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_delivery_attempt_count",
			Help: "Total number of delivery attempts by outcome",
		},
		[]string{"channel", "outcome"},
	)

	// Provider call latency (milliseconds)
	ProviderCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_provider_call_latency_ms",
			Help:    "External provider call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"channel", "status"},
	)

	// Messages handed to the dead letter queue
	DLQMessageCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_dlq_message_count",
			Help: "Total number of messages sent to the dead letter queue",
		},
		[]string{"topic"},
	)

	// Optimistic-lock conflicts observed during state updates
	VersionConflictCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_version_conflict_count",
			Help: "Total number of optimistic concurrency conflicts",
		},
		[]string{"operation"},
	)

	// Records redriven by the retry sweeper
	SweeperRedriveCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_sweeper_redrive_count",
			Help: "Total number of stuck notifications redriven by the sweeper",
		},
		[]string{"status"},
	)

	// Queries slower than the configured threshold
	SlowQueryCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_slow_query_count",
			Help: "Total number of database queries over the slow-query threshold",
		},
	)
)

// IncrementAdmission records an admission outcome.
func IncrementAdmission(outcome, channel string) {
	AdmissionCount.WithLabelValues(outcome, channel).Inc()
}

// IncrementRateLimitDenied records a rate limit denial for a scope.
func IncrementRateLimitDenied(scope string) {
	RateLimitDeniedCount.WithLabelValues(scope).Inc()
}

// RecordBrokerPublish records a publish attempt and its latency.
func RecordBrokerPublish(topic, status, errorType string, duration time.Duration) {
	BrokerPublishCount.WithLabelValues(topic, status, errorType).Inc()
	BrokerPublishLatency.WithLabelValues(topic).Observe(float64(duration.Milliseconds()))
}

// IncrementDeliveryAttempt records the outcome of a delivery attempt.
func IncrementDeliveryAttempt(channel, outcome string) {
	DeliveryAttemptCount.WithLabelValues(channel, outcome).Inc()
}

// RecordProviderCall records an external provider call latency.
func RecordProviderCall(channel, status string, duration time.Duration) {
	ProviderCallLatency.WithLabelValues(channel, status).Observe(float64(duration.Milliseconds()))
}

// IncrementDLQMessage records a message handed to the DLQ.
func IncrementDLQMessage(topic string) {
	DLQMessageCount.WithLabelValues(topic).Inc()
}

// IncrementVersionConflict records an optimistic concurrency conflict.
func IncrementVersionConflict(operation string) {
	VersionConflictCount.WithLabelValues(operation).Inc()
}

// IncrementSweeperRedrive records a record redriven by the sweeper.
func IncrementSweeperRedrive(status string) {
	SweeperRedriveCount.WithLabelValues(status).Inc()
}

// IncrementSlowQuery records a query over the slow-query threshold.
func IncrementSlowQuery() {
	SlowQueryCount.Inc()
}
