package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"notifyhub/pkg/metrics"
)

type queryCtxKey struct{}

type queryInfo struct {
	start time.Time
	sql   string
}

// SlowQueryTracer logs and counts queries over a threshold. Wired into
// the pool config as the pgx query tracer.
type SlowQueryTracer struct {
	logger        *zap.Logger
	slowThreshold time.Duration
}

func NewSlowQueryTracer(logger *zap.Logger, slowThreshold time.Duration) *SlowQueryTracer {
	if slowThreshold == 0 {
		slowThreshold = 100 * time.Millisecond
	}
	return &SlowQueryTracer{
		logger:        logger,
		slowThreshold: slowThreshold,
	}
}

func (t *SlowQueryTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	// TraceQueryEndData carries no SQL, so stash it here.
	return context.WithValue(ctx, queryCtxKey{}, queryInfo{
		start: time.Now(),
		sql:   data.SQL,
	})
}

func (t *SlowQueryTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	info, ok := ctx.Value(queryCtxKey{}).(queryInfo)
	if !ok {
		return
	}

	duration := time.Since(info.start)
	if duration <= t.slowThreshold {
		return
	}

	sql := info.sql
	if len(sql) > 200 {
		sql = sql[:200] + "..."
	}

	t.logger.Warn("slow-query",
		zap.String("sql", sql),
		zap.Duration("took", duration),
		zap.String("command_tag", data.CommandTag.String()),
	)

	metrics.IncrementSlowQuery()
}
