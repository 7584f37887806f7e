package main

import (
	"go.uber.org/zap"

	"notifyhub/config"
	"notifyhub/internal/api"
	"notifyhub/internal/dispatch"
	"notifyhub/internal/httpserver"
	"notifyhub/internal/idempotency"
	"notifyhub/internal/ratelimit"
	"notifyhub/internal/repository"
	"notifyhub/internal/service/notification"
	"notifyhub/pkg/db"
	"notifyhub/pkg/logger"
	"notifyhub/pkg/mq"
	"notifyhub/pkg/outbox"
	redisclient "notifyhub/pkg/redis"
	"notifyhub/pkg/workerpool"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting notification API service...")

	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	rdb, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		log.Fatal("Redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("MQ publisher initialization failed", zap.Error(err))
	}
	defer publisher.Close()

	// Repositories
	notificationRepo := repository.NewNotificationRepository(dbConn, log)
	deadLetterRepo := repository.NewDeadLetterRepository(dbConn, log)
	outboxRepo := outbox.NewRepository(dbConn)

	// Admission pipeline
	limiter := ratelimit.NewLimiter(rdb, cfg.RateLimit, log)
	cache := idempotency.NewCache(0)
	router := dispatch.NewRouter(publisher, outboxRepo, log)
	svc := notification.NewTransactionalService(notificationRepo, limiter, router, router, cache, log)

	pool := workerpool.New(cfg.Pool.Workers, cfg.Pool.QueueSize, log)
	defer pool.Stop()

	replay := outbox.NewReplayService(outboxRepo, publisher)

	// HTTP surface
	notificationHandler := api.NewNotificationHandler(svc, pool, log)
	adminHandler := api.NewAdminHandler(replay, deadLetterRepo, log)

	r := httpserver.NewRouter(notificationHandler, adminHandler, cfg.JWT.Secret, dbConn)

	log.Info("API server listening", zap.String("port", cfg.Server.Port))
	if err := r.Run(":" + cfg.Server.Port); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}
