package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"notifyhub/config"
	mqcontracts "notifyhub/contracts/mq"
	"notifyhub/internal/adapter"
	"notifyhub/internal/dispatch"
	"notifyhub/internal/model"
	"notifyhub/internal/repository"
	"notifyhub/internal/worker"
	"notifyhub/pkg/db"
	"notifyhub/pkg/logger"
	"notifyhub/pkg/mq"
	"notifyhub/pkg/outbox"
	redisclient "notifyhub/pkg/redis"
	"notifyhub/pkg/util"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting notification worker service...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("MQ publisher initialization failed", zap.Error(err))
	}
	defer publisher.Close()

	notificationRepo := repository.NewNotificationRepository(dbConn, log)
	deadLetterRepo := repository.NewDeadLetterRepository(dbConn, log)

	// Provider adapters
	timeout := cfg.Delivery.ProviderTimeout()
	registry := adapter.NewRegistry(log,
		adapter.NewEmailAdapter(cfg.Delivery.EmailProviderURL, timeout, log),
		adapter.NewSMSAdapter(cfg.Delivery.SMSProviderURL, timeout, log),
		adapter.NewPushAdapter(cfg.Delivery.PushProviderURL, timeout, log),
	)

	// One consumer per channel queue
	channels := []model.Channel{model.ChannelEmail, model.ChannelSMS, model.ChannelPush}
	for _, channel := range channels {
		ad, err := registry.Get(channel)
		if err != nil {
			log.Fatal("missing adapter", zap.String("channel", string(channel)), zap.Error(err))
		}

		topic := mqcontracts.TopicForChannel(channel)
		handler := worker.NewDeliveryConsumer(notificationRepo, ad, publisher, cfg.Delivery.MaxAttempts, log)

		log.Info("Initializing delivery consumer",
			zap.String("channel", string(channel)),
			zap.String("queue", topic),
		)
		consumer, err := mq.NewConsumer(cfg.MQ.URL, topic, topic, log)
		if err != nil {
			log.Fatal("failed to init delivery consumer",
				zap.String("channel", string(channel)),
				zap.Error(err),
			)
		}
		consumer.SetHandler(handler.Handle)
		defer consumer.Close()

		go func(channel model.Channel) {
			if err := consumer.StartConsuming(ctx); err != nil {
				log.Fatal("delivery consumer failed",
					zap.String("channel", string(channel)),
					zap.Error(err),
				)
			}
		}(channel)
	}

	// Dead letter drain
	dlqHandler := worker.NewDLQConsumer(deadLetterRepo, log)
	dlqConsumer, err := mq.NewDLQConsumer(cfg.MQ.URL, mqcontracts.TopicDLQ, log)
	if err != nil {
		log.Fatal("failed to init DLQ consumer", zap.Error(err))
	}
	dlqConsumer.SetHandler(dlqHandler.Handle)
	defer dlqConsumer.Close()

	go func() {
		if err := dlqConsumer.StartConsuming(ctx); err != nil {
			log.Fatal("DLQ consumer failed", zap.Error(err))
		}
	}()

	// Retry sweeper redrives stuck records. The Redis deduper keeps
	// overlapping worker instances from redriving the same record; the
	// sweeper runs without it if Redis is down.
	var deduper *util.Deduper
	if rdb, err := redisclient.NewClient(cfg.Redis); err != nil {
		log.Warn("Redis unavailable, sweeper runs without dedup guard", zap.Error(err))
	} else {
		defer rdb.Close()
		deduper = util.NewDeduper(rdb, cfg.Sweep.Interval(), log)
	}

	outboxRepo := outbox.NewRepository(dbConn)

	// Outbox dispatcher publishes admissions the API committed.
	dispatcher := outbox.NewDispatcher(outboxRepo, publisher, log)
	go dispatcher.Start(ctx)

	router := dispatch.NewRouter(publisher, outboxRepo, log)
	sweeper := worker.NewSweeper(
		notificationRepo,
		router,
		publisher,
		deduper,
		cfg.Sweep.Interval(),
		cfg.Sweep.Cutoff(),
		cfg.Delivery.MaxAttempts,
		cfg.Sweep.BatchSize,
		log,
	)
	go sweeper.Start(ctx)

	log.Info("All consumers started, worker is ready to process messages")

	<-ctx.Done()
	log.Info("Shutting down worker service")
}
