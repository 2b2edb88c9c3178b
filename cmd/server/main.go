package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"bankledger/internal/cache"
	"bankledger/internal/config"
	"bankledger/internal/db"
	"bankledger/internal/handlers"
	"bankledger/internal/logging"
	"bankledger/internal/notify"
	"bankledger/internal/outbox"
	"bankledger/internal/scheduler"
	"bankledger/internal/services"
	"bankledger/internal/store"
	"bankledger/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.IsDevelopment())
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect database", zap.Error(err))
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("failed to connect redis", zap.Error(err))
		}
		defer redisClient.Close()
	}

	hub := websocket.NewHub()
	sinks := notify.Fanout{hub, notify.NewLog(logger)}
	if cfg.RabbitMQURL != "" {
		publisher, err := notify.NewRabbitPublisher(cfg.RabbitMQURL, cfg.NotificationExchange)
		if err != nil {
			logger.Fatal("failed to connect rabbitmq", zap.Error(err))
		}
		defer publisher.Close()
		sinks = append(sinks, notify.NewBreakerNotifier("rabbitmq", publisher, notify.DefaultBreakerSettings(), logger))
	}

	var views services.ViewCache
	var invalidator notify.Invalidator = cache.Noop{}
	if redisClient != nil {
		redisCache := cache.NewRedis(redisClient, 0)
		views = redisCache
		invalidator = notify.NewBreakerInvalidator("redis-cache", redisCache, notify.DefaultBreakerSettings(), logger)
	}

	outboxStore := store.NewOutboxStore(database)
	stores := services.Stores{
		Users:         store.NewUserStore(database),
		Accounts:      store.NewAccountStore(database),
		Pools:         store.NewPoolStore(database),
		Externals:     store.NewExternalAccountStore(database),
		Payments:      store.NewPaymentStore(database),
		Transactions:  store.NewTransactionStore(database),
		MoneyRequests: store.NewMoneyRequestStore(database),
		Automations:   store.NewAutomationStore(database),
		Outbox:        outboxStore,
	}

	dispatcher := outbox.NewDispatcher(outboxStore, sinks, invalidator, logger, outbox.Options{
		PollInterval: cfg.OutboxPollInterval,
		BatchSize:    cfg.OutboxBatchSize,
	})

	txRunner := db.NewTxRunner(database, logger)
	clock := services.SystemClock{}
	transfers := services.NewTransferService(txRunner, stores, clock, dispatcher)
	accounts := services.NewAccountService(txRunner, stores, transfers, clock, dispatcher, services.OpeningBalances{
		Personal: cfg.OpeningBalancePersonal,
		Business: cfg.OpeningBalanceBusiness,
	})
	requests := services.NewMoneyRequestService(txRunner, stores, transfers, clock, dispatcher, cfg.MoneyRequestTTL)
	automations := services.NewAutomationService(txRunner, stores, transfers, clock, dispatcher, logger)
	queries := services.NewQueryService(stores)
	if views != nil {
		queries = queries.WithCache(views)
	}

	var locker scheduler.Locker = scheduler.LocalLocker{}
	if redisClient != nil {
		locker = scheduler.NewRedisLocker(redisClient, cfg.SchedulerLockTTL)
	}
	sched := scheduler.New(automations, locker, logger, cfg.SchedulerInterval)

	handler := handlers.New(cfg, logger, handlers.Services{
		Accounts:    accounts,
		Transfers:   transfers,
		Requests:    requests,
		Automations: automations,
		Queries:     queries,
	}, hub)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		dispatcher.Run(ctx)
	}()
	if err := sched.Start(); err != nil {
		logger.Fatal("failed to start scheduler", zap.Error(err))
	}

	go func() {
		logger.Info("ledger API listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Error("scheduler shutdown", zap.Error(err))
	}
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		logger.Warn("outbox dispatcher did not stop in time")
	}
}
