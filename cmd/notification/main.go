package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/bookstore/internal/adapter/eventbus"
	"github.com/rl1809/bookstore/internal/adapter/handler"
	"github.com/rl1809/bookstore/internal/adapter/notify"
	"github.com/rl1809/bookstore/internal/adapter/storage"
	"github.com/rl1809/bookstore/internal/config"
	"github.com/rl1809/bookstore/internal/core/service"
	"github.com/rl1809/bookstore/internal/platform/observability"
	"github.com/rl1809/bookstore/internal/port"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".", config.ServiceNotification)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOTel, err := observability.Setup(ctx, cfg.OtelEndpoint, cfg.OtelAuthHeader, cfg.AppName)
	if err != nil {
		log.Fatalf("failed to set up telemetry: %v", err)
	}
	logger, err := observability.NewLogger(cfg.LogLevel, cfg.AppName, cfg.OtelEndpoint != "")
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	if len(cfg.KafkaBrokers) == 0 {
		logger.Fatal("KAFKA_BROKERS is required; without it the order service consumes in-process")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 20,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect redis", zap.Error(err))
	}
	defer rdb.Close()
	logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))

	notifier, closeNotifier := openNotifier(cfg, logger)
	defer closeNotifier()

	notifications := service.NewNotificationService(storage.NewRedisDedupStore(rdb), notifier, logger,
		service.WithClaimLease(cfg.ClaimLease),
	)

	dlq := eventbus.NewKafkaPublisher(cfg.KafkaBrokers, logger)
	defer dlq.Close()

	subscriber := eventbus.NewKafkaSubscriber(cfg.KafkaBrokers,
		eventbus.WithDeadLetter(dlq, cfg.OrderEventsDLQTopic),
		eventbus.WithMaxRetries(cfg.ConsumerMaxRetries),
		eventbus.WithBackoff(cfg.ConsumerBackoff),
		eventbus.WithSubscriberLogger(logger),
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := subscriber.Subscribe(ctx, cfg.OrderEventsTopic, cfg.ConsumerGroup, notifications.HandleMessage); err != nil {
			logger.Error("consumer stopped with error", zap.Error(err))
			cancel()
		}
	}()

	router := chi.NewRouter()
	router.Get("/healthz", handler.HealthCheck)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info("shutting down...")

	cancel()
	wg.Wait()
	logger.Info("consumer stopped")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", zap.Error(err))
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown", zap.Error(err))
	}
}

func openNotifier(cfg config.Config, logger *zap.Logger) (port.Notifier, func()) {
	if cfg.NotifyBackend != "rabbitmq" {
		return notify.NewLogNotifier(logger), func() {}
	}
	n, err := notify.NewAMQPNotifier(cfg.RabbitMQURL, cfg.NotifyExchange, logger)
	if err != nil {
		logger.Fatal("failed to connect rabbitmq", zap.Error(err))
	}
	logger.Info("delivering notifications via rabbitmq", zap.String("exchange", cfg.NotifyExchange))
	return n, func() { _ = n.Close() }
}
