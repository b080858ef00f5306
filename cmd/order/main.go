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
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/bookstore/internal/adapter/eventbus"
	"github.com/rl1809/bookstore/internal/adapter/handler"
	"github.com/rl1809/bookstore/internal/adapter/notify"
	"github.com/rl1809/bookstore/internal/adapter/rpc"
	"github.com/rl1809/bookstore/internal/adapter/storage"
	"github.com/rl1809/bookstore/internal/config"
	"github.com/rl1809/bookstore/internal/core/service"
	"github.com/rl1809/bookstore/internal/platform/observability"
	"github.com/rl1809/bookstore/internal/port"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".", config.ServiceOrder)
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

	// Order ledger and outbox
	db, err := sqlx.Connect(cfg.LedgerDriver, cfg.LedgerDSN)
	if err != nil {
		logger.Fatal("failed to connect ledger", zap.String("driver", cfg.LedgerDriver), zap.Error(err))
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	defer db.Close()

	ledger := storage.NewSQLLedger(db)
	if err := ledger.EnsureSchema(ctx); err != nil {
		logger.Fatal("failed to create ledger tables", zap.Error(err))
	}
	logger.Info("connected to ledger", zap.String("driver", cfg.LedgerDriver))

	// Inventory owner
	conn, err := rpc.Dial(cfg.InventoryGRPCTarget)
	if err != nil {
		logger.Fatal("failed to create inventory client", zap.Error(err))
	}
	defer conn.Close()

	var wg sync.WaitGroup

	// Event log: Kafka when brokers are configured, otherwise a local
	// in-memory log with the notification consumer running in-process.
	var primary port.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPub := eventbus.NewKafkaPublisher(cfg.KafkaBrokers, logger)
		defer kafkaPub.Close()
		primary = kafkaPub
		logger.Info("publishing to kafka", zap.Strings("brokers", cfg.KafkaBrokers))
	} else {
		memLog := eventbus.NewMemoryLog(eventbus.WithMemoryLogger(logger))
		primary = memLog
		startLocalConsumer(ctx, &wg, memLog, cfg, logger)
		logger.Warn("KAFKA_BROKERS not set, using in-memory event log")
	}

	publisher := eventbus.NewReliablePublisher(primary, ledger, logger)
	relay := eventbus.NewOutboxRelay(ledger, primary, cfg.OutboxBatch, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		relay.Run(ctx, cfg.OutboxInterval)
	}()

	orders := service.NewOrderService(
		rpc.NewInventoryClient(conn),
		ledger,
		publisher,
		service.WithOrderLogger(logger),
		service.WithEventTopic(cfg.OrderEventsTopic),
		service.WithCallTimeout(cfg.UpstreamTimeout),
	)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(handler.RequestLogger(logger))
	router.Use(middleware.Recoverer)
	router.Get("/healthz", handler.HealthCheck)
	router.Mount("/orders", handler.NewOrderHandler(orders, logger).Routes())

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
	<-quit

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	// Stop relay and local consumers
	cancel()
	wg.Wait()
	logger.Info("background workers stopped")

	if err := shutdownOTel(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown", zap.Error(err))
	}
}

// startLocalConsumer attaches the notification group to the in-memory log so
// a single-process run still delivers confirmations. It needs Redis for the
// dedup claims and is skipped when Redis is unreachable.
func startLocalConsumer(ctx context.Context, wg *sync.WaitGroup, memLog *eventbus.MemoryLog, cfg config.Config, logger *zap.Logger) {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, local notification consumer disabled", zap.Error(err))
		_ = rdb.Close()
		return
	}

	notifications := service.NewNotificationService(
		storage.NewRedisDedupStore(rdb),
		notify.NewLogNotifier(logger),
		logger,
		service.WithClaimLease(cfg.ClaimLease),
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer rdb.Close()
		if err := memLog.Subscribe(ctx, cfg.OrderEventsTopic, cfg.ConsumerGroup, notifications.HandleMessage); err != nil {
			logger.Error("local notification consumer", zap.Error(err))
		}
	}()
}
