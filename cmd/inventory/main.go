package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/rl1809/bookstore/internal/adapter/handler"
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

	cfg, err := config.Load(".", config.ServiceInventory)
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

	repo, closeRepo := openStockRepository(ctx, cfg, logger)
	defer closeRepo()

	catalog := service.NewCatalogService(repo, logger)

	// gRPC: the order service's debit path
	grpcServer := grpc.NewServer()
	rpc.RegisterInventoryServer(grpcServer, handler.NewGRPCHandler(catalog))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("addr", cfg.GRPCAddr), zap.Error(err))
	}

	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	// HTTP: catalog API behind the gateway
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(handler.RequestLogger(logger))
	router.Use(middleware.Recoverer)
	router.Get("/healthz", handler.HealthCheck)
	router.Mount("/items", handler.NewCatalogHandler(catalog, logger).Routes())

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

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	if err := shutdownOTel(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown", zap.Error(err))
	}
}

// openStockRepository connects the configured stock owner. The returned func
// closes the underlying connection.
func openStockRepository(ctx context.Context, cfg config.Config, logger *zap.Logger) (port.StockRepository, func()) {
	switch cfg.InventoryBackend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect redis", zap.Error(err))
		}
		logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
		return storage.NewRedisAdapter(rdb), func() { _ = rdb.Close() }

	default:
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			logger.Fatal("failed to connect mysql", zap.Error(err))
		}
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("failed to ping mysql", zap.Error(err))
		}
		logger.Info("connected to mysql")

		repo := storage.NewMySQLAdapter(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			logger.Fatal("failed to create items table", zap.Error(err))
		}
		return repo, func() { _ = db.Close() }
	}
}
