package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/bookstore/internal/adapter/handler"
	"github.com/rl1809/bookstore/internal/adapter/storage"
	"github.com/rl1809/bookstore/internal/auth"
	"github.com/rl1809/bookstore/internal/config"
	"github.com/rl1809/bookstore/internal/core/service"
	"github.com/rl1809/bookstore/internal/platform/observability"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".", config.ServiceGateway)
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

	codec, err := auth.NewTokenCodec([]byte(cfg.JWTSecret), cfg.JWTTTL)
	if err != nil {
		logger.Fatal("invalid JWT configuration", zap.Error(err))
	}
	creds, err := storage.NewStaticCredentialStore(cfg.AuthUsers)
	if err != nil {
		logger.Fatal("invalid AUTH_USERS", zap.Error(err))
	}

	orderURL, err := url.Parse(cfg.OrderServiceURL)
	if err != nil {
		logger.Fatal("invalid ORDER_SERVICE_URL", zap.Error(err))
	}
	inventoryURL, err := url.Parse(cfg.InventoryServiceURL)
	if err != nil {
		logger.Fatal("invalid INVENTORY_SERVICE_URL", zap.Error(err))
	}

	edge := auth.NewEdgeAuthenticator(codec, cfg.PublicPaths, logger)
	login := handler.NewAuthHandler(service.NewAuthService(creds, codec, logger), logger)
	router := handler.NewGatewayRouter(handler.GatewayConfig{
		Routes: []handler.Route{
			{Prefix: "/api/orders", Upstream: orderURL, Rewrite: "/orders"},
			{Prefix: "/api/books", Upstream: inventoryURL, Rewrite: "/items"},
		},
		UpstreamTimeout: cfg.UpstreamTimeout,
		RateLimit:       cfg.RateLimitRPS,
		RateBurst:       cfg.RateLimitBurst,
	}, edge, login, logger)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("gateway listening", zap.String("addr", cfg.HTTPAddr))
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
	if err := shutdownOTel(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown", zap.Error(err))
	}
	logger.Info("gateway stopped")
}
