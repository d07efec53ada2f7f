package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/papidb/cls/internal/analytics"
	"github.com/papidb/cls/internal/config"
	httphandler "github.com/papidb/cls/internal/handler/http"
	"github.com/papidb/cls/internal/ratelimit"
	"github.com/papidb/cls/internal/repository/postgres"
	redisrepo "github.com/papidb/cls/internal/repository/redis"
	"github.com/papidb/cls/internal/service"
	"github.com/papidb/cls/pkg/logger"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", os.Getenv("CLS_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	appLogger := logger.New(cfg.App.LogLevel)
	appLogger.Info("starting cls",
		"environment", cfg.App.Environment,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()
	db, err := postgres.InitDB(
		ctx,
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MinIdleConns,
		cfg.Database.ConnMaxLifetime,
	)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()
	appLogger.Info("database connection established")

	redisClient, err := redisrepo.InitRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer redisClient.Close()
	appLogger.Info("redis connection established")

	// Column registry and codec are process-wide constants; a mismatch
	// between the two is a programming error and fails startup.
	registry := analytics.DefaultRegistry()
	codec, err := analytics.NewCodec(registry)
	if err != nil {
		log.Fatalf("analytics codec setup failed: %v", err)
	}

	analyticsClient := analytics.NewClient(analytics.ClientConfig{
		BaseURL:   cfg.Analytics.BaseURL,
		AccountID: cfg.Analytics.AccountID,
		APIToken:  cfg.Analytics.APIToken,
		IngestURL: cfg.Analytics.IngestURL,
	}, &http.Client{Timeout: 30 * time.Second}, appLogger.Logger)

	linkRepo := postgres.NewLinkRepository(db)
	cache := redisrepo.NewCache(redisClient, cfg.Redis.CacheTTL)

	linkService := service.NewLinkService(linkRepo, cache, appLogger.Logger, cfg.App.SlugLength)
	accessService := service.NewAccessService(analyticsClient, codec, registry, cfg.Analytics.Dataset, appLogger.Logger)

	handler := httphandler.NewHandler(linkService, accessService, appLogger, cfg.Server.BaseURL)

	mux := handler.Routes()
	mux.Handle("GET /metrics", promhttp.Handler())

	middlewares := []func(http.Handler) http.Handler{
		httphandler.RecoveryMiddleware(appLogger),
		httphandler.LoggingMiddleware(appLogger),
		httphandler.RequestIDMiddleware,
		httphandler.MetricsMiddleware,
		httphandler.CORSMiddleware,
	}
	if cfg.App.RateLimitEnabled {
		limiter := ratelimit.New(redisClient, cfg.App.RateLimitRequests, cfg.App.RateLimitWindow)
		middlewares = append(middlewares, httphandler.RateLimitMiddleware(limiter))
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      httphandler.Chain(middlewares...)(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		appLogger.Info("server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}

	appLogger.Info("server exited")
}
