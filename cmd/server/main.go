/**
 * @description
 * Entry point for the library service. It loads configuration, connects storage,
 * the event broker and the optional Redis rate limiter, wires the services into the
 * HTTP router and the credit-expiry scheduler, and shuts everything down on signal.
 */
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/btaap/library-service/internal/api"
	"github.com/btaap/library-service/internal/app"
	"github.com/btaap/library-service/internal/blob"
	"github.com/btaap/library-service/internal/config"
	"github.com/btaap/library-service/internal/fileserve"
	"github.com/btaap/library-service/internal/ledger"
	"github.com/btaap/library-service/internal/metrics"
	"github.com/btaap/library-service/internal/store"
	libraryrabbit "github.com/btaap/library-service/pkg/rabbitmq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	var repository store.Repository
	if cfg.UsesPostgres() {
		dbpool, err := store.OpenPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("database unavailable", "error", err)
			os.Exit(1)
		}
		defer dbpool.Close()
		logger.Info("database connection established")
		repository = store.NewPostgresRepository(dbpool)
	} else {
		logger.Warn("DATABASE_URL not set; using in-memory storage")
		repository = store.NewMemoryRepository()
	}

	blobs, err := blob.NewOSStore(cfg.UploadDir)
	if err != nil {
		logger.Error("unable to prepare upload directory", "error", err, "dir", cfg.UploadDir)
		os.Exit(1)
	}

	publisher := libraryrabbit.NewPublisher(cfg.RabbitMQURL, logger)
	defer publisher.Close()

	var limiter app.RateLimiter
	if redisClient := connectRedis(cfg, logger); redisClient != nil {
		defer redisClient.Close()
		limiter = app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
	}

	creditLedger := ledger.New(repository, logger, m)
	documents := app.NewDocumentService(repository, blobs, logger, cfg.MaxUploadBytes, cfg.CoverWidthPx)
	downloads := app.NewDownloadService(repository, creditLedger, publisher, cfg.EventsExchange, logger, cfg.DownloadCostCredits)
	payments := app.NewPaymentService(repository, creditLedger, publisher, cfg.EventsExchange, logger, m)
	payments.SetPlanExtensionMonths(cfg.PlanExtensionMonths)

	handlers := api.NewLibraryHandlers(documents, downloads, payments, creditLedger, fileserve.NewServer(blobs, logger, m), logger)
	router := api.LibraryRoutes(handlers, api.RouterConfig{
		Auth:                        api.AuthConfig{Secret: cfg.JWTSecret, Provisioner: repository, Logger: logger},
		AllowedOrigins:              cfg.AllowedOrigins(),
		Limiter:                     limiter,
		DownloadLimitPerMinute:      cfg.DownloadRateLimitPerMinute,
		PaymentSubmitLimitPerMinute: cfg.PaymentSubmitRateLimitPerMinute,
		Metrics:                     m,
		Gatherer:                    registry,
		Logger:                      logger,
	})

	jobs := app.NewJobs(repository, publisher, cfg.EventsExchange, logger, m)
	scheduler := app.NewScheduler(jobs, logger, cfg.ExpirySweepSchedule)
	if err := scheduler.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.ServerPort, "download_cost", downloads.Cost())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	logger.Info("shutdown signal received, gracefully shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	<-scheduler.Stop().Done()

	logger.Info("server stopped")
}

// connectRedis returns a live client, or nil when rate limiting is off or Redis is unreachable.
func connectRedis(cfg config.Config, logger *slog.Logger) *redis.Client {
	if cfg.DownloadRateLimitPerMinute <= 0 && cfg.PaymentSubmitRateLimitPerMinute <= 0 {
		return nil
	}
	if strings.TrimSpace(cfg.RedisURL) == "" {
		logger.Warn("redis url missing; rate limiting disabled", "env", "REDIS_URL")
		return nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("redis url parse failed; rate limiting disabled", "error", err)
		return nil
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; rate limiting disabled", "error", err)
		client.Close()
		return nil
	}
	logger.Info("redis connected")
	return client
}
