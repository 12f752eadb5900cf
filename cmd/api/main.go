package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/feedback-pipeline/backend/internal/analytics"
	"github.com/feedback-pipeline/backend/internal/api/handlers"
	cache "github.com/feedback-pipeline/backend/internal/cache/redis"
	"github.com/feedback-pipeline/backend/internal/metrics"
	"github.com/feedback-pipeline/backend/internal/middleware/ratelimit"
	"github.com/feedback-pipeline/backend/internal/middleware/security"
	"github.com/feedback-pipeline/backend/internal/middleware/validation"
	"github.com/feedback-pipeline/backend/internal/presence"
	"github.com/feedback-pipeline/backend/internal/queue"
	"github.com/feedback-pipeline/backend/internal/storage/sqlite"
	"github.com/feedback-pipeline/backend/pkg/config"
	appLogger "github.com/feedback-pipeline/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Feedback Pipeline API Server")

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		appLogger.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	producer := queue.NewRedisProducer(redisClient, cfg.Queue.Stream)
	defer producer.Close()

	statsCache := cache.NewClient(redisClient, cfg.Cache.TTL)
	appMetrics := metrics.New()

	presenceService := presence.NewService(sqliteClient, cfg.Presence.StalenessThreshold, cfg.Presence.SweepInterval)
	aggregator := analytics.NewAggregator(sqliteClient, presenceService)
	synchronizer := metrics.NewSynchronizer(sqliteClient, appMetrics, presenceService)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go presenceService.Run(ctx)
	go synchronizer.Run(ctx, cfg.Metrics.SyncInterval)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	rateLimiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.MaxRequestsPerMinute,
	})
	defer rateLimiter.Stop()

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID, X-User-Role",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))
	app.Use(appMetrics.Middleware())
	app.Use(rateLimiter.Middleware())
	app.Use(validation.Middleware(validation.Config{}))

	feedbackHandler := handlers.NewFeedbackHandler(producer, sqliteClient, appMetrics, statsCache)
	statsHandler := handlers.NewStatsHandler(aggregator, statsCache)
	userHandler := handlers.NewUserHandler(presenceService, sqliteClient, appMetrics, statsCache)

	api := app.Group("/api/v1")

	api.Post("/feedback", feedbackHandler.SubmitFeedback)
	api.Get("/feedback/:jobId", feedbackHandler.GetResult)

	api.Get("/stats", statsHandler.GetStats)

	api.Post("/heartbeat", userHandler.Heartbeat)
	api.Post("/rating", userHandler.SubmitRating)

	// Gauges lag by the sync interval; refresh them on scrape so the
	// exposed values reflect current store state.
	app.Get("/metrics", func(c *fiber.Ctx) error {
		if err := synchronizer.Sync(c.Context()); err != nil {
			appLogger.Warn("Metrics sync failed on scrape", zap.Error(err))
		}
		return appMetrics.Handler()(c)
	})

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		if err := redisClient.Ping(c.Context()).Err(); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "not ready",
			})
		}
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	cancel()
	app.Shutdown()
	appLogger.Info("Server stopped")
}
