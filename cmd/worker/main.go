package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/feedback-pipeline/backend/internal/classifier"
	"github.com/feedback-pipeline/backend/internal/metrics"
	"github.com/feedback-pipeline/backend/internal/queue"
	"github.com/feedback-pipeline/backend/internal/storage/sqlite"
	"github.com/feedback-pipeline/backend/internal/worker"
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

	appLogger.Info("Starting Feedback Pipeline Worker",
		zap.Int("concurrency", cfg.Worker.Concurrency),
	)

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

	cls := classifier.New(cfg.Classifier)
	appMetrics := metrics.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workerCfg := worker.Config{
		MaxAttempts:     cfg.Queue.MaxAttempts,
		ClassifyTimeout: time.Duration(cfg.Classifier.TimeoutSec) * time.Second,
	}

	var wg sync.WaitGroup

	for i := 0; i < cfg.Worker.Concurrency; i++ {
		consumerCfg := queue.ConsumerConfig{
			Stream:       cfg.Queue.Stream,
			Group:        cfg.Queue.Group,
			Consumer:     fmt.Sprintf("%s-%d", cfg.Queue.Consumer, i+1),
			DLQStream:    cfg.Queue.DLQStream,
			BatchSize:    cfg.Queue.BatchSize,
			Block:        time.Duration(cfg.Queue.BlockSec) * time.Second,
			RequeueDelay: cfg.Queue.RequeueDelay,
		}

		consumer, err := queue.NewRedisConsumer(redisClient, consumerCfg)
		if err != nil {
			appLogger.Fatal("Failed to create consumer", zap.Error(err))
		}

		w := worker.New(consumer, sqliteClient, cls, appMetrics, workerCfg)

		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := w.Run(ctx); err != nil && err != context.Canceled {
				appLogger.Error("Worker exited with error",
					zap.String("consumer", name),
					zap.Error(err),
				)
			}
		}(consumerCfg.Consumer)
	}

	// The reclaimer recovers deliveries abandoned by a crashed worker. It
	// gets its own consumer identity so claimed messages are attributed to
	// it in the group.
	reclaimConsumerCfg := queue.ConsumerConfig{
		Stream:       cfg.Queue.Stream,
		Group:        cfg.Queue.Group,
		Consumer:     fmt.Sprintf("%s-reclaimer", cfg.Queue.Consumer),
		DLQStream:    cfg.Queue.DLQStream,
		BatchSize:    cfg.Queue.BatchSize,
		Block:        time.Duration(cfg.Queue.BlockSec) * time.Second,
		RequeueDelay: cfg.Queue.RequeueDelay,
	}
	reclaimConsumer, err := queue.NewRedisConsumer(redisClient, reclaimConsumerCfg)
	if err != nil {
		appLogger.Fatal("Failed to create reclaim consumer", zap.Error(err))
	}

	reclaimWorker := worker.New(reclaimConsumer, sqliteClient, cls, appMetrics, workerCfg)
	reclaimer := worker.NewReclaimer(redisClient, reclaimWorker, worker.ReclaimerConfig{
		Stream:    cfg.Queue.Stream,
		Group:     cfg.Queue.Group,
		Consumer:  reclaimConsumerCfg.Consumer,
		MinIdle:   cfg.Queue.ReclaimMinIdle,
		Interval:  cfg.Queue.ReclaimInterval,
		BatchSize: cfg.Queue.BatchSize,
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		reclaimer.Run(ctx)
	}()

	app := fiber.New()
	app.Use(recover.New())
	app.Get("/metrics", appMetrics.Handler())
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Worker.MetricsPort)
		appLogger.Info("Worker metrics server starting", zap.String("address", addr))
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Metrics server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Worker shutting down gracefully...")
	cancel()
	wg.Wait()
	app.Shutdown()
	appLogger.Info("Worker stopped")
}
