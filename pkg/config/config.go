package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Worker     WorkerConfig
	SQLite     SQLiteConfig
	Redis      RedisConfig
	Queue      QueueConfig
	Classifier ClassifierConfig
	Presence   PresenceConfig
	Metrics    MetricsConfig
	Cache      CacheConfig
	RateLimit  RateLimitConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type WorkerConfig struct {
	Concurrency int
	MetricsPort int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type QueueConfig struct {
	Stream          string
	Group           string
	Consumer        string
	DLQStream       string
	BatchSize       int64
	BlockSec        int
	MaxAttempts     int
	RequeueDelay    time.Duration
	ReclaimMinIdle  time.Duration
	ReclaimInterval time.Duration
}

type ClassifierConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
}

type PresenceConfig struct {
	StalenessThreshold time.Duration
	SweepInterval      time.Duration
}

type MetricsConfig struct {
	SyncInterval time.Duration
}

type CacheConfig struct {
	TTL time.Duration
}

type RateLimitConfig struct {
	MaxRequestsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/feedback-pipeline")

	viper.SetEnvPrefix("FEEDBACK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 5000)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 1048576)

	viper.SetDefault("worker.concurrency", 2)
	viper.SetDefault("worker.metricsPort", 3006)

	viper.SetDefault("sqlite.path", "./data/feedback.db")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("queue.stream", "feedback_jobs")
	viper.SetDefault("queue.group", "classifiers")
	viper.SetDefault("queue.consumer", "worker-1")
	viper.SetDefault("queue.dlqStream", "feedback_jobs_dlq")
	viper.SetDefault("queue.batchSize", 1)
	viper.SetDefault("queue.blockSec", 5)
	viper.SetDefault("queue.maxAttempts", 3)
	viper.SetDefault("queue.requeueDelay", time.Second)
	viper.SetDefault("queue.reclaimMinIdle", time.Minute)
	viper.SetDefault("queue.reclaimInterval", 30*time.Second)

	viper.SetDefault("classifier.model", "gpt-4o-mini")
	viper.SetDefault("classifier.temperature", 0.0)
	viper.SetDefault("classifier.maxTokens", 512)
	viper.SetDefault("classifier.timeoutSec", 30)

	viper.SetDefault("presence.stalenessThreshold", 2*time.Minute)
	viper.SetDefault("presence.sweepInterval", 30*time.Second)

	viper.SetDefault("metrics.syncInterval", 15*time.Second)

	viper.SetDefault("cache.ttl", 30*time.Second)

	viper.SetDefault("ratelimit.maxRequestsPerMinute", 120)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
