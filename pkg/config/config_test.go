package config

import (
	"testing"
	"time"

	"github.com/m-mizutani/gt"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	gt.NoError(t, err).Required()

	gt.Value(t, cfg.Server.Port).Equal(5000)
	gt.Value(t, cfg.Worker.Concurrency).Equal(2)
	gt.Value(t, cfg.Worker.MetricsPort).Equal(3006)

	gt.Value(t, cfg.Queue.Stream).Equal("feedback_jobs")
	gt.Value(t, cfg.Queue.Group).Equal("classifiers")
	gt.Value(t, cfg.Queue.DLQStream).Equal("feedback_jobs_dlq")
	gt.Value(t, cfg.Queue.MaxAttempts).Equal(3)
	gt.Value(t, cfg.Queue.ReclaimMinIdle).Equal(time.Minute)
	gt.Value(t, cfg.Queue.ReclaimInterval).Equal(30 * time.Second)

	gt.Value(t, cfg.Presence.StalenessThreshold).Equal(2 * time.Minute)
	gt.Value(t, cfg.Presence.SweepInterval).Equal(30 * time.Second)
	gt.Value(t, cfg.Metrics.SyncInterval).Equal(15 * time.Second)
	gt.Value(t, cfg.Cache.TTL).Equal(30 * time.Second)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("FEEDBACK_SERVER_PORT", "8080")
	t.Setenv("FEEDBACK_QUEUE_MAXATTEMPTS", "5")

	cfg, err := Load()
	gt.NoError(t, err).Required()

	gt.Value(t, cfg.Server.Port).Equal(8080)
	gt.Value(t, cfg.Queue.MaxAttempts).Equal(5)
}
