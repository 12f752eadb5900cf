package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/feedback-pipeline/backend/internal/queue"
	"github.com/feedback-pipeline/backend/pkg/logger"
)

// streamClient is the slice of the redis API the reclaimer touches.
// Satisfied by *redis.Client; faked in tests.
type streamClient interface {
	XPendingExt(ctx context.Context, a *redis.XPendingExtArgs) *redis.XPendingExtCmd
	XClaim(ctx context.Context, a *redis.XClaimArgs) *redis.XMessageSliceCmd
}

type ReclaimerConfig struct {
	Stream    string
	Group     string
	Consumer  string
	MinIdle   time.Duration
	Interval  time.Duration
	BatchSize int64
}

// Reclaimer re-delivers messages that were read but never acked, which
// happens when a worker dies between XREADGROUP and XACK. Without it such
// a delivery sits in the group's pending list forever and the job reports
// "processing" indefinitely.
type Reclaimer struct {
	client streamClient
	worker *Worker
	cfg    ReclaimerConfig
}

func NewReclaimer(client streamClient, w *Worker, cfg ReclaimerConfig) *Reclaimer {
	if cfg.MinIdle == 0 {
		cfg.MinIdle = time.Minute
	}
	if cfg.Interval == 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}
	return &Reclaimer{client: client, worker: w, cfg: cfg}
}

// Run reclaims on a fixed interval until the context is cancelled.
func (r *Reclaimer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	logger.Info("Reclaimer started",
		zap.Duration("interval", r.cfg.Interval),
		zap.Duration("min_idle", r.cfg.MinIdle),
		zap.String("stream", r.cfg.Stream),
		zap.String("group", r.cfg.Group),
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.ReclaimOnce(ctx); err != nil {
				logger.Error("Reclaim cycle failed", zap.Error(err))
			}
		}
	}
}

// ReclaimOnce claims every pending entry idle past MinIdle and runs it
// through the normal processing path. Reclaiming from a slow-but-alive
// consumer is harmless: a job that already has a result is just acked.
func (r *Reclaimer) ReclaimOnce(ctx context.Context) error {
	pending, err := r.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: r.cfg.Stream,
		Group:  r.cfg.Group,
		Idle:   r.cfg.MinIdle,
		Start:  "-",
		End:    "+",
		Count:  r.cfg.BatchSize,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to list pending messages: %w", err)
	}

	if len(pending) == 0 {
		return nil
	}

	logger.Warn("Reclaiming stale pending messages", zap.Int("count", len(pending)))

	for _, p := range pending {
		if err := r.reclaimMessage(ctx, p); err != nil {
			logger.Error("Failed to reclaim message",
				zap.Error(err),
				zap.String("message_id", p.ID),
				zap.String("original_consumer", p.Consumer),
				zap.Duration("idle", p.Idle),
			)
		}
	}

	return nil
}

func (r *Reclaimer) reclaimMessage(ctx context.Context, p redis.XPendingExt) error {
	claimed, err := r.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   r.cfg.Stream,
		Group:    r.cfg.Group,
		Consumer: r.cfg.Consumer,
		MinIdle:  r.cfg.MinIdle,
		Messages: []string{p.ID},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to claim message: %w", err)
	}
	if len(claimed) == 0 {
		// Another worker claimed it first.
		return nil
	}

	raw := claimed[0]
	msg, err := queue.ParseMessage(raw)
	if err != nil {
		// Malformed envelope. Ack it so it cannot loop through the
		// pending list forever.
		logger.Error("Failed to parse reclaimed message, acking",
			zap.Error(err),
			zap.String("message_id", raw.ID),
		)
		return r.worker.consumer.Ack(ctx, queue.Message{ID: raw.ID, Raw: raw})
	}

	logger.Info("Reprocessing reclaimed job",
		zap.String("job_id", msg.Job.JobID),
		zap.String("original_consumer", p.Consumer),
		zap.Duration("idle", p.Idle),
	)

	r.worker.Handle(ctx, msg)
	return nil
}
