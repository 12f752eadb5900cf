package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/feedback-pipeline/backend/internal/storage/models"
	"github.com/feedback-pipeline/backend/pkg/logger"
	"github.com/feedback-pipeline/backend/pkg/retry"
)

// Producer enqueues feedback jobs for asynchronous classification. Enqueue
// failures after retries are surfaced to the caller; a job is never
// silently dropped.
type Producer interface {
	Enqueue(ctx context.Context, job *models.FeedbackJob) error
	Close() error
}

type redisProducer struct {
	client      *redis.Client
	stream      string
	retryConfig retry.Config
}

func NewRedisProducer(client *redis.Client, stream string) Producer {
	return &redisProducer{
		client: client,
		stream: stream,
		retryConfig: retry.Config{
			MaxAttempts:  3,
			InitialDelay: 50 * time.Millisecond,
		},
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, job *models.FeedbackJob) error {
	values, err := jobValues(job)
	if err != nil {
		return err
	}

	err = retry.Do(ctx, p.retryConfig, func() error {
		return p.client.XAdd(ctx, &redis.XAddArgs{
			Stream: p.stream,
			Values: values,
		}).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	logger.Info("Job enqueued",
		zap.String("job_id", job.JobID),
		zap.String("user_id", job.UserID),
		zap.String("stream", p.stream),
	)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
