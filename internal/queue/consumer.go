package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/feedback-pipeline/backend/internal/storage/models"
	"github.com/feedback-pipeline/backend/pkg/logger"
)

type ConsumerConfig struct {
	Stream       string
	Group        string
	Consumer     string
	DLQStream    string
	BatchSize    int64
	Block        time.Duration
	RequeueDelay time.Duration
}

// Message is one delivery of a feedback job. The attempt counter rides in
// the envelope so redeliveries carry their own retry state.
type Message struct {
	ID  string
	Job models.FeedbackJob
	Raw redis.XMessage
}

type RedisConsumer struct {
	client *redis.Client
	cfg    ConsumerConfig
}

func NewRedisConsumer(client *redis.Client, cfg ConsumerConfig) (*RedisConsumer, error) {
	consumer := &RedisConsumer{
		client: client,
		cfg:    cfg,
	}

	if err := consumer.ensureGroup(context.Background()); err != nil {
		return nil, err
	}

	return consumer, nil
}

func (c *RedisConsumer) ensureGroup(ctx context.Context) error {
	// Starting the group from "0" instead of "$" means jobs enqueued while
	// no worker was live are still delivered when one starts.
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

func (c *RedisConsumer) Read(ctx context.Context) ([]Message, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    c.cfg.BatchSize,
		Block:    c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Message{}, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	var messages []Message
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			parsed, parseErr := ParseMessage(msg)
			if parseErr != nil {
				// Malformed envelope. Ack it so it does not wedge the group.
				logger.Error("Failed to parse queue message",
					zap.Error(parseErr),
					zap.String("message_id", msg.ID),
					zap.String("stream", c.cfg.Stream),
				)
				_ = c.Ack(ctx, Message{ID: msg.ID, Raw: msg})
				continue
			}
			messages = append(messages, parsed)
		}
	}

	return messages, nil
}

func (c *RedisConsumer) Ack(ctx context.Context, msg Message) error {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}

// Requeue acks the delivery and re-adds the job with an incremented attempt
// counter, after the configured delay.
func (c *RedisConsumer) Requeue(ctx context.Context, msg Message, errMsg string) error {
	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("failed to ack message for requeue: %w", err)
	}

	job := msg.Job
	job.Attempt++

	values, err := jobValues(&job)
	if err != nil {
		return err
	}
	if errMsg != "" {
		values["last_error"] = errMsg
	}

	if c.cfg.RequeueDelay > 0 {
		time.Sleep(c.cfg.RequeueDelay)
	}

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.Stream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("failed to requeue message: %w", err)
	}

	logger.Warn("Job requeued for retry",
		zap.String("job_id", job.JobID),
		zap.Int("next_attempt", job.Attempt),
		zap.String("reason", errMsg),
	)
	return nil
}

func (c *RedisConsumer) SendDLQ(ctx context.Context, msg Message, errMsg string) error {
	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("failed to ack message for dlq: %w", err)
	}

	values, err := jobValues(&msg.Job)
	if err != nil {
		return err
	}
	values["error"] = errMsg

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.DLQStream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("failed to send message to dlq: %w", err)
	}

	logger.Error("Job sent to DLQ",
		zap.String("job_id", msg.Job.JobID),
		zap.String("final_error", errMsg),
		zap.String("dlq_stream", c.cfg.DLQStream),
	)
	return nil
}

func ParseMessage(msg redis.XMessage) (Message, error) {
	jobID, err := requireString(msg.Values, "job_id")
	if err != nil {
		return Message{}, err
	}
	userID, err := requireString(msg.Values, "user_id")
	if err != nil {
		return Message{}, err
	}
	text, err := requireString(msg.Values, "text")
	if err != nil {
		return Message{}, err
	}

	submittedAt, err := parseInt64(msg.Values, "submitted_at")
	if err != nil {
		return Message{}, err
	}

	attempt := parseIntOr(msg.Values, "attempt", 1)
	if attempt <= 0 {
		attempt = 1
	}

	var metadata map[string]string
	if raw, ok := msg.Values["metadata"]; ok {
		if s := fmt.Sprint(raw); s != "" {
			if err := json.Unmarshal([]byte(s), &metadata); err != nil {
				return Message{}, fmt.Errorf("failed to parse metadata: %w", err)
			}
		}
	}

	return Message{
		ID: msg.ID,
		Job: models.FeedbackJob{
			JobID:       jobID,
			UserID:      userID,
			Text:        text,
			Metadata:    metadata,
			SubmittedAt: time.Unix(submittedAt, 0),
			Attempt:     attempt,
		},
		Raw: msg,
	}, nil
}

func jobValues(job *models.FeedbackJob) (map[string]interface{}, error) {
	attempt := job.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	values := map[string]interface{}{
		"job_id":       job.JobID,
		"user_id":      job.UserID,
		"text":         job.Text,
		"submitted_at": job.SubmittedAt.Unix(),
		"attempt":      attempt,
	}

	if len(job.Metadata) > 0 {
		metadataJSON, err := json.Marshal(job.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal job metadata: %w", err)
		}
		values["metadata"] = string(metadataJSON)
	}

	return values, nil
}

func requireString(values map[string]interface{}, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	s := fmt.Sprint(raw)
	if s == "" {
		return "", fmt.Errorf("empty %s", key)
	}
	return s, nil
}

func parseInt64(values map[string]interface{}, key string) (int64, error) {
	raw, ok := values[key]
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	num, err := strconv.ParseInt(fmt.Sprint(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return num, nil
}

func parseIntOr(values map[string]interface{}, key string, fallback int) int {
	raw, ok := values[key]
	if !ok {
		return fallback
	}
	num, err := strconv.Atoi(fmt.Sprint(raw))
	if err != nil {
		return fallback
	}
	return num
}
