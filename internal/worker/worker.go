package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/feedback-pipeline/backend/internal/classifier"
	"github.com/feedback-pipeline/backend/internal/metrics"
	"github.com/feedback-pipeline/backend/internal/queue"
	"github.com/feedback-pipeline/backend/internal/storage/models"
	"github.com/feedback-pipeline/backend/internal/storage/sqlite"
	"github.com/feedback-pipeline/backend/pkg/logger"
)

// Consumer is the slice of the queue the worker needs. Satisfied by
// queue.RedisConsumer; faked in tests.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

type Config struct {
	MaxAttempts     int
	ClassifyTimeout time.Duration
}

// Worker drains the job queue: classify, upsert by job id, ack. Processing
// is idempotent under redelivery and one bad job never stops the loop.
type Worker struct {
	consumer   Consumer
	store      *sqlite.Client
	classifier classifier.Classifier
	metrics    *metrics.Metrics
	cfg        Config
}

func New(consumer Consumer, store *sqlite.Client, cls classifier.Classifier, m *metrics.Metrics, cfg Config) *Worker {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.ClassifyTimeout == 0 {
		cfg.ClassifyTimeout = 30 * time.Second
	}
	return &Worker{
		consumer:   consumer,
		store:      store,
		classifier: cls,
		metrics:    m,
		cfg:        cfg,
	}
}

// Run drains the queue until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	logger.Info("Worker started", zap.Int("max_attempts", w.cfg.MaxAttempts))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := w.processOneBatch(ctx); err != nil {
				logger.Error("Batch processing error", zap.Error(err))
				time.Sleep(time.Second)
			}
		}
	}
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read from queue: %w", err)
	}

	for _, msg := range messages {
		w.Handle(ctx, msg)
	}

	return nil
}

// Handle runs one delivery through classification and the failure policy.
// Both fresh reads and reclaimed deliveries go through here.
func (w *Worker) Handle(ctx context.Context, msg queue.Message) {
	if err := w.processMessageSafe(ctx, msg); err != nil {
		logger.Error("Job processing failed",
			zap.Error(err),
			zap.String("job_id", msg.Job.JobID),
			zap.Int("attempt", msg.Job.Attempt),
		)
		w.handleFailedMessage(ctx, msg, err)
	}
}

func (w *Worker) processMessageSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic recovered in job processing",
				zap.Any("panic", r),
				zap.String("job_id", msg.Job.JobID),
			)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.ProcessMessage(ctx, msg)
}

// ProcessMessage handles one delivery. At-least-once semantics mean the
// same job id can arrive more than once; the already-has-a-result check
// makes the upsert and the counter increment happen exactly once per job.
func (w *Worker) ProcessMessage(ctx context.Context, msg queue.Message) error {
	job := msg.Job

	exists, err := w.store.HasResult(job.JobID)
	if err != nil {
		return fmt.Errorf("failed to check existing result: %w", err)
	}
	if exists {
		logger.Debug("Job already has a result, acking redelivery",
			zap.String("job_id", job.JobID),
		)
		return w.consumer.Ack(ctx, msg)
	}

	if err := w.store.SetJobStatus(job.JobID, models.JobStatusProcessing); err != nil {
		logger.Warn("Failed to mark job processing", zap.Error(err), zap.String("job_id", job.JobID))
	}

	cctx, cancel := context.WithTimeout(ctx, w.cfg.ClassifyTimeout)
	classification, err := w.classifier.Classify(cctx, job.Text)
	cancel()
	if err != nil {
		return fmt.Errorf("classification failed: %w", err)
	}

	result := resultFromClassification(&job, classification, time.Now())
	if err := w.store.UpsertResult(result); err != nil {
		return fmt.Errorf("failed to store result: %w", err)
	}

	w.metrics.FeedbackBySentiment.WithLabelValues(string(result.Sentiment)).Inc()

	if err := w.store.SetJobStatus(job.JobID, models.JobStatusCompleted); err != nil {
		logger.Warn("Failed to mark job completed", zap.Error(err), zap.String("job_id", job.JobID))
	}

	if err := w.consumer.Ack(ctx, msg); err != nil {
		// The redelivery will be caught by the has-result check, so this
		// is safe to log and move on.
		logger.Warn("Failed to ack message", zap.Error(err), zap.String("job_id", job.JobID))
	}

	logger.Info("Job classified",
		zap.String("job_id", job.JobID),
		zap.String("sentiment", string(result.Sentiment)),
		zap.Float64("confidence", result.Confidence),
		zap.Bool("ai_processed", result.AIProcessed),
	)
	return nil
}

// handleFailedMessage requeues transient failures with a bumped attempt
// counter, and after the attempt budget writes a terminal failed result so
// the job never shows "processing" forever.
func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, procErr error) {
	if msg.Job.Attempt < w.cfg.MaxAttempts {
		if err := w.consumer.Requeue(ctx, msg, procErr.Error()); err != nil {
			logger.Error("Failed to requeue job", zap.Error(err), zap.String("job_id", msg.Job.JobID))
		}
		return
	}

	logger.Error("Max attempts reached, recording terminal failure",
		zap.String("job_id", msg.Job.JobID),
		zap.Int("attempts", msg.Job.Attempt),
	)

	if err := w.recordTerminalFailure(&msg.Job); err != nil {
		logger.Error("Failed to record terminal result", zap.Error(err), zap.String("job_id", msg.Job.JobID))
	}

	if err := w.consumer.SendDLQ(ctx, msg, procErr.Error()); err != nil {
		logger.Error("Failed to send job to DLQ", zap.Error(err), zap.String("job_id", msg.Job.JobID))
	}
}

func (w *Worker) recordTerminalFailure(job *models.FeedbackJob) error {
	exists, err := w.store.HasResult(job.JobID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	result := &models.FeedbackResult{
		JobID:       job.JobID,
		UserID:      job.UserID,
		Text:        job.Text,
		Sentiment:   models.SentimentUnknown,
		Confidence:  0,
		AIProcessed: false,
		SubmittedAt: job.SubmittedAt,
		ProcessedAt: clampProcessedAt(job.SubmittedAt, time.Now()),
		Metadata:    job.Metadata,
	}
	if err := w.store.UpsertResult(result); err != nil {
		return err
	}

	w.metrics.FeedbackBySentiment.WithLabelValues(string(models.SentimentUnknown)).Inc()

	return w.store.SetJobStatus(job.JobID, models.JobStatusFailed)
}

func resultFromClassification(job *models.FeedbackJob, c *classifier.Classification, now time.Time) *models.FeedbackResult {
	return &models.FeedbackResult{
		JobID:       job.JobID,
		UserID:      job.UserID,
		Text:        job.Text,
		Sentiment:   c.Sentiment,
		Confidence:  c.Confidence,
		Scores:      c.Scores,
		Intents:     c.Intents,
		AIProcessed: c.AIProcessed,
		SubmittedAt: job.SubmittedAt,
		ProcessedAt: clampProcessedAt(job.SubmittedAt, now),
		Metadata:    job.Metadata,
	}
}

// processed-at may never precede submitted-at, even across clock skew.
func clampProcessedAt(submittedAt, processedAt time.Time) time.Time {
	if processedAt.Before(submittedAt) {
		return submittedAt
	}
	return processedAt
}
