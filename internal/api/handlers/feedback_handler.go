package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	cache "github.com/feedback-pipeline/backend/internal/cache/redis"
	"github.com/feedback-pipeline/backend/internal/metrics"
	"github.com/feedback-pipeline/backend/internal/queue"
	"github.com/feedback-pipeline/backend/internal/storage/models"
	"github.com/feedback-pipeline/backend/internal/storage/sqlite"
	"github.com/feedback-pipeline/backend/pkg/logger"
)

const maxFeedbackLength = 5000

type FeedbackHandler struct {
	producer queue.Producer
	store    *sqlite.Client
	metrics  *metrics.Metrics
	cache    *cache.Client
}

func NewFeedbackHandler(producer queue.Producer, store *sqlite.Client, m *metrics.Metrics, c *cache.Client) *FeedbackHandler {
	return &FeedbackHandler{
		producer: producer,
		store:    store,
		metrics:  m,
		cache:    c,
	}
}

// SubmitFeedback accepts a submission and enqueues it for asynchronous
// classification. It never classifies inline; the 202 carries the job id
// for later polling.
func (h *FeedbackHandler) SubmitFeedback(c *fiber.Ctx) error {
	var req struct {
		UserID   string            `json:"userId"`
		Text     string            `json:"text"`
		Metadata map[string]string `json:"metadata"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.UserID == "" || req.Text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "userId and text are required",
		})
	}
	if len(req.Text) > maxFeedbackLength {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Feedback text exceeds maximum length",
		})
	}

	job := &models.FeedbackJob{
		JobID:       uuid.NewString(),
		UserID:      req.UserID,
		Text:        req.Text,
		Metadata:    req.Metadata,
		SubmittedAt: time.Now(),
		Attempt:     1,
	}

	if err := h.store.InsertJob(job); err != nil {
		logger.Error("Failed to record job", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to record submission",
		})
	}

	if err := h.producer.Enqueue(c.Context(), job); err != nil {
		// Broker unavailable is a retryable condition for the caller, never
		// a silent drop.
		logger.Error("Failed to enqueue job", zap.Error(err), zap.String("job_id", job.JobID))
		_ = h.store.DeleteJob(job.JobID)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error":     "Feedback queue is temporarily unavailable, please retry",
			"retryable": true,
		})
	}

	h.metrics.FeedbackSubmitted.Inc()

	if err := h.cache.InvalidateStats(c.Context()); err != nil {
		logger.Warn("Failed to invalidate stats cache", zap.Error(err))
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"jobId":  job.JobID,
		"status": string(models.JobStatusQueued),
	})
}

// GetResult is the polling read: queued | processing | completed | failed.
func (h *FeedbackHandler) GetResult(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "jobId is required",
		})
	}

	result, err := h.store.GetResult(jobID)
	if err == nil {
		status := models.JobStatusCompleted
		if result.Sentiment == models.SentimentUnknown && !result.AIProcessed {
			status = models.JobStatusFailed
		}
		return c.JSON(fiber.Map{
			"status": string(status),
			"result": result,
		})
	}
	if !errors.Is(err, sqlite.ErrNotFound) {
		logger.Error("Failed to load result", zap.Error(err), zap.String("job_id", jobID))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load result",
		})
	}

	status, err := h.store.GetJobStatus(jobID)
	if errors.Is(err, sqlite.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Unknown job id",
		})
	}
	if err != nil {
		logger.Error("Failed to load job status", zap.Error(err), zap.String("job_id", jobID))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load job status",
		})
	}

	return c.JSON(fiber.Map{
		"status": string(status),
	})
}
