package handlers

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	cache "github.com/feedback-pipeline/backend/internal/cache/redis"
	"github.com/feedback-pipeline/backend/internal/metrics"
	"github.com/feedback-pipeline/backend/internal/presence"
	"github.com/feedback-pipeline/backend/internal/storage/sqlite"
	"github.com/feedback-pipeline/backend/pkg/logger"
)

const maxRatingMessageLength = 1000

type UserHandler struct {
	presence *presence.Service
	store    *sqlite.Client
	metrics  *metrics.Metrics
	cache    *cache.Client
}

func NewUserHandler(p *presence.Service, store *sqlite.Client, m *metrics.Metrics, c *cache.Client) *UserHandler {
	return &UserHandler{
		presence: p,
		store:    store,
		metrics:  m,
		cache:    c,
	}
}

// Heartbeat is idempotent and called at high frequency; it is a single
// point write.
func (h *UserHandler) Heartbeat(c *fiber.Ctx) error {
	var req struct {
		UserID string `json:"userId"`
	}

	if err := c.BodyParser(&req); err != nil || req.UserID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "userId is required",
		})
	}

	if err := h.presence.Heartbeat(req.UserID); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Unknown user",
			})
		}
		logger.Error("Failed to record heartbeat", zap.Error(err), zap.String("user_id", req.UserID))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to record heartbeat",
		})
	}

	return c.JSON(fiber.Map{"success": true})
}

// SubmitRating upserts the platform rating embedded on the user record.
func (h *UserHandler) SubmitRating(c *fiber.Ctx) error {
	var req struct {
		UserID  string `json:"userId"`
		Score   int    `json:"score"`
		Message string `json:"message"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.UserID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "userId is required",
		})
	}
	if req.Score < 1 || req.Score > 5 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "score must be between 1 and 5",
		})
	}
	if len(req.Message) > maxRatingMessageLength {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "message exceeds maximum length",
		})
	}

	if err := h.store.UpsertRating(req.UserID, req.Score, req.Message, time.Now()); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Unknown user",
			})
		}
		logger.Error("Failed to store rating", zap.Error(err), zap.String("user_id", req.UserID))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store rating",
		})
	}

	h.metrics.UserRatingsTotal.Inc()
	h.metrics.UserRatingsByScore.WithLabelValues(strconv.Itoa(req.Score)).Inc()

	if err := h.cache.InvalidateStats(c.Context()); err != nil {
		logger.Warn("Failed to invalidate stats cache", zap.Error(err))
	}

	return c.JSON(fiber.Map{"success": true})
}
