package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/feedback-pipeline/backend/internal/analytics"
	cache "github.com/feedback-pipeline/backend/internal/cache/redis"
	"github.com/feedback-pipeline/backend/internal/storage/models"
	"github.com/feedback-pipeline/backend/pkg/logger"
	"github.com/feedback-pipeline/backend/pkg/utils"
)

type StatsHandler struct {
	aggregator *analytics.Aggregator
	cache      *cache.Client
}

func NewStatsHandler(aggregator *analytics.Aggregator, c *cache.Client) *StatsHandler {
	return &StatsHandler{
		aggregator: aggregator,
		cache:      c,
	}
}

// GetStats serves the analytics summary. Scope "system" is admin-gated;
// anything else is the caller's own data. Responses are memoized for the
// cache TTL unless forceRefresh is set; mutations invalidate the cache so
// a read after a known write is never stale.
func (h *StatsHandler) GetStats(c *fiber.Ctx) error {
	scope := c.Query("scope", "user")
	userID := c.Query("userId")
	if userID == "" {
		userID = c.Get("X-User-ID")
	}
	forceRefresh := c.QueryBool("forceRefresh", false)

	var aggScope analytics.Scope
	var cacheKey string

	switch scope {
	case "system":
		if c.Get("X-User-Role") != "admin" {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Admin role required for system-wide stats",
			})
		}
		aggScope = analytics.Scope{SystemWide: true}
		cacheKey = "system"
	default:
		if userID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "userId is required",
			})
		}
		aggScope = analytics.Scope{UserID: userID}
		cacheKey = "user:" + utils.HashString(userID)
	}

	if !forceRefresh {
		var cached models.AnalyticsSummary
		hit, err := h.cache.GetStats(c.Context(), cacheKey, &cached)
		if err != nil {
			logger.Warn("Stats cache read failed", zap.Error(err))
		}
		if hit {
			return c.JSON(fiber.Map{"stats": cached, "cached": true})
		}
	}

	summary, err := h.aggregator.Summarize(c.Context(), aggScope)
	if err != nil {
		logger.Error("Failed to compute stats", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to compute stats",
		})
	}

	if err := h.cache.SetStats(c.Context(), cacheKey, summary); err != nil {
		logger.Warn("Stats cache write failed", zap.Error(err))
	}

	return c.JSON(fiber.Map{"stats": summary, "cached": false})
}
