package validation

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/feedback-pipeline/backend/pkg/logger"
)

var xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

type Config struct {
	MaxFeedbackLength   int
	MaxRatingMessage    int
	AllowedContentTypes []string
}

// Middleware rejects malformed payloads before they reach the handlers.
// Handlers still validate; this layer exists to shed obviously bad
// requests cheaply and to log injection attempts.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxFeedbackLength == 0 {
		cfg.MaxFeedbackLength = 5000
	}
	if cfg.MaxRatingMessage == 0 {
		cfg.MaxRatingMessage = 1000
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == "POST" || c.Method() == "PUT" {
			contentType := c.Get("Content-Type")
			if contentType != "" {
				allowed := false
				for _, allowedType := range cfg.AllowedContentTypes {
					if strings.Contains(contentType, allowedType) {
						allowed = true
						break
					}
				}
				if !allowed {
					return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
						"error": "Unsupported content type",
					})
				}
			}
		}

		path := c.Path()

		if c.Method() == "POST" && strings.HasSuffix(path, "/feedback") {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			text, ok := req["text"].(string)
			if !ok || strings.TrimSpace(text) == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "text is required and must be a string",
				})
			}

			if len(text) > cfg.MaxFeedbackLength {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "text exceeds maximum length",
				})
			}

			if containsXSS(text) {
				logger.Warn("Potential XSS attempt",
					zap.String("ip", c.IP()),
					zap.String("path", path),
				)
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid feedback content",
				})
			}
		}

		if c.Method() == "POST" && strings.HasSuffix(path, "/rating") {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			score, ok := req["score"].(float64)
			if !ok || score != float64(int(score)) || score < 1 || score > 5 {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "score must be an integer between 1 and 5",
				})
			}

			message, ok := req["message"].(string)
			if ok && len(message) > cfg.MaxRatingMessage {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "message exceeds maximum length",
				})
			}
		}

		return c.Next()
	}
}

func containsXSS(input string) bool {
	return xssPattern.MatchString(input)
}
