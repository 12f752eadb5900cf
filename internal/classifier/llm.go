package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/feedback-pipeline/backend/internal/storage/models"
	"github.com/feedback-pipeline/backend/pkg/circuitbreaker"
	"github.com/feedback-pipeline/backend/pkg/config"
	"github.com/feedback-pipeline/backend/pkg/logger"
	"github.com/feedback-pipeline/backend/pkg/retry"
)

const systemPrompt = `You are a customer feedback classifier.
Given a piece of feedback, respond with a single JSON object:
{"sentiment": "positive"|"neutral"|"negative",
 "scores": {"positive": 0.0-1.0, "neutral": 0.0-1.0, "negative": 0.0-1.0},
 "intents": ["pricing","support","bug","feature_request","performance","ux","praise","complaint"]}
Scores must sum to 1. Intents may be empty. Respond with JSON only.`

type LLMClassifier struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewLLMClassifier(cfg config.ClassifierConfig) *LLMClassifier {
	cb := circuitbreaker.NewCircuitBreaker("classifier", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    2,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}

	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	logger.Info("LLM classifier initialized", zap.String("model", cfg.Model))

	return &LLMClassifier{
		client:      openai.NewClient(cfg.APIKey),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     timeout,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

func (c *LLMClassifier) Classify(ctx context.Context, text string) (*Classification, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	plain := NormalizeText(text)

	var content string
	err := c.cb.Execute(ctx, func() error {
		var retryErr error
		content, retryErr = retry.DoWithResult(ctx, c.retryConfig, func() (string, error) {
			resp, err := c.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model:       c.model,
					Temperature: c.temperature,
					MaxTokens:   c.maxTokens,
					ResponseFormat: &openai.ChatCompletionResponseFormat{
						Type: openai.ChatCompletionResponseFormatTypeJSONObject,
					},
					Messages: []openai.ChatCompletionMessage{
						{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
						{Role: openai.ChatMessageRoleUser, Content: plain},
					},
				},
			)
			if err != nil {
				return "", fmt.Errorf("failed to create completion: %w", err)
			}
			if len(resp.Choices) == 0 {
				return "", fmt.Errorf("completion returned no choices")
			}
			return resp.Choices[0].Message.Content, nil
		})
		return retryErr
	})
	if err != nil {
		return nil, err
	}

	return parseClassification(content)
}

func parseClassification(content string) (*Classification, error) {
	var payload struct {
		Sentiment string             `json:"sentiment"`
		Scores    map[string]float64 `json:"scores"`
		Intents   []string           `json:"intents"`
	}

	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse classifier output: %w", err)
	}

	sentiment := models.Sentiment(strings.ToLower(payload.Sentiment))
	switch sentiment {
	case models.SentimentPositive, models.SentimentNeutral, models.SentimentNegative:
	default:
		return nil, fmt.Errorf("classifier returned unknown sentiment %q", payload.Sentiment)
	}

	distribution := make([]models.SentimentScore, 0, 3)
	for _, label := range []models.Sentiment{models.SentimentPositive, models.SentimentNeutral, models.SentimentNegative} {
		distribution = append(distribution, models.SentimentScore{
			Label: label,
			Score: payload.Scores[string(label)],
		})
	}

	// Confidence is defined as the maximum of the distribution.
	confidence := 0.0
	for _, s := range distribution {
		if s.Score > confidence {
			confidence = s.Score
		}
	}
	if confidence == 0 {
		return nil, fmt.Errorf("classifier returned empty score distribution")
	}

	intents := payload.Intents
	sort.Strings(intents)

	return &Classification{
		Sentiment:   sentiment,
		Confidence:  confidence,
		Scores:      distribution,
		Intents:     intents,
		AIProcessed: true,
	}, nil
}
