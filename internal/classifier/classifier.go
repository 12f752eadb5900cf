package classifier

import (
	"context"

	"go.uber.org/zap"

	"github.com/feedback-pipeline/backend/internal/storage/models"
	"github.com/feedback-pipeline/backend/pkg/config"
	"github.com/feedback-pipeline/backend/pkg/logger"
)

// Classification is the raw classifier output before it is tied to a job.
type Classification struct {
	Sentiment   models.Sentiment
	Confidence  float64
	Scores      []models.SentimentScore
	Intents     []string
	AIProcessed bool
}

type Classifier interface {
	Classify(ctx context.Context, text string) (*Classification, error)
}

type composite struct {
	llm      *LLMClassifier
	fallback *VaderClassifier
}

// New builds the production classifier: the LLM path when an API key is
// configured, with the VADER heuristic as fallback. The fallback result is
// marked AIProcessed=false so dashboards can tell the two apart.
func New(cfg config.ClassifierConfig) Classifier {
	c := &composite{fallback: NewVaderClassifier()}
	if cfg.APIKey != "" {
		c.llm = NewLLMClassifier(cfg)
	}
	return c
}

func (c *composite) Classify(ctx context.Context, text string) (*Classification, error) {
	if c.llm != nil {
		result, err := c.llm.Classify(ctx, text)
		if err == nil {
			return result, nil
		}
		logger.Warn("LLM classification failed, using heuristic fallback", zap.Error(err))
	}
	return c.fallback.Classify(ctx, text)
}
