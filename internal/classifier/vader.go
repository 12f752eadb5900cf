package classifier

import (
	"context"
	"math"

	"github.com/jonreiter/govader"

	"github.com/feedback-pipeline/backend/internal/storage/models"
)

// VaderClassifier is the heuristic fallback. It is fully deterministic for
// identical input, which keeps idempotent re-processing stable.
type VaderClassifier struct {
	analyzer *govader.SentimentIntensityAnalyzer
}

func NewVaderClassifier() *VaderClassifier {
	return &VaderClassifier{
		analyzer: govader.NewSentimentIntensityAnalyzer(),
	}
}

func (v *VaderClassifier) Classify(_ context.Context, text string) (*Classification, error) {
	plain := NormalizeText(text)

	scores := v.analyzer.PolarityScores(plain)
	compound := scores.Compound

	var sentiment models.Sentiment
	switch {
	case compound >= 0.20:
		sentiment = models.SentimentPositive
	case compound <= -0.20:
		sentiment = models.SentimentNegative
	default:
		sentiment = models.SentimentNeutral
	}

	// Map the compound score onto [0.5, 1]: a strong polarity reading is a
	// confident one, and the winning label always carries the max score.
	confidence := 0.5 + math.Abs(compound)/2
	rest := (1 - confidence) / 2

	distribution := make([]models.SentimentScore, 0, 3)
	for _, label := range []models.Sentiment{models.SentimentPositive, models.SentimentNeutral, models.SentimentNegative} {
		score := rest
		if label == sentiment {
			score = confidence
		}
		distribution = append(distribution, models.SentimentScore{Label: label, Score: score})
	}

	return &Classification{
		Sentiment:   sentiment,
		Confidence:  confidence,
		Scores:      distribution,
		Intents:     DetectIntents(plain),
		AIProcessed: false,
	}, nil
}
