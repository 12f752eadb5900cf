package analytics

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/feedback-pipeline/backend/internal/storage/models"
	"github.com/feedback-pipeline/backend/internal/storage/sqlite"
)

type countingSweeper struct {
	calls int
}

func (c *countingSweeper) SweepNow() {
	c.calls++
}

func newStore(t *testing.T) *sqlite.Client {
	t.Helper()
	store, err := sqlite.NewClient(":memory:")
	gt.NoError(t, err).Required()
	gt.NoError(t, store.InitSchema()).Required()
	t.Cleanup(func() { store.Close() })
	return store
}

func insertResult(t *testing.T, store *sqlite.Client, jobID, userID string, sentiment models.Sentiment, confidence float64, intents []string, processedAt time.Time) {
	t.Helper()
	gt.NoError(t, store.UpsertResult(&models.FeedbackResult{
		JobID:       jobID,
		UserID:      userID,
		Text:        "feedback",
		Sentiment:   sentiment,
		Confidence:  confidence,
		Intents:     intents,
		SubmittedAt: processedAt.Add(-time.Minute),
		ProcessedAt: processedAt,
	})).Required()
}

func TestSummarizeEmptyState(t *testing.T) {
	store := newStore(t)
	agg := NewAggregator(store, nil)

	summary, err := agg.Summarize(context.Background(), Scope{UserID: "user-1"})
	gt.NoError(t, err).Required()

	gt.Value(t, summary.Total).Equal(0)
	gt.Array(t, summary.TopIntents).Length(0)
	gt.Value(t, summary.Growth.Total).Equal(0.0)
	gt.Value(t, summary.Growth.ThisWeek).Equal(0)
	gt.Value(t, summary.Growth.LastWeek).Equal(0)
	gt.Bool(t, summary.Users == nil).True()
	gt.Bool(t, summary.Ratings == nil).True()
}

func TestSummarizeSentimentPercentages(t *testing.T) {
	store := newStore(t)
	agg := NewAggregator(store, nil)
	now := time.Now()

	insertResult(t, store, "j1", "user-1", models.SentimentPositive, 1.0, nil, now.Add(-time.Hour))
	insertResult(t, store, "j2", "user-1", models.SentimentPositive, 0.5, nil, now.Add(-time.Hour))
	insertResult(t, store, "j3", "user-1", models.SentimentNegative, 0.75, nil, now.Add(-time.Hour))

	summary, err := agg.Summarize(context.Background(), Scope{UserID: "user-1"})
	gt.NoError(t, err).Required()

	gt.Value(t, summary.Total).Equal(3)
	gt.Value(t, summary.BySentiment[models.SentimentPositive].Count).Equal(2)
	gt.Value(t, summary.BySentiment[models.SentimentPositive].Percentage).Equal(66.7)
	gt.Value(t, summary.BySentiment[models.SentimentNegative].Percentage).Equal(33.3)
	gt.Value(t, summary.BySentiment[models.SentimentPositive].AvgConfidence).Equal(0.75)
}

func TestSummarizeScopesByUser(t *testing.T) {
	store := newStore(t)
	agg := NewAggregator(store, nil)
	now := time.Now()

	insertResult(t, store, "j1", "user-1", models.SentimentPositive, 0.9, nil, now.Add(-time.Hour))
	insertResult(t, store, "j2", "user-2", models.SentimentNegative, 0.8, nil, now.Add(-time.Hour))

	summary, err := agg.Summarize(context.Background(), Scope{UserID: "user-1"})
	gt.NoError(t, err).Required()
	gt.Value(t, summary.Total).Equal(1)

	system, err := agg.Summarize(context.Background(), Scope{SystemWide: true})
	gt.NoError(t, err).Required()
	gt.Value(t, system.Total).Equal(2)
}

func TestTopIntentsRankingIsDeterministic(t *testing.T) {
	store := newStore(t)
	agg := NewAggregator(store, nil)
	now := time.Now()

	// bug appears three times, pricing and support twice each. pricing was
	// seen first, so it must outrank support. Six labels total, only five
	// survive the cut.
	insertResult(t, store, "j1", "u", models.SentimentNegative, 0.8, []string{"bug", "pricing"}, now.Add(-6*time.Hour))
	insertResult(t, store, "j2", "u", models.SentimentNegative, 0.8, []string{"support", "bug"}, now.Add(-5*time.Hour))
	insertResult(t, store, "j3", "u", models.SentimentNegative, 0.8, []string{"pricing", "bug", "support"}, now.Add(-4*time.Hour))
	insertResult(t, store, "j4", "u", models.SentimentNeutral, 0.6, []string{"ux"}, now.Add(-3*time.Hour))
	insertResult(t, store, "j5", "u", models.SentimentNeutral, 0.6, []string{"performance"}, now.Add(-2*time.Hour))
	insertResult(t, store, "j6", "u", models.SentimentNeutral, 0.6, []string{"praise"}, now.Add(-time.Hour))

	summary, err := agg.Summarize(context.Background(), Scope{UserID: "u"})
	gt.NoError(t, err).Required()

	gt.Array(t, summary.TopIntents).Length(5)
	gt.Value(t, summary.TopIntents[0]).Equal(models.IntentCount{Intent: "bug", Count: 3})
	gt.Value(t, summary.TopIntents[1]).Equal(models.IntentCount{Intent: "pricing", Count: 2})
	gt.Value(t, summary.TopIntents[2]).Equal(models.IntentCount{Intent: "support", Count: 2})
}

func TestWeekOverWeekGrowth(t *testing.T) {
	now := time.Now()

	t.Run("empty prior window with activity is 100 percent", func(t *testing.T) {
		store := newStore(t)
		agg := NewAggregator(store, nil)

		for i := 0; i < 5; i++ {
			insertResult(t, store, fmt.Sprintf("j%d", i), "u", models.SentimentPositive, 0.9, nil, now.Add(-24*time.Hour))
		}

		summary, err := agg.Summarize(context.Background(), Scope{UserID: "u"})
		gt.NoError(t, err).Required()
		gt.Value(t, summary.Growth.Total).Equal(100.0)
		gt.Value(t, summary.Growth.ThisWeek).Equal(5)
		gt.Value(t, summary.Growth.LastWeek).Equal(0)
	})

	t.Run("both windows populated", func(t *testing.T) {
		store := newStore(t)
		agg := NewAggregator(store, nil)

		for i := 0; i < 5; i++ {
			insertResult(t, store, fmt.Sprintf("this-%d", i), "u", models.SentimentPositive, 0.9, nil, now.Add(-24*time.Hour))
		}
		for i := 0; i < 4; i++ {
			insertResult(t, store, fmt.Sprintf("last-%d", i), "u", models.SentimentPositive, 0.9, nil, now.Add(-10*24*time.Hour))
		}

		summary, err := agg.Summarize(context.Background(), Scope{UserID: "u"})
		gt.NoError(t, err).Required()
		gt.Value(t, summary.Growth.Total).Equal(25.0)
		gt.Value(t, summary.Growth.ThisWeek).Equal(5)
		gt.Value(t, summary.Growth.LastWeek).Equal(4)
	})

	t.Run("shrinking windows go negative", func(t *testing.T) {
		store := newStore(t)
		agg := NewAggregator(store, nil)

		insertResult(t, store, "this-0", "u", models.SentimentPositive, 0.9, nil, now.Add(-24*time.Hour))
		for i := 0; i < 4; i++ {
			insertResult(t, store, fmt.Sprintf("last-%d", i), "u", models.SentimentPositive, 0.9, nil, now.Add(-10*24*time.Hour))
		}

		summary, err := agg.Summarize(context.Background(), Scope{UserID: "u"})
		gt.NoError(t, err).Required()
		gt.Value(t, summary.Growth.Total).Equal(-75.0)
	})
}

func TestSystemScopeIncludesUserAndRatingStats(t *testing.T) {
	store := newStore(t)
	sweeper := &countingSweeper{}
	agg := NewAggregator(store, sweeper)
	now := time.Now()

	gt.NoError(t, store.CreateUser(&models.User{
		ID:         "user-1",
		Name:       "Alice",
		Email:      "alice@example.com",
		Role:       "admin",
		IsVerified: true,
		IsOnline:   true,
		LastActive: now,
		CreatedAt:  now.Add(-48 * time.Hour),
	}))
	gt.NoError(t, store.CreateUser(&models.User{
		ID:         "user-2",
		Name:       "Bob",
		Email:      "bob@example.com",
		Role:       "member",
		LastActive: now,
		CreatedAt:  now,
	}))
	gt.NoError(t, store.UpsertRating("user-1", 5, "love it", now))
	gt.NoError(t, store.UpsertRating("user-2", 3, "", now))

	summary, err := agg.Summarize(context.Background(), Scope{SystemWide: true})
	gt.NoError(t, err).Required()

	// System-wide reads force a presence sweep so online counts are fresh.
	gt.Value(t, sweeper.calls).Equal(1)

	gt.Value(t, summary.Users.Total).Equal(2)
	gt.Value(t, summary.Users.Verified).Equal(1)
	gt.Value(t, summary.Users.Unverified).Equal(1)
	gt.Value(t, summary.Users.ByRole["admin"]).Equal(1)
	gt.Value(t, summary.Users.ByRole["member"]).Equal(1)
	gt.Value(t, summary.Users.ByRole["manager"]).Equal(0)
	gt.Array(t, summary.Users.RecentUsers).Length(2)

	gt.Value(t, summary.Ratings.Total).Equal(2)
	gt.Value(t, summary.Ratings.Average).Equal(4.0)
	gt.Value(t, summary.Ratings.ByScore[5]).Equal(1)
	gt.Value(t, summary.Ratings.ByScore[3]).Equal(1)
}

func TestCalculateGrowth(t *testing.T) {
	gt.Value(t, calculateGrowth(0, 0)).Equal(0.0)
	gt.Value(t, calculateGrowth(7, 0)).Equal(100.0)
	gt.Value(t, calculateGrowth(3, 2)).Equal(50.0)
	gt.Value(t, calculateGrowth(1, 3)).Equal(-66.7)
}
