package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/prometheus/client_golang/prometheus/testutil"

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

func insertResult(t *testing.T, store *sqlite.Client, jobID string, sentiment models.Sentiment) {
	t.Helper()
	now := time.Now()
	gt.NoError(t, store.UpsertResult(&models.FeedbackResult{
		JobID:       jobID,
		UserID:      "user-1",
		Text:        "feedback",
		Sentiment:   sentiment,
		Confidence:  0.75,
		SubmittedAt: now.Add(-time.Minute),
		ProcessedAt: now,
	})).Required()
}

func TestSyncPopulatesGauges(t *testing.T) {
	store := newStore(t)
	m := New()
	sweeper := &countingSweeper{}
	s := NewSynchronizer(store, m, sweeper)
	now := time.Now()

	gt.NoError(t, store.CreateUser(&models.User{
		ID: "user-1", Name: "Alice", Email: "alice@example.com", Role: "member",
		IsVerified: true, IsOnline: true, LastActive: now, CreatedAt: now,
	}))
	gt.NoError(t, store.CreateUser(&models.User{
		ID: "user-2", Name: "Bob", Email: "bob@example.com", Role: "member",
		LastActive: now, CreatedAt: now,
	}))
	gt.NoError(t, store.UpsertRating("user-1", 4, "", now))

	insertResult(t, store, "j1", models.SentimentPositive)
	insertResult(t, store, "j2", models.SentimentPositive)
	insertResult(t, store, "j3", models.SentimentNegative)

	gt.NoError(t, s.Sync(context.Background()))

	gt.Value(t, sweeper.calls).Equal(1)
	gt.Value(t, testutil.ToFloat64(m.UsersTotal)).Equal(2)
	gt.Value(t, testutil.ToFloat64(m.ActiveUsers)).Equal(2)
	gt.Value(t, testutil.ToFloat64(m.VerifiedUsers)).Equal(1)
	gt.Value(t, testutil.ToFloat64(m.UsersOnline)).Equal(1)
	gt.Value(t, testutil.ToFloat64(m.FeedbackTotal)).Equal(3)
	gt.Value(t, testutil.ToFloat64(m.FeedbackSentiment.WithLabelValues("positive"))).Equal(2)
	gt.Value(t, testutil.ToFloat64(m.FeedbackSentiment.WithLabelValues("negative"))).Equal(1)
	gt.Value(t, testutil.ToFloat64(m.UserRatingsGauge.WithLabelValues("4"))).Equal(1)
	gt.Value(t, testutil.ToFloat64(m.UserRatingsAverage)).Equal(4)
}

func TestSyncSentimentGaugesSumToTotal(t *testing.T) {
	store := newStore(t)
	m := New()
	s := NewSynchronizer(store, m, nil)

	insertResult(t, store, "j1", models.SentimentPositive)
	insertResult(t, store, "j2", models.SentimentNeutral)
	insertResult(t, store, "j3", models.SentimentNegative)
	insertResult(t, store, "j4", models.SentimentUnknown)

	gt.NoError(t, s.Sync(context.Background()))

	sum := 0.0
	for _, label := range sentimentLabels {
		sum += testutil.ToFloat64(m.FeedbackSentiment.WithLabelValues(label))
	}
	gt.Value(t, sum).Equal(testutil.ToFloat64(m.FeedbackTotal))
}

func TestSyncResetsStaleLabels(t *testing.T) {
	store := newStore(t)
	m := New()
	s := NewSynchronizer(store, m, nil)

	// A label that held a value in a previous process lifetime must drop to
	// zero when the store no longer backs it.
	m.FeedbackSentiment.WithLabelValues("positive").Set(17)
	m.UserRatingsGauge.WithLabelValues("5").Set(9)

	gt.NoError(t, s.Sync(context.Background()))

	gt.Value(t, testutil.ToFloat64(m.FeedbackSentiment.WithLabelValues("positive"))).Equal(0)
	gt.Value(t, testutil.ToFloat64(m.UserRatingsGauge.WithLabelValues("5"))).Equal(0)
	gt.Value(t, testutil.ToFloat64(m.FeedbackTotal)).Equal(0)
}
