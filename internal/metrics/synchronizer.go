package metrics

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/feedback-pipeline/backend/internal/storage/sqlite"
	"github.com/feedback-pipeline/backend/pkg/logger"
)

type presenceSweeper interface {
	SweepNow()
}

// Synchronizer materializes gauges from persisted state. Counters are
// incremented where the business event happens, never here.
type Synchronizer struct {
	store   *sqlite.Client
	metrics *Metrics
	sweeper presenceSweeper

	mu sync.Mutex
}

func NewSynchronizer(store *sqlite.Client, m *Metrics, sweeper presenceSweeper) *Synchronizer {
	return &Synchronizer{
		store:   store,
		metrics: m,
		sweeper: sweeper,
	}
}

// Sync overwrites every gauge from current store state. Each multi-label
// gauge is reset to zero across its full label set first so a label that
// dropped to zero does not linger at its previous value.
func (s *Synchronizer) Sync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Online counts must not be stale beyond one sweep interval; force a
	// sweep before reading them.
	if s.sweeper != nil {
		s.sweeper.SweepNow()
	}

	total, verified, online, err := s.store.CountUsers()
	if err != nil {
		return err
	}
	s.metrics.UsersTotal.Set(float64(total))
	s.metrics.ActiveUsers.Set(float64(total))
	s.metrics.VerifiedUsers.Set(float64(verified))
	s.metrics.UsersOnline.Set(float64(online))

	feedbackTotal, err := s.store.CountResults("")
	if err != nil {
		return err
	}
	s.metrics.FeedbackTotal.Set(float64(feedbackTotal))

	breakdown, err := s.store.SentimentBreakdown("")
	if err != nil {
		return err
	}
	for _, label := range sentimentLabels {
		s.metrics.FeedbackSentiment.WithLabelValues(label).Set(0)
	}
	for sentiment, agg := range breakdown {
		s.metrics.FeedbackSentiment.WithLabelValues(string(sentiment)).Set(float64(agg.Count))
	}

	ratings, err := s.store.RatingAggregates()
	if err != nil {
		return err
	}
	for score := 1; score <= 5; score++ {
		s.metrics.UserRatingsGauge.WithLabelValues(strconv.Itoa(score)).Set(0)
	}
	for score, count := range ratings.ByScore {
		s.metrics.UserRatingsGauge.WithLabelValues(strconv.Itoa(score)).Set(float64(count))
	}
	s.metrics.UserRatingsAverage.Set(ratings.Average)

	return nil
}

// Run syncs on a fixed interval until the context is cancelled. The scrape
// handler also syncs lazily, so the interval only bounds staleness between
// scrapes.
func (s *Synchronizer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sync(ctx); err != nil {
				logger.Error("Metrics sync failed", zap.Error(err))
			}
		}
	}
}
