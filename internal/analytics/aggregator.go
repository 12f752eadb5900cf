package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/feedback-pipeline/backend/internal/storage/models"
	"github.com/feedback-pipeline/backend/internal/storage/sqlite"
)

const topIntentLimit = 5

type presenceSweeper interface {
	SweepNow()
}

// Scope selects whose feedback a summary covers. An empty UserID means
// system-wide; system-wide summaries additionally include user and rating
// statistics for the admin dashboard.
type Scope struct {
	UserID     string
	SystemWide bool
}

type Aggregator struct {
	store   *sqlite.Client
	sweeper presenceSweeper

	nowFn func() time.Time
}

func NewAggregator(store *sqlite.Client, sweeper presenceSweeper) *Aggregator {
	return &Aggregator{
		store:   store,
		sweeper: sweeper,
		nowFn:   time.Now,
	}
}

// Summarize computes the analytics summary on demand. An empty result set
// is a valid zero state: total 0, every percentage 0, growth 0.
func (a *Aggregator) Summarize(ctx context.Context, scope Scope) (*models.AnalyticsSummary, error) {
	userID := scope.UserID
	if scope.SystemWide {
		userID = ""
	}

	now := a.nowFn()

	total, err := a.store.CountResults(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count feedback: %w", err)
	}

	breakdown, err := a.store.SentimentBreakdown(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate sentiments: %w", err)
	}

	bySentiment := make(map[models.Sentiment]models.SentimentStats, len(breakdown))
	for sentiment, agg := range breakdown {
		percentage := 0.0
		if total > 0 {
			percentage = roundOneDecimal(float64(agg.Count) / float64(total) * 100)
		}
		bySentiment[sentiment] = models.SentimentStats{
			Count:         agg.Count,
			Percentage:    percentage,
			AvgConfidence: agg.AvgConfidence,
		}
	}

	topIntents, err := a.topIntents(userID)
	if err != nil {
		return nil, err
	}

	growth, err := a.weekOverWeekGrowth(userID, now)
	if err != nil {
		return nil, err
	}

	summary := &models.AnalyticsSummary{
		Total:       total,
		BySentiment: bySentiment,
		TopIntents:  topIntents,
		Growth:      growth,
		GeneratedAt: now,
	}

	if scope.SystemWide {
		users, err := a.userStats(now)
		if err != nil {
			return nil, err
		}
		summary.Users = users

		ratings, err := a.store.RatingAggregates()
		if err != nil {
			return nil, fmt.Errorf("failed to aggregate ratings: %w", err)
		}
		summary.Ratings = ratings
	}

	return summary, nil
}

// topIntents ranks intent labels by frequency. Ties break on first
// appearance in processing order, so the ranking is deterministic.
func (a *Aggregator) topIntents(userID string) ([]models.IntentCount, error) {
	intentSets, err := a.store.ListIntents(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list intents: %w", err)
	}

	counts := make(map[string]int)
	firstSeen := make(map[string]int)
	order := 0
	for _, intents := range intentSets {
		for _, intent := range intents {
			if _, ok := counts[intent]; !ok {
				firstSeen[intent] = order
				order++
			}
			counts[intent]++
		}
	}

	ranked := make([]models.IntentCount, 0, len(counts))
	for intent, count := range counts {
		ranked = append(ranked, models.IntentCount{Intent: intent, Count: count})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return firstSeen[ranked[i].Intent] < firstSeen[ranked[j].Intent]
	})

	if len(ranked) > topIntentLimit {
		ranked = ranked[:topIntentLimit]
	}
	return ranked, nil
}

// weekOverWeekGrowth compares the trailing 7-day window against the 7 days
// before it. An empty prior window with a non-empty current window is 100%
// growth; two empty windows are 0%.
func (a *Aggregator) weekOverWeekGrowth(userID string, now time.Time) (models.GrowthStats, error) {
	sevenDaysAgo := now.AddDate(0, 0, -7)
	fourteenDaysAgo := now.AddDate(0, 0, -14)

	thisWeek, err := a.store.CountResultsBetween(userID, sevenDaysAgo, now.Add(time.Second))
	if err != nil {
		return models.GrowthStats{}, fmt.Errorf("failed to count current window: %w", err)
	}

	lastWeek, err := a.store.CountResultsBetween(userID, fourteenDaysAgo, sevenDaysAgo)
	if err != nil {
		return models.GrowthStats{}, fmt.Errorf("failed to count prior window: %w", err)
	}

	return models.GrowthStats{
		Total:    calculateGrowth(thisWeek, lastWeek),
		ThisWeek: thisWeek,
		LastWeek: lastWeek,
	}, nil
}

func calculateGrowth(thisWeek, lastWeek int) float64 {
	if lastWeek == 0 {
		if thisWeek > 0 {
			return 100
		}
		return 0
	}
	return roundOneDecimal(float64(thisWeek-lastWeek) / float64(lastWeek) * 100)
}

func (a *Aggregator) userStats(now time.Time) (*models.UserStats, error) {
	// Online counts must reflect a sweep no older than this read.
	if a.sweeper != nil {
		a.sweeper.SweepNow()
	}

	total, verified, online, err := a.store.CountUsers()
	if err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	byRole, err := a.store.CountUsersByRole()
	if err != nil {
		return nil, fmt.Errorf("failed to count users by role: %w", err)
	}

	trend, err := a.store.RegistrationTrend(now.AddDate(0, 0, -7))
	if err != nil {
		return nil, fmt.Errorf("failed to compute registration trend: %w", err)
	}

	recent, err := a.store.RecentUsers(10)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent users: %w", err)
	}

	return &models.UserStats{
		Total:             total,
		Verified:          verified,
		Unverified:        total - verified,
		Online:            online,
		ByRole:            byRole,
		RegistrationTrend: trend,
		RecentUsers:       recent,
	}, nil
}

func roundOneDecimal(v float64) float64 {
	return math.Round(v*10) / 10
}
