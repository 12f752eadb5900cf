package presence

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/feedback-pipeline/backend/internal/storage/sqlite"
	"github.com/feedback-pipeline/backend/pkg/logger"
)

// Service records heartbeats and demotes stale users to offline. Heartbeats
// are single-row writes and always win over a concurrently-running sweep:
// the sweep only flips users whose last_active is already past the
// threshold.
type Service struct {
	store     *sqlite.Client
	threshold time.Duration
	interval  time.Duration

	nowFn func() time.Time
}

func NewService(store *sqlite.Client, threshold, interval time.Duration) *Service {
	if threshold == 0 {
		threshold = 2 * time.Minute
	}
	if interval == 0 {
		interval = 30 * time.Second
	}
	return &Service{
		store:     store,
		threshold: threshold,
		interval:  interval,
		nowFn:     time.Now,
	}
}

// Heartbeat marks the user online and refreshes last_active. Safe to call
// at any rate.
func (s *Service) Heartbeat(userID string) error {
	return s.store.Heartbeat(userID, s.nowFn())
}

// SweepNow flips every user whose last heartbeat predates the staleness
// threshold to offline in one batched update. Idempotent.
func (s *Service) SweepNow() {
	cutoff := s.nowFn().Add(-s.threshold)
	flipped, err := s.store.SweepOffline(cutoff)
	if err != nil {
		logger.Error("Presence sweep failed", zap.Error(err))
		return
	}
	if flipped > 0 {
		logger.Debug("Presence sweep flipped users offline", zap.Int64("count", flipped))
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.Info("Presence sweeper started",
		zap.Duration("threshold", s.threshold),
		zap.Duration("interval", s.interval),
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepNow()
		}
	}
}
