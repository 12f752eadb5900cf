package worker

import (
	"context"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/redis/go-redis/v9"

	"github.com/feedback-pipeline/backend/internal/metrics"
	"github.com/feedback-pipeline/backend/internal/storage/models"
)

// fakeStreamClient serves a canned pending list and hands out claims from
// an id-to-message map, like a real group with abandoned deliveries.
type fakeStreamClient struct {
	pending []redis.XPendingExt
	claims  map[string]redis.XMessage
	claimed []string
}

func (f *fakeStreamClient) XPendingExt(ctx context.Context, a *redis.XPendingExtArgs) *redis.XPendingExtCmd {
	cmd := redis.NewXPendingExtCmd(ctx)
	cmd.SetVal(f.pending)
	return cmd
}

func (f *fakeStreamClient) XClaim(ctx context.Context, a *redis.XClaimArgs) *redis.XMessageSliceCmd {
	cmd := redis.NewXMessageSliceCmd(ctx)
	var msgs []redis.XMessage
	for _, id := range a.Messages {
		if m, ok := f.claims[id]; ok {
			f.claimed = append(f.claimed, id)
			msgs = append(msgs, m)
		}
	}
	cmd.SetVal(msgs)
	return cmd
}

func pendingEntry(id string) redis.XPendingExt {
	return redis.XPendingExt{
		ID:       id,
		Consumer: "worker-dead",
		Idle:     5 * time.Minute,
	}
}

func abandonedMessage(id, jobID string) redis.XMessage {
	return redis.XMessage{
		ID: id,
		Values: map[string]interface{}{
			"job_id":       jobID,
			"user_id":      "user-1",
			"text":         "Great service!",
			"submitted_at": "1700000000",
			"attempt":      "1",
		},
	}
}

func TestReclaimOnceReprocessesAbandonedDelivery(t *testing.T) {
	store := newStore(t)
	consumer := &fakeConsumer{}
	m := metrics.New()
	w := New(consumer, store, &stubClassifier{result: positiveClassification()}, m, Config{})

	gt.NoError(t, store.InsertJob(&models.FeedbackJob{
		JobID: "job-1", UserID: "user-1", Text: "Great service!", SubmittedAt: time.Unix(1700000000, 0),
	}))

	stream := &fakeStreamClient{
		pending: []redis.XPendingExt{pendingEntry("5-1")},
		claims:  map[string]redis.XMessage{"5-1": abandonedMessage("5-1", "job-1")},
	}
	r := NewReclaimer(stream, w, ReclaimerConfig{Stream: "feedback_jobs", Group: "classifiers", Consumer: "reclaimer"})

	gt.NoError(t, r.ReclaimOnce(context.Background()))

	gt.Array(t, stream.claimed).Length(1)
	gt.Array(t, consumer.acked).Length(1)

	result, err := store.GetResult("job-1")
	gt.NoError(t, err).Required()
	gt.Value(t, result.Sentiment).Equal(models.SentimentPositive)

	status, err := store.GetJobStatus("job-1")
	gt.NoError(t, err)
	gt.Value(t, status).Equal(models.JobStatusCompleted)
}

func TestReclaimOnceSkipsEntriesClaimedElsewhere(t *testing.T) {
	store := newStore(t)
	consumer := &fakeConsumer{}
	w := New(consumer, store, &stubClassifier{result: positiveClassification()}, metrics.New(), Config{})

	// XCLAIM returns nothing when another worker already took the entry.
	stream := &fakeStreamClient{
		pending: []redis.XPendingExt{pendingEntry("5-1")},
		claims:  map[string]redis.XMessage{},
	}
	r := NewReclaimer(stream, w, ReclaimerConfig{Stream: "feedback_jobs", Group: "classifiers", Consumer: "reclaimer"})

	gt.NoError(t, r.ReclaimOnce(context.Background()))
	gt.Array(t, consumer.acked).Length(0)
}

func TestReclaimMalformedMessageIsAcked(t *testing.T) {
	store := newStore(t)
	consumer := &fakeConsumer{}
	w := New(consumer, store, &stubClassifier{result: positiveClassification()}, metrics.New(), Config{})

	broken := redis.XMessage{
		ID:     "5-1",
		Values: map[string]interface{}{"job_id": "job-1"},
	}
	stream := &fakeStreamClient{
		pending: []redis.XPendingExt{pendingEntry("5-1")},
		claims:  map[string]redis.XMessage{"5-1": broken},
	}
	r := NewReclaimer(stream, w, ReclaimerConfig{Stream: "feedback_jobs", Group: "classifiers", Consumer: "reclaimer"})

	gt.NoError(t, r.ReclaimOnce(context.Background()))

	gt.Array(t, consumer.acked).Length(1)
	exists, err := store.HasResult("job-1")
	gt.NoError(t, err)
	gt.Bool(t, exists).False()
}

func TestReclaimOnceNoPendingIsANoop(t *testing.T) {
	store := newStore(t)
	consumer := &fakeConsumer{}
	w := New(consumer, store, &stubClassifier{result: positiveClassification()}, metrics.New(), Config{})

	r := NewReclaimer(&fakeStreamClient{}, w, ReclaimerConfig{Stream: "feedback_jobs", Group: "classifiers", Consumer: "reclaimer"})
	gt.NoError(t, r.ReclaimOnce(context.Background()))
	gt.Array(t, consumer.acked).Length(0)
}
