package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/feedback-pipeline/backend/internal/classifier"
	"github.com/feedback-pipeline/backend/internal/metrics"
	"github.com/feedback-pipeline/backend/internal/queue"
	"github.com/feedback-pipeline/backend/internal/storage/models"
	"github.com/feedback-pipeline/backend/internal/storage/sqlite"
)

type fakeConsumer struct {
	acked    []string
	requeued []queue.Message
	dlq      []queue.Message
}

func (f *fakeConsumer) Read(ctx context.Context) ([]queue.Message, error) {
	return nil, nil
}

func (f *fakeConsumer) Ack(ctx context.Context, msg queue.Message) error {
	f.acked = append(f.acked, msg.ID)
	return nil
}

func (f *fakeConsumer) Requeue(ctx context.Context, msg queue.Message, errMsg string) error {
	f.requeued = append(f.requeued, msg)
	return nil
}

func (f *fakeConsumer) SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error {
	f.dlq = append(f.dlq, msg)
	return nil
}

type stubClassifier struct {
	result *classifier.Classification
	err    error
}

func (s *stubClassifier) Classify(ctx context.Context, text string) (*classifier.Classification, error) {
	return s.result, s.err
}

func newStore(t *testing.T) *sqlite.Client {
	t.Helper()
	store, err := sqlite.NewClient(":memory:")
	gt.NoError(t, err).Required()
	gt.NoError(t, store.InitSchema()).Required()
	t.Cleanup(func() { store.Close() })
	return store
}

func positiveClassification() *classifier.Classification {
	return &classifier.Classification{
		Sentiment:  models.SentimentPositive,
		Confidence: 0.9,
		Scores: []models.SentimentScore{
			{Label: models.SentimentPositive, Score: 0.9},
			{Label: models.SentimentNeutral, Score: 0.05},
			{Label: models.SentimentNegative, Score: 0.05},
		},
		Intents:     []string{"praise"},
		AIProcessed: true,
	}
}

func testMessage(jobID string, attempt int) queue.Message {
	return queue.Message{
		ID: "1-0",
		Job: models.FeedbackJob{
			JobID:       jobID,
			UserID:      "user-1",
			Text:        "Great service!",
			SubmittedAt: time.Now().Add(-time.Minute),
			Attempt:     attempt,
		},
	}
}

func TestProcessMessageStoresResult(t *testing.T) {
	store := newStore(t)
	consumer := &fakeConsumer{}
	m := metrics.New()
	w := New(consumer, store, &stubClassifier{result: positiveClassification()}, m, Config{})

	msg := testMessage("job-1", 1)
	gt.NoError(t, store.InsertJob(&msg.Job))

	gt.NoError(t, w.ProcessMessage(context.Background(), msg))

	result, err := store.GetResult("job-1")
	gt.NoError(t, err).Required()
	gt.Value(t, result.Sentiment).Equal(models.SentimentPositive)
	gt.Value(t, result.Confidence).Equal(0.9)
	gt.Bool(t, result.AIProcessed).True()
	gt.Array(t, result.Intents).Length(1)
	gt.Bool(t, result.ProcessedAt.Before(result.SubmittedAt)).False()

	status, err := store.GetJobStatus("job-1")
	gt.NoError(t, err)
	gt.Value(t, status).Equal(models.JobStatusCompleted)

	gt.Array(t, consumer.acked).Length(1)
	gt.Value(t, testutil.ToFloat64(m.FeedbackBySentiment.WithLabelValues("positive"))).Equal(1)
}

func TestProcessMessageIdempotentOnRedelivery(t *testing.T) {
	store := newStore(t)
	consumer := &fakeConsumer{}
	m := metrics.New()
	w := New(consumer, store, &stubClassifier{result: positiveClassification()}, m, Config{})

	msg := testMessage("job-1", 1)
	gt.NoError(t, store.InsertJob(&msg.Job))

	gt.NoError(t, w.ProcessMessage(context.Background(), msg))
	gt.NoError(t, w.ProcessMessage(context.Background(), msg))

	total, err := store.CountResults("")
	gt.NoError(t, err)
	gt.Value(t, total).Equal(1)

	// The counter moves once; the redelivery only acks.
	gt.Value(t, testutil.ToFloat64(m.FeedbackBySentiment.WithLabelValues("positive"))).Equal(1)
	gt.Array(t, consumer.acked).Length(2)
}

func TestFailedMessageRequeuedBelowAttemptBudget(t *testing.T) {
	store := newStore(t)
	consumer := &fakeConsumer{}
	m := metrics.New()
	w := New(consumer, store, &stubClassifier{err: errors.New("upstream down")}, m, Config{MaxAttempts: 3})

	msg := testMessage("job-1", 1)
	gt.NoError(t, store.InsertJob(&msg.Job))

	err := w.ProcessMessage(context.Background(), msg)
	gt.Error(t, err)
	w.handleFailedMessage(context.Background(), msg, err)

	gt.Array(t, consumer.requeued).Length(1)
	gt.Array(t, consumer.dlq).Length(0)

	exists, err := store.HasResult("job-1")
	gt.NoError(t, err)
	gt.Bool(t, exists).False()
}

func TestTerminalFailureRecordsUnknownResult(t *testing.T) {
	store := newStore(t)
	consumer := &fakeConsumer{}
	m := metrics.New()
	w := New(consumer, store, &stubClassifier{err: errors.New("upstream down")}, m, Config{MaxAttempts: 3})

	msg := testMessage("job-1", 3)
	gt.NoError(t, store.InsertJob(&msg.Job))

	err := w.ProcessMessage(context.Background(), msg)
	gt.Error(t, err)
	w.handleFailedMessage(context.Background(), msg, err)

	gt.Array(t, consumer.requeued).Length(0)
	gt.Array(t, consumer.dlq).Length(1)

	result, err := store.GetResult("job-1")
	gt.NoError(t, err).Required()
	gt.Value(t, result.Sentiment).Equal(models.SentimentUnknown)
	gt.Bool(t, result.AIProcessed).False()

	status, err := store.GetJobStatus("job-1")
	gt.NoError(t, err)
	gt.Value(t, status).Equal(models.JobStatusFailed)

	gt.Value(t, testutil.ToFloat64(m.FeedbackBySentiment.WithLabelValues("unknown"))).Equal(1)
}

func TestPanicInClassifierIsRecovered(t *testing.T) {
	store := newStore(t)
	consumer := &fakeConsumer{}
	m := metrics.New()
	w := New(consumer, store, &panicClassifier{}, m, Config{})

	msg := testMessage("job-1", 1)
	gt.NoError(t, store.InsertJob(&msg.Job))

	err := w.processMessageSafe(context.Background(), msg)
	gt.Error(t, err)
}

type panicClassifier struct{}

func (p *panicClassifier) Classify(ctx context.Context, text string) (*classifier.Classification, error) {
	panic("boom")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	store := newStore(t)
	w := New(&fakeConsumer{}, store, &stubClassifier{result: positiveClassification()}, metrics.New(), Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		gt.Bool(t, errors.Is(err, context.Canceled)).True()
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestClampProcessedAt(t *testing.T) {
	submitted := time.Now()

	gt.Value(t, clampProcessedAt(submitted, submitted.Add(-time.Hour))).Equal(submitted)
	later := submitted.Add(time.Second)
	gt.Value(t, clampProcessedAt(submitted, later)).Equal(later)
}
