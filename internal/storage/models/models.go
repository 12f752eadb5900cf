package models

import "time"

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
	SentimentUnknown  Sentiment = "unknown"
)

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// FeedbackJob is the submission envelope. The attempt counter travels with
// the job through the queue, not in shared state.
type FeedbackJob struct {
	JobID       string
	UserID      string
	Text        string
	Metadata    map[string]string
	SubmittedAt time.Time
	Attempt     int
}

// SentimentScore is one entry of the per-class score distribution.
type SentimentScore struct {
	Label Sentiment `json:"label"`
	Score float64   `json:"score"`
}

// FeedbackResult is keyed 1:1 by job id. Confidence is the maximum of the
// score distribution; ProcessedAt is never before SubmittedAt.
type FeedbackResult struct {
	JobID       string            `json:"jobId"`
	UserID      string            `json:"userId"`
	Text        string            `json:"text"`
	Sentiment   Sentiment         `json:"sentiment"`
	Confidence  float64           `json:"confidence"`
	Scores      []SentimentScore  `json:"scores"`
	Intents     []string          `json:"intents"`
	AIProcessed bool              `json:"aiProcessed"`
	SubmittedAt time.Time         `json:"submittedAt"`
	ProcessedAt time.Time         `json:"processedAt"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type PlatformRating struct {
	Score     int       `json:"score"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type User struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Email      string          `json:"email"`
	Role       string          `json:"role"`
	IsVerified bool            `json:"isVerified"`
	IsOnline   bool            `json:"isOnline"`
	LastActive time.Time       `json:"lastActive"`
	Rating     *PlatformRating `json:"rating,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

type SentimentStats struct {
	Count         int     `json:"count"`
	Percentage    float64 `json:"percentage"`
	AvgConfidence float64 `json:"avgConfidence"`
}

type IntentCount struct {
	Intent string `json:"intent"`
	Count  int    `json:"count"`
}

type GrowthStats struct {
	Total    float64 `json:"total"`
	ThisWeek int     `json:"thisWeek"`
	LastWeek int     `json:"lastWeek"`
}

type RegistrationPoint struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type UserStats struct {
	Total             int                 `json:"total"`
	Verified          int                 `json:"verified"`
	Unverified        int                 `json:"unverified"`
	Online            int                 `json:"online"`
	ByRole            map[string]int      `json:"byRole"`
	RegistrationTrend []RegistrationPoint `json:"registrationTrend"`
	RecentUsers       []User              `json:"recentUsers"`
}

type RatingStats struct {
	Total   int         `json:"total"`
	Average float64     `json:"average"`
	ByScore map[int]int `json:"byScore"`
}

// AnalyticsSummary is derived on demand, never persisted. An empty result
// set produces a fully-defined zero value.
type AnalyticsSummary struct {
	Total       int                          `json:"total"`
	BySentiment map[Sentiment]SentimentStats `json:"bySentiment"`
	TopIntents  []IntentCount                `json:"topIntents"`
	Growth      GrowthStats                  `json:"growth"`
	Users       *UserStats                   `json:"users,omitempty"`
	Ratings     *RatingStats                 `json:"ratings,omitempty"`
	GeneratedAt time.Time                    `json:"generatedAt"`
}
