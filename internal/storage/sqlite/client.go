package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/feedback-pipeline/backend/internal/storage/models"
	"github.com/feedback-pipeline/backend/pkg/logger"
)

var ErrNotFound = errors.New("not found")

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS feedback_jobs (
		job_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'queued',
		submitted_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_user ON feedback_jobs(user_id);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON feedback_jobs(status);

	CREATE TABLE IF NOT EXISTS feedback_results (
		job_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		text TEXT NOT NULL,
		sentiment TEXT NOT NULL,
		confidence REAL NOT NULL,
		scores TEXT,
		intents TEXT,
		ai_processed INTEGER NOT NULL DEFAULT 0,
		submitted_at INTEGER NOT NULL,
		processed_at INTEGER NOT NULL,
		metadata TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_results_user ON feedback_results(user_id);
	CREATE INDEX IF NOT EXISTS idx_results_sentiment ON feedback_results(sentiment);
	CREATE INDEX IF NOT EXISTS idx_results_processed ON feedback_results(processed_at);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL DEFAULT 'member',
		is_verified INTEGER NOT NULL DEFAULT 0,
		is_online INTEGER NOT NULL DEFAULT 0,
		last_active INTEGER NOT NULL,
		rating_score INTEGER,
		rating_message TEXT,
		rating_created_at INTEGER,
		rating_updated_at INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_online ON users(is_online, last_active);
	CREATE INDEX IF NOT EXISTS idx_users_created ON users(created_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// --- job status markers ---

func (c *Client) InsertJob(job *models.FeedbackJob) error {
	query := `INSERT INTO feedback_jobs (job_id, user_id, status, submitted_at) VALUES (?, ?, ?, ?)`

	_, err := c.db.Exec(query, job.JobID, job.UserID, string(models.JobStatusQueued), job.SubmittedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}

	return nil
}

func (c *Client) DeleteJob(jobID string) error {
	_, err := c.db.Exec(`DELETE FROM feedback_jobs WHERE job_id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

func (c *Client) SetJobStatus(jobID string, status models.JobStatus) error {
	_, err := c.db.Exec(`UPDATE feedback_jobs SET status = ? WHERE job_id = ?`, string(status), jobID)
	if err != nil {
		return fmt.Errorf("failed to set job status: %w", err)
	}
	return nil
}

func (c *Client) GetJobStatus(jobID string) (models.JobStatus, error) {
	var status string
	err := c.db.QueryRow(`SELECT status FROM feedback_jobs WHERE job_id = ?`, jobID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get job status: %w", err)
	}
	return models.JobStatus(status), nil
}

// --- feedback results ---

func (c *Client) HasResult(jobID string) (bool, error) {
	var one int
	err := c.db.QueryRow(`SELECT 1 FROM feedback_results WHERE job_id = ?`, jobID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check result: %w", err)
	}
	return true, nil
}

func (c *Client) UpsertResult(result *models.FeedbackResult) error {
	scoresJSON, _ := json.Marshal(result.Scores)
	intentsJSON, _ := json.Marshal(result.Intents)
	metadataJSON, _ := json.Marshal(result.Metadata)

	query := `
		INSERT INTO feedback_results (job_id, user_id, text, sentiment, confidence, scores, intents,
			ai_processed, submitted_at, processed_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			sentiment = excluded.sentiment,
			confidence = excluded.confidence,
			scores = excluded.scores,
			intents = excluded.intents,
			ai_processed = excluded.ai_processed,
			processed_at = excluded.processed_at
	`

	aiProcessed := 0
	if result.AIProcessed {
		aiProcessed = 1
	}

	_, err := c.db.Exec(
		query,
		result.JobID,
		result.UserID,
		result.Text,
		string(result.Sentiment),
		result.Confidence,
		string(scoresJSON),
		string(intentsJSON),
		aiProcessed,
		result.SubmittedAt.Unix(),
		result.ProcessedAt.Unix(),
		string(metadataJSON),
	)

	if err != nil {
		return fmt.Errorf("failed to upsert result: %w", err)
	}

	logger.Debug("Result upserted",
		zap.String("job_id", result.JobID),
		zap.String("sentiment", string(result.Sentiment)),
	)
	return nil
}

func (c *Client) GetResult(jobID string) (*models.FeedbackResult, error) {
	query := `
		SELECT job_id, user_id, text, sentiment, confidence, scores, intents,
			ai_processed, submitted_at, processed_at, metadata
		FROM feedback_results WHERE job_id = ?
	`

	var r models.FeedbackResult
	var sentiment, scoresJSON, intentsJSON, metadataJSON string
	var aiProcessed int
	var submittedAt, processedAt int64

	err := c.db.QueryRow(query, jobID).Scan(
		&r.JobID,
		&r.UserID,
		&r.Text,
		&sentiment,
		&r.Confidence,
		&scoresJSON,
		&intentsJSON,
		&aiProcessed,
		&submittedAt,
		&processedAt,
		&metadataJSON,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}

	r.Sentiment = models.Sentiment(sentiment)
	r.AIProcessed = aiProcessed == 1
	r.SubmittedAt = time.Unix(submittedAt, 0)
	r.ProcessedAt = time.Unix(processedAt, 0)
	json.Unmarshal([]byte(scoresJSON), &r.Scores)
	json.Unmarshal([]byte(intentsJSON), &r.Intents)
	json.Unmarshal([]byte(metadataJSON), &r.Metadata)

	return &r, nil
}

// CountResults counts stored results, scoped to one user when userID is
// non-empty.
func (c *Client) CountResults(userID string) (int, error) {
	query := `SELECT COUNT(*) FROM feedback_results`
	args := []interface{}{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}

	var count int
	if err := c.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count results: %w", err)
	}
	return count, nil
}

func (c *Client) CountResultsBetween(userID string, from, to time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM feedback_results WHERE processed_at >= ? AND processed_at < ?`
	args := []interface{}{from.Unix(), to.Unix()}
	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}

	var count int
	if err := c.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count results in window: %w", err)
	}
	return count, nil
}

type SentimentAggregate struct {
	Count         int
	AvgConfidence float64
}

func (c *Client) SentimentBreakdown(userID string) (map[models.Sentiment]SentimentAggregate, error) {
	query := `SELECT sentiment, COUNT(*), AVG(confidence) FROM feedback_results`
	args := []interface{}{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` GROUP BY sentiment`

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate sentiments: %w", err)
	}
	defer rows.Close()

	breakdown := make(map[models.Sentiment]SentimentAggregate)
	for rows.Next() {
		var sentiment string
		var agg SentimentAggregate
		if err := rows.Scan(&sentiment, &agg.Count, &agg.AvgConfidence); err != nil {
			return nil, fmt.Errorf("failed to scan sentiment row: %w", err)
		}
		breakdown[models.Sentiment(sentiment)] = agg
	}

	return breakdown, rows.Err()
}

// ListIntents returns the intent label sets of all results in processing
// order. Intents are stored as JSON arrays, so frequency counting happens
// in the aggregator rather than in SQL.
func (c *Client) ListIntents(userID string) ([][]string, error) {
	query := `SELECT intents FROM feedback_results`
	args := []interface{}{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY processed_at ASC, job_id ASC`

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list intents: %w", err)
	}
	defer rows.Close()

	var all [][]string
	for rows.Next() {
		var raw sql.NullString
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan intents row: %w", err)
		}
		if !raw.Valid || raw.String == "" {
			continue
		}
		var intents []string
		if err := json.Unmarshal([]byte(raw.String), &intents); err != nil {
			continue
		}
		if len(intents) > 0 {
			all = append(all, intents)
		}
	}

	return all, rows.Err()
}

// --- users ---

func (c *Client) CreateUser(user *models.User) error {
	query := `
		INSERT INTO users (id, name, email, role, is_verified, is_online, last_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	isVerified := 0
	if user.IsVerified {
		isVerified = 1
	}
	isOnline := 0
	if user.IsOnline {
		isOnline = 1
	}

	_, err := c.db.Exec(
		query,
		user.ID,
		user.Name,
		user.Email,
		user.Role,
		isVerified,
		isOnline,
		user.LastActive.Unix(),
		user.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// Heartbeat refreshes presence in a single row write. The worker and the
// sweeper never touch these fields between themselves except through
// SweepOffline, so last-write on last_active governs correctness.
func (c *Client) Heartbeat(userID string, now time.Time) error {
	res, err := c.db.Exec(
		`UPDATE users SET is_online = 1, last_active = ? WHERE id = ?`,
		now.Unix(), userID,
	)
	if err != nil {
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read heartbeat result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SweepOffline flips users whose last heartbeat predates the threshold to
// offline in one batched update and reports how many were flipped.
func (c *Client) SweepOffline(threshold time.Time) (int64, error) {
	res, err := c.db.Exec(
		`UPDATE users SET is_online = 0 WHERE is_online = 1 AND last_active < ?`,
		threshold.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep offline users: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read sweep result: %w", err)
	}
	return affected, nil
}

func (c *Client) CountUsers() (total, verified, online int, err error) {
	err = c.db.QueryRow(`
		SELECT COUNT(*),
			COALESCE(SUM(is_verified), 0),
			COALESCE(SUM(is_online), 0)
		FROM users
	`).Scan(&total, &verified, &online)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count users: %w", err)
	}
	return total, verified, online, nil
}

func (c *Client) CountUsersByRole() (map[string]int, error) {
	rows, err := c.db.Query(`SELECT role, COUNT(*) FROM users GROUP BY role ORDER BY role`)
	if err != nil {
		return nil, fmt.Errorf("failed to count users by role: %w", err)
	}
	defer rows.Close()

	byRole := map[string]int{"admin": 0, "manager": 0, "member": 0}
	for rows.Next() {
		var role string
		var count int
		if err := rows.Scan(&role, &count); err != nil {
			return nil, fmt.Errorf("failed to scan role row: %w", err)
		}
		byRole[role] = count
	}

	return byRole, rows.Err()
}

func (c *Client) RegistrationTrend(since time.Time) ([]models.RegistrationPoint, error) {
	rows, err := c.db.Query(`
		SELECT date(created_at, 'unixepoch'), COUNT(*)
		FROM users
		WHERE created_at >= ?
		GROUP BY date(created_at, 'unixepoch')
		ORDER BY 1
	`, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query registration trend: %w", err)
	}
	defer rows.Close()

	var trend []models.RegistrationPoint
	for rows.Next() {
		var p models.RegistrationPoint
		if err := rows.Scan(&p.Date, &p.Count); err != nil {
			return nil, fmt.Errorf("failed to scan trend row: %w", err)
		}
		trend = append(trend, p)
	}

	return trend, rows.Err()
}

func (c *Client) RecentUsers(limit int) ([]models.User, error) {
	rows, err := c.db.Query(`
		SELECT id, name, email, role, is_verified, is_online, last_active,
			rating_score, rating_message, rating_created_at, rating_updated_at,
			created_at
		FROM users
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		var isVerified, isOnline int
		var lastActive, createdAt int64
		var ratingScore, ratingCreated, ratingUpdated sql.NullInt64
		var ratingMessage sql.NullString

		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &isVerified, &isOnline, &lastActive,
			&ratingScore, &ratingMessage, &ratingCreated, &ratingUpdated, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}

		u.IsVerified = isVerified == 1
		u.IsOnline = isOnline == 1
		u.LastActive = time.Unix(lastActive, 0)
		u.CreatedAt = time.Unix(createdAt, 0)

		if ratingScore.Valid {
			u.Rating = &models.PlatformRating{
				Score:     int(ratingScore.Int64),
				Message:   ratingMessage.String,
				CreatedAt: time.Unix(ratingCreated.Int64, 0),
				UpdatedAt: time.Unix(ratingUpdated.Int64, 0),
			}
		}

		users = append(users, u)
	}

	return users, rows.Err()
}

// --- platform ratings (embedded on the user record) ---

func (c *Client) UpsertRating(userID string, score int, message string, now time.Time) error {
	res, err := c.db.Exec(`
		UPDATE users SET
			rating_score = ?,
			rating_message = ?,
			rating_created_at = COALESCE(rating_created_at, ?),
			rating_updated_at = ?
		WHERE id = ?
	`, score, message, now.Unix(), now.Unix(), userID)
	if err != nil {
		return fmt.Errorf("failed to upsert rating: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rating result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	logger.Info("Rating recorded", zap.String("user_id", userID), zap.Int("score", score))
	return nil
}

func (c *Client) RatingAggregates() (*models.RatingStats, error) {
	rows, err := c.db.Query(`
		SELECT rating_score, COUNT(*)
		FROM users
		WHERE rating_score BETWEEN 1 AND 5
		GROUP BY rating_score
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate ratings: %w", err)
	}
	defer rows.Close()

	stats := &models.RatingStats{ByScore: make(map[int]int)}
	sum := 0
	for rows.Next() {
		var score, count int
		if err := rows.Scan(&score, &count); err != nil {
			return nil, fmt.Errorf("failed to scan rating row: %w", err)
		}
		stats.ByScore[score] = count
		stats.Total += count
		sum += score * count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if stats.Total > 0 {
		stats.Average = float64(sum) / float64(stats.Total)
	}
	return stats, nil
}
