// Package store persists review history in SQLite. The database tool reads the
// same tables through its named queries.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const timeLayout = "2006-01-02 15:04:05"

// Store wraps the review history database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Finding is a single issue attached to a review.
type Finding struct {
	FilePath string
	Severity string
	Category string
	Message  string
}

// ReviewRecord is one review outcome for a pull request.
type ReviewRecord struct {
	PullRequestID string
	ProjectID     string
	Title         string
	Author        string
	Status        string
	ReviewType    string
	SessionID     string
	Success       bool
	Score         *float64
	Summary       string
	Findings      []Finding
	CreatedAt     time.Time
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("cannot create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	logger.Debug("review store opened", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// DB exposes the underlying handle for read-only query tools.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// RecordReview upserts the pull request row and appends a review with its findings.
func (s *Store) RecordReview(ctx context.Context, rec ReviewRecord) (int64, error) {
	if rec.PullRequestID == "" {
		return 0, fmt.Errorf("record review: pull request id is required")
	}
	if rec.ReviewType == "" {
		rec.ReviewType = "STRUCTURED"
	}
	if rec.Status == "" {
		rec.Status = "OPEN"
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	ts := created.UTC().Format(timeLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("record review: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pull_requests (id, project_id, title, author, status, review_score, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			author = excluded.author,
			status = excluded.status,
			review_score = COALESCE(excluded.review_score, pull_requests.review_score)
	`, rec.PullRequestID, rec.ProjectID, rec.Title, rec.Author, rec.Status, rec.Score, ts); err != nil {
		return 0, fmt.Errorf("upsert pull request: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO code_reviews (pull_request_id, review_type, overall_score, created_at, session_id, success, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.PullRequestID, rec.ReviewType, rec.Score, ts, rec.SessionID, rec.Success, rec.Summary)
	if err != nil {
		return 0, fmt.Errorf("insert review: %w", err)
	}
	reviewID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert review: %w", err)
	}

	for _, f := range rec.Findings {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO review_findings (review_id, file_path, severity, category, message)
			VALUES (?, ?, ?, ?, ?)
		`, reviewID, f.FilePath, strings.ToUpper(f.Severity), f.Category, f.Message); err != nil {
			return 0, fmt.Errorf("insert finding: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("record review: %w", err)
	}
	s.logger.Debug("review recorded", "pull_request", rec.PullRequestID, "review_id", reviewID, "findings", len(rec.Findings))
	return reviewID, nil
}

// ReviewCount returns the number of reviews stored for a pull request.
func (s *Store) ReviewCount(ctx context.Context, pullRequestID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM code_reviews WHERE pull_request_id = ?", pullRequestID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count reviews: %w", err)
	}
	return n, nil
}
