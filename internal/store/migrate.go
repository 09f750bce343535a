package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// migration is a single schema step, applied exactly once and recorded in schema_version.
type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "base schema: pull_requests, code_reviews, review_findings",
		SQL: `
		CREATE TABLE IF NOT EXISTS pull_requests (
			id            TEXT PRIMARY KEY,
			project_id    TEXT DEFAULT '',
			title         TEXT NOT NULL DEFAULT '',
			author        TEXT NOT NULL DEFAULT '',
			status        TEXT NOT NULL DEFAULT 'OPEN',
			review_score  REAL,
			created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_pr_author ON pull_requests(author, created_at);

		CREATE TABLE IF NOT EXISTS code_reviews (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			pull_request_id  TEXT NOT NULL REFERENCES pull_requests(id) ON DELETE CASCADE,
			review_type      TEXT NOT NULL,
			overall_score    REAL,
			created_at       DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_reviews_time ON code_reviews(created_at);

		CREATE TABLE IF NOT EXISTS review_findings (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			review_id   INTEGER NOT NULL REFERENCES code_reviews(id) ON DELETE CASCADE,
			file_path   TEXT NOT NULL DEFAULT '',
			severity    TEXT NOT NULL DEFAULT 'LOW',
			category    TEXT NOT NULL DEFAULT '',
			message     TEXT DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_findings_review ON review_findings(review_id);
		`,
	},
	{
		Version:     2,
		Description: "v2: review outcome columns",
		SQL: `
		ALTER TABLE code_reviews ADD COLUMN session_id TEXT DEFAULT '';
		ALTER TABLE code_reviews ADD COLUMN success INTEGER DEFAULT 1;
		ALTER TABLE code_reviews ADD COLUMN summary TEXT DEFAULT '';
		`,
	},
}

// SchemaVersion is the version the store migrates to.
var SchemaVersion = migrations[len(migrations)-1].Version

// runMigrations applies pending migrations, each in its own transaction.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying migration", "version", m.Version, "description", m.Description)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.Version, err)
		}
	}
	return nil
}

func currentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return v, nil
}
