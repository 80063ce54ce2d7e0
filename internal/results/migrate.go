package results

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// schemaStep is one forward-only change to the results schema.
type schemaStep struct {
	version int
	name    string
	stmts   []string
}

var schemaSteps = []schemaStep{
	{
		version: 1,
		name:    "survey_results table",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS survey_results (
				id              TEXT PRIMARY KEY,
				conversation_id TEXT NOT NULL,
				recipient_name  TEXT DEFAULT '',
				outcome         TEXT NOT NULL,
				answers         TEXT NOT NULL DEFAULT '{}',
				review_sent     INTEGER NOT NULL DEFAULT 0,
				started_at      DATETIME NOT NULL,
				ended_at        DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_results_conv ON survey_results(conversation_id)`,
		},
	},
	{
		version: 2,
		name:    "outcome and end-time indexes for status",
		stmts: []string{
			`CREATE INDEX IF NOT EXISTS idx_results_outcome ON survey_results(outcome)`,
			`CREATE INDEX IF NOT EXISTS idx_results_ended ON survey_results(ended_at)`,
		},
	},
}

// latestSchema is the version a fully migrated database reports.
var latestSchema = schemaSteps[len(schemaSteps)-1].version

// migrate brings db up to latestSchema. Each step commits with its
// schema_version row, so an interrupted upgrade resumes where it stopped.
func migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version     INTEGER PRIMARY KEY,
		description TEXT,
		applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	have, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}
	for _, step := range schemaSteps {
		if step.version <= have {
			continue
		}
		if err := applyStep(ctx, db, step); err != nil {
			return err
		}
		logger.Info("results schema upgraded", "version", step.version, "step", step.name)
	}
	return nil
}

func applyStep(ctx context.Context, db *sql.DB, step schemaStep) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("schema v%d: begin: %w", step.version, err)
	}
	defer tx.Rollback()

	for i, stmt := range step.stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema v%d: statement %d: %w", step.version, i+1, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)`,
		step.version, step.name,
	); err != nil {
		return fmt.Errorf("schema v%d: record: %w", step.version, err)
	}
	return tx.Commit()
}

// schemaVersion reports the highest applied step, or 0 for a new database.
func schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var tables int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_version'`,
	).Scan(&tables); err != nil {
		return 0, fmt.Errorf("inspect schema: %w", err)
	}
	if tables == 0 {
		return 0, nil
	}

	var v int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}
