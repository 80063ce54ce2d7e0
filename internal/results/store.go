// Package results keeps a record of finished surveys in SQLite.
package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"surveybot/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.ResultStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := migrate(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

// DB exposes the underlying handle for health checks and backups.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) RecordResult(ctx context.Context, r domain.SurveyResult) error {
	answers, err := encodeAnswers(r.Answers)
	if err != nil {
		return err
	}
	if r.EndedAt.IsZero() {
		r.EndedAt = time.Now()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = r.EndedAt
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO survey_results (id, conversation_id, recipient_name, outcome, answers, review_sent, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ConversationID, r.RecipientName, string(r.Outcome), answers, r.ReviewSent, r.StartedAt.UTC(), r.EndedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert survey result %s: %w", r.ID, err)
	}
	return nil
}

// ListResults returns the most recent results first. limit <= 0 means 50.
func (s *SQLiteStore) ListResults(ctx context.Context, limit int) ([]domain.SurveyResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, recipient_name, outcome, answers, review_sent, started_at, ended_at
		 FROM survey_results ORDER BY ended_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SurveyResult
	for rows.Next() {
		var (
			r       domain.SurveyResult
			outcome string
			answers string
		)
		if err := rows.Scan(&r.ID, &r.ConversationID, &r.RecipientName, &outcome, &answers, &r.ReviewSent, &r.StartedAt, &r.EndedAt); err != nil {
			return nil, err
		}
		r.Outcome = domain.SurveyOutcome(outcome)
		if r.Answers, err = decodeAnswers(answers); err != nil {
			return nil, fmt.Errorf("result %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CountByOutcome(ctx context.Context) (map[domain.SurveyOutcome]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM survey_results GROUP BY outcome`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.SurveyOutcome]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[domain.SurveyOutcome(outcome)] = n
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Answers are stored as a JSON object keyed by question id.
func encodeAnswers(answers map[int]string) (string, error) {
	m := make(map[string]string, len(answers))
	for id, a := range answers {
		m[strconv.Itoa(id)] = a
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode answers: %w", err)
	}
	return string(data), nil
}

func decodeAnswers(raw string) (map[int]string, error) {
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decode answers: %w", err)
	}
	out := make(map[int]string, len(m))
	for k, v := range m {
		id, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("decode answers: question id %q: %w", k, err)
		}
		out[id] = v
	}
	return out, nil
}
