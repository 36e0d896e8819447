package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/antoniostano/salut/internal/progress"
)

// PostgresStore persists progress and transcripts in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tutor_progress (
			key TEXT PRIMARY KEY,
			value JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS tutor_transcript_items (
			id TEXT PRIMARY KEY,
			progress_key TEXT NOT NULL,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tutor_transcript_key_created ON tutor_transcript_items (progress_key, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) LoadProgress(ctx context.Context, key string) (progress.Progress, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM tutor_progress WHERE key=$1`, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return progress.Progress{}, ErrNotFound
	}
	if err != nil {
		return progress.Progress{}, fmt.Errorf("load progress: %w", err)
	}
	var p progress.Progress
	if err := json.Unmarshal(raw, &p); err != nil {
		return progress.Progress{}, fmt.Errorf("decode progress: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) SaveProgress(ctx context.Context, key string, p progress.Progress) error {
	raw, err := json.Marshal(progress.Normalize(p))
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO tutor_progress (key, value, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, raw,
	)
	if err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}

func (s *PostgresStore) ResetProgress(ctx context.Context, key string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM tutor_progress WHERE key=$1`, key); err != nil {
			return fmt.Errorf("reset progress: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM tutor_transcript_items WHERE progress_key=$1`, key); err != nil {
			return fmt.Errorf("reset transcript: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) SaveTranscript(ctx context.Context, record TranscriptRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO tutor_transcript_items (id, progress_key, session_id, role, content, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		record.ID,
		record.ProgressKey,
		record.SessionID,
		record.Role,
		record.Content,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentTranscript(ctx context.Context, key string, limit int) ([]TranscriptRecord, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, progress_key, session_id, role, content, created_at
		 FROM tutor_transcript_items WHERE progress_key=$1 ORDER BY created_at DESC LIMIT $2`,
		key,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer rows.Close()

	items := make([]TranscriptRecord, 0, limit)
	for rows.Next() {
		var r TranscriptRecord
		if err := rows.Scan(&r.ID, &r.ProgressKey, &r.SessionID, &r.Role, &r.Content, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript rows: %w", err)
	}

	// Chronological order for the persona instruction.
	reverse(items)
	return items, nil
}

func (s *PostgresStore) Mode() string { return "postgres" }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
