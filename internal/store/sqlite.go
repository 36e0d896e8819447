package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/antoniostano/salut/internal/progress"
)

// SQLiteStore persists progress in a local database file.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS progress_kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS transcript_items (
			id TEXT PRIMARY KEY,
			progress_key TEXT NOT NULL,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_transcript_items_key_created ON transcript_items (progress_key, created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) LoadProgress(ctx context.Context, key string) (progress.Progress, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM progress_kv WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return progress.Progress{}, ErrNotFound
	}
	if err != nil {
		return progress.Progress{}, fmt.Errorf("load progress: %w", err)
	}
	var p progress.Progress
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return progress.Progress{}, fmt.Errorf("decode progress: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) SaveProgress(ctx context.Context, key string, p progress.Progress) error {
	raw, err := json.Marshal(progress.Normalize(p))
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO progress_kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(raw), time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ResetProgress(ctx context.Context, key string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM progress_kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("reset progress: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM transcript_items WHERE progress_key = ?`, key); err != nil {
		return fmt.Errorf("reset transcript: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) SaveTranscript(ctx context.Context, record TranscriptRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcript_items (id, progress_key, session_id, role, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		record.ID, record.ProgressKey, record.SessionID, record.Role, record.Content, record.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecentTranscript(ctx context.Context, key string, limit int) ([]TranscriptRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, progress_key, session_id, role, content, created_at
		 FROM transcript_items WHERE progress_key = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		key, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer rows.Close()

	items := make([]TranscriptRecord, 0, limit)
	for rows.Next() {
		var r TranscriptRecord
		var created int64
		if err := rows.Scan(&r.ID, &r.ProgressKey, &r.SessionID, &r.Role, &r.Content, &created); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}
		r.CreatedAt = time.UnixMilli(created).UTC()
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript rows: %w", err)
	}
	reverse(items)
	return items, nil
}

func (s *SQLiteStore) Mode() string { return "sqlite" }

func (s *SQLiteStore) Close() error { return s.db.Close() }

func reverse(items []TranscriptRecord) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}
