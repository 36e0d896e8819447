// Package store persists learner progress and committed transcript items.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/antoniostano/salut/internal/progress"
)

var ErrNotFound = errors.New("store: key not found")

// TranscriptRecord is one committed transcript item tied to a progress key
// and session.
type TranscriptRecord struct {
	ID          string    `json:"id"`
	ProgressKey string    `json:"progress_key"`
	SessionID   string    `json:"session_id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is a key-value progress store plus an append-only transcript log.
type Store interface {
	LoadProgress(ctx context.Context, key string) (progress.Progress, error)
	SaveProgress(ctx context.Context, key string, p progress.Progress) error
	// ResetProgress deletes the progress value and the key's transcript log.
	ResetProgress(ctx context.Context, key string) error
	SaveTranscript(ctx context.Context, record TranscriptRecord) error
	RecentTranscript(ctx context.Context, key string, limit int) ([]TranscriptRecord, error)
	Mode() string
	Close() error
}

// LoadOrNew returns stored progress, or a fresh value when none is stored.
func LoadOrNew(ctx context.Context, s Store, key string) (progress.Progress, error) {
	p, err := s.LoadProgress(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return progress.New(), nil
	}
	if err != nil {
		return progress.Progress{}, err
	}
	return progress.Normalize(p), nil
}
