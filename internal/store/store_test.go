package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/antoniostano/salut/internal/progress"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	const key = "salut_french_progress_v1"

	if _, err := s.LoadProgress(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LoadProgress(empty) error = %v, want ErrNotFound", err)
	}
	p, err := LoadOrNew(ctx, s, key)
	if err != nil {
		t.Fatalf("LoadOrNew() error = %v", err)
	}
	if p.SessionsCompleted != 0 || p.CurrentLevel != progress.LevelBeginner {
		t.Fatalf("LoadOrNew() = %+v, want fresh progress", p)
	}

	p = progress.Commit(p, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	if err := s.SaveProgress(ctx, key, p); err != nil {
		t.Fatalf("SaveProgress() error = %v", err)
	}
	got, err := s.LoadProgress(ctx, key)
	if err != nil {
		t.Fatalf("LoadProgress() error = %v", err)
	}
	if got.SessionsCompleted != 1 || got.LastLessonDate == nil || *got.LastLessonDate != "2026-05-01" {
		t.Fatalf("LoadProgress() = %+v", got)
	}

	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, text := range []string{"Bonjour", "Salut", "Merci"} {
		err := s.SaveTranscript(ctx, TranscriptRecord{
			ProgressKey: key,
			SessionID:   "s1",
			Role:        "user",
			Content:     text,
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("SaveTranscript() error = %v", err)
		}
	}
	recent, err := s.RecentTranscript(ctx, key, 2)
	if err != nil {
		t.Fatalf("RecentTranscript() error = %v", err)
	}
	if len(recent) != 2 || recent[0].Content != "Salut" || recent[1].Content != "Merci" {
		t.Fatalf("RecentTranscript() = %+v, want [Salut Merci]", recent)
	}

	if err := s.ResetProgress(ctx, key); err != nil {
		t.Fatalf("ResetProgress() error = %v", err)
	}
	if _, err := s.LoadProgress(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LoadProgress(after reset) error = %v, want ErrNotFound", err)
	}
	if recent, _ := s.RecentTranscript(ctx, key, 10); len(recent) != 0 {
		t.Fatalf("RecentTranscript(after reset) = %d items, want 0", len(recent))
	}
}

func TestInMemoryStore(t *testing.T) {
	exerciseStore(t, NewInMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "salut.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestNewStoreSelectsBackend(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(ctx, "", "")
	if err != nil || s.Mode() != "in-memory" {
		t.Fatalf("NewStore(empty) = %v, %v", s, err)
	}
	s, err = NewStore(ctx, " ", filepath.Join(t.TempDir(), "p.db"))
	if err != nil {
		t.Fatalf("NewStore(sqlite) error = %v", err)
	}
	defer s.Close()
	if s.Mode() != "sqlite" {
		t.Fatalf("Mode() = %q, want sqlite", s.Mode())
	}
}
