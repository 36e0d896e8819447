package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/salut/internal/progress"
)

// InMemoryStore is a process-local store for tests and ephemeral runs.
type InMemoryStore struct {
	mu       sync.RWMutex
	progress map[string]progress.Progress
	records  map[string][]TranscriptRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		progress: make(map[string]progress.Progress),
		records:  make(map[string][]TranscriptRecord),
	}
}

func (s *InMemoryStore) LoadProgress(_ context.Context, key string) (progress.Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.progress[key]
	if !ok {
		return progress.Progress{}, ErrNotFound
	}
	p.MasteredTopics = append([]string{}, p.MasteredTopics...)
	return p, nil
}

func (s *InMemoryStore) SaveProgress(_ context.Context, key string, p progress.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.MasteredTopics = append([]string{}, p.MasteredTopics...)
	s.progress[key] = p
	return nil
}

func (s *InMemoryStore) ResetProgress(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.progress, key)
	delete(s.records, key)
	return nil
}

func (s *InMemoryStore) SaveTranscript(_ context.Context, record TranscriptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	s.records[record.ProgressKey] = append(s.records[record.ProgressKey], record)
	return nil
}

func (s *InMemoryStore) RecentTranscript(_ context.Context, key string, limit int) ([]TranscriptRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.records[key]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]TranscriptRecord, 0, limit)
	for i := len(arr) - limit; i < len(arr); i++ {
		out = append(out, arr[i])
	}
	return out, nil
}

func (s *InMemoryStore) Mode() string { return "in-memory" }

func (s *InMemoryStore) Close() error { return nil }
