package storage

import (
	"context"
	"io"
	"sync"

	"github.com/xaenox/chatrank/internal/models"
)

// MemoryStorage keeps the chat log and the pending request in process memory.
type MemoryStorage struct {
	mu       sync.RWMutex
	messages []models.ChatMessage
	request  *models.RankingRequest
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (s *MemoryStorage) Append(ctx context.Context, msgs []*models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range msgs {
		s.messages = append(s.messages, *msg)
	}
	return nil
}

func (s *MemoryStorage) Scan(ctx context.Context, fn func(*models.ChatMessage) error) (ScanStats, error) {
	s.mu.RLock()
	snapshot := make([]models.ChatMessage, len(s.messages))
	copy(snapshot, s.messages)
	s.mu.RUnlock()

	var stats ScanStats
	for i := range snapshot {
		stats.Records++
		if err := fn(&snapshot[i]); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func (s *MemoryStorage) Export(ctx context.Context, w io.Writer) (int64, error) {
	return exportByScan(ctx, s, w)
}

func (s *MemoryStorage) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = nil
	return nil
}

// Request methods
func (s *MemoryStorage) Save(ctx context.Context, req *models.RankingRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *req
	clone.Usernames = append([]string(nil), req.Usernames...)
	s.request = &clone
	return nil
}

func (s *MemoryStorage) Load(ctx context.Context) (*models.RankingRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.request == nil {
		return nil, ErrNotFound
	}
	clone := *s.request
	return &clone, nil
}

func (s *MemoryStorage) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.request = nil
	return nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
