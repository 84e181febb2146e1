package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/xaenox/chatrank/internal/models"
)

// RequestFile is a RequestStore backed by a small JSON file that is replaced
// atomically on every Save.
type RequestFile struct {
	mu   sync.Mutex
	path string
}

func NewRequestFile(path string) *RequestFile {
	return &RequestFile{path: path}
}

func (r *RequestFile) Save(ctx context.Context, req *models.RankingRequest) error {
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now()
	}
	data, err := json.MarshalNoEscape(req)
	if err != nil {
		return fmt.Errorf("error encoding request: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tmpFile := r.path + ".tmp"
	file, err := os.Create(tmpFile)
	if err != nil {
		return fmt.Errorf("error creating request file: %w", err)
	}

	if _, err = file.Write(data); err != nil {
		file.Close()
		os.Remove(tmpFile)
		return fmt.Errorf("error writing request file: %w", err)
	}

	if err = file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpFile)
		return fmt.Errorf("error syncing request file: %w", err)
	}

	if err = file.Close(); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("error closing request file: %w", err)
	}

	return os.Rename(tmpFile, r.path)
}

func (r *RequestFile) Load(ctx context.Context) (*models.RankingRequest, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error reading request file: %w", err)
	}

	req, err := models.DecodeRankingRequest(data)
	if err != nil {
		return nil, fmt.Errorf("error decoding request file: %w", err)
	}
	return req, nil
}

func (r *RequestFile) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.Remove(r.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("error removing request file: %w", err)
	}
	return nil
}
