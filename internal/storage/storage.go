package storage

import (
	"context"
	"errors"
	"io"

	json "github.com/goccy/go-json"
	"github.com/xaenox/chatrank/internal/models"
)

// ErrNotFound is returned when the backing file or entry does not exist.
var ErrNotFound = errors.New("storage: not found")

// ScanStats summarizes one pass over a MessageStore.
type ScanStats struct {
	Records int
	Skipped int
}

// MessageStore is the append-only chat log.
type MessageStore interface {
	// Append writes msgs in order as one batch.
	Append(ctx context.Context, msgs []*models.ChatMessage) error
	// Scan calls fn for every decodable record in storage order. Records
	// that cannot be decoded are skipped and counted. An error from fn
	// stops the scan and is returned.
	Scan(ctx context.Context, fn func(*models.ChatMessage) error) (ScanStats, error)
	// Export writes the whole log to w as line-delimited JSON.
	Export(ctx context.Context, w io.Writer) (int64, error)
	// Reset removes every record.
	Reset(ctx context.Context) error
	Close() error
}

// RequestStore is the single-slot mailbox holding the live ranking request.
type RequestStore interface {
	Save(ctx context.Context, req *models.RankingRequest) error
	// Load returns ErrNotFound when no request is pending.
	Load(ctx context.Context) (*models.RankingRequest, error)
	Clear(ctx context.Context) error
}

// EncodeLine renders msg as one log line including the trailing newline.
func EncodeLine(msg *models.ChatMessage) ([]byte, error) {
	data, err := json.MarshalNoEscape(msg)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func exportByScan(ctx context.Context, s MessageStore, w io.Writer) (int64, error) {
	var written int64
	_, err := s.Scan(ctx, func(msg *models.ChatMessage) error {
		line, err := EncodeLine(msg)
		if err != nil {
			return err
		}
		n, err := w.Write(line)
		written += int64(n)
		return err
	})
	return written, err
}
