package storage

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/xaenox/chatrank/internal/models"
	"go.uber.org/zap"
)

// Lines above this size are skipped. It matches the largest upstream
// response the poller accepts.
const maxLineSize = 8 << 20

// FileStorage keeps the chat log as one JSON object per line.
type FileStorage struct {
	mu     sync.RWMutex
	path   string
	logger *zap.Logger
}

func NewFileStorage(path string, logger *zap.Logger) *FileStorage {
	return &FileStorage{
		path:   path,
		logger: logger,
	}
}

func (s *FileStorage) Path() string {
	return s.path
}

func (s *FileStorage) Append(ctx context.Context, msgs []*models.ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, msg := range msgs {
		line, err := EncodeLine(msg)
		if err != nil {
			return fmt.Errorf("error encoding message %s: %w", msg.ID, err)
		}
		buf.Write(line)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error opening chat log: %w", err)
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("error appending to chat log: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("error syncing chat log: %w", err)
	}
	return f.Close()
}

func (s *FileStorage) Scan(ctx context.Context, fn func(*models.ChatMessage) error) (ScanStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats ScanStats
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return stats, fmt.Errorf("chat log %s: %w", s.path, ErrNotFound)
		}
		return stats, fmt.Errorf("error opening chat log: %w", err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 64*1024)
	var buf []byte
	lineNo := 0
	for {
		line, tooLong, readErr := readLine(r, buf)
		buf = line
		if readErr != nil && readErr != io.EOF {
			return stats, fmt.Errorf("error reading chat log: %w", readErr)
		}

		lineNo++
		if lineNo%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
		}

		if tooLong {
			stats.Skipped++
			s.logger.Debug("Skipping oversized chat log line",
				zap.Int("line", lineNo),
				zap.Int("limit", maxLineSize))
		} else if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			msg, err := models.DecodeChatMessage(trimmed)
			if err != nil {
				stats.Skipped++
				s.logger.Debug("Skipping malformed chat log line",
					zap.Error(err),
					zap.Int("line", lineNo))
			} else {
				stats.Records++
				if err := fn(msg); err != nil {
					return stats, err
				}
			}
		}

		if readErr == io.EOF {
			return stats, nil
		}
	}
}

// readLine reads one newline-terminated line into buf. A line longer than
// maxLineSize is consumed up to its newline and reported as tooLong. At the
// end of the log err is io.EOF and line holds any unterminated tail.
func readLine(r *bufio.Reader, buf []byte) (line []byte, tooLong bool, err error) {
	buf = buf[:0]
	for {
		chunk, readErr := r.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(chunk) > maxLineSize {
				tooLong = true
				buf = buf[:0]
			} else {
				buf = append(buf, chunk...)
			}
		}
		if readErr == bufio.ErrBufferFull {
			continue
		}
		return buf, tooLong, readErr
	}
}

func (s *FileStorage) Export(ctx context.Context, w io.Writer) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("chat log %s: %w", s.path, ErrNotFound)
		}
		return 0, fmt.Errorf("error opening chat log: %w", err)
	}
	defer f.Close()

	return io.Copy(w, f)
}

func (s *FileStorage) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("error removing chat log: %w", err)
	}
	return nil
}

func (s *FileStorage) Close() error {
	return nil
}
