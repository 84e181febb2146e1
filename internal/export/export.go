package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/xaenox/chatrank/internal/models"
	"github.com/xaenox/chatrank/internal/storage"
	"go.uber.org/zap"
)

// Attachment names presented to operators.
const (
	AllName      = "chat_indodax.jsonl"
	FilteredName = "chat_indodax_filtered.jsonl"
)

// Artifact is a scratch file holding an export. The caller owns it and must
// call Remove once it has been handed over.
type Artifact struct {
	Path  string
	Name  string
	Count int
	Bytes int64
}

func (a *Artifact) Remove() error {
	if a == nil || a.Path == "" {
		return nil
	}
	if err := os.Remove(a.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

type Exporter struct {
	store    storage.MessageStore
	loc      *time.Location
	dir      string
	compress bool
	logger   *zap.Logger
}

func NewExporter(store storage.MessageStore, loc *time.Location, dir string, compress bool, logger *zap.Logger) *Exporter {
	return &Exporter{
		store:    store,
		loc:      loc,
		dir:      dir,
		compress: compress,
		logger:   logger,
	}
}

// All exports the whole chat log.
func (e *Exporter) All(ctx context.Context) (*Artifact, error) {
	return e.write(AllName, func(w io.Writer) (int, error) {
		lc := &lineCounter{w: w}
		_, err := e.store.Export(ctx, lc)
		return lc.count(), err
	})
}

// Range exports records whose local timestamp lies in [start, end], in log
// order. Count is zero and no file is kept when nothing matches.
func (e *Exporter) Range(ctx context.Context, start, end time.Time) (*Artifact, error) {
	return e.write(FilteredName, func(w io.Writer) (int, error) {
		count := 0
		_, err := e.store.Scan(ctx, func(msg *models.ChatMessage) error {
			at, err := msg.LocalTime(e.loc)
			if err != nil || at.Before(start) || at.After(end) {
				return nil
			}
			line, err := storage.EncodeLine(msg)
			if err != nil {
				return err
			}
			if _, err := w.Write(line); err != nil {
				return err
			}
			count++
			return nil
		})
		return count, err
	})
}

func (e *Exporter) write(name string, fill func(io.Writer) (int, error)) (*Artifact, error) {
	if err := os.MkdirAll(e.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}

	ext := ".jsonl"
	if e.compress {
		name += ".zst"
		ext += ".zst"
	}
	path := filepath.Join(e.dir, "export-"+uuid.New().String()+ext)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch file: %w", err)
	}
	art := &Artifact{Path: path, Name: name}

	fail := func(err error) (*Artifact, error) {
		f.Close()
		if rmErr := art.Remove(); rmErr != nil {
			e.logger.Warn("Failed to remove scratch file", zap.Error(rmErr), zap.String("path", path))
		}
		return nil, err
	}

	var w io.Writer = f
	var enc *zstd.Encoder
	if e.compress {
		enc, err = zstd.NewWriter(f)
		if err != nil {
			return fail(fmt.Errorf("failed to create zstd encoder: %w", err))
		}
		w = enc
	}

	count, err := fill(w)
	if err != nil {
		if enc != nil {
			enc.Close()
		}
		return fail(err)
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return fail(fmt.Errorf("failed to flush zstd stream: %w", err))
		}
	}
	if err := f.Close(); err != nil {
		art.Remove()
		return nil, fmt.Errorf("failed to close scratch file: %w", err)
	}

	info, err := os.Stat(path)
	if err == nil {
		art.Bytes = info.Size()
	}
	art.Count = count

	if count == 0 {
		if err := art.Remove(); err != nil {
			e.logger.Warn("Failed to remove empty scratch file", zap.Error(err), zap.String("path", path))
		}
		return &Artifact{Name: name}, nil
	}
	return art, nil
}

type lineCounter struct {
	w       io.Writer
	lines   int
	partial bool
}

func (c *lineCounter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	if n > 0 {
		c.lines += bytes.Count(p[:n], []byte{'\n'})
		c.partial = p[n-1] != '\n'
	}
	return n, err
}

// count includes a final line that has no trailing newline.
func (c *lineCounter) count() int {
	if c.partial {
		return c.lines + 1
	}
	return c.lines
}
