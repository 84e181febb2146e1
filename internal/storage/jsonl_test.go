package storage

import (
	"bytes"
	stdjson "encoding/json"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/chatrank/internal/models"
	"go.uber.org/zap"
)

func sampleMessages() []*models.ChatMessage {
	return []*models.ChatMessage{
		{ID: "1", Username: "alice", Content: "buy btc", Timestamp: 1704078000, TimestampLocal: "2024-01-01 10:00:00"},
		{ID: "2", Username: "bob", Content: "sell eth <now> & later", Timestamp: 1704078300, TimestampLocal: "2024-01-01 10:05:00"},
	}
}

func collect(t *testing.T, s MessageStore) ([]models.ChatMessage, ScanStats) {
	t.Helper()
	var out []models.ChatMessage
	stats, err := s.Scan(context.Background(), func(msg *models.ChatMessage) error {
		out = append(out, *msg)
		return nil
	})
	require.NoError(t, err)
	return out, stats
}

func newTestFileStorage(t *testing.T) *FileStorage {
	t.Helper()
	return NewFileStorage(filepath.Join(t.TempDir(), "chat.jsonl"), zap.NewNop())
}

func TestFileStorage_AppendAndScan(t *testing.T) {
	s := newTestFileStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, sampleMessages()))
	require.NoError(t, s.Append(ctx, []*models.ChatMessage{
		{ID: "3", Username: "alice", Content: "buy more", TimestampLocal: "2024-01-01 10:10:00"},
	}))

	msgs, stats := collect(t, s)
	require.Len(t, msgs, 3)
	assert.Equal(t, 3, stats.Records)
	assert.Equal(t, 0, stats.Skipped)
	assert.Equal(t, models.MessageID("1"), msgs[0].ID)
	assert.Equal(t, "sell eth <now> & later", msgs[1].Content)
	assert.Equal(t, models.MessageID("3"), msgs[2].ID)
}

func TestFileStorage_AppendEmptyBatchCreatesNothing(t *testing.T) {
	s := newTestFileStorage(t)
	require.NoError(t, s.Append(context.Background(), nil))

	_, err := os.Stat(s.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestFileStorage_LinesAreNotHTMLEscaped(t *testing.T) {
	s := newTestFileStorage(t)
	require.NoError(t, s.Append(context.Background(), sampleMessages()))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "<now> & later")
	assert.Equal(t, 2, bytes.Count(data, []byte("\n")))
}

func TestFileStorage_LinesAreStrictJSON(t *testing.T) {
	s := newTestFileStorage(t)
	require.NoError(t, s.Append(context.Background(), []*models.ChatMessage{
		{ID: "007", Username: "a", TimestampLocal: "2024-01-01 10:00:00"},
		{ID: "+5", Username: "b", TimestampLocal: "2024-01-01 10:00:00"},
		{ID: "42", Username: "c", TimestampLocal: "2024-01-01 10:00:00"},
	}))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	require.Len(t, lines, 3)
	for _, line := range lines {
		assert.True(t, stdjson.Valid(line), "%s", line)
	}
	assert.Contains(t, string(lines[0]), `"id":"007"`)
	assert.Contains(t, string(lines[2]), `"id":42`)
}

func TestFileStorage_ScanMissingFile(t *testing.T) {
	s := newTestFileStorage(t)
	_, err := s.Scan(context.Background(), func(*models.ChatMessage) error { return nil })
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFileStorage_ScanSkipsMalformedLines(t *testing.T) {
	s := newTestFileStorage(t)
	content := `{"id":1,"username":"alice","content":"a","timestamp_local":"2024-01-01 10:00:00"}
not json
{"id":2,"username":"bob",

{"id":3,"username":"carol","content":"c","timestamp_wib":"2024-01-01 11:00:00"}
`
	require.NoError(t, os.WriteFile(s.Path(), []byte(content), 0644))

	msgs, stats := collect(t, s)
	require.Len(t, msgs, 2)
	assert.Equal(t, 2, stats.Records)
	assert.Equal(t, 2, stats.Skipped)
	assert.Equal(t, "2024-01-01 11:00:00", msgs[1].TimestampLocal)
}

func TestFileStorage_ScanSkipsOversizedLines(t *testing.T) {
	s := newTestFileStorage(t)
	good1 := `{"id":1,"username":"alice","content":"a","timestamp_local":"2024-01-01 10:00:00"}`
	good2 := `{"id":2,"username":"bob","content":"b","timestamp_local":"2024-01-01 10:05:00"}`

	for _, size := range []int{2 << 20, maxLineSize + 1} {
		var content bytes.Buffer
		content.WriteString(good1 + "\n")
		content.Write(bytes.Repeat([]byte("x"), size))
		content.WriteString("\n" + good2 + "\n")
		require.NoError(t, os.WriteFile(s.Path(), content.Bytes(), 0644))

		msgs, stats := collect(t, s)
		require.Len(t, msgs, 2, "junk line of %d bytes", size)
		assert.Equal(t, 2, stats.Records)
		assert.Equal(t, 1, stats.Skipped)
		assert.Equal(t, models.MessageID("2"), msgs[1].ID)
	}
}

func TestFileStorage_ScanReadsUnterminatedLastLine(t *testing.T) {
	s := newTestFileStorage(t)
	content := `{"id":1,"username":"alice","content":"a","timestamp_local":"2024-01-01 10:00:00"}
{"id":2,"username":"bob","content":"b","timestamp_local":"2024-01-01 10:05:00"}`
	require.NoError(t, os.WriteFile(s.Path(), []byte(content), 0644))

	msgs, stats := collect(t, s)
	require.Len(t, msgs, 2)
	assert.Equal(t, 0, stats.Skipped)
	assert.Equal(t, "bob", msgs[1].Username)
}

func TestFileStorage_ScanStopsOnCallbackError(t *testing.T) {
	s := newTestFileStorage(t)
	require.NoError(t, s.Append(context.Background(), sampleMessages()))

	boom := errors.New("boom")
	calls := 0
	_, err := s.Scan(context.Background(), func(*models.ChatMessage) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestFileStorage_ExportCopiesRawLog(t *testing.T) {
	s := newTestFileStorage(t)
	require.NoError(t, s.Append(context.Background(), sampleMessages()))
	raw, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := s.Export(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len(raw)), n)
	assert.Equal(t, raw, buf.Bytes())
}

func TestFileStorage_ExportMissingFile(t *testing.T) {
	s := newTestFileStorage(t)
	_, err := s.Export(context.Background(), &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStorage_Reset(t *testing.T) {
	s := newTestFileStorage(t)
	require.NoError(t, s.Append(context.Background(), sampleMessages()))
	require.NoError(t, s.Reset(context.Background()))

	_, err := os.Stat(s.Path())
	assert.True(t, os.IsNotExist(err))

	// resetting twice is fine
	assert.NoError(t, s.Reset(context.Background()))
}
