package ranking

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/chatrank/internal/metrics"
	"github.com/xaenox/chatrank/internal/models"
	"github.com/xaenox/chatrank/internal/storage"
	"go.uber.org/zap"
)

var wib = time.FixedZone("WIB", 7*3600)

func scenarioMessages() []*models.ChatMessage {
	return []*models.ChatMessage{
		{ID: "1", Username: "alice", Content: "buy btc", TimestampLocal: "2024-01-01 10:00:00"},
		{ID: "2", Username: "bob", Content: "sell eth", TimestampLocal: "2024-01-01 10:05:00"},
		{ID: "3", Username: "alice", Content: "buy more", TimestampLocal: "2024-01-01 10:10:00"},
	}
}

func newEngine(t *testing.T, msgs []*models.ChatMessage, req *models.RankingRequest) (*Engine, *storage.MemoryStorage) {
	t.Helper()
	store := storage.NewMemoryStorage()
	require.NoError(t, store.Append(context.Background(), msgs))
	if req != nil {
		require.NoError(t, store.Save(context.Background(), req))
	}
	return NewEngine(store, store, wib, metrics.Noop{}, zap.NewNop()), store
}

func dayRequest() *models.RankingRequest {
	return &models.RankingRequest{Start: "2024-01-01 00:00", End: "2024-01-01 23:59"}
}

func TestCompute_RankedScenario(t *testing.T) {
	e, _ := newEngine(t, scenarioMessages(), dayRequest())

	r := e.Compute(context.Background())
	require.False(t, r.NoData)
	assert.Equal(t, "2024-01-01 00:00", r.Start)
	assert.Equal(t, "2024-01-01 23:59", r.End)
	require.Len(t, r.Entries, 2)

	assert.Equal(t, "alice", r.Entries[0].Username)
	assert.Equal(t, 2, r.Entries[0].Count)
	assert.Equal(t, "buy more", r.Entries[0].LastContent)
	assert.Equal(t, "2024-01-01 10:10:00", r.Entries[0].LastTime)

	assert.Equal(t, "bob", r.Entries[1].Username)
	assert.Equal(t, 1, r.Entries[1].Count)
	assert.Equal(t, "sell eth", r.Entries[1].LastContent)
	assert.Equal(t, "2024-01-01 10:05:00", r.Entries[1].LastTime)
}

func TestCompute_UsernameScenario(t *testing.T) {
	req := dayRequest()
	req.Mode = models.ModeUsername
	req.Usernames = []string{"Alice", "carol"}
	e, _ := newEngine(t, scenarioMessages(), req)

	r := e.Compute(context.Background())
	require.Len(t, r.Entries, 2)
	assert.Equal(t, "alice", r.Entries[0].Username)
	assert.Equal(t, 2, r.Entries[0].Count)
	assert.Equal(t, models.UserAggregate{Username: "carol", Count: 0, LastContent: "-", LastTime: "-"}, r.Entries[1])
}

func TestCompute_UsernameListWithoutModeIsIgnored(t *testing.T) {
	req := dayRequest()
	req.Usernames = []string{"carol"}
	e, _ := newEngine(t, scenarioMessages(), req)

	r := e.Compute(context.Background())
	assert.Len(t, r.Entries, 2)
}

func TestCompute_KeywordFilter(t *testing.T) {
	req := dayRequest()
	req.Keyword = "BUY"
	e, _ := newEngine(t, scenarioMessages(), req)

	r := e.Compute(context.Background())
	require.Len(t, r.Entries, 1)
	assert.Equal(t, "alice", r.Entries[0].Username)
	assert.Equal(t, 2, r.Entries[0].Count)
}

func TestCompute_TimeRangeInclusive(t *testing.T) {
	req := &models.RankingRequest{Start: "2024-01-01 10:05", End: "2024-01-01 10:10"}
	e, _ := newEngine(t, scenarioMessages(), req)

	r := e.Compute(context.Background())
	require.Len(t, r.Entries, 2)
	assert.Equal(t, 1, r.Entries[0].Count)
	assert.Equal(t, 1, r.Entries[1].Count)
	// tie keeps first-encountered order
	assert.Equal(t, "bob", r.Entries[0].Username)
	assert.Equal(t, "alice", r.Entries[1].Username)
}

func TestCompute_StartAfterEndIsEmptyNotNoData(t *testing.T) {
	req := &models.RankingRequest{Start: "2024-01-02 00:00", End: "2024-01-01 00:00"}
	e, _ := newEngine(t, scenarioMessages(), req)

	r := e.Compute(context.Background())
	assert.False(t, r.NoData)
	assert.Empty(t, r.Entries)
}

func TestCompute_NoRequest(t *testing.T) {
	e, _ := newEngine(t, scenarioMessages(), nil)

	r := e.Compute(context.Background())
	assert.True(t, r.NoData)
	assert.NotNil(t, r.Entries)
	assert.Empty(t, r.Entries)
}

func TestCompute_MalformedRequest(t *testing.T) {
	e, _ := newEngine(t, scenarioMessages(), &models.RankingRequest{Start: "yesterday", End: "2024-01-01 23:59"})
	assert.True(t, e.Compute(context.Background()).NoData)
}

func TestCompute_EmptyStore(t *testing.T) {
	e, _ := newEngine(t, nil, dayRequest())
	assert.True(t, e.Compute(context.Background()).NoData)
}

func TestCompute_MissingLogFile(t *testing.T) {
	dir := t.TempDir()
	requests := storage.NewRequestFile(filepath.Join(dir, "req.json"))
	require.NoError(t, requests.Save(context.Background(), dayRequest()))
	messages := storage.NewFileStorage(filepath.Join(dir, "chat.jsonl"), zap.NewNop())

	e := NewEngine(messages, requests, wib, metrics.Noop{}, zap.NewNop())
	assert.True(t, e.Compute(context.Background()).NoData)
}

func TestCompute_MalformedRecordsAreSkipped(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "chat.jsonl")
	content := `{"id":1,"username":"alice","content":"buy btc","timestamp_local":"2024-01-01 10:00:00"}
garbage line
{"id":2,"username":"bob","content":"sell eth","timestamp_local":"01/01/2024 10:05"}
{"id":3,"username":"alice","content":"buy more","timestamp_wib":"2024-01-01 10:10:00"}
`
	require.NoError(t, os.WriteFile(logPath, []byte(content), 0644))
	requests := storage.NewRequestFile(filepath.Join(dir, "req.json"))
	require.NoError(t, requests.Save(context.Background(), dayRequest()))

	e := NewEngine(storage.NewFileStorage(logPath, zap.NewNop()), requests, wib, metrics.Noop{}, zap.NewNop())
	r := e.Compute(context.Background())

	require.False(t, r.NoData)
	assert.Equal(t, 2, r.Skipped)
	require.Len(t, r.Entries, 1)
	assert.Equal(t, 2, r.Entries[0].Count)
}

type skippedRecorder struct {
	metrics.Noop
	last int
}

func (r *skippedRecorder) SetSkippedRecords(n int) { r.last = n }

func TestCompute_SkippedRecordsGaugeTracksLatestPass(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "chat.jsonl")
	content := `{"id":1,"username":"alice","content":"buy btc","timestamp_local":"2024-01-01 10:00:00"}
garbage line
{"id":2,"username":"bob","content":"sell eth","timestamp_local":"01/01/2024 10:05"}
`
	require.NoError(t, os.WriteFile(logPath, []byte(content), 0644))
	requests := storage.NewRequestFile(filepath.Join(dir, "req.json"))
	require.NoError(t, requests.Save(context.Background(), dayRequest()))

	rec := &skippedRecorder{}
	e := NewEngine(storage.NewFileStorage(logPath, zap.NewNop()), requests, wib, rec, zap.NewNop())

	e.Compute(context.Background())
	e.Compute(context.Background())
	assert.Equal(t, 2, rec.last)

	clean := `{"id":1,"username":"alice","content":"buy btc","timestamp_local":"2024-01-01 10:00:00"}
`
	require.NoError(t, os.WriteFile(logPath, []byte(clean), 0644))
	e.Compute(context.Background())
	assert.Equal(t, 0, rec.last)
}

func TestCompute_CaseFoldsUsernames(t *testing.T) {
	msgs := []*models.ChatMessage{
		{ID: "1", Username: "Alice", Content: "a", TimestampLocal: "2024-01-01 10:00:00"},
		{ID: "2", Username: "ALICE", Content: "b", TimestampLocal: "2024-01-01 11:00:00"},
	}
	e, _ := newEngine(t, msgs, dayRequest())

	r := e.Compute(context.Background())
	require.Len(t, r.Entries, 1)
	assert.Equal(t, "alice", r.Entries[0].Username)
	assert.Equal(t, 2, r.Entries[0].Count)
	assert.Equal(t, "b", r.Entries[0].LastContent)
}

func TestCompute_LatestByTimestampNotStorageOrder(t *testing.T) {
	msgs := []*models.ChatMessage{
		{ID: "1", Username: "alice", Content: "late", TimestampLocal: "2024-01-01 12:00:00"},
		{ID: "2", Username: "alice", Content: "early", TimestampLocal: "2024-01-01 09:00:00"},
	}
	e, _ := newEngine(t, msgs, dayRequest())

	r := e.Compute(context.Background())
	require.Len(t, r.Entries, 1)
	assert.Equal(t, "late", r.Entries[0].LastContent)
}

func TestCompute_CountSumEqualsMatchingRecords(t *testing.T) {
	var msgs []*models.ChatMessage
	users := []string{"a", "b", "c", "d"}
	for i := 0; i < 200; i++ {
		ts := time.Date(2024, 1, 1, 0, 0, 0, 0, wib).Add(time.Duration(i*13) * time.Minute)
		content := "hold"
		if i%3 == 0 {
			content = "BTC moon"
		}
		msgs = append(msgs, &models.ChatMessage{
			ID:             models.MessageID(strconv.Itoa(i)),
			Username:       users[i%len(users)],
			Content:        content,
			TimestampLocal: ts.Format(models.LocalTimeLayout),
		})
	}
	req := &models.RankingRequest{Start: "2024-01-01 06:00", End: "2024-01-02 06:00", Keyword: "btc"}
	q, err := ParseRequest(req, wib)
	require.NoError(t, err)

	expected := 0
	for _, m := range msgs {
		at, err := m.LocalTime(wib)
		require.NoError(t, err)
		if q.InRange(at) && m.Content == "BTC moon" {
			expected++
		}
	}

	e, _ := newEngine(t, msgs, req)
	r := e.Compute(context.Background())
	sum := 0
	for i, entry := range r.Entries {
		sum += entry.Count
		if i > 0 {
			assert.GreaterOrEqual(t, r.Entries[i-1].Count, entry.Count)
		}
	}
	assert.Equal(t, expected, sum)
	assert.Greater(t, expected, 0)
}

func TestCompute_UsernameModeLengthMatchesRequest(t *testing.T) {
	req := dayRequest()
	req.Mode = models.ModeUsername
	req.Usernames = []string{"zed", "alice", "bob", "alice", "yan"}
	e, _ := newEngine(t, scenarioMessages(), req)

	r := e.Compute(context.Background())
	require.Len(t, r.Entries, len(req.Usernames))
	for i, name := range req.Usernames {
		assert.Equal(t, name, r.Entries[i].Username)
	}
}

func TestCompute_Idempotent(t *testing.T) {
	e, _ := newEngine(t, scenarioMessages(), dayRequest())
	first := e.Compute(context.Background())
	second := e.Compute(context.Background())
	assert.Equal(t, first, second)
}

func TestParseRequest_Lowercases(t *testing.T) {
	q, err := ParseRequest(&models.RankingRequest{
		Start:     "2024-01-01 00:00",
		End:       "2024-01-01 23:59",
		Keyword:   "BTC",
		Usernames: []string{"Alice"},
		Mode:      models.ModeUsername,
	}, wib)
	require.NoError(t, err)
	assert.Equal(t, "btc", q.Keyword)
	assert.Equal(t, []string{"alice"}, q.Usernames)
	assert.True(t, q.ByUser)
	assert.Equal(t, wib, q.Start.Location())
}
