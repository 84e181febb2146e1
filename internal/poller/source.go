package poller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/xaenox/chatrank/internal/models"
)

// ErrUnsuccessful is returned when the exchange reports success=false.
var ErrUnsuccessful = errors.New("chatroom api reported failure")

const maxResponseSize = 8 << 20

// Source fetches the most recent chatroom messages.
type Source interface {
	Fetch(ctx context.Context) ([]*models.ChatMessage, error)
}

type historyResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Content []historyMessage `json:"content"`
	} `json:"data"`
}

type historyMessage struct {
	ID        models.MessageID `json:"id"`
	Username  string           `json:"username"`
	Content   string           `json:"content"`
	Timestamp json.Number      `json:"timestamp"`
}

// HTTPSource polls the exchange chat history endpoint.
type HTTPSource struct {
	client *http.Client
	url    string
}

func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		client: &http.Client{Timeout: timeout},
		url:    url,
	}
}

func (s *HTTPSource) Fetch(ctx context.Context) ([]*models.ChatMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chat history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d from chat history", resp.StatusCode)
	}

	var payload historyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode chat history: %w", err)
	}
	if !payload.Success {
		return nil, ErrUnsuccessful
	}

	msgs := make([]*models.ChatMessage, 0, len(payload.Data.Content))
	for _, item := range payload.Data.Content {
		ts, err := parseUnix(item.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("message %s has invalid timestamp %q: %w", item.ID, item.Timestamp, err)
		}
		msgs = append(msgs, &models.ChatMessage{
			ID:        item.ID,
			Username:  item.Username,
			Content:   item.Content,
			Timestamp: ts,
		})
	}
	return msgs, nil
}

func parseUnix(n json.Number) (int64, error) {
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	if strings.ContainsAny(n.String(), ".eE") {
		f, err := n.Float64()
		if err != nil {
			return 0, err
		}
		return int64(f), nil
	}
	return 0, fmt.Errorf("not a number")
}
