package dashboard

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/xaenox/chatrank/internal/models"
	"github.com/xaenox/chatrank/internal/poller"
	"go.uber.org/zap"
)

// NoDataMarker is the error value the page shows when there is nothing to
// rank.
const NoDataMarker = "Tidak ada DATA"

const dataCacheKey = "data"

//go:embed static/index.html
var indexHTML []byte

// Ranker produces the ranking for the pending request.
type Ranker interface {
	Compute(ctx context.Context) *models.Ranking
}

// StatsProvider exposes poller activity for /health.
type StatsProvider interface {
	Stats() poller.Stats
}

type Controller struct {
	ranker    Ranker
	stats     StatsProvider
	cache     Cache
	loc       *time.Location
	logger    *zap.Logger
	startTime time.Time
}

func NewController(ranker Ranker, stats StatsProvider, cache Cache, loc *time.Location, logger *zap.Logger) *Controller {
	return &Controller{
		ranker:    ranker,
		stats:     stats,
		cache:     cache,
		loc:       loc,
		logger:    logger,
		startTime: time.Now(),
	}
}

type dataResponse struct {
	Error   string                 `json:"error,omitempty"`
	Ranking []models.UserAggregate `json:"ranking"`
	TAwal   string                 `json:"t_awal"`
	TAkhir  string                 `json:"t_akhir"`
}

func (c *Controller) Index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(indexHTML)
}

func (c *Controller) Data(w http.ResponseWriter, r *http.Request) {
	if body, ok := c.cache.Get(dataCacheKey); ok {
		writeJSON(w, body)
		return
	}

	ranking := c.ranker.Compute(r.Context())

	resp := dataResponse{Ranking: []models.UserAggregate{}}
	if ranking.NoData || len(ranking.Entries) == 0 {
		resp.Error = NoDataMarker
	} else {
		resp.Ranking = ranking.Entries
		resp.TAwal = ranking.Start
		resp.TAkhir = ranking.End
	}

	body, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error("Failed to encode ranking", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	c.cache.Set(dataCacheKey, body)
	writeJSON(w, body)
}

type healthResponse struct {
	Status        string  `json:"status"`
	Uptime        string  `json:"uptime"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	SeenIDs       int     `json:"seen_ids"`
	LastPoll      string  `json:"last_poll"`
}

func (c *Controller) Health(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(c.startTime)
	resp := healthResponse{
		Status:        "ok",
		Uptime:        formatDuration(uptime),
		UptimeSeconds: uptime.Seconds(),
	}
	if c.stats != nil {
		s := c.stats.Stats()
		resp.SeenIDs = s.SeenIDs
		if !s.LastPoll.IsZero() {
			resp.LastPoll = s.LastPoll.In(c.loc).Format(models.LocalTimeLayout)
		}
	}

	body, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, body)
}

func writeJSON(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
}
