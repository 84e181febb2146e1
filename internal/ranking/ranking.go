// Package ranking turns the chat log and the pending request into per-user
// activity rankings.
package ranking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xaenox/chatrank/internal/metrics"
	"github.com/xaenox/chatrank/internal/models"
	"github.com/xaenox/chatrank/internal/storage"
	"go.uber.org/zap"
)

// Query is a parsed RankingRequest.
type Query struct {
	Start     time.Time
	End       time.Time
	Keyword   string
	Usernames []string
	ByUser    bool
}

// ParseRequest validates req and normalizes its filters for matching.
func ParseRequest(req *models.RankingRequest, loc *time.Location) (Query, error) {
	start, err := time.ParseInLocation(models.RequestTimeLayout, req.Start, loc)
	if err != nil {
		return Query{}, fmt.Errorf("invalid start %q: %w", req.Start, err)
	}
	end, err := time.ParseInLocation(models.RequestTimeLayout, req.End, loc)
	if err != nil {
		return Query{}, fmt.Errorf("invalid end %q: %w", req.End, err)
	}

	q := Query{
		Start:   start,
		End:     end,
		Keyword: strings.ToLower(req.Keyword),
		ByUser:  req.ByUsername(),
	}
	for _, u := range req.Usernames {
		q.Usernames = append(q.Usernames, strings.ToLower(u))
	}
	return q, nil
}

// InRange reports whether at lies in [Start, End].
func (q Query) InRange(at time.Time) bool {
	return !at.Before(q.Start) && !at.After(q.End)
}

// Aggregator accumulates matching messages for one Query.
type Aggregator struct {
	query   Query
	loc     *time.Location
	wanted  map[string]struct{}
	users   map[string]*models.UserAggregate
	order   []string
	skipped int
}

func NewAggregator(q Query, loc *time.Location) *Aggregator {
	a := &Aggregator{
		query: q,
		loc:   loc,
		users: make(map[string]*models.UserAggregate),
	}
	if q.ByUser {
		a.wanted = make(map[string]struct{}, len(q.Usernames))
		for _, u := range q.Usernames {
			a.wanted[u] = struct{}{}
		}
	}
	return a
}

// Add applies the filters to msg and counts it when it matches. Messages
// with an unreadable local timestamp are skipped and counted.
func (a *Aggregator) Add(msg *models.ChatMessage) {
	at, err := msg.LocalTime(a.loc)
	if err != nil {
		a.skipped++
		return
	}
	if !a.query.InRange(at) {
		return
	}
	if a.query.Keyword != "" && !strings.Contains(strings.ToLower(msg.Content), a.query.Keyword) {
		return
	}
	name := strings.ToLower(msg.Username)
	if a.wanted != nil {
		if _, ok := a.wanted[name]; !ok {
			return
		}
	}

	u, ok := a.users[name]
	if !ok {
		u = &models.UserAggregate{Username: name}
		a.users[name] = u
		a.order = append(a.order, name)
	}
	u.Observe(msg, at)
}

// Skipped returns the number of messages rejected for a bad timestamp.
func (a *Aggregator) Skipped() int {
	return a.skipped
}

// Entries returns the final ordering: the requested list with placeholders
// in username mode, otherwise count descending with first-seen order kept
// on ties.
func (a *Aggregator) Entries() []models.UserAggregate {
	if a.query.ByUser {
		out := make([]models.UserAggregate, 0, len(a.query.Usernames))
		for _, name := range a.query.Usernames {
			if u, ok := a.users[name]; ok {
				out = append(out, *u)
			} else {
				out = append(out, models.NewPlaceholder(name))
			}
		}
		return out
	}

	out := make([]models.UserAggregate, 0, len(a.order))
	for _, name := range a.order {
		out = append(out, *a.users[name])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Count > out[j].Count
	})
	return out
}

// Engine computes the ranking for the pending request.
type Engine struct {
	messages storage.MessageStore
	requests storage.RequestStore
	loc      *time.Location
	metrics  metrics.Recorder
	logger   *zap.Logger
}

func NewEngine(messages storage.MessageStore, requests storage.RequestStore, loc *time.Location, m metrics.Recorder, logger *zap.Logger) *Engine {
	return &Engine{
		messages: messages,
		requests: requests,
		loc:      loc,
		metrics:  m,
		logger:   logger,
	}
}

func noData() *models.Ranking {
	return &models.Ranking{Entries: []models.UserAggregate{}, NoData: true}
}

// Compute reads the pending request and the chat log and returns the
// ranking. Any failure to read either yields a NoData ranking.
func (e *Engine) Compute(ctx context.Context) *models.Ranking {
	started := time.Now()
	defer func() {
		e.metrics.ObserveRankingDuration(time.Since(started))
	}()

	req, err := e.requests.Load(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			e.logger.Warn("Ignoring unreadable ranking request", zap.Error(err))
		}
		return noData()
	}

	q, err := ParseRequest(req, e.loc)
	if err != nil {
		e.logger.Warn("Ignoring invalid ranking request", zap.Error(err))
		return noData()
	}

	agg := NewAggregator(q, e.loc)
	stats, err := e.messages.Scan(ctx, func(msg *models.ChatMessage) error {
		agg.Add(msg)
		return nil
	})
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			e.logger.Error("Failed to scan chat log", zap.Error(err))
		}
		return noData()
	}

	skipped := stats.Skipped + agg.Skipped()
	e.metrics.SetSkippedRecords(skipped)
	if skipped > 0 {
		e.logger.Debug("Skipped malformed chat records", zap.Int("skipped", skipped))
	}

	if stats.Records == 0 {
		r := noData()
		r.Skipped = skipped
		return r
	}

	return &models.Ranking{
		Entries: agg.Entries(),
		Start:   req.Start,
		End:     req.End,
		Skipped: skipped,
	}
}
