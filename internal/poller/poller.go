package poller

import (
	"context"
	"sync"
	"time"

	"github.com/xaenox/chatrank/internal/dedupe"
	"github.com/xaenox/chatrank/internal/metrics"
	"github.com/xaenox/chatrank/internal/models"
	"github.com/xaenox/chatrank/internal/storage"
	"go.uber.org/zap"
)

// Stats is a snapshot of poller activity.
type Stats struct {
	SeenIDs      int
	LastPoll     time.Time
	LastBatch    int
	TotalStored  int
	TotalFailure int
}

// Poller fetches chat history on a fixed cadence and appends unseen
// messages to the store.
type Poller struct {
	source   Source
	store    storage.MessageStore
	seen     dedupe.Set
	loc      *time.Location
	interval time.Duration
	metrics  metrics.Recorder
	logger   *zap.Logger

	mu    sync.Mutex
	stats Stats
}

func New(source Source, store storage.MessageStore, seen dedupe.Set, loc *time.Location, interval time.Duration, m metrics.Recorder, logger *zap.Logger) *Poller {
	return &Poller{
		source:   source,
		store:    store,
		seen:     seen,
		loc:      loc,
		interval: interval,
		metrics:  m,
		logger:   logger,
	}
}

// Seed records the IDs already present in the store.
func (p *Poller) Seed(ctx context.Context) error {
	stats, err := p.store.Scan(ctx, func(msg *models.ChatMessage) error {
		p.seen.SeenAndRecord(string(msg.ID))
		return nil
	})
	if err != nil {
		return err
	}
	p.metrics.SetSeenIDs(p.seen.Size())
	p.logger.Info("Seeded seen message IDs from store",
		zap.Int("records", stats.Records),
		zap.Int("skipped", stats.Skipped),
		zap.Int("seen_ids", p.seen.Size()))
	return nil
}

// PollOnce runs a single fetch/dedupe/append cycle and returns the number of
// stored messages.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	p.metrics.IncPolls()

	msgs, err := p.source.Fetch(ctx)
	if err != nil {
		p.recordFailure()
		return 0, err
	}

	fresh := make([]*models.ChatMessage, 0, len(msgs))
	for _, msg := range msgs {
		if p.seen.SeenAndRecord(string(msg.ID)) {
			continue
		}
		msg.Localize(p.loc)
		fresh = append(fresh, msg)
	}

	if err := p.store.Append(ctx, fresh); err != nil {
		for _, msg := range fresh {
			p.seen.Unrecord(string(msg.ID))
		}
		p.recordFailure()
		return 0, err
	}

	p.metrics.AddMessagesStored(len(fresh))
	p.metrics.SetSeenIDs(p.seen.Size())

	p.mu.Lock()
	p.stats.LastPoll = time.Now()
	p.stats.LastBatch = len(fresh)
	p.stats.TotalStored += len(fresh)
	p.mu.Unlock()

	return len(fresh), nil
}

func (p *Poller) recordFailure() {
	p.metrics.IncPollErrors()
	p.mu.Lock()
	p.stats.TotalFailure++
	p.mu.Unlock()
}

// Run polls until ctx is cancelled. Failed cycles are logged and retried
// at the same interval.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("Chatroom polling started", zap.Duration("interval", p.interval))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.tick(ctx)

		select {
		case <-ctx.Done():
			p.logger.Info("Chatroom polling stopped")
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	n, err := p.PollOnce(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.Warn("Chatroom poll failed", zap.Error(err))
		return
	}
	if n > 0 {
		p.logger.Info("Stored new chat messages", zap.Int("count", n))
	} else {
		p.logger.Debug("No new chat messages")
	}
}

func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.stats
	s.SeenIDs = p.seen.Size()
	return s
}
