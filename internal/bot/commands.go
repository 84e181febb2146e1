package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xaenox/chatrank/internal/export"
	"github.com/xaenox/chatrank/internal/metrics"
	"github.com/xaenox/chatrank/internal/models"
	"github.com/xaenox/chatrank/internal/poller"
	"github.com/xaenox/chatrank/internal/storage"
	"github.com/xaenox/chatrank/internal/topics"
	"go.uber.org/zap"
)

const (
	CmdStart          = "start"
	CmdHelp           = "help"
	CmdRankAll        = "rank_all"
	CmdRankKeyword    = "rank_berdasarkan"
	CmdRankUsernames  = "rank_berdasarkan_username"
	CmdResetView      = "reset_data"
	CmdResetData      = "reset_2025"
	CmdExportAll      = "export_all"
	CmdExportRange    = "export_waktu"
	CmdTopics         = "topik"
	CmdStatus         = "status"
	rangeArgs         = 4
	rangeUsage        = "YYYY-MM-DD HH:MM YYYY-MM-DD HH:MM"
	requestAccepted   = "Silakan cek website untuk hasilnya."
	maxTopicsMessages = 5000
)

// Reply is the response to one command. A Document, when present, is a
// scratch file that must be released with Close after sending.
type Reply struct {
	Text     string
	Document *export.Artifact
}

func (r Reply) Close() error {
	return r.Document.Remove()
}

func text(format string, args ...any) Reply {
	return Reply{Text: fmt.Sprintf(format, args...)}
}

// StatsProvider exposes poller activity for /status.
type StatsProvider interface {
	Stats() poller.Stats
}

// Commands maps operator commands to storage operations. It does not know
// about the messaging transport.
type Commands struct {
	messages  storage.MessageStore
	requests  storage.RequestStore
	exporter  *export.Exporter
	extractor topics.Extractor
	stats     StatsProvider
	loc       *time.Location
	metrics   metrics.Recorder
	logger    *zap.Logger
}

func NewCommands(messages storage.MessageStore, requests storage.RequestStore, exporter *export.Exporter, extractor topics.Extractor, stats StatsProvider, loc *time.Location, m metrics.Recorder, logger *zap.Logger) *Commands {
	return &Commands{
		messages:  messages,
		requests:  requests,
		exporter:  exporter,
		extractor: extractor,
		stats:     stats,
		loc:       loc,
		metrics:   m,
		logger:    logger,
	}
}

// Handle runs command name with its space-separated arguments.
func (c *Commands) Handle(ctx context.Context, name string, args []string) Reply {
	c.metrics.IncCommands(name)

	switch name {
	case CmdStart, CmdHelp:
		return Reply{Text: helpText}
	case CmdRankAll:
		return c.rankAll(ctx, args)
	case CmdRankKeyword:
		return c.rankByKeyword(ctx, args)
	case CmdRankUsernames:
		return c.rankByUsernames(ctx, args)
	case CmdResetView:
		return c.resetView(ctx)
	case CmdResetData:
		return c.resetData(ctx)
	case CmdExportAll:
		return c.exportAll(ctx)
	case CmdExportRange:
		return c.exportRange(ctx, args)
	case CmdTopics:
		return c.topics(ctx, args)
	case CmdStatus:
		return c.status(ctx)
	default:
		return Reply{Text: "Perintah tidak dikenal. Gunakan /help untuk melihat daftar perintah."}
	}
}

const helpText = `Perintah yang tersedia:
/rank_all ` + rangeUsage + ` - ranking semua user
/rank_berdasarkan <kata> ` + rangeUsage + ` - ranking chat yang mengandung kata
/rank_berdasarkan_username <username1> <username2> ... ` + rangeUsage + ` - ranking user tertentu
/reset_data - reset tampilan website
/reset_2025 - hapus seluruh data chat
/export_all - kirim seluruh data chat
/export_waktu ` + rangeUsage + ` - kirim data chat pada rentang waktu
/topik ` + rangeUsage + ` - topik yang ramai dibahas
/status - status polling dan data`

type timeRange struct {
	start, end   string
	startT, endT time.Time
}

// parseRange reads "date time date time" into a range in c.loc.
func (c *Commands) parseRange(args []string) (timeRange, error) {
	r := timeRange{
		start: args[0] + " " + args[1],
		end:   args[2] + " " + args[3],
	}
	var err error
	if r.startT, err = time.ParseInLocation(models.RequestTimeLayout, r.start, c.loc); err != nil {
		return r, fmt.Errorf("waktu awal %q tidak valid", r.start)
	}
	if r.endT, err = time.ParseInLocation(models.RequestTimeLayout, r.end, c.loc); err != nil {
		return r, fmt.Errorf("waktu akhir %q tidak valid", r.end)
	}
	return r, nil
}

func (c *Commands) saveRequest(ctx context.Context, req *models.RankingRequest, accepted string) Reply {
	req.RequestedAt = time.Now()
	if err := c.requests.Save(ctx, req); err != nil {
		c.logger.Error("Failed to save ranking request", zap.Error(err))
		return text("Gagal menyimpan permintaan: %v", err)
	}
	return Reply{Text: accepted}
}

func (c *Commands) rankAll(ctx context.Context, args []string) Reply {
	usage := "Format: /" + CmdRankAll + " " + rangeUsage
	if len(args) != rangeArgs {
		return Reply{Text: usage}
	}
	r, err := c.parseRange(args)
	if err != nil {
		return text("%v. %s", err, usage)
	}
	return c.saveRequest(ctx, &models.RankingRequest{
		Start: r.start,
		End:   r.end,
		Mode:  models.ModeRanked,
	}, "Permintaan diterima! "+requestAccepted)
}

func (c *Commands) rankByKeyword(ctx context.Context, args []string) Reply {
	usage := "Format: /" + CmdRankKeyword + " <kata> " + rangeUsage
	if len(args) != rangeArgs+1 {
		return Reply{Text: usage}
	}
	r, err := c.parseRange(args[1:])
	if err != nil {
		return text("%v. %s", err, usage)
	}
	keyword := strings.ToLower(args[0])
	return c.saveRequest(ctx, &models.RankingRequest{
		Start:   r.start,
		End:     r.end,
		Keyword: keyword,
		Mode:    models.ModeRanked,
	}, fmt.Sprintf("Permintaan ranking berdasarkan kata '%s' diterima! %s", keyword, requestAccepted))
}

func (c *Commands) rankByUsernames(ctx context.Context, args []string) Reply {
	usage := "Format: /" + CmdRankUsernames + " <username1> <username2> ... " + rangeUsage
	if len(args) < rangeArgs+1 {
		return Reply{Text: usage}
	}
	split := len(args) - rangeArgs
	r, err := c.parseRange(args[split:])
	if err != nil {
		return text("%v. %s", err, usage)
	}
	usernames := append([]string(nil), args[:split]...)
	return c.saveRequest(ctx, &models.RankingRequest{
		Start:     r.start,
		End:       r.end,
		Usernames: usernames,
		Mode:      models.ModeUsername,
	}, "Permintaan ranking berdasarkan username diterima! "+requestAccepted)
}

func (c *Commands) resetView(ctx context.Context) Reply {
	if err := c.requests.Clear(ctx); err != nil {
		c.logger.Error("Failed to clear ranking request", zap.Error(err))
		return text("Gagal reset tampilan: %v", err)
	}
	return Reply{Text: "Tampilan website sudah direset. Data chat masih aman."}
}

func (c *Commands) resetData(ctx context.Context) Reply {
	if err := c.messages.Reset(ctx); err != nil {
		c.logger.Error("Failed to reset chat log", zap.Error(err))
		return text("Gagal reset data chat: %v", err)
	}
	c.logger.Warn("Chat log reset by operator")
	return Reply{Text: "Data chat berhasil direset (dihapus)."}
}

func (c *Commands) exportAll(ctx context.Context) Reply {
	art, err := c.exporter.All(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Reply{Text: "Belum ada data chat untuk dikirim."}
		}
		c.logger.Error("Failed to export chat log", zap.Error(err))
		return text("Gagal mengirim file: %v", err)
	}
	if art.Count == 0 {
		return Reply{Text: "Belum ada data chat untuk dikirim."}
	}
	return Reply{
		Text:     fmt.Sprintf("%d chat", art.Count),
		Document: art,
	}
}

func (c *Commands) exportRange(ctx context.Context, args []string) Reply {
	usage := "Format: /" + CmdExportRange + " " + rangeUsage
	if len(args) != rangeArgs {
		return Reply{Text: usage}
	}
	r, err := c.parseRange(args)
	if err != nil {
		return text("%v. %s", err, usage)
	}

	art, err := c.exporter.Range(ctx, r.startT, r.endT)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Reply{Text: "Tidak ada data pada rentang waktu tersebut."}
		}
		c.logger.Error("Failed to export chat range", zap.Error(err))
		return text("Gagal export data: %v", err)
	}
	if art.Count == 0 {
		return Reply{Text: "Tidak ada data pada rentang waktu tersebut."}
	}
	return Reply{
		Text:     fmt.Sprintf("%d chat, %s s/d %s", art.Count, r.start, r.end),
		Document: art,
	}
}

func (c *Commands) topics(ctx context.Context, args []string) Reply {
	usage := "Format: /" + CmdTopics + " " + rangeUsage
	if len(args) != rangeArgs {
		return Reply{Text: usage}
	}
	r, err := c.parseRange(args)
	if err != nil {
		return text("%v. %s", err, usage)
	}

	var contents []string
	_, err = c.messages.Scan(ctx, func(msg *models.ChatMessage) error {
		at, err := msg.LocalTime(c.loc)
		if err != nil || at.Before(r.startT) || at.After(r.endT) {
			return nil
		}
		contents = append(contents, msg.Content)
		if len(contents) > maxTopicsMessages {
			contents = contents[1:]
		}
		return nil
	})
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		c.logger.Error("Failed to read chat log for topics", zap.Error(err))
		return text("Gagal membaca data chat: %v", err)
	}
	if len(contents) == 0 {
		return Reply{Text: "Tidak ada data pada rentang waktu tersebut."}
	}

	res := c.extractor.Extract(ctx, contents)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Topik %s s/d %s (%d chat):\n", r.start, r.end, len(contents))
	for i, k := range res.Keywords {
		if k.Count > 0 {
			fmt.Fprintf(&sb, "%d. %s (%d)\n", i+1, k.Word, k.Count)
		} else {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, k.Word)
		}
	}
	if res.Summary != "" {
		sb.WriteString("\nRingkasan: " + res.Summary)
	}
	return Reply{Text: strings.TrimRight(sb.String(), "\n")}
}

func (c *Commands) status(ctx context.Context) Reply {
	var sb strings.Builder

	if c.stats != nil {
		s := c.stats.Stats()
		last := "-"
		if !s.LastPoll.IsZero() {
			last = s.LastPoll.In(c.loc).Format(models.LocalTimeLayout)
		}
		fmt.Fprintf(&sb, "Polling terakhir: %s\n", last)
		fmt.Fprintf(&sb, "Chat baru sejak start: %d\n", s.TotalStored)
		fmt.Fprintf(&sb, "Polling gagal: %d\n", s.TotalFailure)
		fmt.Fprintf(&sb, "ID tersimpan di memori: %d\n", s.SeenIDs)
	}

	stats, err := c.messages.Scan(ctx, func(*models.ChatMessage) error { return nil })
	switch {
	case err == nil:
		fmt.Fprintf(&sb, "Total chat: %d", stats.Records)
		if stats.Skipped > 0 {
			fmt.Fprintf(&sb, " (%d baris rusak)", stats.Skipped)
		}
		sb.WriteString("\n")
	case errors.Is(err, storage.ErrNotFound):
		sb.WriteString("Total chat: 0\n")
	default:
		fmt.Fprintf(&sb, "Gagal membaca data chat: %v\n", err)
	}

	req, err := c.requests.Load(ctx)
	switch {
	case err == nil:
		sb.WriteString("Permintaan aktif: " + req.Describe())
	case errors.Is(err, storage.ErrNotFound):
		sb.WriteString("Permintaan aktif: -")
	default:
		fmt.Fprintf(&sb, "Permintaan aktif tidak valid: %v", err)
	}
	return Reply{Text: sb.String()}
}
