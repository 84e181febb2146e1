package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"

	"github.com/xaenox/chatrank/internal/bot"
	"github.com/xaenox/chatrank/internal/dashboard"
	"github.com/xaenox/chatrank/internal/dedupe"
	"github.com/xaenox/chatrank/internal/export"
	"github.com/xaenox/chatrank/internal/metrics"
	"github.com/xaenox/chatrank/internal/poller"
	"github.com/xaenox/chatrank/internal/ranking"
	"github.com/xaenox/chatrank/internal/storage"
	"github.com/xaenox/chatrank/internal/topics"
	"github.com/xaenox/chatrank/pkg/config"
	"go.uber.org/zap"
)

const configPath = "config.yaml"

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = level
	return zc.Build()
}

func main() {
	// Bootstrap logger until the configured one is built
	logger, _ := zap.NewProduction()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", configPath))
	}

	if l, err := newLogger(cfg.Log); err != nil {
		logger.Warn("Invalid log config, keeping defaults", zap.Error(err))
	} else {
		logger = l
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc := cfg.Location()
	recorder := metrics.New(cfg.Metrics.Enabled)

	// Initialize storage
	var (
		messages storage.MessageStore
		requests storage.RequestStore
	)
	switch cfg.Storage.Driver {
	case "memory":
		logger.Info("Using in-memory storage")
		mem := storage.NewMemoryStorage()
		messages, requests = mem, mem
	case "postgres":
		logger.Info("Using PostgreSQL storage")
		dbConfig := storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		}
		messages, err = storage.NewPostgresStorage(dbConfig, logger)
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
		requests = storage.NewRequestFile(cfg.Storage.RequestPath)
	default:
		logger.Info("Using JSONL storage", zap.String("path", cfg.Storage.MessagesPath))
		messages = storage.NewFileStorage(cfg.Storage.MessagesPath, logger)
		requests = storage.NewRequestFile(cfg.Storage.RequestPath)
	}
	defer messages.Close()

	seen := dedupe.NewMemorySet(dedupe.WithMaxSize(cfg.Poller.SeenMax))
	p := poller.New(
		poller.NewHTTPSource(cfg.Poller.URL, cfg.Poller.Timeout),
		messages,
		seen,
		loc,
		cfg.Poller.Interval,
		recorder,
		logger,
	)
	if cfg.Poller.SeedFromStore {
		if err := p.Seed(ctx); err != nil {
			logger.Warn("Failed to seed seen ids from store", zap.Error(err))
		}
	}

	engine := ranking.NewEngine(messages, requests, loc, recorder, logger)
	exporter := export.NewExporter(messages, loc, cfg.Storage.ScratchDir, cfg.Export.Compress, logger)

	var extractor topics.Extractor = topics.NewSimpleExtractor(cfg.Topics.MaxKeywords)
	if cfg.OpenAI.APIKey != "" {
		logger.Info("Using GPT topic extractor", zap.String("model", cfg.OpenAI.Model))
		extractor = topics.NewGPTExtractor(
			cfg.OpenAI.APIKey,
			cfg.OpenAI.Model,
			cfg.OpenAI.MaxTokens,
			cfg.OpenAI.Temperature,
			cfg.Topics.MaxKeywords,
			logger,
		)
	}

	controller := dashboard.NewController(
		engine,
		p,
		dashboard.NewCache(cfg.Dashboard.CacheSizeMB, cfg.Dashboard.CacheTTL),
		loc,
		logger,
	)
	server := dashboard.NewServer(cfg.Dashboard.Host, cfg.Dashboard.Port, controller, recorder, logger)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Run(ctx); err != nil {
			logger.Error("Dashboard error", zap.Error(err))
			stop()
		}
	}()

	if cfg.Telegram.Token == "" {
		logger.Warn("No Telegram token configured, commands are disabled")
	} else {
		commands := bot.NewCommands(messages, requests, exporter, extractor, p, loc, recorder, logger)
		b, err := bot.New(cfg.Telegram.Token, cfg.Telegram.Debug, commands, logger)
		if err != nil {
			logger.Error("Failed to create bot", zap.Error(err))
			stop()
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := b.Start(ctx); err != nil {
					logger.Error("Bot error", zap.Error(err))
				}
			}()
		}
	}

	<-ctx.Done()
	logger.Info("Shutdown signal received")
	wg.Wait()
	logger.Info("Gracefully stopped")
}
