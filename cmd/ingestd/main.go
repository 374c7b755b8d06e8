// Package main contains the entrypoint for the ingestion service.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nisilag/telegram-analysis-service/internal/analyzer"
	"github.com/nisilag/telegram-analysis-service/internal/app"
	"github.com/nisilag/telegram-analysis-service/internal/bot"
	"github.com/nisilag/telegram-analysis-service/internal/bot/handlers"
	"github.com/nisilag/telegram-analysis-service/internal/config"
	"github.com/nisilag/telegram-analysis-service/internal/database"
	"github.com/nisilag/telegram-analysis-service/internal/ingest"
	"github.com/nisilag/telegram-analysis-service/internal/logger"
	"github.com/nisilag/telegram-analysis-service/internal/metrics"
	"github.com/nisilag/telegram-analysis-service/internal/report"
	"github.com/nisilag/telegram-analysis-service/internal/source/telegram"

	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes every component, starts the application, and returns an
// exit code (0 for success, 1 for failure).
func run(ctx context.Context) int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Log.Level, cfg.Log.JSON)
	log.Info("Logger initialized", "level", cfg.Log.Level, "json", cfg.Log.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to open database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	var classifier analyzer.SentimentClassifier
	if cfg.Analyzer.Gemini.APIKey != "" {
		classifier, err = analyzer.NewGeminiClassifier(ctx, analyzer.GeminiConfig{
			APIKey:      cfg.Analyzer.Gemini.APIKey,
			ModelName:   cfg.Analyzer.Gemini.Model,
			Temperature: cfg.Analyzer.Gemini.Temperature,
			MaxRetries:  cfg.Analyzer.Gemini.MaxRetries,
			RetryDelay:  cfg.Analyzer.Gemini.RetryDelay,
		}, log)
		if err != nil {
			log.Error("Failed to initialize Gemini classifier", "error", err)
			return 1
		}
	} else {
		log.Info("No Gemini API key configured, running heuristic-only analysis")
	}

	an := analyzer.New(log, analyzer.Config{
		ModelVersion:        cfg.Analyzer.ModelVersion,
		ConfidenceThreshold: cfg.Analyzer.ConfidenceThreshold,
	}, classifier)

	src := telegram.NewClient(log, telegram.Config{
		APIID:       cfg.Telegram.APIID,
		APIHash:     cfg.Telegram.APIHash,
		SessionFile: cfg.Telegram.SessionFile,
		ChatID:      cfg.Telegram.ChatID,
		Phone:       cfg.Telegram.Phone,
	})

	var (
		sink          *metrics.Metrics
		metricsServer *metrics.Server
	)
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		sink = metrics.New(reg)
		metricsServer = metrics.NewServer(log, cfg.Metrics.Addr, reg, store.Ping)
	}

	engine := ingest.New(log, ingest.Config{
		ChatID:           cfg.Telegram.ChatID,
		BatchSize:        cfg.Ingest.BatchSize,
		OverlapWindow:    cfg.Ingest.OverlapWindow,
		RateLimitDelay:   cfg.Ingest.RateLimitDelay,
		BatchErrorPause:  cfg.Ingest.BatchErrorPause,
		RescanFetchLimit: cfg.Ingest.RescanFetchLimit,
	}, src, store, an, sink)

	reporter := report.New(log, store)

	var operatorBot *bot.Bot
	if cfg.Bot.Token != "" {
		hDeps := handlers.HandlerDeps{
			Logger:   log,
			Config:   cfg,
			Store:    store,
			Reporter: reporter,
			Engine:   engine,
		}
		operatorBot, err = bot.New(log, cfg, hDeps)
		if err != nil {
			log.Error("Failed to create operator bot", "error", err)
			return 1
		}
	} else {
		log.Info("No bot token configured, running headless")
	}

	application := &app.App{
		Logger:  log,
		Source:  src,
		Engine:  engine,
		Bot:     operatorBot,
		Metrics: metricsServer,
	}

	log.Info("Starting service...")
	runErr := application.Run(ctx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Service stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Service stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}
