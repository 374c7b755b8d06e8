package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/nisilag/telegram-analysis-service/internal/config"
	"github.com/nisilag/telegram-analysis-service/internal/database"
	"github.com/nisilag/telegram-analysis-service/internal/ingest"
	"github.com/nisilag/telegram-analysis-service/internal/report"
)

// IngestControl is the slice of the ingestion engine the operator commands
// need: counters, lifecycle state and manual window replays.
type IngestControl interface {
	Stats(ctx context.Context) (ingest.Stats, error)
	State() ingest.State
	Rescan(ctx context.Context, start, end time.Time, limit int) error
}

// HandlerDeps provides dependencies for Telegram command handlers.
type HandlerDeps struct {
	Logger   *slog.Logger
	Config   *config.Config
	Store    database.Store
	Reporter *report.Reporter
	Engine   IngestControl
}
