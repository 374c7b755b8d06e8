// Package tasks implements the scheduled background jobs: database
// maintenance and the daily report push. It includes task definitions,
// dependencies, and registration mechanisms.
package tasks

import (
	"log/slog"

	tgbot "github.com/go-telegram/bot"

	"github.com/nisilag/telegram-analysis-service/internal/config"
	"github.com/nisilag/telegram-analysis-service/internal/database"
	"github.com/nisilag/telegram-analysis-service/internal/report"
)

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger   *slog.Logger
	Store    database.Store
	Reporter *report.Reporter
	Config   *config.Config
	Bot      *tgbot.Bot
}
