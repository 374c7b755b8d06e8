package tasks

import (
	"context"
	"fmt"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// newDailyReportTask creates the scheduled task that builds the previous
// day's summary and pushes it to the admin chat.
func newDailyReportTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "daily_report")

	return func(ctx context.Context) error {
		log.InfoContext(ctx, "Starting scheduled daily report task...")
		startTime := time.Now()

		end := time.Now().UTC().Truncate(24 * time.Hour)
		start := end.Add(-24 * time.Hour)

		summary, err := deps.Reporter.Build(ctx, deps.Config.Telegram.ChatID, start, end, "")
		if err != nil {
			log.ErrorContext(ctx, "Daily report build failed", "error", err)
			return fmt.Errorf("daily report build failed: %w", err)
		}

		_, err = deps.Bot.SendMessage(ctx, &tgbot.SendMessageParams{
			ChatID:    deps.Config.Bot.AdminID,
			Text:      summary.Markdown(),
			ParseMode: models.ParseModeMarkdown,
		})
		if err != nil {
			log.ErrorContext(ctx, "Daily report delivery failed", "error", err)
			return fmt.Errorf("daily report delivery failed: %w", err)
		}

		log.InfoContext(ctx, "Scheduled daily report task completed successfully",
			"duration", time.Since(startTime))
		return nil
	}
}
