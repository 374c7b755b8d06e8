package handlers

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewReportHandler returns a handler for the /report command. Usage:
// /report [days] [topic].
func NewReportHandler(deps HandlerDeps) bot.HandlerFunc {
	return reportHandler{deps}.Handle
}

type reportHandler struct {
	deps HandlerDeps
}

func (h reportHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "report")

	if update.Message == nil || update.Message.From == nil {
		return
	}
	chatID := update.Message.Chat.ID

	days, topic := parseReportArgs(update.Message.Text)
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -days)

	log.InfoContext(ctx, "Handling /report command",
		"chat_id", chatID, "days", days, "topic", topic)

	summary, err := h.deps.Reporter.Build(ctx, h.deps.Config.Telegram.ChatID, start, end, topic)
	if err != nil {
		log.ErrorContext(ctx, "Failed to build report", "error", err)
		sendText(ctx, b, log, chatID, "❌ Report failed, check the logs.")
		return
	}

	_, err = b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      summary.Markdown(),
		ParseMode: models.ParseModeMarkdown,
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to send report", "error", err, "chat_id", chatID)
	}
}

// parseReportArgs reads the optional day count and topic filter from the
// command text. "/report 7 BTC" covers a week of $BTC mentions.
func parseReportArgs(text string) (days int, topic string) {
	days = 1
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return days, ""
	}

	rest := fields[1:]
	if n, err := strconv.Atoi(rest[0]); err == nil {
		if n >= 1 && n <= 90 {
			days = n
		}
		rest = rest[1:]
	}
	if len(rest) > 0 {
		topic = strings.ToUpper(strings.TrimPrefix(rest[0], "$"))
	}
	return days, topic
}

func sendText(ctx context.Context, b *bot.Bot, log *slog.Logger, chatID int64, text string) {
	_, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text})
	if err != nil {
		log.ErrorContext(ctx, "Failed to send message", "error", err, "chat_id", chatID)
	}
}
