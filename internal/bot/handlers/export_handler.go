package handlers

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewExportHandler returns a handler for the /export command. Usage:
// /export [days]. The window is sent back as a CSV document.
func NewExportHandler(deps HandlerDeps) bot.HandlerFunc {
	return exportHandler{deps}.Handle
}

type exportHandler struct {
	deps HandlerDeps
}

func (h exportHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "export")

	if update.Message == nil || update.Message.From == nil {
		return
	}
	chatID := update.Message.Chat.ID

	days := parseExportDays(update.Message.Text)
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -days)

	log.InfoContext(ctx, "Handling /export command", "chat_id", chatID, "days", days)

	var buf bytes.Buffer
	n, err := h.deps.Reporter.ExportCSV(ctx, csv.NewWriter(&buf), h.deps.Config.Telegram.ChatID, start, end)
	if err != nil {
		log.ErrorContext(ctx, "Failed to export csv", "error", err)
		sendText(ctx, b, log, chatID, "❌ Export failed, check the logs.")
		return
	}
	if n == 0 {
		sendText(ctx, b, log, chatID, "Nothing to export for that window.")
		return
	}

	filename := fmt.Sprintf("feed_%s_%dd.csv", end.Format("20060102"), days)
	_, err = b.SendDocument(ctx, &bot.SendDocumentParams{
		ChatID:   chatID,
		Document: &models.InputFileUpload{Filename: filename, Data: &buf},
		Caption:  fmt.Sprintf("%d rows, last %dd", n, days),
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to send export document", "error", err, "chat_id", chatID)
	}
}

func parseExportDays(text string) int {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return 1
	}
	if n, err := strconv.Atoi(fields[1]); err == nil && n >= 1 && n <= 90 {
		return n
	}
	return 1
}
