package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const maxRescanHours = 24 * 7

// NewRescanHandler returns a handler for the /rescan command. Usage:
// /rescan <hours>. The replay runs through the normal processing path and
// never moves the checkpoint.
func NewRescanHandler(deps HandlerDeps) bot.HandlerFunc {
	return rescanHandler{deps}.Handle
}

type rescanHandler struct {
	deps HandlerDeps
}

func (h rescanHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "rescan")

	if update.Message == nil || update.Message.From == nil {
		return
	}
	chatID := update.Message.Chat.ID

	hours, err := parseRescanHours(update.Message.Text)
	if err != nil {
		sendText(ctx, b, log, chatID, "Usage: /rescan <hours> (1-168)")
		return
	}

	end := time.Now().UTC()
	start := end.Add(-time.Duration(hours) * time.Hour)
	log.InfoContext(ctx, "Handling /rescan command", "chat_id", chatID, "hours", hours)
	sendText(ctx, b, log, chatID, fmt.Sprintf("🔁 Rescanning the last %dh...", hours))

	if err := h.deps.Engine.Rescan(ctx, start, end, 0); err != nil {
		log.ErrorContext(ctx, "Manual rescan failed", "error", err)
		sendText(ctx, b, log, chatID, "❌ Rescan failed, check the logs.")
		return
	}
	sendText(ctx, b, log, chatID, "✅ Rescan complete.")
}

func parseRescanHours(text string) (int, error) {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return 0, fmt.Errorf("missing hours argument")
	}
	hours, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, fmt.Errorf("hours must be a number: %w", err)
	}
	if hours < 1 || hours > maxRescanHours {
		return 0, fmt.Errorf("hours out of range: %d", hours)
	}
	return hours, nil
}
