package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewStatsHandler returns a handler for the /stats command.
func NewStatsHandler(deps HandlerDeps) bot.HandlerFunc {
	return statsHandler{deps}.Handle
}

type statsHandler struct {
	deps HandlerDeps
}

func (h statsHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "stats")

	if update.Message == nil || update.Message.From == nil {
		return
	}
	chatID := update.Message.Chat.ID

	log.InfoContext(ctx, "Handling /stats command", "chat_id", chatID)

	snap, err := h.deps.Engine.Stats(ctx)
	if err != nil {
		log.ErrorContext(ctx, "Failed to collect stats", "error", err)
		sendText(ctx, b, log, chatID, "❌ Stats unavailable, check the logs.")
		return
	}

	text := fmt.Sprintf(
		"Ingestion: %s\n\n"+
			"Ingested: %d\nAnalyzed: %d\nOverlap rescans: %d\n"+
			"Rate-limit wait: %.1fs\n"+
			"Checkpoint: %d\nLag: %s",
		h.deps.Engine.State(),
		snap.IngestedTotal, snap.AnalyzedTotal, snap.OverlapRescansTotal,
		snap.RateLimitWaitSecs,
		snap.CheckpointMessageID,
		(time.Duration(snap.LagSeconds * float64(time.Second))).Round(time.Second),
	)
	sendText(ctx, b, log, chatID, text)
}
