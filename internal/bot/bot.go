// Package bot implements the operator command bot: command registration,
// admin gating, and the scheduler for background jobs.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"golang.org/x/sync/errgroup"

	"github.com/nisilag/telegram-analysis-service/internal/bot/handlers"
	"github.com/nisilag/telegram-analysis-service/internal/bot/tasks"
	"github.com/nisilag/telegram-analysis-service/internal/config"
	"github.com/nisilag/telegram-analysis-service/internal/logger"
)

// Bot wires the Telegram command listener and the scheduler together and
// manages their lifecycle.
type Bot struct {
	logger    *slog.Logger
	tgBot     *tgbot.Bot
	scheduler *Scheduler
}

// New builds the operator bot, registering every command handler with its
// middleware chain and scheduling the background jobs.
func New(log *slog.Logger, cfg *config.Config, deps handlers.HandlerDeps) (*Bot, error) {
	opts := []tgbot.Option{
		tgbot.WithMiddlewares(logger.Middleware(log)),
		tgbot.WithDefaultHandler(func(context.Context, *tgbot.Bot, *models.Update) {}),
	}

	b, err := tgbot.New(cfg.Bot.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}

	for name, h := range handlers.RegisterAllCommands(deps) {
		b.RegisterHandler(h.HandlerType, h.Pattern, h.MatchType, h.Handler, h.Middleware...)
		log.Debug("Registered command", "command", name)
	}

	tDeps := tasks.TaskDeps{
		Logger:   log,
		Store:    deps.Store,
		Reporter: deps.Reporter,
		Config:   cfg,
		Bot:      b,
	}
	scheduler, err := NewScheduler(log, map[string]string{
		"sql_maintenance": cfg.Scheduler.SQLMaintenanceCron,
		"daily_report":    cfg.Scheduler.DailyReportCron,
	}, tasks.RegisterAllTasks(tDeps))
	if err != nil {
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}

	return &Bot{
		logger:    log.With("component", "bot"),
		tgBot:     b,
		scheduler: scheduler,
	}, nil
}

// Run starts the command listener and the scheduler, handling graceful
// shutdown on context cancellation.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting bot...")

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		b.logger.Info("Starting Telegram command listener...")
		b.tgBot.Start(gCtx)
		b.logger.Info("Telegram command listener stopped.")

		if gCtx.Err() == nil {
			return fmt.Errorf("telegram listener stopped unexpectedly")
		}
		return nil
	})

	g.Go(func() error {
		if err := b.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		<-gCtx.Done()
		b.logger.Info("Shutdown signal received, stopping scheduler...")
		if err := b.scheduler.Stop(); err != nil {
			b.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("Bot stopped due to error", "error", err)
		return err
	}

	b.logger.Info("Bot stopped gracefully.")
	return nil
}
