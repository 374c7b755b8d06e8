// Package app wires the service components together and manages their
// lifecycle: the MTProto source connection, the ingestion engine, the
// operator bot, and the observability listener.
package app

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/nisilag/telegram-analysis-service/internal/bot"
	"github.com/nisilag/telegram-analysis-service/internal/ingest"
	"github.com/nisilag/telegram-analysis-service/internal/metrics"
	"github.com/nisilag/telegram-analysis-service/internal/source/telegram"
)

// App holds the long-running components. Bot and Metrics may be nil when
// disabled in the configuration.
type App struct {
	Logger  *slog.Logger
	Source  *telegram.Client
	Engine  *ingest.Engine
	Bot     *bot.Bot
	Metrics *metrics.Server
}

// Run starts every component and blocks until the context is cancelled or
// one of them fails. A failure in any component tears the others down.
func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("Starting telegram source connection...")
		return a.Source.Run(gCtx)
	})

	g.Go(func() error {
		a.Logger.Info("Starting ingestion engine...")
		return a.Engine.Run(gCtx)
	})

	if a.Bot != nil {
		g.Go(func() error { return a.Bot.Run(gCtx) })
	}

	if a.Metrics != nil {
		g.Go(func() error { return a.Metrics.Run(gCtx) })
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
