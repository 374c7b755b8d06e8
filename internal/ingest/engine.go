// Package ingest drives historical backfill, live message handling and
// periodic overlap re-scans for a single conversation feed, persisting
// progress as a monotonic checkpoint so restarts resume without gaps.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nisilag/telegram-analysis-service/internal/analyzer"
	"github.com/nisilag/telegram-analysis-service/internal/database"
	"github.com/nisilag/telegram-analysis-service/internal/metrics"
	"github.com/nisilag/telegram-analysis-service/internal/source"
)

// State reflects where the engine is in its lifecycle.
type State int32

const (
	StateIdle State = iota
	StateResolvingMark
	StateBackfilling
	StateLive
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolvingMark:
		return "resolving_mark"
	case StateBackfilling:
		return "backfilling"
	case StateLive:
		return "live"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config controls the engine's pacing and batching.
type Config struct {
	ChatID           int64
	BatchSize        int
	OverlapWindow    time.Duration
	RateLimitDelay   time.Duration // pacing pause between backfill batches
	BatchErrorPause  time.Duration // pause after a failed batch before skipping ahead
	RescanErrorPause time.Duration // pause before retrying a failed overlap pass
	RescanFetchLimit int
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.OverlapWindow <= 0 {
		c.OverlapWindow = 30 * time.Minute
	}
	if c.RateLimitDelay <= 0 {
		c.RateLimitDelay = time.Second
	}
	if c.BatchErrorPause <= 0 {
		c.BatchErrorPause = 5 * time.Second
	}
	if c.RescanErrorPause <= 0 {
		c.RescanErrorPause = time.Minute
	}
	if c.RescanFetchLimit <= 0 {
		c.RescanFetchLimit = 1000
	}
}

// Engine coordinates the ingestion flows for one chat. Create it with New
// and drive it with Run; Stop (or cancelling Run's context) shuts it down.
type Engine struct {
	logger *slog.Logger
	cfg    Config
	src    source.Source
	store  database.Store
	an     analyzer.Analyzer
	stats  *statsCollector

	state atomic.Int32

	cancelMu sync.Mutex
	cancel   context.CancelFunc

	// cpMu serializes read-compare-write checkpoint advances across the
	// backfill loop and the live handler.
	cpMu sync.Mutex

	// sleep and now are swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New builds an Engine. The metrics sink may be nil, in which case only the
// in-process counters are kept.
func New(logger *slog.Logger, cfg Config, src source.Source, store database.Store, an analyzer.Analyzer, sink *metrics.Metrics) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cfg.applyDefaults()
	return &Engine{
		logger: logger.With("component", "ingest", "chat_id", cfg.ChatID),
		cfg:    cfg,
		src:    src,
		store:  store,
		an:     an,
		stats:  newStatsCollector(sink),
		sleep:  sleepCtx,
		now:    time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// State reports the engine's current lifecycle state.
func (e *Engine) State() State { return State(e.state.Load()) }

func (e *Engine) setState(s State) { e.state.Store(int32(s)) }

// Run executes the full ingestion lifecycle: resolve the latest upstream
// mark, backfill from the checkpoint up to it, then go live with new/edit
// handlers and the periodic overlap re-scan. It blocks until the context is
// cancelled or a fatal error occurs.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.cancelMu.Lock()
	e.cancel = cancel
	e.cancelMu.Unlock()
	defer cancel()
	defer e.setState(StateStopped)

	e.setState(StateResolvingMark)
	mark, err := e.resolveLatestMark(ctx)
	if err != nil {
		return fmt.Errorf("resolving latest mark: %w", err)
	}

	e.setState(StateBackfilling)
	if err := e.backfill(ctx, mark); err != nil {
		return fmt.Errorf("backfill: %w", err)
	}

	e.setState(StateLive)
	e.src.Subscribe(e.handleNewMessage, e.handleEditedMessage)
	e.logger.Info("entering live mode", "overlap_window", e.cfg.OverlapWindow)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.rescanLoop(ctx) })
	g.Go(func() error { return e.src.Listen(ctx) })

	err = g.Wait()
	e.setState(StateStopping)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Stop cancels a running engine. It is safe to call more than once and
// before Run has started.
func (e *Engine) Stop() {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

// Stats returns a snapshot of the ingestion counters enriched with the
// current checkpoint position and lag.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	snap := e.stats.snapshot()
	snap.CollectedAt = e.now().UTC()

	cp, err := e.store.GetCheckpoint(ctx, e.cfg.ChatID)
	if err != nil {
		return snap, fmt.Errorf("reading checkpoint: %w", err)
	}
	if cp != nil {
		snap.CheckpointMessageID = cp.LastMessageID
		snap.LagSeconds = snap.CollectedAt.Sub(cp.LastTimestamp).Seconds()
		if snap.LagSeconds < 0 {
			// Checkpoint timestamps come from the provider's clock and may
			// run slightly ahead of ours.
			snap.LagSeconds = 0
		}
	}
	if e.stats.sink != nil && cp != nil {
		e.stats.sink.CheckpointMessageID.Set(float64(cp.LastMessageID))
		e.stats.sink.IngestLagSeconds.Set(snap.LagSeconds)
	}
	return snap, nil
}

// resolveLatestMark asks the upstream source for the newest message and
// records it so the backfill target survives restarts. A rate-limited answer
// is waited out and retried. A zero MessageID means the chat is empty.
func (e *Engine) resolveLatestMark(ctx context.Context) (source.LatestMark, error) {
	for {
		mark, err := e.src.GetLatest(ctx)
		if err != nil {
			if waited, werr := e.waitIfRateLimited(ctx, err); werr != nil {
				return mark, werr
			} else if waited {
				continue
			}
			return mark, err
		}
		if mark.MessageID == 0 {
			// Empty chat: persist a zero sentinel so the boundary survives a
			// crash before the first message arrives.
			mark.Timestamp = e.now().UTC()
			e.logger.Info("chat has no messages yet")
		}
		hwm := database.HighWaterMark{ChatID: e.cfg.ChatID, MessageID: mark.MessageID, Timestamp: mark.Timestamp}
		if err := e.store.SetHighWaterMark(ctx, hwm); err != nil {
			return mark, fmt.Errorf("persisting high-water mark: %w", err)
		}
		e.logger.Info("resolved latest mark", "message_id", mark.MessageID, "ts", mark.Timestamp)
		return mark, nil
	}
}

// backfill walks from the stored checkpoint up to the mark in ascending
// batches, advancing the checkpoint after each durably processed batch.
func (e *Engine) backfill(ctx context.Context, mark source.LatestMark) error {
	if mark.MessageID == 0 {
		return nil
	}

	cursor := int64(0)
	cp, err := e.store.GetCheckpoint(ctx, e.cfg.ChatID)
	if err != nil {
		return fmt.Errorf("reading checkpoint: %w", err)
	}
	if cp != nil {
		cursor = cp.LastMessageID
	}
	if cursor >= mark.MessageID {
		e.logger.Info("already caught up", "checkpoint", cursor, "mark", mark.MessageID)
		return nil
	}

	e.logger.Info("backfill starting", "from_exclusive", cursor, "to", mark.MessageID, "batch_size", e.cfg.BatchSize)

	for cursor < mark.MessageID {
		if err := ctx.Err(); err != nil {
			return err
		}

		batchMax := cursor + int64(e.cfg.BatchSize)
		if batchMax > mark.MessageID {
			batchMax = mark.MessageID
		}

		batch, err := e.src.FetchRange(ctx, cursor, batchMax, e.cfg.BatchSize)
		if err != nil {
			if waited, werr := e.waitIfRateLimited(ctx, err); werr != nil {
				return werr
			} else if waited {
				continue
			}
			// Transient batch failure: log, pause, skip past the failed
			// window rather than stall the whole backfill.
			e.logger.Error("batch fetch failed, skipping window",
				"after", cursor, "error", err)
			if serr := e.sleep(ctx, e.cfg.BatchErrorPause); serr != nil {
				return serr
			}
			cursor = batchMax
			continue
		}
		if len(batch) == 0 {
			// A gap (deleted messages) is not an error; move past it.
			cursor = batchMax
			if cursor < mark.MessageID {
				if err := e.sleep(ctx, e.cfg.RateLimitDelay); err != nil {
					return err
				}
			}
			continue
		}

		processed, lastID := e.processBatch(ctx, batch)
		if lastID > cursor {
			cursor = lastID
		} else {
			cursor = batchMax
		}
		// The checkpoint tracks the highest id observed, not the highest id
		// successfully processed; failed messages are the re-scan's job.
		if err := e.advanceCheckpoint(ctx, lastID, batch[len(batch)-1].Timestamp); err != nil {
			return err
		}
		e.logger.Debug("backfill batch done", "processed", processed, "cursor", cursor)

		if cursor < mark.MessageID {
			if err := e.sleep(ctx, e.cfg.RateLimitDelay); err != nil {
				return err
			}
		}
	}

	e.logger.Info("backfill complete", "checkpoint", cursor)
	return nil
}

// processBatch persists and analyzes each message. A failure on one message
// is logged and skipped; it never aborts the batch. Returns the number of
// messages durably stored and the highest id seen.
func (e *Engine) processBatch(ctx context.Context, batch []source.Message) (int, int64) {
	processed := 0
	var lastID int64
	for _, msg := range batch {
		if msg.MessageID > lastID {
			lastID = msg.MessageID
		}
		if err := e.processMessage(ctx, msg); err != nil {
			e.logger.Error("message processing failed", "message_id", msg.MessageID, "error", err)
			continue
		}
		processed++
	}
	return processed, lastID
}

func (e *Engine) processMessage(ctx context.Context, msg source.Message) error {
	if err := e.store.UpsertMessage(ctx, msg); err != nil {
		return fmt.Errorf("upserting message: %w", err)
	}
	e.stats.addIngested(1)

	res, err := e.an.Analyze(ctx, msg)
	if err != nil {
		return fmt.Errorf("analyzing message: %w", err)
	}
	if err := e.store.UpsertAnalysis(ctx, res); err != nil {
		return fmt.Errorf("upserting analysis: %w", err)
	}
	e.stats.addAnalyzed(1)
	return nil
}

// advanceCheckpoint moves the checkpoint forward, never backward. The mutex
// serializes concurrent advances from the live handler and loops; the store
// guards against regression a second time at the SQL level.
func (e *Engine) advanceCheckpoint(ctx context.Context, messageID int64, ts time.Time) error {
	e.cpMu.Lock()
	defer e.cpMu.Unlock()

	cp, err := e.store.GetCheckpoint(ctx, e.cfg.ChatID)
	if err != nil {
		return fmt.Errorf("reading checkpoint: %w", err)
	}
	if cp != nil && cp.LastMessageID >= messageID {
		return nil
	}
	cand := database.Checkpoint{ChatID: e.cfg.ChatID, LastMessageID: messageID, LastTimestamp: ts}
	if err := e.store.UpdateCheckpoint(ctx, cand); err != nil {
		return fmt.Errorf("updating checkpoint: %w", err)
	}
	return nil
}

// handleNewMessage processes a live message and advances the checkpoint.
func (e *Engine) handleNewMessage(ctx context.Context, msg source.Message) {
	if msg.ChatID != e.cfg.ChatID {
		return
	}
	if err := e.processMessage(ctx, msg); err != nil {
		e.logger.Error("live message failed", "message_id", msg.MessageID, "error", err)
		return
	}
	if err := e.advanceCheckpoint(ctx, msg.MessageID, msg.Timestamp); err != nil {
		e.logger.Error("checkpoint advance failed", "message_id", msg.MessageID, "error", err)
	}
}

// handleEditedMessage re-persists and re-analyzes an edited message. Edits
// never move the checkpoint: the id was already accounted for.
func (e *Engine) handleEditedMessage(ctx context.Context, msg source.Message) {
	if msg.ChatID != e.cfg.ChatID {
		return
	}
	if err := e.processMessage(ctx, msg); err != nil {
		e.logger.Error("edited message failed", "message_id", msg.MessageID, "error", err)
	}
}

// rescanLoop periodically replays the trailing overlap window to repair
// missed edits and dropped live updates. A failed pass is retried after a
// short pause instead of waiting a full window.
func (e *Engine) rescanLoop(ctx context.Context) error {
	for {
		if err := e.sleep(ctx, e.cfg.OverlapWindow); err != nil {
			return err
		}
		if err := e.overlapRescan(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			e.logger.Error("overlap rescan failed", "error", err)
			if serr := e.sleep(ctx, e.cfg.RescanErrorPause); serr != nil {
				return serr
			}
			continue
		}
		e.stats.addRescan()
	}
}

// overlapRescan re-fetches the trailing window and repairs stale analyses
// for messages edited since they were last analyzed.
func (e *Engine) overlapRescan(ctx context.Context) error {
	end := e.now().UTC()
	start := end.Add(-e.cfg.OverlapWindow)

	if err := e.Rescan(ctx, start, end, e.cfg.RescanFetchLimit); err != nil {
		return err
	}

	edited, err := e.store.GetEditedSince(ctx, e.cfg.ChatID)
	if err != nil {
		return fmt.Errorf("listing stale edits: %w", err)
	}
	for _, em := range edited {
		msg, err := e.src.FetchByID(ctx, em.MessageID)
		if err != nil {
			if waited, werr := e.waitIfRateLimited(ctx, err); werr != nil {
				return werr
			} else if waited {
				msg, err = e.src.FetchByID(ctx, em.MessageID)
			}
			if err != nil {
				e.logger.Error("edited message refetch failed", "message_id", em.MessageID, "error", err)
				continue
			}
		}
		if msg == nil {
			continue // deleted upstream
		}
		if err := e.processMessage(ctx, *msg); err != nil {
			e.logger.Error("edited message reprocess failed", "message_id", em.MessageID, "error", err)
		}
	}
	return nil
}

// Rescan replays a time window through the normal processing path. It is
// idempotent and never moves the checkpoint, so it is safe to invoke
// manually for any historical range.
func (e *Engine) Rescan(ctx context.Context, start, end time.Time, limit int) error {
	for {
		batch, err := e.src.FetchTimeRange(ctx, start, end, limit)
		if err != nil {
			if waited, werr := e.waitIfRateLimited(ctx, err); werr != nil {
				return werr
			} else if waited {
				continue
			}
			return fmt.Errorf("fetching window: %w", err)
		}
		processed, _ := e.processBatch(ctx, batch)
		e.logger.Info("rescan window done", "start", start, "end", end, "processed", processed)
		return nil
	}
}

// waitIfRateLimited sleeps out a provider-imposed delay. Returns true when
// the error was a rate limit and the caller should retry.
func (e *Engine) waitIfRateLimited(ctx context.Context, err error) (bool, error) {
	var rl *source.RateLimitedError
	if !errors.As(err, &rl) {
		return false, nil
	}
	e.logger.Warn("rate limited", "retry_after", rl.RetryAfter)
	e.stats.addRateLimitWait(rl.RetryAfter)
	if serr := e.sleep(ctx, rl.RetryAfter); serr != nil {
		return false, serr
	}
	return true, nil
}
