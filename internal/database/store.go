package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nisilag/telegram-analysis-service/internal/analyzer"
	"github.com/nisilag/telegram-analysis-service/internal/source"
)

// Store defines the interface for database operations used by the ingestion
// engine and the reporting surfaces. All writes are idempotent upserts so
// that backfill, live merge, and overlap re-scan may overlap freely.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// UpsertMessage inserts or updates a raw message. A conflicting row is
	// only rewritten when the incoming message carries a strictly newer edit.
	UpsertMessage(ctx context.Context, msg source.Message) error

	// UpsertAnalysis inserts or replaces the analysis for a message.
	UpsertAnalysis(ctx context.Context, a analyzer.Analysis) error

	// GetCheckpoint returns the checkpoint for a chat, or nil, nil when the
	// chat has never been checkpointed.
	GetCheckpoint(ctx context.Context, chatID int64) (*Checkpoint, error)

	// UpdateCheckpoint advances the checkpoint. last_message_id never
	// regresses: a candidate below the stored value leaves the row untouched.
	UpdateCheckpoint(ctx context.Context, cp Checkpoint) error

	// SetHighWaterMark persists the backfill boundary captured at start.
	SetHighWaterMark(ctx context.Context, hwm HighWaterMark) error

	// GetHighWaterMark returns the persisted boundary, or nil, nil.
	GetHighWaterMark(ctx context.Context, chatID int64) (*HighWaterMark, error)

	// GetEditedSince lists messages whose edit timestamp is newer than their
	// last analysis (or that were never analyzed despite an edit).
	GetEditedSince(ctx context.Context, chatID int64) ([]EditedMessage, error)

	// ReportRows returns joined message+analysis rows for a time range,
	// newest first, optionally filtered by topic/token substring.
	ReportRows(ctx context.Context, chatID int64, start, end time.Time, topicFilter string, limit int) ([]ReportRow, error)

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// messageRow is the messages table shape for named queries.
type messageRow struct {
	ChatID       int64          `db:"chat_id"`
	MessageID    int64          `db:"message_id"`
	Timestamp    time.Time      `db:"ts_utc"`
	FromUserID   sql.NullInt64  `db:"from_user_id"`
	FromUsername sql.NullString `db:"from_username"`
	IsForwarded  bool           `db:"is_forwarded"`
	ForwardFrom  sql.NullString `db:"forward_from"`
	Text         string         `db:"text"`
	URLs         StringList     `db:"urls"`
	ReplyToID    sql.NullInt64  `db:"reply_to_id"`
	EditTS       sql.NullTime   `db:"edit_ts_utc"`
	CreatedAt    time.Time      `db:"created_at"`
}

func newMessageRow(msg source.Message) messageRow {
	row := messageRow{
		ChatID:      msg.ChatID,
		MessageID:   msg.MessageID,
		Timestamp:   msg.Timestamp.UTC(),
		IsForwarded: msg.IsForwarded,
		Text:        msg.Text,
		URLs:        StringList(msg.URLs),
		CreatedAt:   time.Now().UTC(),
	}
	if msg.FromUserID != nil {
		row.FromUserID = sql.NullInt64{Int64: *msg.FromUserID, Valid: true}
	}
	if msg.FromUsername != nil {
		row.FromUsername = sql.NullString{String: *msg.FromUsername, Valid: true}
	}
	if msg.ForwardFrom != nil {
		row.ForwardFrom = sql.NullString{String: *msg.ForwardFrom, Valid: true}
	}
	if msg.ReplyToID != nil {
		row.ReplyToID = sql.NullInt64{Int64: *msg.ReplyToID, Valid: true}
	}
	if msg.EditTimestamp != nil {
		row.EditTS = sql.NullTime{Time: msg.EditTimestamp.UTC(), Valid: true}
	}
	return row
}

// UpsertMessage inserts or updates a message. The conflict clause only
// rewrites text/urls/edit_ts_utc when the incoming edit is strictly newer
// than the stored one, so a stale redelivery can never clobber an edit.
func (s *sqlxStore) UpsertMessage(ctx context.Context, msg source.Message) error {
	if msg.ChatID == 0 || msg.MessageID == 0 {
		return fmt.Errorf("message must have non-zero chat_id and message_id")
	}
	if msg.Timestamp.IsZero() {
		return fmt.Errorf("message %d must have a non-zero timestamp", msg.MessageID)
	}

	query := `
        INSERT INTO messages (
            chat_id, message_id, ts_utc, from_user_id, from_username,
            is_forwarded, forward_from, text, urls, reply_to_id, edit_ts_utc, created_at
        ) VALUES (
            :chat_id, :message_id, :ts_utc, :from_user_id, :from_username,
            :is_forwarded, :forward_from, :text, :urls, :reply_to_id, :edit_ts_utc, :created_at
        )
        ON CONFLICT (chat_id, message_id) DO UPDATE SET
            text = excluded.text,
            urls = excluded.urls,
            edit_ts_utc = excluded.edit_ts_utc
        WHERE messages.edit_ts_utc IS NULL OR messages.edit_ts_utc < excluded.edit_ts_utc;
    `

	if _, err := s.db.NamedExecContext(ctx, query, newMessageRow(msg)); err != nil {
		s.logger.ErrorContext(ctx, "Error upserting message",
			"chat_id", msg.ChatID, "message_id", msg.MessageID, "error", err)
		return fmt.Errorf("failed to upsert message (chat %d, id %d): %w", msg.ChatID, msg.MessageID, err)
	}

	s.logger.DebugContext(ctx, "Message upserted", "chat_id", msg.ChatID, "message_id", msg.MessageID)
	return nil
}

// analysisRow is the analysis table shape for named queries.
type analysisRow struct {
	ChatID       int64           `db:"chat_id"`
	MessageID    int64           `db:"message_id"`
	IsInvestment bool            `db:"is_investment"`
	Sentiment    string          `db:"sentiment"`
	Tokens       StringList      `db:"tokens"`
	TopicKey     string          `db:"topic_key"`
	KeyPoints    StringList      `db:"key_points"`
	Confidence   sql.NullFloat64 `db:"confidence"`
	ModelVersion int             `db:"model_version"`
	AnalyzedAt   time.Time       `db:"analyzed_at"`
}

// UpsertAnalysis inserts or replaces the analysis for a message. Analyses are
// fully reproducible, so the newest run always wins.
func (s *sqlxStore) UpsertAnalysis(ctx context.Context, a analyzer.Analysis) error {
	row := analysisRow{
		ChatID:       a.ChatID,
		MessageID:    a.MessageID,
		IsInvestment: a.IsInvestment,
		Sentiment:    string(a.Sentiment),
		Tokens:       StringList(a.Tokens),
		TopicKey:     a.TopicKey,
		KeyPoints:    StringList(a.KeyPoints),
		ModelVersion: a.ModelVersion,
		AnalyzedAt:   a.AnalyzedAt.UTC(),
	}
	if a.Confidence != nil {
		row.Confidence = sql.NullFloat64{Float64: *a.Confidence, Valid: true}
	}

	query := `
        INSERT INTO analysis (
            chat_id, message_id, is_investment, sentiment, tokens,
            topic_key, key_points, confidence, model_version, analyzed_at
        ) VALUES (
            :chat_id, :message_id, :is_investment, :sentiment, :tokens,
            :topic_key, :key_points, :confidence, :model_version, :analyzed_at
        )
        ON CONFLICT (chat_id, message_id) DO UPDATE SET
            is_investment = excluded.is_investment,
            sentiment = excluded.sentiment,
            tokens = excluded.tokens,
            topic_key = excluded.topic_key,
            key_points = excluded.key_points,
            confidence = excluded.confidence,
            model_version = excluded.model_version,
            analyzed_at = excluded.analyzed_at;
    `

	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		s.logger.ErrorContext(ctx, "Error upserting analysis",
			"chat_id", a.ChatID, "message_id", a.MessageID, "error", err)
		return fmt.Errorf("failed to upsert analysis (chat %d, id %d): %w", a.ChatID, a.MessageID, err)
	}

	s.logger.DebugContext(ctx, "Analysis upserted", "chat_id", a.ChatID, "message_id", a.MessageID)
	return nil
}

// GetCheckpoint returns the checkpoint for a chat, or nil, nil when absent.
func (s *sqlxStore) GetCheckpoint(ctx context.Context, chatID int64) (*Checkpoint, error) {
	var cp Checkpoint
	query := `SELECT chat_id, last_message_id, last_ts_utc, updated_at
	          FROM ingest_checkpoints WHERE chat_id = ?`

	err := s.db.GetContext(ctx, &cp, query, chatID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.DebugContext(ctx, "No checkpoint found", "chat_id", chatID)
		return nil, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting checkpoint", "chat_id", chatID, "error", err)
		return nil, fmt.Errorf("failed to get checkpoint for chat %d: %w", chatID, err)
	}
	return &cp, nil
}

// UpdateCheckpoint advances the checkpoint monotonically. The MAX guard in
// the conflict clause makes concurrent writers safe: whichever candidate is
// largest wins, and the timestamp only moves together with the id.
func (s *sqlxStore) UpdateCheckpoint(ctx context.Context, cp Checkpoint) error {
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}

	query := `
        INSERT INTO ingest_checkpoints (chat_id, last_message_id, last_ts_utc, updated_at)
        VALUES (:chat_id, :last_message_id, :last_ts_utc, :updated_at)
        ON CONFLICT (chat_id) DO UPDATE SET
            last_ts_utc = CASE WHEN excluded.last_message_id > ingest_checkpoints.last_message_id
                               THEN excluded.last_ts_utc ELSE ingest_checkpoints.last_ts_utc END,
            last_message_id = MAX(ingest_checkpoints.last_message_id, excluded.last_message_id),
            updated_at = excluded.updated_at;
    `

	if _, err := s.db.NamedExecContext(ctx, query, cp); err != nil {
		s.logger.ErrorContext(ctx, "Error updating checkpoint",
			"chat_id", cp.ChatID, "last_message_id", cp.LastMessageID, "error", err)
		return fmt.Errorf("failed to update checkpoint for chat %d: %w", cp.ChatID, err)
	}

	s.logger.DebugContext(ctx, "Checkpoint updated", "chat_id", cp.ChatID, "last_message_id", cp.LastMessageID)
	return nil
}

// SetHighWaterMark persists the backfill boundary for a chat.
func (s *sqlxStore) SetHighWaterMark(ctx context.Context, hwm HighWaterMark) error {
	if hwm.CreatedAt.IsZero() {
		hwm.CreatedAt = time.Now().UTC()
	}

	query := `
        INSERT INTO high_water_marks (chat_id, message_id, ts_utc, created_at)
        VALUES (:chat_id, :message_id, :ts_utc, :created_at)
        ON CONFLICT (chat_id) DO UPDATE SET
            message_id = excluded.message_id,
            ts_utc = excluded.ts_utc,
            created_at = excluded.created_at;
    `

	if _, err := s.db.NamedExecContext(ctx, query, hwm); err != nil {
		s.logger.ErrorContext(ctx, "Error setting high water mark",
			"chat_id", hwm.ChatID, "message_id", hwm.MessageID, "error", err)
		return fmt.Errorf("failed to set high water mark for chat %d: %w", hwm.ChatID, err)
	}
	return nil
}

// GetHighWaterMark returns the persisted boundary, or nil, nil when absent.
func (s *sqlxStore) GetHighWaterMark(ctx context.Context, chatID int64) (*HighWaterMark, error) {
	var hwm HighWaterMark
	query := `SELECT chat_id, message_id, ts_utc, created_at
	          FROM high_water_marks WHERE chat_id = ?`

	err := s.db.GetContext(ctx, &hwm, query, chatID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting high water mark", "chat_id", chatID, "error", err)
		return nil, fmt.Errorf("failed to get high water mark for chat %d: %w", chatID, err)
	}
	return &hwm, nil
}

// GetEditedSince lists messages needing re-analysis because their edit is
// newer than their last analysis.
func (s *sqlxStore) GetEditedSince(ctx context.Context, chatID int64) ([]EditedMessage, error) {
	var edited []EditedMessage
	query := `
        SELECT m.message_id, m.edit_ts_utc
        FROM messages m
        LEFT JOIN analysis a ON m.chat_id = a.chat_id AND m.message_id = a.message_id
        WHERE m.chat_id = ?
          AND m.edit_ts_utc IS NOT NULL
          AND (a.analyzed_at IS NULL OR m.edit_ts_utc > a.analyzed_at)
        ORDER BY m.message_id ASC;
    `

	if err := s.db.SelectContext(ctx, &edited, query, chatID); err != nil {
		s.logger.ErrorContext(ctx, "Error getting edited messages", "chat_id", chatID, "error", err)
		return nil, fmt.Errorf("failed to get edited messages for chat %d: %w", chatID, err)
	}

	s.logger.DebugContext(ctx, "Fetched messages needing re-analysis", "chat_id", chatID, "count", len(edited))
	return edited, nil
}

// ReportRows returns joined message+analysis rows for the reporting layer.
func (s *sqlxStore) ReportRows(ctx context.Context, chatID int64, start, end time.Time, topicFilter string, limit int) ([]ReportRow, error) {
	query := `
        SELECT m.message_id, m.ts_utc, m.from_username, m.text,
               a.is_investment, a.sentiment, a.tokens, a.topic_key, a.key_points
        FROM messages m
        LEFT JOIN analysis a ON m.chat_id = a.chat_id AND m.message_id = a.message_id
        WHERE m.chat_id = ? AND m.ts_utc >= ? AND m.ts_utc < ?`
	args := []any{chatID, start.UTC(), end.UTC()}

	if topicFilter != "" {
		query += ` AND (a.topic_key LIKE ? OR a.tokens LIKE ?)`
		pattern := "%" + topicFilter + "%"
		args = append(args, pattern, pattern)
	}

	query += ` ORDER BY m.ts_utc DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []ReportRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		s.logger.ErrorContext(ctx, "Error querying report rows", "chat_id", chatID, "error", err)
		return nil, fmt.Errorf("failed to query report rows for chat %d: %w", chatID, err)
	}

	s.logger.DebugContext(ctx, "Fetched report rows", "chat_id", chatID, "count", len(rows))
	return rows, nil
}

// RunSQLMaintenance executes a VACUUM command on the SQLite database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	// VACUUM must run outside a transaction in SQLite.
	_, err := s.db.ExecContext(ctx, "VACUUM;")

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)
	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)
	}

	s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	return nil
}
