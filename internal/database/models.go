package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Checkpoint is the durable resumption marker for a chat. LastMessageID is
// non-decreasing for the lifetime of the row; it is the sole token used to
// resume ingestion after a restart.
type Checkpoint struct {
	ChatID        int64     `db:"chat_id"`
	LastMessageID int64     `db:"last_message_id"`
	LastTimestamp time.Time `db:"last_ts_utc"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// HighWaterMark is the snapshot of the newest available message captured at
// engine start. It fixes the backfill boundary so that backfill termination
// stays well-defined while new messages keep arriving live.
type HighWaterMark struct {
	ChatID    int64     `db:"chat_id"`
	MessageID int64     `db:"message_id"`
	Timestamp time.Time `db:"ts_utc"`
	CreatedAt time.Time `db:"created_at"`
}

// EditedMessage identifies a stored message whose edit is newer than its
// last analysis.
type EditedMessage struct {
	MessageID     int64     `db:"message_id"`
	EditTimestamp time.Time `db:"edit_ts_utc"`
}

// ReportRow is a joined message+analysis row returned for reporting. The
// analysis columns are nullable because a message may not have been analyzed
// yet.
type ReportRow struct {
	MessageID    int64      `db:"message_id"`
	Timestamp    time.Time  `db:"ts_utc"`
	FromUsername *string    `db:"from_username"`
	Text         string     `db:"text"`
	IsInvestment *bool      `db:"is_investment"`
	Sentiment    *string    `db:"sentiment"`
	Tokens       StringList `db:"tokens"`
	TopicKey     *string    `db:"topic_key"`
	KeyPoints    StringList `db:"key_points"`
}

// StringList stores a []string as a JSON array in a TEXT column.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal string list: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		if v == "" {
			*l = nil
			return nil
		}
		return json.Unmarshal([]byte(v), l)
	case []byte:
		if len(v) == 0 {
			*l = nil
			return nil
		}
		return json.Unmarshal(v, l)
	default:
		return fmt.Errorf("cannot scan %T into StringList", src)
	}
}
