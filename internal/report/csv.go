package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ExportCSV writes every row of the window [start, end) as CSV into w,
// oldest first. It returns the number of data rows written.
func (r *Reporter) ExportCSV(ctx context.Context, w *csv.Writer, chatID int64, start, end time.Time) (int, error) {
	rows, err := r.store.ReportRows(ctx, chatID, start, end, "", 0)
	if err != nil {
		return 0, fmt.Errorf("loading export rows: %w", err)
	}

	header := []string{
		"message_id", "timestamp_utc", "username", "text",
		"is_investment", "sentiment", "tokens", "topic_key", "key_points",
	}
	if err := w.Write(header); err != nil {
		return 0, fmt.Errorf("writing csv header: %w", err)
	}

	// ReportRows returns newest first; exports read better oldest first.
	written := 0
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]

		username := ""
		if row.FromUsername != nil {
			username = *row.FromUsername
		}
		isInvestment := ""
		if row.IsInvestment != nil {
			isInvestment = strconv.FormatBool(*row.IsInvestment)
		}
		sentiment := ""
		if row.Sentiment != nil {
			sentiment = *row.Sentiment
		}
		topicKey := ""
		if row.TopicKey != nil {
			topicKey = *row.TopicKey
		}

		record := []string{
			strconv.FormatInt(row.MessageID, 10),
			row.Timestamp.UTC().Format(time.RFC3339),
			username,
			row.Text,
			isInvestment,
			sentiment,
			strings.Join(row.Tokens, " "),
			topicKey,
			strings.Join(row.KeyPoints, " | "),
		}
		if err := w.Write(record); err != nil {
			return written, fmt.Errorf("writing csv row: %w", err)
		}
		written++
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return written, fmt.Errorf("flushing csv: %w", err)
	}
	return written, nil
}
