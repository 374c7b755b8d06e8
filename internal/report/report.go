// Package report aggregates stored messages and analyses into operator
// summaries, rendered as Markdown for the bot or CSV for export.
package report

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/nisilag/telegram-analysis-service/internal/database"
)

// Summary is the aggregate view of a reporting window.
type Summary struct {
	ChatID          int64
	Start, End      time.Time
	TotalMessages   int
	InvestmentCount int
	Sentiments      map[string]int
	TopTokens       []TokenCount
	Highlights      []Highlight
}

// TokenCount pairs a token symbol with how often it was mentioned.
type TokenCount struct {
	Token string
	Count int
}

// Highlight is a notable investment-related message surfaced in the report.
type Highlight struct {
	MessageID int64
	Timestamp time.Time
	Username  string
	Sentiment string
	Tokens    []string
	KeyPoints []string
}

const (
	topTokenLimit  = 10
	highlightLimit = 15
)

// Reporter builds summaries from the store.
type Reporter struct {
	logger *slog.Logger
	store  database.Store
}

func New(logger *slog.Logger, store database.Store) *Reporter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Reporter{
		logger: logger.With("component", "report"),
		store:  store,
	}
}

// Build aggregates the window [start, end) for a chat. topicFilter narrows
// the rows to a token or topic substring; empty means everything.
func (r *Reporter) Build(ctx context.Context, chatID int64, start, end time.Time, topicFilter string) (*Summary, error) {
	rows, err := r.store.ReportRows(ctx, chatID, start, end, topicFilter, 0)
	if err != nil {
		return nil, fmt.Errorf("loading report rows: %w", err)
	}

	s := &Summary{
		ChatID:     chatID,
		Start:      start,
		End:        end,
		Sentiments: make(map[string]int),
	}
	tokenCounts := make(map[string]int)

	for _, row := range rows {
		s.TotalMessages++
		if row.IsInvestment == nil || !*row.IsInvestment {
			continue
		}
		s.InvestmentCount++

		sentiment := "NEUTRAL"
		if row.Sentiment != nil {
			sentiment = *row.Sentiment
		}
		s.Sentiments[sentiment]++
		for _, tok := range row.Tokens {
			tokenCounts[tok]++
		}

		if len(s.Highlights) < highlightLimit {
			s.Highlights = append(s.Highlights, highlightFrom(row, sentiment))
		}
	}

	s.TopTokens = topTokens(tokenCounts, topTokenLimit)

	r.logger.Debug("report built",
		"chat_id", chatID, "rows", s.TotalMessages, "investment", s.InvestmentCount)
	return s, nil
}

func highlightFrom(row database.ReportRow, sentiment string) Highlight {
	h := Highlight{
		MessageID: row.MessageID,
		Timestamp: row.Timestamp,
		Sentiment: sentiment,
		Tokens:    row.Tokens,
		KeyPoints: row.KeyPoints,
	}
	if row.FromUsername != nil {
		h.Username = *row.FromUsername
	}
	return h
}

func topTokens(counts map[string]int, limit int) []TokenCount {
	out := make([]TokenCount, 0, len(counts))
	for tok, n := range counts {
		out = append(out, TokenCount{Token: tok, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Token < out[j].Token
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Markdown renders the summary for a Telegram message.
func (s *Summary) Markdown() string {
	var b strings.Builder

	fmt.Fprintf(&b, "*Report %s — %s*\n\n",
		s.Start.Format("2006-01-02 15:04"), s.End.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "Messages: %d\n", s.TotalMessages)
	fmt.Fprintf(&b, "Investment-related: %d", s.InvestmentCount)
	if s.TotalMessages > 0 {
		fmt.Fprintf(&b, " (%.0f%%)", 100*float64(s.InvestmentCount)/float64(s.TotalMessages))
	}
	b.WriteString("\n")

	if len(s.Sentiments) > 0 {
		b.WriteString("\n*Sentiment*\n")
		for _, label := range []string{"BULLISH", "BEARISH", "NEUTRAL"} {
			if n := s.Sentiments[label]; n > 0 {
				fmt.Fprintf(&b, "%s %s: %d\n", sentimentEmoji(label), label, n)
			}
		}
	}

	if len(s.TopTokens) > 0 {
		b.WriteString("\n*Top tokens*\n")
		for _, tc := range s.TopTokens {
			fmt.Fprintf(&b, "$%s: %d\n", tc.Token, tc.Count)
		}
	}

	if len(s.Highlights) > 0 {
		b.WriteString("\n*Highlights*\n")
		for _, h := range s.Highlights {
			who := h.Username
			if who == "" {
				who = "unknown"
			}
			fmt.Fprintf(&b, "%s @%s", sentimentEmoji(h.Sentiment), who)
			if len(h.Tokens) > 0 {
				fmt.Fprintf(&b, " [$%s]", strings.Join(h.Tokens, " $"))
			}
			b.WriteString("\n")
			for _, kp := range h.KeyPoints {
				fmt.Fprintf(&b, "  • %s\n", kp)
			}
		}
	}

	if s.TotalMessages == 0 {
		b.WriteString("\nNo messages in this window.\n")
	}
	return b.String()
}

func sentimentEmoji(label string) string {
	switch label {
	case "BULLISH":
		return "📈"
	case "BEARISH":
		return "📉"
	default:
		return "➖"
	}
}
