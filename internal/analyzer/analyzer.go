// Package analyzer derives an investment-relevance analysis from raw feed
// messages: ticker extraction, finance-keyword classification, sentiment,
// topic keys, and key points. The ingestion engine consumes it through the
// Analyzer interface so tests can substitute a fake.
package analyzer

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/nisilag/telegram-analysis-service/internal/source"
)

// Sentiment is the coarse market-sentiment classification of a message.
type Sentiment string

const (
	SentimentBullish Sentiment = "BULLISH"
	SentimentBearish Sentiment = "BEARISH"
	SentimentNeutral Sentiment = "NEUTRAL"
)

// Analysis is the derived record stored alongside each message. It is always
// reproducible from the message; AnalyzedAt is compared against the message's
// edit timestamp to detect staleness.
type Analysis struct {
	ChatID       int64
	MessageID    int64
	IsInvestment bool
	Sentiment    Sentiment
	Tokens       []string
	TopicKey     string
	KeyPoints    []string
	Confidence   *float64
	ModelVersion int
	AnalyzedAt   time.Time
}

// Analyzer produces an Analysis for a message. Implementations may block on
// remote model calls and must honor ctx.
type Analyzer interface {
	Analyze(ctx context.Context, msg source.Message) (Analysis, error)
}

// SentimentClassifier scores text as bullish/bearish/neutral with a
// confidence in [0,1]. The Gemini-backed implementation lives in gemini.go.
type SentimentClassifier interface {
	Classify(ctx context.Context, text string) (Sentiment, float64, error)
}

// Config tunes the heuristic analyzer.
type Config struct {
	ModelVersion        int
	ConfidenceThreshold float64
}

// HeuristicAnalyzer classifies messages with cashtag/keyword heuristics and
// delegates sentiment to an optional classifier. With a nil classifier all
// sentiment is NEUTRAL.
type HeuristicAnalyzer struct {
	logger     *slog.Logger
	cfg        Config
	classifier SentimentClassifier

	tokenPattern   *regexp.Regexp
	financePattern *regexp.Regexp
}

// New creates a HeuristicAnalyzer. classifier may be nil.
func New(logger *slog.Logger, cfg Config, classifier SentimentClassifier) *HeuristicAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ModelVersion == 0 {
		cfg.ModelVersion = 1
	}
	return &HeuristicAnalyzer{
		logger:     logger.With("component", "analyzer"),
		cfg:        cfg,
		classifier: classifier,
		// Cashtags must start with a letter so dollar amounts like $10M
		// are not picked up as tickers.
		tokenPattern:   regexp.MustCompile(`\$([A-Z][A-Z0-9_]{1,9})\b`),
		financePattern: buildFinancePattern(),
	}
}

func buildFinancePattern() *regexp.Regexp {
	escaped := make([]string, 0, len(financeKeywords))
	for _, kw := range financeKeywords {
		escaped = append(escaped, regexp.QuoteMeta(kw))
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(escaped, "|") + `)\b`)
}

// Analyze implements Analyzer.
func (a *HeuristicAnalyzer) Analyze(ctx context.Context, msg source.Message) (Analysis, error) {
	text := strings.TrimSpace(msg.Text)

	tokens := a.extractTokens(text)
	isInvestment := a.isInvestmentRelated(text, tokens)

	sentiment := SentimentNeutral
	var confidence *float64
	if isInvestment && text != "" && a.classifier != nil {
		s, conf, err := a.classifier.Classify(ctx, text)
		if err != nil {
			// Sentiment is best-effort; the rest of the analysis is still
			// valid, so record NEUTRAL instead of failing the message.
			a.logger.WarnContext(ctx, "Sentiment classification failed, defaulting to neutral",
				"chat_id", msg.ChatID, "message_id", msg.MessageID, "error", err)
		} else {
			if conf < a.cfg.ConfidenceThreshold {
				s = SentimentNeutral
			}
			sentiment = s
			confidence = &conf
		}
	}

	return Analysis{
		ChatID:       msg.ChatID,
		MessageID:    msg.MessageID,
		IsInvestment: isInvestment,
		Sentiment:    sentiment,
		Tokens:       tokens,
		TopicKey:     a.topicKey(tokens, text),
		KeyPoints:    extractKeyPoints(text),
		Confidence:   confidence,
		ModelVersion: a.cfg.ModelVersion,
		AnalyzedAt:   time.Now().UTC(),
	}, nil
}

// extractTokens finds cashtags and alias mentions, deduplicated and sorted.
func (a *HeuristicAnalyzer) extractTokens(text string) []string {
	set := make(map[string]struct{})

	upper := strings.ToUpper(text)
	for _, m := range a.tokenPattern.FindAllStringSubmatch(upper, -1) {
		token := m[1]
		if _, monetary := monetarySuffixes[token]; monetary {
			continue
		}
		set[token] = struct{}{}
	}

	for token, aliases := range tokenAliases {
		for _, alias := range aliases {
			if containsWord(upper, alias) {
				set[token] = struct{}{}
				break
			}
		}
	}

	tokens := make([]string, 0, len(set))
	for t := range set {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	return tokens
}

// isInvestmentRelated reports whether the message carries at least one token
// or two or more finance keywords.
func (a *HeuristicAnalyzer) isInvestmentRelated(text string, tokens []string) bool {
	if len(tokens) > 0 {
		return true
	}
	return len(a.financePattern.FindAllString(text, 3)) >= 2
}

// topicKey picks the first token, a derived phrase, or "GENERAL".
func (a *HeuristicAnalyzer) topicKey(tokens []string, text string) string {
	if len(tokens) > 0 {
		return tokens[0]
	}

	words := strings.Fields(text)
	if len(words) > 10 {
		words = words[:10]
	}
	if len(words) >= 3 {
		var meaningful []string
		for _, w := range words {
			if len(w) > 3 && !stopWords[strings.ToLower(w)] {
				meaningful = append(meaningful, w)
			}
			if len(meaningful) == 3 {
				break
			}
		}
		if len(meaningful) > 0 {
			return strings.ToUpper(strings.Join(meaningful, "_"))
		}
	}

	return "GENERAL"
}

func containsWord(haystack, word string) bool {
	idx := 0
	for {
		i := strings.Index(haystack[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		if (start == 0 || !isWordByte(haystack[start-1])) &&
			(end == len(haystack) || !isWordByte(haystack[end])) {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}
