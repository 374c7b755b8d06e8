package analyzer

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/nisilag/telegram-analysis-service/internal/source"
)

type stubClassifier struct {
	sentiment  Sentiment
	confidence float64
	err        error
	calls      int
}

func (s *stubClassifier) Classify(context.Context, string) (Sentiment, float64, error) {
	s.calls++
	return s.sentiment, s.confidence, s.err
}

func TestExtractTokens(t *testing.T) {
	t.Parallel()

	a := New(nil, Config{}, nil)

	tests := []struct {
		name string
		text string
		want []string
	}{
		{name: "empty", text: ""},
		{name: "single cashtag", text: "loading up on $BTC today", want: []string{"BTC"}},
		{name: "lowercase cashtag", text: "what about $eth?", want: []string{"ETH"}},
		{name: "dedupe and sort", text: "$SOL $BTC $sol again", want: []string{"BTC", "SOL"}},
		{name: "alias mention", text: "bitcoin is ripping", want: []string{"BTC"}},
		{name: "dollar amounts ignored", text: "raised $10M at a $1B valuation"},
		{name: "alias not matched inside word", text: "my ethernet cable died"},
		{name: "mixed cashtag and alias", text: "rotating ethereum into $LINK", want: []string{"ETH", "LINK"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := a.extractTokens(tt.text)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("extractTokens(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestIsInvestmentRelated(t *testing.T) {
	t.Parallel()

	a := New(nil, Config{}, nil)

	tests := []struct {
		name string
		text string
		want bool
	}{
		{name: "token always counts", text: "$BTC", want: true},
		{name: "one keyword is not enough", text: "the market was busy", want: false},
		{name: "two keywords", text: "market volume is picking up again", want: true},
		{name: "small talk", text: "lunch anyone?", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tokens := a.extractTokens(tt.text)
			if got := a.isInvestmentRelated(tt.text, tokens); got != tt.want {
				t.Errorf("isInvestmentRelated(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestTopicKey(t *testing.T) {
	t.Parallel()

	a := New(nil, Config{}, nil)

	tests := []struct {
		name   string
		text   string
		tokens []string
		want   string
	}{
		{name: "first token wins", text: "whatever", tokens: []string{"BTC", "ETH"}, want: "BTC"},
		{name: "short text falls back", text: "ok", want: "GENERAL"},
		{name: "derived from meaningful words", text: "the quarterly earnings report looks weak", want: "QUARTERLY_EARNINGS_REPORT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := a.topicKey(tt.tokens, tt.text); got != tt.want {
				t.Errorf("topicKey(%v, %q) = %q, want %q", tt.tokens, tt.text, got, tt.want)
			}
		})
	}
}

func TestAnalyzeWithClassifier(t *testing.T) {
	t.Parallel()

	msg := source.Message{ChatID: -100123, MessageID: 7, Text: "loading up on $BTC here"}

	t.Run("confident sentiment kept", func(t *testing.T) {
		t.Parallel()
		cls := &stubClassifier{sentiment: SentimentBullish, confidence: 0.9}
		a := New(nil, Config{ModelVersion: 2, ConfidenceThreshold: 0.55}, cls)

		res, err := a.Analyze(context.Background(), msg)
		if err != nil {
			t.Fatalf("Analyze: %v", err)
		}
		if !res.IsInvestment || res.Sentiment != SentimentBullish {
			t.Errorf("got %+v, want bullish investment", res)
		}
		if res.Confidence == nil || *res.Confidence != 0.9 {
			t.Errorf("Confidence = %v, want 0.9", res.Confidence)
		}
		if res.ModelVersion != 2 {
			t.Errorf("ModelVersion = %d, want 2", res.ModelVersion)
		}
	})

	t.Run("low confidence falls back to neutral", func(t *testing.T) {
		t.Parallel()
		cls := &stubClassifier{sentiment: SentimentBearish, confidence: 0.2}
		a := New(nil, Config{ConfidenceThreshold: 0.55}, cls)

		res, err := a.Analyze(context.Background(), msg)
		if err != nil {
			t.Fatalf("Analyze: %v", err)
		}
		if res.Sentiment != SentimentNeutral {
			t.Errorf("Sentiment = %s, want NEUTRAL below threshold", res.Sentiment)
		}
	})

	t.Run("classifier error is not fatal", func(t *testing.T) {
		t.Parallel()
		cls := &stubClassifier{err: errors.New("model unavailable")}
		a := New(nil, Config{}, cls)

		res, err := a.Analyze(context.Background(), msg)
		if err != nil {
			t.Fatalf("Analyze: %v", err)
		}
		if res.Sentiment != SentimentNeutral || res.Confidence != nil {
			t.Errorf("got %+v, want neutral without confidence", res)
		}
	})

	t.Run("classifier skipped for non-investment", func(t *testing.T) {
		t.Parallel()
		cls := &stubClassifier{sentiment: SentimentBullish, confidence: 0.9}
		a := New(nil, Config{}, cls)

		_, err := a.Analyze(context.Background(), source.Message{MessageID: 8, Text: "lunch anyone?"})
		if err != nil {
			t.Fatalf("Analyze: %v", err)
		}
		if cls.calls != 0 {
			t.Errorf("classifier called %d times for small talk, want 0", cls.calls)
		}
	})
}

func TestExtractKeyPoints(t *testing.T) {
	t.Parallel()

	t.Run("empty text", func(t *testing.T) {
		t.Parallel()
		if got := extractKeyPoints("   "); got != nil {
			t.Errorf("extractKeyPoints(blank) = %v, want nil", got)
		}
	})

	t.Run("urls stripped", func(t *testing.T) {
		t.Parallel()
		got := extractKeyPoints("the quarterly numbers beat expectations today. https://example.com/article")
		if len(got) != 1 {
			t.Fatalf("got %v, want one point", got)
		}
		if strings.Contains(got[0], "http") {
			t.Errorf("point still contains the url: %q", got[0])
		}
	})

	t.Run("short sentences dropped", func(t *testing.T) {
		t.Parallel()
		if got := extractKeyPoints("Nice. Ok. Sure thing."); got != nil {
			t.Errorf("got %v, want nil for chatter", got)
		}
	})

	t.Run("long sentences truncated", func(t *testing.T) {
		t.Parallel()
		long := strings.Repeat("growth ", 30)
		got := extractKeyPoints(long)
		if len(got) != 1 {
			t.Fatalf("got %v, want one point", got)
		}
		if len(got[0]) > 120 || !strings.HasSuffix(got[0], "...") {
			t.Errorf("truncation wrong, len=%d point=%q", len(got[0]), got[0])
		}
	})

	t.Run("newsletter reduced to token sentences", func(t *testing.T) {
		t.Parallel()
		text := "New edition of my weekly newsletter is out. " +
			"This week $BTC broke the previous range with strong volume. " +
			"Plenty of other interesting developments across markets as well."
		got := extractKeyPoints(text)
		if len(got) == 0 {
			t.Fatal("expected token sentences to survive spam filtering")
		}
		for _, p := range got {
			if !strings.Contains(strings.ToUpper(p), "BTC") {
				t.Errorf("non-token sentence kept: %q", p)
			}
		}
	})

	t.Run("at most three points", func(t *testing.T) {
		t.Parallel()
		text := strings.TrimSpace(strings.Repeat("this sentence is long enough to keep around. ", 6))
		if got := extractKeyPoints(text); len(got) > 3 {
			t.Errorf("got %d points, want at most 3", len(got))
		}
	})
}
