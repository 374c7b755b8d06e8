package analyzer

import (
	"regexp"
	"strings"
)

var (
	urlPattern      = regexp.MustCompile(`http[s]?://\S+`)
	nonTextPattern  = regexp.MustCompile(`[^\w\s.,!?$%\-]`)
	sentenceSplit   = regexp.MustCompile(`[.!?]+`)
	newsletterSpams = []*regexp.Regexp{
		regexp.MustCompile(`new edition.*newsletter`),
		regexp.MustCompile(`top \d+ mindshare`),
		regexp.MustCompile(`ive published.*newsletter`),
		regexp.MustCompile(`trading.*investing.*indicators`),
		regexp.MustCompile(`see how i.*`),
		regexp.MustCompile(`subscribe.*`),
		regexp.MustCompile(`follow.*for.*updates`),
	}
)

var tokenSignals = []string{"$", "BTC", "ETH", "SOL", "BULLISH", "BEARISH", "PUMP", "DUMP"}

var genericPhrases = []string{
	"honestly asking", "what do you think", "let me know", "thoughts?",
	"anyone else", "does anyone", "what are your",
}

// extractKeyPoints condenses a message into up to three short sentences with
// URLs and emoji stripped. Newsletter-style broadcasts are reduced to their
// token-specific sentences only.
func extractKeyPoints(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	cleaned := urlPattern.ReplaceAllString(text, "")
	cleaned = nonTextPattern.ReplaceAllString(cleaned, "")

	lower := strings.ToLower(cleaned)
	for _, spam := range newsletterSpams {
		if spam.MatchString(lower) {
			return tokenSentences(cleaned)
		}
	}

	var points []string
	for _, s := range sentenceSplit.Split(cleaned, -1) {
		s = strings.TrimSpace(s)
		if len(s) <= 20 {
			continue
		}
		if isGeneric(s) {
			continue
		}
		if len(s) > 120 {
			s = s[:117] + "..."
		}
		points = append(points, s)
		if len(points) == 3 {
			break
		}
	}
	return points
}

// tokenSentences keeps at most two sentences that mention a token signal.
func tokenSentences(text string) []string {
	var out []string
	for _, s := range sentenceSplit.Split(text, -1) {
		s = strings.TrimSpace(s)
		if len(s) <= 15 {
			continue
		}
		upper := strings.ToUpper(s)
		for _, sig := range tokenSignals {
			if strings.Contains(upper, sig) {
				out = append(out, s)
				break
			}
		}
		if len(out) == 2 {
			break
		}
	}
	return out
}

func isGeneric(sentence string) bool {
	lower := strings.ToLower(sentence)
	for _, g := range genericPhrases {
		if strings.Contains(lower, g) {
			return true
		}
	}
	return false
}
