package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"
)

// GeminiConfig configures the Gemini-backed sentiment classifier.
type GeminiConfig struct {
	APIKey      string
	ModelName   string
	Temperature float32
	MaxRetries  int
	RetryDelay  time.Duration
}

// GeminiClassifier scores market sentiment with the Gemini API using a
// structured JSON response. It implements SentimentClassifier.
type GeminiClassifier struct {
	client     *genai.Client
	log        *slog.Logger
	modelName  string
	cfg        *genai.GenerateContentConfig
	maxRetries int
	retryDelay time.Duration
}

const sentimentInstruction = "You are a financial sentiment classifier. " +
	"Classify the market sentiment of the given message as BULLISH, BEARISH or NEUTRAL " +
	"and report your confidence between 0 and 1. Judge only the market outlook expressed, " +
	"not the writing style."

var sentimentSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"sentiment":  {Type: genai.TypeString, Enum: []string{"BULLISH", "BEARISH", "NEUTRAL"}},
		"confidence": {Type: genai.TypeNumber, Description: "Classifier confidence between 0 and 1."},
	},
	Required: []string{"sentiment", "confidence"},
}

// NewGeminiClassifier creates a sentiment classifier backed by the Gemini API.
func NewGeminiClassifier(ctx context.Context, cfg GeminiConfig, log *slog.Logger) (*GeminiClassifier, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if log == nil {
		log = slog.Default()
	}

	gi, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	contentCfg := &genai.GenerateContentConfig{
		Temperature:       &cfg.Temperature,
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: sentimentInstruction}}},
		ResponseMIMEType:  "application/json",
		ResponseSchema:    sentimentSchema,
	}

	logger := log.With("component", "gemini_classifier")
	logger.Info("Gemini sentiment classifier initialized", "model", cfg.ModelName)
	return &GeminiClassifier{
		client:     gi,
		log:        logger,
		modelName:  cfg.ModelName,
		cfg:        contentCfg,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}, nil
}

// Classify implements SentimentClassifier.
func (c *GeminiClassifier) Classify(ctx context.Context, text string) (Sentiment, float64, error) {
	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}

	resp, err := c.generateWithRetries(ctx, contents)
	if err != nil {
		return SentimentNeutral, 0, err
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return SentimentNeutral, 0, fmt.Errorf("gemini returned empty sentiment response")
	}

	var parsed struct {
		Sentiment  string  `json:"sentiment"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(resp.Text()), &parsed); err != nil {
		c.log.WarnContext(ctx, "Failed to parse sentiment JSON from Gemini", "error", err, "response_text", resp.Text())
		return SentimentNeutral, 0, fmt.Errorf("invalid sentiment JSON received: %w", err)
	}

	switch Sentiment(parsed.Sentiment) {
	case SentimentBullish, SentimentBearish, SentimentNeutral:
		return Sentiment(parsed.Sentiment), parsed.Confidence, nil
	default:
		c.log.WarnContext(ctx, "Unknown sentiment label from Gemini", "label", parsed.Sentiment)
		return SentimentNeutral, 0, nil
	}
}

func (c *GeminiClassifier) generateWithRetries(ctx context.Context, contents []*genai.Content) (*genai.GenerateContentResponse, error) {
	var resp *genai.GenerateContentResponse
	var err error

	for i := 0; i <= c.maxRetries; i++ {
		resp, err = c.client.Models.GenerateContent(ctx, c.modelName, contents, c.cfg)
		if err == nil {
			return resp, nil
		}

		var apiErr *genai.APIError
		if errors.As(err, &apiErr) && (apiErr.Code == 500 || apiErr.Code == 503) {
			if i < c.maxRetries {
				c.log.WarnContext(ctx, "Gemini API call failed, retrying",
					"attempt", i+1, "max_retries", c.maxRetries, "code", apiErr.Code, "delay", c.retryDelay)
				select {
				case <-time.After(c.retryDelay):
					continue
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			return nil, fmt.Errorf("gemini API call failed after %d retries (APIError code %d): %w", c.maxRetries, apiErr.Code, err)
		}

		return nil, fmt.Errorf("gemini API call failed: %w", err)
	}
	return nil, err
}
