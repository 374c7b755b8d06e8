package config

import "time"

// Default values for configuration
const (
	// Log defaults
	DefaultLogLevel = "info"
	DefaultLogJSON  = true

	// Database defaults
	DefaultDBPath = "storage.db"

	// Telegram defaults
	DefaultSessionFile = "session.json"

	// Ingest defaults
	DefaultIngestBatchSize        = 100 // Telegram's GetHistory page maximum
	DefaultIngestOverlapWindow    = 30 * time.Minute
	DefaultIngestRateLimitDelay   = time.Second
	DefaultIngestBatchErrorPause  = 5 * time.Second
	DefaultIngestRescanFetchLimit = 1000

	// Analyzer defaults
	DefaultAnalyzerModelVersion        = 1
	DefaultAnalyzerConfidenceThreshold = 0.55

	// Gemini defaults
	DefaultGeminiModel       = "gemini-2.0-flash"
	DefaultGeminiTemperature = 0.0
	DefaultGeminiMaxRetries  = 3
	DefaultGeminiRetryDelay  = 5 * time.Second

	// Scheduler defaults
	DefaultSQLMaintenanceCron = "0 4 * * *"
	DefaultDailyReportCron    = "0 8 * * *"

	// Metrics defaults
	DefaultMetricsAddr = ":9090"
)
