// Package config provides configuration loading, validation, and management
// for the ingestion service. It handles reading from YAML files, setting
// default values, and validating configuration parameters.
package config

import (
	"errors"
	"time"
)

// ErrConfiguration indicates a problem loading or validating configuration.
var ErrConfiguration = errors.New("configuration error")

// Config defines the application configuration parameters for all components
// of the service: logging, the feed source, the operator bot, storage,
// ingestion pacing, analysis and scheduled jobs.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Bot       BotConfig       `mapstructure:"bot"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Analyzer  AnalyzerConfig  `mapstructure:"analyzer"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// TelegramConfig holds the MTProto client credentials and the chat to
// ingest. APIID and APIHash come from my.telegram.org.
type TelegramConfig struct {
	APIID       int    `mapstructure:"api_id"       validate:"required,gt=0"`
	APIHash     string `mapstructure:"api_hash"     validate:"required"`
	SessionFile string `mapstructure:"session_file" validate:"required"`
	ChatID      int64  `mapstructure:"chat_id"      validate:"required"`

	// Phone enables the interactive login flow on first run. Leave empty
	// when the session file is already authorized.
	Phone string `mapstructure:"phone"`
}

// BotConfig configures the operator command bot. When Token is empty the
// bot is disabled and the service runs headless.
type BotConfig struct {
	Token   string `mapstructure:"token"`
	AdminID int64  `mapstructure:"admin_id" validate:"required_with=Token"`
}

// DatabaseConfig configures the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// IngestConfig controls backfill batching and pacing.
type IngestConfig struct {
	BatchSize        int           `mapstructure:"batch_size"         validate:"gt=0,lte=100"`
	OverlapWindow    time.Duration `mapstructure:"overlap_window"     validate:"min=1m"`
	RateLimitDelay   time.Duration `mapstructure:"rate_limit_delay"   validate:"min=0"`
	BatchErrorPause  time.Duration `mapstructure:"batch_error_pause"  validate:"min=0"`
	RescanFetchLimit int           `mapstructure:"rescan_fetch_limit" validate:"gt=0"`
}

// AnalyzerConfig controls message analysis.
type AnalyzerConfig struct {
	ModelVersion        int          `mapstructure:"model_version" validate:"gt=0"`
	ConfidenceThreshold float64      `mapstructure:"confidence_threshold" validate:"min=0,max=1"`
	Gemini              GeminiConfig `mapstructure:"gemini"`
}

// GeminiConfig configures the optional remote sentiment classifier. When
// APIKey is empty the heuristic analyzer runs without one.
type GeminiConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float32       `mapstructure:"temperature" validate:"min=0,max=2"`
	MaxRetries  int           `mapstructure:"max_retries" validate:"min=0"`
	RetryDelay  time.Duration `mapstructure:"retry_delay" validate:"min=0"`
}

// SchedulerConfig holds cron expressions for the background jobs.
type SchedulerConfig struct {
	SQLMaintenanceCron string `mapstructure:"sql_maintenance_cron" validate:"required"`
	DailyReportCron    string `mapstructure:"daily_report_cron"    validate:"required"`
}

// MetricsConfig configures the observability HTTP listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr" validate:"required_with=Enabled"`
}
