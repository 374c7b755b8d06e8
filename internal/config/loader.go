package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load loads and validates configuration from:
// 1. Default values
// 2. config.yaml file
// 3. INGESTD_* environment variables
func Load() (*Config, error) {
	setDefaults()

	if err := loadConfig(); err != nil {
		return nil, fmt.Errorf("%w: failed to load config file: %v", ErrConfiguration, err)
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrConfiguration, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	return cfg, nil
}

// Validate checks the configuration against the struct validation tags.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
		}
		return err
	}
	return nil
}

// loadConfig initializes and loads the configuration using viper
func loadConfig() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	// Setup environment variables
	viper.SetEnvPrefix("INGESTD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Allow missing config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %v", err)
		}
		// Config file not found is okay, we'll use defaults
	}

	return nil
}

// setDefaults sets default values for optional configuration parameters
func setDefaults() {
	// Log defaults
	viper.SetDefault("log.level", DefaultLogLevel)
	viper.SetDefault("log.json", DefaultLogJSON)

	// Telegram defaults
	viper.SetDefault("telegram.session_file", DefaultSessionFile)

	// Database defaults
	viper.SetDefault("database.path", DefaultDBPath)

	// Ingest defaults
	viper.SetDefault("ingest.batch_size", DefaultIngestBatchSize)
	viper.SetDefault("ingest.overlap_window", DefaultIngestOverlapWindow)
	viper.SetDefault("ingest.rate_limit_delay", DefaultIngestRateLimitDelay)
	viper.SetDefault("ingest.batch_error_pause", DefaultIngestBatchErrorPause)
	viper.SetDefault("ingest.rescan_fetch_limit", DefaultIngestRescanFetchLimit)

	// Analyzer defaults
	viper.SetDefault("analyzer.model_version", DefaultAnalyzerModelVersion)
	viper.SetDefault("analyzer.confidence_threshold", DefaultAnalyzerConfidenceThreshold)
	viper.SetDefault("analyzer.gemini.model", DefaultGeminiModel)
	viper.SetDefault("analyzer.gemini.temperature", DefaultGeminiTemperature)
	viper.SetDefault("analyzer.gemini.max_retries", DefaultGeminiMaxRetries)
	viper.SetDefault("analyzer.gemini.retry_delay", DefaultGeminiRetryDelay)

	// Scheduler defaults
	viper.SetDefault("scheduler.sql_maintenance_cron", DefaultSQLMaintenanceCron)
	viper.SetDefault("scheduler.daily_report_cron", DefaultDailyReportCron)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.addr", DefaultMetricsAddr)
}
