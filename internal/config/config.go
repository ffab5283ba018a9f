package config

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	OCR        OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	Extraction ExtractionConfig `yaml:"extraction" mapstructure:"extraction"`
	Validation ValidationConfig `yaml:"validation" mapstructure:"validation"`
	Anomaly    AnomalyConfig    `yaml:"anomaly" mapstructure:"anomaly"`
	Review     ReviewConfig     `yaml:"review" mapstructure:"review"`
	Matching   MatchingConfig   `yaml:"matching" mapstructure:"matching"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds the field-extraction model settings.
type AnthropicConfig struct {
	Key       string  `yaml:"key" mapstructure:"key"`
	Model     string  `yaml:"model" mapstructure:"model"`
	MaxTokens int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"` // requests per second
}

// OCRConfig configures document text extraction.
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"` // local, native, tesseract, mistral, auto
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	TesseractPath string `yaml:"tesseract_path" mapstructure:"tesseract_path"`
	MistralKey    string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel  string `yaml:"mistral_ocr_model" mapstructure:"mistral_ocr_model"`
}

// ExtractionConfig configures field extraction.
type ExtractionConfig struct {
	Method              string  `yaml:"method" mapstructure:"method"` // regex or llm
	Currency            string  `yaml:"currency" mapstructure:"currency"`
	KnownErrors         string  `yaml:"known_errors" mapstructure:"known_errors"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	SimilarityPenalty   float64 `yaml:"similarity_penalty" mapstructure:"similarity_penalty"`
}

// ValidationConfig configures business-rule validation.
type ValidationConfig struct {
	MaxAmount float64 `yaml:"max_amount" mapstructure:"max_amount"`
}

// AnomalyConfig configures anomaly detection.
type AnomalyConfig struct {
	HighAmount         float64 `yaml:"high_amount" mapstructure:"high_amount"`
	StaleDays          int     `yaml:"stale_days" mapstructure:"stale_days"`
	SuspiciousTaxRatio float64 `yaml:"suspicious_tax_ratio" mapstructure:"suspicious_tax_ratio"`
}

// ReviewConfig configures review routing.
type ReviewConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
}

// MatchingConfig configures purchase-order matching.
type MatchingConfig struct {
	Reference           string  `yaml:"reference" mapstructure:"reference"` // path, http(s):// or ftp:// URL
	Sheet               string  `yaml:"sheet" mapstructure:"sheet"`
	VendorColumn        string  `yaml:"vendor_column" mapstructure:"vendor_column"`
	POColumn            string  `yaml:"po_column" mapstructure:"po_column"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	CacheTTLSecs        int     `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
}

// PipelineConfig configures per-stage retries.
type PipelineConfig struct {
	RetryMaxAttempts      int     `yaml:"retry_max_attempts" mapstructure:"retry_max_attempts"`
	RetryInitialBackoffMs int     `yaml:"retry_initial_backoff_ms" mapstructure:"retry_initial_backoff_ms"`
	RetryMaxBackoffMs     int     `yaml:"retry_max_backoff_ms" mapstructure:"retry_max_backoff_ms"`
	RetryMultiplier       float64 `yaml:"retry_multiplier" mapstructure:"retry_multiplier"`
	RetryJitterFraction   float64 `yaml:"retry_jitter_fraction" mapstructure:"retry_jitter_fraction"`
	DLQMaxRetries         int     `yaml:"dlq_max_retries" mapstructure:"dlq_max_retries"`
}

// CircuitConfig configures circuit breakers around external services.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	InputDir      string   `yaml:"input_dir" mapstructure:"input_dir"`
	Patterns      []string `yaml:"patterns" mapstructure:"patterns"`
	MaxConcurrent int      `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	UploadDir   string   `yaml:"upload_dir" mapstructure:"upload_dir"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	MaxUploadMB int64    `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
}

// NotionConfig holds the review queue database.
type NotionConfig struct {
	Token     string  `yaml:"token" mapstructure:"token"`
	ReviewDB  string  `yaml:"review_db" mapstructure:"review_db"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"` // requests/s, 0 disables throttling
}

// MonitoringConfig configures metrics collection and alerting.
type MonitoringConfig struct {
	Enabled                bool    `yaml:"enabled" mapstructure:"enabled"`
	ErrorRateThreshold     float64 `yaml:"error_rate_threshold" mapstructure:"error_rate_threshold"`
	ReviewBacklogThreshold int     `yaml:"review_backlog_threshold" mapstructure:"review_backlog_threshold"`
	WebhookURL             string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs      int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours    int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("INVOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "invoices.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("anthropic.rate_limit", 2.0)
	v.SetDefault("ocr.provider", "auto")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.tesseract_path", "tesseract")
	v.SetDefault("ocr.mistral_api_key", "")
	v.SetDefault("ocr.mistral_ocr_model", "mistral-ocr-latest")
	v.SetDefault("extraction.method", "regex")
	v.SetDefault("extraction.currency", "GBP")
	v.SetDefault("extraction.known_errors", "")
	v.SetDefault("extraction.similarity_threshold", 0.9)
	v.SetDefault("extraction.similarity_penalty", 0.2)
	v.SetDefault("validation.max_amount", 1_000_000)
	v.SetDefault("anomaly.high_amount", 1_000_000)
	v.SetDefault("anomaly.stale_days", 365)
	v.SetDefault("anomaly.suspicious_tax_ratio", 0.30)
	v.SetDefault("review.confidence_threshold", 0.9)
	v.SetDefault("matching.reference", "data/reference/approved_pos.csv")
	v.SetDefault("matching.sheet", "")
	v.SetDefault("matching.vendor_column", "Vendor Name")
	v.SetDefault("matching.po_column", "Approved PO List")
	v.SetDefault("matching.similarity_threshold", 0.85)
	v.SetDefault("matching.cache_ttl_secs", 300)
	v.SetDefault("pipeline.retry_max_attempts", 3)
	v.SetDefault("pipeline.retry_initial_backoff_ms", 1000)
	v.SetDefault("pipeline.retry_max_backoff_ms", 30000)
	v.SetDefault("pipeline.retry_multiplier", 2.0)
	v.SetDefault("pipeline.retry_jitter_fraction", 0.0)
	v.SetDefault("pipeline.dlq_max_retries", 3)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("batch.input_dir", "data/raw/invoices")
	v.SetDefault("batch.patterns", []string{"*.pdf", "*.png", "*.jpg", "*.jpeg", "*.tiff"})
	v.SetDefault("batch.max_concurrent", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.upload_dir", "data/uploads")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.max_upload_mb", 20)
	v.SetDefault("notion.token", "")
	v.SetDefault("notion.review_db", "")
	v.SetDefault("notion.rate_limit", 3)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.error_rate_threshold", 0.2)
	v.SetDefault("monitoring.review_backlog_threshold", 50)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks the settings a command needs before it starts. mode is
// one of process, batch, serve, review-sync or inspect.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "process", "batch", "serve", "review-sync", "inspect":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	if mode == "process" || mode == "batch" || mode == "serve" {
		switch c.Extraction.Method {
		case "regex":
		case "llm":
			if c.Anthropic.Key == "" {
				errs = append(errs, "anthropic.key is required for llm extraction")
			}
		default:
			errs = append(errs, "extraction.method must be regex or llm")
		}
		if len(c.Extraction.Currency) != 3 {
			errs = append(errs, "extraction.currency must be a 3-letter code")
		}
		if c.Batch.MaxConcurrent < 1 || c.Batch.MaxConcurrent > 64 {
			errs = append(errs, "batch.max_concurrent must be between 1 and 64")
		}
		for name, v := range map[string]float64{
			"review.confidence_threshold":     c.Review.ConfidenceThreshold,
			"matching.similarity_threshold":   c.Matching.SimilarityThreshold,
			"extraction.similarity_threshold": c.Extraction.SimilarityThreshold,
		} {
			if v < 0 || v > 1 {
				errs = append(errs, name+" must be between 0 and 1")
			}
		}
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "review-sync":
		if c.Notion.Token == "" {
			errs = append(errs, "notion.token is required")
		}
		if c.Notion.ReviewDB == "" {
			errs = append(errs, "notion.review_db is required")
		}
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
