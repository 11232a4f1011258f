package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix namespaces every environment variable, e.g. INSIGHT_MODEL_MAX_TOKENS.
const EnvPrefix = "INSIGHT"

// Config represents the complete application configuration
type Config struct {
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Paths     PathsConfig     `yaml:"paths" envconfig:"PATHS"`
	Quality   QualityConfig   `yaml:"quality" envconfig:"QUALITY"`
	Model     ModelConfig     `yaml:"model" envconfig:"MODEL"`
	Prompt    PromptConfig    `yaml:"prompt" envconfig:"PROMPT"`
	Report    ReportConfig    `yaml:"report" envconfig:"REPORT"`
	Memory    MemoryConfig    `yaml:"memory" envconfig:"MEMORY"`
	History   HistoryConfig   `yaml:"history" envconfig:"HISTORY"`
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Schedule  ScheduleConfig  `yaml:"schedule" envconfig:"SCHEDULE"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn warning error"`
	Format   string `yaml:"format" envconfig:"FORMAT" validate:"oneof=json"`
	Output   string `yaml:"output" envconfig:"OUTPUT" validate:"oneof=console file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// PathsConfig contains file system locations. Relative entries resolve against BaseDir.
type PathsConfig struct {
	BaseDir        string `yaml:"base_dir" envconfig:"BASE_DIR"`
	DataDir        string `yaml:"data_dir" envconfig:"DATA_DIR" validate:"required"`
	ProcessedDir   string `yaml:"processed_dir" envconfig:"PROCESSED_DIR" validate:"required"`
	CheckpointsDir string `yaml:"checkpoints_dir" envconfig:"CHECKPOINTS_DIR" validate:"required"`
	ReportsDir     string `yaml:"reports_dir" envconfig:"REPORTS_DIR" validate:"required"`
	EvaluationDir  string `yaml:"evaluation_dir" envconfig:"EVALUATION_DIR" validate:"required"`
	MemoryDir      string `yaml:"memory_dir" envconfig:"MEMORY_DIR" validate:"required"`
	LogsDir        string `yaml:"logs_dir" envconfig:"LOGS_DIR" validate:"required"`
	SchemaFile     string `yaml:"schema_file" envconfig:"SCHEMA_FILE"`
	HistoryDB      string `yaml:"history_db" envconfig:"HISTORY_DB"`
}

// QualityConfig holds the default cleaning policy and diagnostic thresholds
type QualityConfig struct {
	NullFillStrategy           string  `yaml:"null_fill_strategy" envconfig:"NULL_FILL_STRATEGY" validate:"oneof=mean median"`
	Dedupe                     bool    `yaml:"dedupe" envconfig:"DEDUPE"`
	OutlierMethod              string  `yaml:"outlier_method" envconfig:"OUTLIER_METHOD" validate:"oneof=zscore iqr"`
	OutlierThreshold           float64 `yaml:"outlier_threshold" envconfig:"OUTLIER_THRESHOLD" validate:"gte=0"`
	RemoveOutliers             bool    `yaml:"remove_outliers" envconfig:"REMOVE_OUTLIERS"`
	MulticollinearityThreshold float64 `yaml:"multicollinearity_threshold" envconfig:"MULTICOLLINEARITY_THRESHOLD" validate:"gt=0,lt=1"`
	TestFraction               float64 `yaml:"test_fraction" envconfig:"TEST_FRACTION" validate:"gt=0,lt=1"`
}

// ModelConfig configures the model backend and checkpoint retention
type ModelConfig struct {
	BackendURL        string        `yaml:"backend_url" envconfig:"BACKEND_URL"`
	RequestTimeout    time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	RequestsPerSecond float64       `yaml:"requests_per_second" envconfig:"REQUESTS_PER_SECOND" validate:"gt=0"`
	Burst             int           `yaml:"burst" envconfig:"BURST" validate:"gte=1"`
	MaxTokens         int           `yaml:"max_tokens" envconfig:"MAX_TOKENS" validate:"gt=0"`
	Temperature       float64       `yaml:"temperature" envconfig:"TEMPERATURE" validate:"gte=0,lte=2"`
	Epochs            int           `yaml:"epochs" envconfig:"EPOCHS" validate:"gt=0"`
	BatchSize         int           `yaml:"batch_size" envconfig:"BATCH_SIZE" validate:"gt=0"`
	KeepLast          int           `yaml:"keep_last" envconfig:"KEEP_LAST" validate:"gte=1"`
}

// PromptConfig configures prompt assembly
type PromptConfig struct {
	Instruction          string  `yaml:"instruction" envconfig:"INSTRUCTION"`
	CorrelationThreshold float64 `yaml:"correlation_threshold" envconfig:"CORRELATION_THRESHOLD" validate:"gt=0,lt=1"`
	ColumnSampleSize     int     `yaml:"column_sample_size" envconfig:"COLUMN_SAMPLE_SIZE" validate:"gt=0"`
	ModelRoles           bool    `yaml:"model_roles" envconfig:"MODEL_ROLES"`
}

// ReportConfig configures report metadata and export
type ReportConfig struct {
	Title          string   `yaml:"title" envconfig:"TITLE" validate:"required"`
	Author         string   `yaml:"author" envconfig:"AUTHOR"`
	Version        string   `yaml:"version" envconfig:"VERSION"`
	Formats        []string `yaml:"formats" envconfig:"FORMATS"`
	FilenamePrefix string   `yaml:"filename_prefix" envconfig:"FILENAME_PREFIX" validate:"required"`
	ChromePath     string   `yaml:"chrome_path" envconfig:"CHROME_PATH"`
}

// MemoryConfig selects the session memory backend
type MemoryConfig struct {
	Backend   string `yaml:"backend" envconfig:"BACKEND" validate:"oneof=file redis"`
	RedisURL  string `yaml:"redis_url" envconfig:"REDIS_URL" validate:"required_if=Backend redis"`
	SessionID string `yaml:"session_id" envconfig:"SESSION_ID" validate:"required"`
}

// HistoryConfig selects where pipeline run records are kept
type HistoryConfig struct {
	Backend string `yaml:"backend" envconfig:"BACKEND" validate:"oneof=memory sqlite"`
	Limit   int    `yaml:"limit" envconfig:"LIMIT" validate:"gt=0"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int             `yaml:"port" envconfig:"PORT" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration   `yaml:"read_timeout" envconfig:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration   `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" validate:"gt=0"`
	IdleTimeout     time.Duration   `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	AllowedOrigins  []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// ScheduleConfig enables periodic pipeline runs. An empty Cron disables scheduling.
type ScheduleConfig struct {
	Cron   string `yaml:"cron" envconfig:"CRON"`
	Source string `yaml:"source" envconfig:"SOURCE" validate:"required_with=Cron"`
}

// TelemetryConfig toggles OpenTelemetry providers
type TelemetryConfig struct {
	Environment   string  `yaml:"environment" envconfig:"ENVIRONMENT"`
	EnableMetrics bool    `yaml:"enable_metrics" envconfig:"ENABLE_METRICS"`
	EnableTracing bool    `yaml:"enable_tracing" envconfig:"ENABLE_TRACING"`
	TraceExporter string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER" validate:"oneof=stdout none"`
	SampleRatio   float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO" validate:"gte=0,lte=1"`
}

var validate = validator.New()

// Load builds the configuration from defaults, then the YAML file, then
// INSIGHT_* environment variables. Later sources win.
func Load() (*Config, error) {
	return LoadFile(getConfigFilePath())
}

// LoadFile is Load with an explicit YAML path. An empty path skips the file layer.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays YAML values on top of cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// validate checks struct tags and normalizes logging settings
func (c *Config) validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	for _, f := range c.Report.Formats {
		if strings.TrimSpace(f) == "" {
			return fmt.Errorf("report formats must not contain empty entries")
		}
	}

	if c.Server.RateLimit.Enabled && (c.Server.RateLimit.RPS <= 0 || c.Server.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit requires positive rps and burst")
	}

	if c.Logging.Output != "console" && c.Logging.FilePath == "" {
		c.Logging.FilePath = "logs/app.log"
	}

	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	if explicit := os.Getenv(EnvPrefix + "_CONFIG"); explicit != "" {
		return explicit
	}

	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}
	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/app.log",
		},
		Paths: PathsConfig{
			DataDir:        "data",
			ProcessedDir:   "data/datasets/processed",
			CheckpointsDir: "data/models/checkpoints",
			ReportsDir:     "reports",
			EvaluationDir:  "reports/evaluation",
			MemoryDir:      "data/outputs/memory",
			LogsDir:        "logs",
			SchemaFile:     "data/schema.json",
			HistoryDB:      "data/history.db",
		},
		Quality: QualityConfig{
			NullFillStrategy:           "mean",
			Dedupe:                     true,
			OutlierMethod:              "zscore",
			OutlierThreshold:           3.0,
			RemoveOutliers:             false,
			MulticollinearityThreshold: 0.9,
			TestFraction:               0.2,
		},
		Model: ModelConfig{
			RequestTimeout:    10 * time.Minute,
			RequestsPerSecond: 2,
			Burst:             1,
			MaxTokens:         512,
			Temperature:       0.7,
			Epochs:            3,
			BatchSize:         32,
			KeepLast:          3,
		},
		Prompt: PromptConfig{
			Instruction:          "Analyze the dataset below and report distribution, patterns, anomalies and recommendations.",
			CorrelationThreshold: 0.8,
			ColumnSampleSize:     5,
		},
		Report: ReportConfig{
			Title:          "AI Technical Report",
			Author:         "Insight Pipeline",
			Version:        "1.0",
			Formats:        []string{"pdf", "excel"},
			FilenamePrefix: "report",
		},
		Memory: MemoryConfig{
			Backend:   "file",
			SessionID: "default_session",
		},
		History: HistoryConfig{
			Backend: "memory",
			Limit:   100,
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     20,
				Burst:   10,
			},
		},
		Telemetry: TelemetryConfig{
			Environment:   "development",
			EnableMetrics: true,
			EnableTracing: false,
			TraceExporter: "none",
			SampleRatio:   1.0,
		},
	}
}
