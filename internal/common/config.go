package common

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Redis     RedisConfig
	Database  DatabaseConfig
	Server    ServerConfig
	OCR       OCRConfig
	Pipeline  PipelineConfig
	Tasks     TasksConfig
	Worker    WorkerConfig
	Ingest    IngestConfig
	Telemetry TelemetryConfig
	LogLevel  slog.Level
}

// RedisConfig holds the status store and broker connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	Queue    string
}

// DatabaseConfig holds result catalog settings. An empty DSN and SQLitePath disables the catalog.
type DatabaseConfig struct {
	DSN              string
	SQLitePath       string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr string
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Enabled       bool
	Pdftotext     string
	Pdfimages     string
	Tesseract     string
	Languages     string
	TessdataDir   string
	MinTextLength int
	WorkDir       string
}

// PipelineConfig holds extraction pipeline configuration
type PipelineConfig struct {
	SourceRoot       string
	FallbackCategory string
}

// TasksConfig holds orchestrator retention and policy settings
type TasksConfig struct {
	StatusTTL            time.Duration
	HistoryTTL           time.Duration
	CancelOverwrite      bool
	CleanupInterval      time.Duration
	CleanupRetentionDays int
	HistoryRetentionDays int
}

// WorkerConfig holds worker runtime configuration
type WorkerConfig struct {
	Concurrency     int
	JobTimeout      time.Duration
	MaxRetries      int
	CallbackTimeout time.Duration
	Heartbeat       time.Duration
}

// IngestConfig configures directory watching. No WatchDirs disables it.
type IngestConfig struct {
	WatchDirs    []string
	CategoryHint string
	Debounce     time.Duration
	SkipHidden   bool
}

// TelemetryConfig toggles the metrics exporter
type TelemetryConfig struct {
	MetricsStdout bool
	Interval      time.Duration
}

// LoadConfig loads configuration from environment variables, reading a .env file first if present.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 20),
			Queue:    getEnv("QUEUE_NAME", "documents"),
		},
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", ""),
			SQLitePath:       getEnv("SQLITE_PATH", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			GRPCAddr: getEnv("GRPC_ADDR", ":7800"),
		},
		OCR: OCRConfig{
			Enabled:       getEnvAsBool("OCR_ENABLED", true),
			Pdftotext:     getEnv("PDFTOTEXT_CMD", "pdftotext"),
			Pdfimages:     getEnv("PDFIMAGES_CMD", "pdfimages"),
			Tesseract:     getEnv("TESSERACT_CMD", "tesseract"),
			Languages:     getEnv("TESSERACT_LANGUAGES", "eng+chi_sim"),
			TessdataDir:   getEnv("TESSDATA_PREFIX", ""),
			MinTextLength: getEnvAsInt("OCR_MIN_TEXT_LENGTH", 50),
			WorkDir:       getEnv("TEMP_DIR", ""),
		},
		Pipeline: PipelineConfig{
			SourceRoot:       getEnv("UPLOAD_DIR", "uploads"),
			FallbackCategory: getEnv("DEFAULT_CATEGORY", "generic"),
		},
		Tasks: TasksConfig{
			StatusTTL:            getEnvAsDuration("TASK_STATUS_TTL", 7*24*time.Hour),
			HistoryTTL:           getEnvAsDuration("TASK_HISTORY_TTL", 30*24*time.Hour),
			CancelOverwrite:      getEnvAsBool("CANCEL_OVERWRITE_TERMINAL", false),
			CleanupInterval:      getEnvAsDuration("CLEANUP_INTERVAL", 24*time.Hour),
			CleanupRetentionDays: getEnvAsInt("CLEANUP_RETENTION_DAYS", 7),
			HistoryRetentionDays: getEnvAsInt("HISTORY_RETENTION_DAYS", 30),
		},
		Worker: WorkerConfig{
			Concurrency:     getEnvAsInt("WORKER_CONCURRENCY", 4),
			JobTimeout:      getEnvAsDuration("WORKER_JOB_TIMEOUT", 30*time.Minute),
			MaxRetries:      getEnvAsInt("WORKER_MAX_RETRIES", 3),
			CallbackTimeout: getEnvAsDuration("WEBHOOK_TIMEOUT", 10*time.Second),
			Heartbeat:       getEnvAsDuration("WORKER_HEARTBEAT", 10*time.Second),
		},
		Ingest: IngestConfig{
			WatchDirs:    getEnvAsList("INGEST_WATCH_DIRS"),
			CategoryHint: getEnv("INGEST_CATEGORY_HINT", ""),
			Debounce:     getEnvAsDuration("INGEST_DEBOUNCE", 500*time.Millisecond),
			SkipHidden:   getEnvAsBool("INGEST_SKIP_HIDDEN", true),
		},
		Telemetry: TelemetryConfig{
			MetricsStdout: getEnvAsBool("OTEL_METRICS_STDOUT", false),
			Interval:      getEnvAsDuration("OTEL_METRICS_INTERVAL", time.Minute),
		},
		LogLevel: getEnvAsLevel("LOG_LEVEL", slog.LevelInfo),
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvAsLevel(key string, defaultValue slog.Level) slog.Level {
	switch strings.ToUpper(os.Getenv(key)) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return defaultValue
	}
}

// ValidateConfig validates the loaded configuration
func (c *Config) Validate() error {
	if c.Redis.Addr == "" {
		return NewAppError("CONFIG_ERROR", "REDIS_ADDR is required", ErrInvalidInput)
	}
	if c.Redis.Queue == "" {
		return NewAppError("CONFIG_ERROR", "QUEUE_NAME is required", ErrInvalidInput)
	}
	if c.Server.GRPCAddr == "" {
		return NewAppError("CONFIG_ERROR", "GRPC_ADDR is required", ErrInvalidInput)
	}
	if c.Worker.Concurrency <= 0 {
		return NewAppError("CONFIG_ERROR", "WORKER_CONCURRENCY must be positive", ErrInvalidInput)
	}
	if c.Tasks.HistoryTTL < c.Tasks.StatusTTL {
		return NewAppError("CONFIG_ERROR", "TASK_HISTORY_TTL must not be shorter than TASK_STATUS_TTL", ErrInvalidInput)
	}
	if c.Database.DSN != "" && c.Database.SQLitePath != "" {
		return NewAppError("CONFIG_ERROR", "set only one of DB_URL and SQLITE_PATH", ErrInvalidInput)
	}
	return nil
}
