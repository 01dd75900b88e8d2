package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	// Load environment variables from .env files when present.
	_ "github.com/joho/godotenv/autoload"
)

// Config holds all application configuration
type Config struct {
	Database      DatabaseConfig
	Import        ImportConfig
	Store         StoreConfig
	BigQuery      BigQueryConfig
	Observability ObservabilityConfig
	Log           LogConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
}

type ImportConfig struct {
	MaxBytes          int64
	MaxRows           int
	ParseTimeout      time.Duration
	PreviewTTL        time.Duration
	ProfilesPath      string
	FingerprintFields []string
	DedupWindow       time.Duration
	RateLimit         float64
	RateBurst         int
}

type StoreConfig struct {
	Backend string
}

type BigQueryConfig struct {
	Project string
	Dataset string
	Table   string
}

type ObservabilityConfig struct {
	MetricsEnabled bool
	MetricsPort    int
}

type LogConfig struct {
	Level  string
	Format string
}

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreBigQuery = "bigquery"
)

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DATABASE_HOST", "localhost"),
			Port:     getEnvAsInt("DATABASE_PORT", 5432),
			User:     getEnv("DATABASE_USER", "postgres"),
			Password: getEnv("DATABASE_PASSWORD", "postgres"),
			Database: getEnv("DATABASE_NAME", "statements"),
			SSLMode:  getEnv("DATABASE_SSLMODE", "disable"),
			MaxConns: getEnvAsInt("DATABASE_MAX_CONNS", 10),
		},
		Import: ImportConfig{
			MaxBytes:          int64(getEnvAsInt("IMPORT_MAX_BYTES", 20<<20)),
			MaxRows:           getEnvAsInt("IMPORT_MAX_ROWS", 100_000),
			ParseTimeout:      getEnvAsDuration("IMPORT_PARSE_TIMEOUT", 30*time.Second),
			PreviewTTL:        getEnvAsDuration("IMPORT_PREVIEW_TTL", 30*time.Minute),
			ProfilesPath:      getEnv("IMPORT_PROFILES_PATH", ""),
			FingerprintFields: getEnvAsSlice("IMPORT_FINGERPRINT_FIELDS", nil),
			DedupWindow:       getEnvAsDuration("IMPORT_DEDUP_WINDOW", 72*time.Hour),
			RateLimit:         getEnvAsFloat("IMPORT_RATE_LIMIT", 10),
			RateBurst:         getEnvAsInt("IMPORT_RATE_BURST", 20),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(getEnv("STORE_BACKEND", StoreMemory)),
		},
		BigQuery: BigQueryConfig{
			Project: getEnv("BIGQUERY_PROJECT", ""),
			Dataset: getEnv("BIGQUERY_DATASET", "finance"),
			Table:   getEnv("BIGQUERY_TABLE", "imported_transactions"),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", false),
			MetricsPort:    getEnvAsInt("METRICS_PORT", 9090),
		},
		Log: LogConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "text")),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case StoreMemory, StorePostgres:
	case StoreBigQuery:
		if c.BigQuery.Project == "" {
			return errors.New("BIGQUERY_PROJECT is required when STORE_BACKEND is bigquery")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}
	if c.Import.ParseTimeout <= 0 {
		return errors.New("IMPORT_PARSE_TIMEOUT must be positive")
	}
	if c.Import.DedupWindow < 0 {
		return errors.New("IMPORT_DEDUP_WINDOW must not be negative")
	}
	return nil
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
