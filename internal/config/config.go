// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Defaults applied when the environment leaves a setting empty.
const (
	DefaultMaxWorkers             = 4
	DefaultPartialUnexpectedCount = 20
	DefaultSQLDialect             = "duckdb"
)

// StorageConfig holds object-storage credentials for batch loading. Every
// field is optional; a source is only available when its fields are set.
type StorageConfig struct {
	S3KeyID    *string
	S3Secret   *string
	S3Endpoint *string
	S3Region   *string

	GCSKeyFile string

	AzureAccountName string
	AzureAccountKey  string
}

// HasS3Config returns true if all required S3 fields are set.
func (s *StorageConfig) HasS3Config() bool {
	return s.S3KeyID != nil && s.S3Secret != nil &&
		s.S3Endpoint != nil && s.S3Region != nil
}

// HasGCSConfig returns true when a service account key file is configured.
func (s *StorageConfig) HasGCSConfig() bool {
	return s.GCSKeyFile != ""
}

// HasAzureConfig returns true when shared-key credentials are configured.
func (s *StorageConfig) HasAzureConfig() bool {
	return s.AzureAccountName != "" && s.AzureAccountKey != ""
}

// Config holds the configuration for validation and profiling runs.
type Config struct {
	LogLevel string // log level: debug, info, warn, error (default "info")
	Env      string // environment: "development" (default) or "production"

	MaxWorkers             int    // concurrent metric computations per level (default 4)
	PartialUnexpectedCount int    // default partial_unexpected_count (default 20)
	SQLDialect             string // duckdb (default) or sqlite
	SQLDSN                 string // database path; empty means in-memory DuckDB or a temp SQLite file
	MetricsEnabled         bool   // expose Prometheus collectors

	Storage StorageConfig

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// LoadFromEnv loads configuration from environment variables.
// Storage credentials are optional; local files always work.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		LogLevel:       os.Getenv("LOG_LEVEL"),
		Env:            os.Getenv("ENV"),
		SQLDialect:     strings.ToLower(strings.TrimSpace(os.Getenv("DQ_SQL_DIALECT"))),
		SQLDSN:         os.Getenv("DQ_SQL_DSN"),
		MetricsEnabled: parseBoolEnvDefault("METRICS_ENABLED", false),
	}

	var err error
	if cfg.MaxWorkers, err = parsePositiveIntEnv("DQ_MAX_WORKERS", DefaultMaxWorkers); err != nil {
		return nil, err
	}
	if cfg.PartialUnexpectedCount, err = parsePositiveIntEnv("DQ_PARTIAL_UNEXPECTED_COUNT", DefaultPartialUnexpectedCount); err != nil {
		return nil, err
	}

	// Storage fields are optional: only set if present
	if v := os.Getenv("KEY_ID"); v != "" {
		cfg.Storage.S3KeyID = &v
	}
	if v := os.Getenv("SECRET"); v != "" {
		cfg.Storage.S3Secret = &v
	}
	if v := os.Getenv("ENDPOINT"); v != "" {
		cfg.Storage.S3Endpoint = &v
	}
	if v := os.Getenv("REGION"); v != "" {
		cfg.Storage.S3Region = &v
	}
	cfg.Storage.GCSKeyFile = os.Getenv("GCS_KEY_FILE")
	cfg.Storage.AzureAccountName = os.Getenv("AZURE_ACCOUNT_NAME")
	cfg.Storage.AzureAccountKey = os.Getenv("AZURE_ACCOUNT_KEY")

	// Defaults
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	switch cfg.SQLDialect {
	case "":
		cfg.SQLDialect = DefaultSQLDialect
	case "duckdb", "sqlite":
	default:
		return nil, fmt.Errorf("DQ_SQL_DIALECT must be duckdb or sqlite, got %q", cfg.SQLDialect)
	}

	anyS3 := cfg.Storage.S3KeyID != nil || cfg.Storage.S3Secret != nil || cfg.Storage.S3Endpoint != nil || cfg.Storage.S3Region != nil
	if anyS3 && !cfg.Storage.HasS3Config() {
		cfg.Warnings = append(cfg.Warnings, "S3 config is incomplete; set KEY_ID, SECRET, ENDPOINT and REGION to read s3:// batches")
	}
	if (cfg.Storage.AzureAccountName == "") != (cfg.Storage.AzureAccountKey == "") {
		cfg.Warnings = append(cfg.Warnings, "Azure config is incomplete; set both AZURE_ACCOUNT_NAME and AZURE_ACCOUNT_KEY")
	}

	// Production mode: partial credentials are fatal errors.
	if cfg.IsProduction() && len(cfg.Warnings) > 0 {
		return nil, fmt.Errorf("invalid configuration in production (ENV=production): %s", strings.Join(cfg.Warnings, "; "))
	}

	return cfg, nil
}

func parsePositiveIntEnv(key string, defaultVal int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, v)
	}
	return n, nil
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return defaultVal
	}
	if v == "0" || v == "false" || v == "no" || v == "off" {
		return false
	}
	if v == "1" || v == "true" || v == "yes" || v == "on" {
		return true
	}
	return defaultVal
}

// LoadDotEnv applies the KEY=VALUE pairs of a .env file to the process
// environment. Variables that are already set and non-empty win. A missing
// file is not an error; a malformed line is reported with its line number.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	pairs, err := parseDotEnv(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	for _, kv := range pairs {
		if os.Getenv(kv[0]) != "" {
			continue
		}
		if err := os.Setenv(kv[0], kv[1]); err != nil {
			return fmt.Errorf("setenv %s: %w", kv[0], err)
		}
	}
	return nil
}

// parseDotEnv returns the pairs of r in file order. It accepts an optional
// "export " prefix, trailing comments after unquoted values, single-quoted
// literals and double-quoted values with Go escapes.
func parseDotEnv(r io.Reader) ([][2]string, error) {
	var pairs [][2]string
	scanner := bufio.NewScanner(r)
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, raw, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || !envKeyRe.MatchString(key) {
			return nil, fmt.Errorf("line %d: expected KEY=VALUE", n)
		}
		value, err := dotEnvValue(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("line %d: %s: %w", n, key, err)
		}
		pairs = append(pairs, [2]string{key, value})
	}
	return pairs, scanner.Err()
}

var envKeyRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func dotEnvValue(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	switch raw[0] {
	case '"':
		end := closingQuote(raw)
		if end < 0 {
			return "", fmt.Errorf("unterminated double quote")
		}
		return strconv.Unquote(raw[:end+1])
	case '\'':
		end := strings.IndexByte(raw[1:], '\'')
		if end < 0 {
			return "", fmt.Errorf("unterminated single quote")
		}
		return raw[1 : end+1], nil
	}
	if i := strings.Index(raw, " #"); i >= 0 {
		raw = raw[:i]
	}
	return strings.TrimSpace(raw), nil
}

// closingQuote returns the index of the double quote closing s[0], skipping
// escaped quotes, or -1.
func closingQuote(s string) int {
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return -1
}
