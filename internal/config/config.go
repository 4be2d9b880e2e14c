package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/lherron/subsync/internal/db"
	"github.com/lherron/subsync/internal/domain"
	"github.com/lherron/subsync/internal/logging"
	"gopkg.in/yaml.v3"
)

// Default sizes for chunked reads and bulk inserts. SMS users are inserted
// in smaller batches than email users.
const (
	DefaultDBPath              = "subsync.db"
	DefaultChunkSize           = 1000
	DefaultSubscriberBatchSize = 1000
	DefaultSMSBatchSize        = 100
)

// Config represents the application configuration
type Config struct {
	DBDriver            string `yaml:"db_driver"`
	DBPath              string `yaml:"db_path"`
	ReportDir           string `yaml:"report_dir"`
	ChunkSize           int    `yaml:"chunk_size"`
	SubscriberBatchSize int    `yaml:"subscriber_batch_size"`
	SMSBatchSize        int    `yaml:"sms_batch_size"`
	TieBreak            string `yaml:"tie_break"`
	LogLevel            string `yaml:"log_level"`
	LogFormat           string `yaml:"log_format"`
}

func defaults() *Config {
	return &Config{
		DBDriver:            db.DriverSQLite,
		ReportDir:           ".",
		ChunkSize:           DefaultChunkSize,
		SubscriberBatchSize: DefaultSubscriberBatchSize,
		SMSBatchSize:        DefaultSMSBatchSize,
		TieBreak:            string(domain.TieBreakSubscriber),
		LogLevel:            "info",
		LogFormat:           "auto",
	}
}

// Load loads configuration from multiple sources with precedence:
// 1. Environment variables
// 2. ./.env.local (dotenv) - walks up parent directories to find it
// 3. ~/.config/subsync/config.yaml (YAML)
//
// The database path default depends on the driver, so it is left empty here
// and filled by ApplyDefaults once every override is in place.
func Load() (*Config, error) {
	cfg := defaults()

	// Load .env.local if it exists (walking up parent directories)
	if envPath := findEnvLocal(); envPath != "" {
		_ = godotenv.Load(envPath)
	}

	// YAML config is optional
	_ = loadYAMLConfig(cfg)

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyDefaults fills settings whose default depends on other settings.
// Only sqlite3 has a default database path; pgx needs an explicit DSN.
func (c *Config) ApplyDefaults() {
	if c.DBPath == "" && c.DBDriver == db.DriverSQLite {
		c.DBPath = DefaultDBPath
	}
}

func applyEnv(cfg *Config) error {
	if driver := os.Getenv("SUBSYNC_DB_DRIVER"); driver != "" {
		cfg.DBDriver = driver
	}
	if dbPath := getEnvOrFile("SUBSYNC_DB_PATH", "SUBSYNC_DB_PATH_FILE"); dbPath != "" {
		cfg.DBPath = dbPath
	}
	if reportDir := os.Getenv("SUBSYNC_REPORT_DIR"); reportDir != "" {
		cfg.ReportDir = reportDir
	}
	if tieBreak := os.Getenv("SUBSYNC_TIE_BREAK"); tieBreak != "" {
		cfg.TieBreak = tieBreak
	}
	if logLevel := os.Getenv("SUBSYNC_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat := os.Getenv("SUBSYNC_LOG_FORMAT"); logFormat != "" {
		cfg.LogFormat = logFormat
	}

	ints := []struct {
		env string
		dst *int
	}{
		{"SUBSYNC_CHUNK_SIZE", &cfg.ChunkSize},
		{"SUBSYNC_SUBSCRIBER_BATCH_SIZE", &cfg.SubscriberBatchSize},
		{"SUBSYNC_SMS_BATCH_SIZE", &cfg.SMSBatchSize},
	}
	for _, v := range ints {
		raw := os.Getenv(v.env)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", v.env, raw, err)
		}
		*v.dst = n
	}

	return nil
}

// Validate checks that every setting holds a usable value
func (c *Config) Validate() error {
	switch c.DBDriver {
	case db.DriverSQLite, db.DriverPostgres:
	default:
		return fmt.Errorf("invalid db_driver %q: must be one of: %s, %s", c.DBDriver, db.DriverSQLite, db.DriverPostgres)
	}
	if c.DBPath == "" {
		if c.DBDriver == db.DriverPostgres {
			return fmt.Errorf("%s driver requires a connection string (use --db flag or set SUBSYNC_DB_PATH)", db.DriverPostgres)
		}
		return fmt.Errorf("database path not specified (use --db flag or set SUBSYNC_DB_PATH)")
	}
	if err := domain.ValidateTieBreak(c.TieBreak); err != nil {
		return err
	}
	if err := domain.ValidateBatchSize("chunk_size", c.ChunkSize); err != nil {
		return err
	}
	if err := domain.ValidateBatchSize("subscriber_batch_size", c.SubscriberBatchSize); err != nil {
		return err
	}
	if err := domain.ValidateBatchSize("sms_batch_size", c.SMSBatchSize); err != nil {
		return err
	}
	if !logging.ValidFormat(c.LogFormat) {
		return fmt.Errorf("invalid log_format %q: must be one of: auto, console, json", c.LogFormat)
	}
	return nil
}

// loadYAMLConfig loads configuration from ~/.config/subsync/config.yaml
func loadYAMLConfig(cfg *Config) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configPath := filepath.Join(homeDir, ".config", "subsync", "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// getEnvOrFile gets an environment variable value, or reads it from a file
// if the _FILE variant is set
func getEnvOrFile(envVar, fileVar string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}

	if filePath := os.Getenv(fileVar); filePath != "" {
		data, err := os.ReadFile(filePath)
		if err == nil {
			return strings.TrimSpace(string(data))
		}
	}

	return ""
}

// findEnvLocal searches for .env.local starting from cwd and walking up
// parent directories. Stops at the user's home directory.
// Returns the path to .env.local if found, empty string otherwise.
func findEnvLocal() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		if _, err := os.Stat(".env.local"); err == nil {
			return ".env.local"
		}
		return ""
	}

	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	homeDir = filepath.Clean(homeDir)
	dir := filepath.Clean(cwd)

	for {
		envPath := filepath.Join(dir, ".env.local")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}

		// Stop if we've reached home directory
		if dir == homeDir {
			break
		}

		parent := filepath.Dir(dir)

		// Stop if we've reached the filesystem root
		if parent == dir {
			break
		}

		dir = parent
	}

	return ""
}
