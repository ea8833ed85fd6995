// Package config loads service configuration from an optional TOML file with
// DOCQ_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"doc-queue/internal/logging"

	"github.com/pelletier/go-toml/v2"
)

const (
	EnvServerAddr            = "DOCQ_SERVER_ADDR"
	EnvDatabasePath          = "DOCQ_DATABASE_PATH"
	EnvDatabaseDocuments     = "DOCQ_DATABASE_DOCUMENTS"
	EnvDatabaseDSN           = "DOCQ_DATABASE_DSN"
	EnvQueueConcurrency      = "DOCQ_QUEUE_CONCURRENCY"
	EnvExtractVertexProject  = "DOCQ_EXTRACT_VERTEX_PROJECT"
	EnvExtractVertexLocation = "DOCQ_EXTRACT_VERTEX_LOCATION"
	EnvExtractTestFailures   = "DOCQ_EXTRACT_ENABLE_TEST_FAILURES"
	EnvLogLevel              = "DOCQ_LOG_LEVEL"
	EnvLogFormat             = "DOCQ_LOG_FORMAT"
)

// Duration is a time.Duration written as a Go duration string in TOML ("30s", "5m")
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the root configuration shared by the api and worker binaries
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Database   DatabaseConfig   `toml:"database"`
	Storage    StorageConfig    `toml:"storage"`
	Queue      QueueConfig      `toml:"queue"`
	DeadLetter DeadLetterConfig `toml:"dead_letter"`
	Extract    ExtractConfig    `toml:"extract"`
	Logging    logging.Config   `toml:"logging"`
	Limits     LimitsConfig     `toml:"limits"`
}

type ServerConfig struct {
	Addr            string   `toml:"addr"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// DatabaseConfig selects the stores. The job queue and dead letter store always
// live in the SQLite file at Path; documents go to SQLite or PostgreSQL.
type DatabaseConfig struct {
	Path      string `toml:"path"`
	Documents string `toml:"documents"`
	DSN       string `toml:"dsn"`
	MaxConns  int32  `toml:"max_conns"`
}

type DeadLetterConfig struct {
	ResyncInterval Duration `toml:"resync_interval"`
}

type ExtractConfig struct {
	VertexProject      string `toml:"vertex_project"`
	VertexLocation     string `toml:"vertex_location"`
	Model              string `toml:"model"`
	EnableTestFailures bool   `toml:"enable_test_failures"`
}

// LimitsConfig bounds how fast a single account may submit work
type LimitsConfig struct {
	UploadsPerMinute int `toml:"uploads_per_minute"`
	MaxPending       int `toml:"max_pending"`
}

// Load reads the TOML file at path (if any), then applies defaults,
// environment overrides and validation
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.Finalize(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Finalize applies defaults, loads environment overrides, and validates the configuration
func (c *Config) Finalize() error {
	c.loadDefaults()
	c.loadEnv()

	if err := c.Storage.finalize(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.Queue.finalize(); err != nil {
		return fmt.Errorf("queue: %w", err)
	}
	if err := c.Logging.Level.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Logging.Format.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	return c.validate()
}

func (c *Config) loadDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ShutdownTimeout.Duration == 0 {
		c.Server.ShutdownTimeout.Duration = 30 * time.Second
	}
	if c.Database.Path == "" {
		c.Database.Path = "doc-queue.db"
	}
	if c.Database.Documents == "" {
		c.Database.Documents = "sqlite"
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = 10
	}
	if c.DeadLetter.ResyncInterval.Duration == 0 {
		c.DeadLetter.ResyncInterval.Duration = 30 * time.Second
	}
	if c.Extract.VertexLocation == "" {
		c.Extract.VertexLocation = "us-central1"
	}
	if c.Extract.Model == "" {
		c.Extract.Model = "gemini-2.0-flash"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = logging.LevelInfo
	}
	if c.Logging.Format == "" {
		c.Logging.Format = logging.FormatText
	}
	if c.Limits.UploadsPerMinute == 0 {
		c.Limits.UploadsPerMinute = 60
	}
	if c.Limits.MaxPending == 0 {
		c.Limits.MaxPending = 100
	}
}

func (c *Config) loadEnv() {
	if v := os.Getenv(EnvServerAddr); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv(EnvDatabasePath); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(EnvDatabaseDocuments); v != "" {
		c.Database.Documents = v
	}
	if v := os.Getenv(EnvDatabaseDSN); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(EnvQueueConcurrency); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Queue.Concurrency = n
		}
	}
	if v := os.Getenv(EnvExtractVertexProject); v != "" {
		c.Extract.VertexProject = v
	}
	if v := os.Getenv(EnvExtractVertexLocation); v != "" {
		c.Extract.VertexLocation = v
	}
	if v := os.Getenv(EnvExtractTestFailures); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Extract.EnableTestFailures = b
		}
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = logging.Level(v)
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		c.Logging.Format = logging.Format(v)
	}
}

func (c *Config) validate() error {
	switch c.Database.Documents {
	case "sqlite":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database: dsn required when documents = postgres")
		}
	default:
		return fmt.Errorf("database: invalid documents backend %q (must be sqlite or postgres)", c.Database.Documents)
	}

	if c.Limits.UploadsPerMinute < 0 || c.Limits.MaxPending < 0 {
		return fmt.Errorf("limits: values must not be negative")
	}

	return nil
}
