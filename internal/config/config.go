// Package config provides configuration for the sessionization job.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SESSIONIZE_"

// Config holds the configuration of the sessionization job.
type Config struct {
	// DataDir is the base directory for all local files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// TablePath is the SQLite file holding the session table
	TablePath string `json:"table_path" yaml:"table_path"`

	// WorkDir stages downloaded batches and snapshots
	WorkDir string `json:"work_dir" yaml:"work_dir"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Ingest configuration
	Ingest IngestConfig `json:"ingest" yaml:"ingest"`

	// Session configuration
	Session SessionConfig `json:"session" yaml:"session"`

	// Lookback configuration
	Lookback LookbackConfig `json:"lookback" yaml:"lookback"`

	// Export configuration
	Export ExportConfig `json:"export" yaml:"export"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle enables path-style addressing (MinIO)
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// IngestConfig holds raw batch configuration.
type IngestConfig struct {
	// RawPrefix is the object prefix of daily batches (<prefix>/<date>.csv[.sz])
	RawPrefix string `json:"raw_prefix" yaml:"raw_prefix"`
}

// SessionConfig holds sessionizer configuration.
type SessionConfig struct {
	// Timeout is the inactivity gap that closes a session
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// ActionEvents lists the event ids that may open a session
	ActionEvents []string `json:"action_events" yaml:"action_events"`

	// Workers is the number of partition fold workers (0 = GOMAXPROCS)
	Workers int `json:"workers" yaml:"workers"`
}

// LookbackConfig bounds the history pulled back into an incremental run.
type LookbackConfig struct {
	// FullDays is how many days before the process date are read in full
	FullDays int `json:"full_days" yaml:"full_days"`

	// ActionOnlyDaysBack is the day before the process date read for action events only; 0 disables it
	ActionOnlyDaysBack int `json:"action_only_days_back" yaml:"action_only_days_back"`

	// MergeFloorDays moves the merge floor back from the process date
	MergeFloorDays int `json:"merge_floor_days" yaml:"merge_floor_days"`
}

// ExportConfig holds snapshot export configuration.
type ExportConfig struct {
	// Prefix is the object prefix snapshots are uploaded under
	Prefix string `json:"prefix" yaml:"prefix"`

	// AfterRun exports a snapshot after every committed run
	AfterRun bool `json:"after_run" yaml:"after_run"`

	// Retain is how many snapshots to keep (0 keeps all)
	Retain int `json:"retain" yaml:"retain"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/sessionize",
		Storage: StorageConfig{
			Type: "local",
			S3: S3Config{
				Region: "us-east-1",
			},
		},
		Ingest: IngestConfig{
			RawPrefix: "raw",
		},
		Session: SessionConfig{
			Timeout:      300 * time.Second,
			ActionEvents: []string{"a", "b", "c"},
		},
		Lookback: LookbackConfig{
			FullDays:           5,
			ActionOnlyDaysBack: 6,
		},
		Export: ExportConfig{
			Prefix: "snapshots",
			Retain: 7,
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/sessionize"
	}
	if c.TablePath == "" {
		c.TablePath = filepath.Join(c.DataDir, "sessions.db")
	}
	if c.WorkDir == "" {
		c.WorkDir = filepath.Join(c.DataDir, "work")
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}
	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if c.Session.Timeout < time.Second {
		return fmt.Errorf("session.timeout must be at least 1s, got %s", c.Session.Timeout)
	}
	if len(c.Session.ActionEvents) == 0 {
		return fmt.Errorf("session.action_events must not be empty")
	}
	for _, id := range c.Session.ActionEvents {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("session.action_events must not contain empty ids")
		}
	}
	if c.Session.Workers < 0 {
		return fmt.Errorf("session.workers must not be negative, got %d", c.Session.Workers)
	}

	if c.Lookback.FullDays < 0 {
		return fmt.Errorf("lookback.full_days must not be negative, got %d", c.Lookback.FullDays)
	}
	if c.Lookback.ActionOnlyDaysBack < 0 ||
		(c.Lookback.ActionOnlyDaysBack != 0 && c.Lookback.ActionOnlyDaysBack <= c.Lookback.FullDays) {
		return fmt.Errorf("lookback.action_only_days_back (%d) must be 0 or greater than lookback.full_days (%d)",
			c.Lookback.ActionOnlyDaysBack, c.Lookback.FullDays)
	}
	if c.Lookback.MergeFloorDays < 0 || c.Lookback.MergeFloorDays > c.Lookback.FullDays {
		return fmt.Errorf("lookback.merge_floor_days must be between 0 and lookback.full_days (%d), got %d",
			c.Lookback.FullDays, c.Lookback.MergeFloorDays)
	}

	if c.Export.Retain < 0 {
		return fmt.Errorf("export.retain must not be negative, got %d", c.Export.Retain)
	}

	return nil
}

// Load builds the effective configuration: defaults, then the optional
// config file, then a .env file in the working directory if present, then
// SESSIONIZE_* environment overrides, then overrides (command line flags).
// Paths are resolved after all layers are applied.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	for _, override := range overrides {
		override(cfg)
	}

	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv applies SESSIONIZE_* environment variables to cfg.
func LoadFromEnv(cfg *Config) error {
	e := envReader{}

	e.str("DATA_DIR", &cfg.DataDir)
	e.str("TABLE_PATH", &cfg.TablePath)
	e.str("WORK_DIR", &cfg.WorkDir)

	// Storage configuration
	e.str("STORAGE_TYPE", &cfg.Storage.Type)
	e.str("STORAGE_PATH", &cfg.Storage.Path)
	e.str("S3_BUCKET", &cfg.Storage.S3.Bucket)
	e.str("S3_REGION", &cfg.Storage.S3.Region)
	e.str("S3_ENDPOINT", &cfg.Storage.S3.Endpoint)
	e.boolean("S3_USE_PATH_STYLE", &cfg.Storage.S3.UsePathStyle)

	e.str("RAW_PREFIX", &cfg.Ingest.RawPrefix)

	// Session configuration
	e.duration("SESSION_TIMEOUT", &cfg.Session.Timeout)
	e.list("ACTION_EVENTS", &cfg.Session.ActionEvents)
	e.integer("WORKERS", &cfg.Session.Workers)

	// Lookback configuration
	e.integer("LOOKBACK_FULL_DAYS", &cfg.Lookback.FullDays)
	e.integer("LOOKBACK_ACTION_ONLY_DAYS_BACK", &cfg.Lookback.ActionOnlyDaysBack)
	e.integer("MERGE_FLOOR_DAYS", &cfg.Lookback.MergeFloorDays)

	// Export configuration
	e.str("EXPORT_PREFIX", &cfg.Export.Prefix)
	e.boolean("EXPORT_AFTER_RUN", &cfg.Export.AfterRun)
	e.integer("EXPORT_RETAIN", &cfg.Export.Retain)

	return e.err
}

// envReader reads prefixed variables, keeping the first parse error.
type envReader struct {
	err error
}

func (e *envReader) lookup(name string) (string, bool) {
	v := os.Getenv(EnvPrefix + name)
	return v, v != ""
}

func (e *envReader) fail(name, v string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s%s=%q: %w", EnvPrefix, name, v, err)
	}
}

func (e *envReader) str(name string, dst *string) {
	if v, ok := e.lookup(name); ok {
		*dst = v
	}
}

func (e *envReader) integer(name string, dst *int) {
	if v, ok := e.lookup(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) boolean(name string, dst *bool) {
	if v, ok := e.lookup(name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(name string, dst *time.Duration) {
	if v, ok := e.lookup(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = d
	}
}

func (e *envReader) list(name string, dst *[]string) {
	if v, ok := e.lookup(name); ok {
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*dst = out
	}
}

// EnsureDirectories creates all required local directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.WorkDir,
		filepath.Dir(c.TablePath),
	}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
