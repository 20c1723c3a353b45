// Package config loads application configuration with layered sources:
// built-in defaults, an optional YAML file, then HOMEWATT_ environment
// variables (highest priority).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/robfig/cron/v3"

	"github.com/homewatt/homewatt/pkg/logging"
)

// ConfigPathEnvVar names the environment variable pointing at a config file.
const ConfigPathEnvVar = "HOMEWATT_CONFIG"

// envPrefix is stripped from environment variable names before mapping
// them to config paths: HOMEWATT_RETENTION_SCHEDULE -> retention.schedule.
const envPrefix = "HOMEWATT_"

// Server timeouts.
const (
	ReadTimeout     = 10 * time.Second
	WriteTimeout    = 30 * time.Second
	ShutdownTimeout = 30 * time.Second
)

// WebSocket configuration.
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSSendBuffer      = 64
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)

// Config holds all application configuration.
type Config struct {
	// Port the HTTP server listens on.
	Port string `koanf:"port"`

	// DataDir holds the BadgerDB files. Ignored with InMemory.
	DataDir string `koanf:"data_dir"`

	// InMemory runs the store without disk persistence.
	InMemory bool `koanf:"in_memory"`

	// MaxMemoryMB bounds BadgerDB memory usage (0 = defaults).
	MaxMemoryMB int64 `koanf:"max_memory_mb"`

	// GCInterval is how often Badger value-log GC runs.
	GCInterval time.Duration `koanf:"gc_interval"`

	Retention RetentionConfig `koanf:"retention"`
	Log       logging.Config  `koanf:"log"`
}

// RetentionConfig controls the periodic retention sweep.
type RetentionConfig struct {
	// Schedule is a cron expression for the sweep ("@daily").
	Schedule string `koanf:"schedule"`

	// DeleteWorkers bounds concurrent record deletes per device.
	DeleteWorkers int `koanf:"delete_workers"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Port:        "8080",
		DataDir:     "./data/homewatt",
		MaxMemoryMB: 48,
		GCInterval:  10 * time.Minute,
		Retention: RetentionConfig{
			Schedule:      "@daily",
			DeleteWorkers: 8,
		},
		Log: logging.Config{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration: defaults, then an optional YAML file,
// then environment variables.
func Load() (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for values that would only fail
// later at runtime.
func (c Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port must not be empty")
	}
	if !c.InMemory && c.DataDir == "" {
		return fmt.Errorf("data_dir must be set unless in_memory is enabled")
	}
	if c.Retention.DeleteWorkers <= 0 {
		return fmt.Errorf("retention.delete_workers must be positive")
	}
	if _, err := cron.ParseStandard(c.Retention.Schedule); err != nil {
		return fmt.Errorf("invalid retention.schedule %q: %w", c.Retention.Schedule, err)
	}
	if c.GCInterval <= 0 {
		return fmt.Errorf("gc_interval must be positive")
	}
	return nil
}

// envTransform maps environment variable names to config paths.
// HOMEWATT_RETENTION_DELETE_WORKERS -> retention.delete_workers.
// Single-underscore separators are ambiguous between nesting and
// multi-word keys, so nesting uses the known section prefixes.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	for _, section := range []string{"retention", "log"} {
		if strings.HasPrefix(key, section+"_") {
			return section + "." + strings.TrimPrefix(key, section+"_")
		}
	}
	return key
}

// findConfigFile returns the config file path, or empty if none.
func findConfigFile() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	for _, path := range []string{"config.yaml", "/etc/homewatt/config.yaml"} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
