// Package config loads the convoy configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultModel      = "anthropic:claude-sonnet-4-6"
	DefaultPython     = "python3"
	DefaultRunTimeout = 60 * time.Second
	DefaultDebounce   = 500 * time.Millisecond
	DefaultListen     = ":8080"
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "text"
)

// Config is the file-level configuration. Zero fields take defaults.
type Config struct {
	Model      string        `yaml:"model"`
	Python     string        `yaml:"python"`
	RunTimeout time.Duration `yaml:"run_timeout"`
	Chart      Chart         `yaml:"chart"`
	Server     Server        `yaml:"server"`
	Database   Database      `yaml:"database"`
	Log        Log           `yaml:"log"`
}

// Chart configures the external chart renderer.
type Chart struct {
	Command  []string      `yaml:"command"`
	Debounce time.Duration `yaml:"debounce"`
}

// Server configures the HTTP API.
type Server struct {
	Listen string `yaml:"listen"`
}

// Database configures persistence. An empty URL keeps pipelines in memory.
type Database struct {
	URL string `yaml:"url"`
}

// Log configures the default logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads a YAML config file. An empty path gives the defaults. Unknown
// keys are rejected. DATABASE_URL, when set, overrides database.url.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := decodeStrict(b, cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}
	applyDefaults(cfg)
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeStrict(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); !errors.Is(err, io.EOF) {
		if err == nil {
			return fmt.Errorf("yaml: multiple documents are not allowed")
		}
		return err
	}
	return nil
}

func applyDefaults(cfg *Config) {
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Python == "" {
		cfg.Python = DefaultPython
	}
	if cfg.RunTimeout == 0 {
		cfg.RunTimeout = DefaultRunTimeout
	}
	if cfg.Chart.Debounce == 0 {
		cfg.Chart.Debounce = DefaultDebounce
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = DefaultListen
	}
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}

// Validate checks field values.
func (c *Config) Validate() error {
	if c.RunTimeout < 0 {
		return fmt.Errorf("config: run_timeout must not be negative")
	}
	if c.Chart.Debounce < 0 {
		return fmt.Errorf("config: chart.debounce must not be negative")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log.level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log.format %q", c.Log.Format)
	}
	if !strings.Contains(c.Model, ":") {
		return fmt.Errorf("config: model %q must be provider:model-name", c.Model)
	}
	return nil
}
