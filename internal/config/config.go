package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all genebench configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM backend configuration
	LLM LLMConfig `yaml:"llm"`

	// Dataset search backend configuration
	Search SearchConfig `yaml:"search"`

	// Workspace layout
	Workspace WorkspaceConfig `yaml:"workspace"`

	// Run history store
	History HistoryConfig `yaml:"history"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the language-model backend.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // gemini, openai, anthropic
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	Timeout     string  `yaml:"timeout"`
	Temperature float64 `yaml:"temperature"`
}

// SearchConfig configures the dataset-search backend.
type SearchConfig struct {
	BaseURL    string `yaml:"base_url"`
	Timeout    string `yaml:"timeout"`
	MaxResults int    `yaml:"max_results"`
}

// WorkspaceConfig configures where analysis working directories are created.
type WorkspaceConfig struct {
	Root string `yaml:"root"`
}

// HistoryConfig configures the SQLite run-history store.
type HistoryConfig struct {
	DatabasePath string `yaml:"database_path"`
	Enabled      bool   `yaml:"enabled"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Name:    "genebench",
		Version: "1.0.0",
		LLM: LLMConfig{
			Provider:    "gemini",
			Timeout:     "120s",
			Temperature: 0.1,
		},
		Search: SearchConfig{
			BaseURL:    "http://localhost:8765",
			Timeout:    "15s",
			MaxResults: 5,
		},
		Workspace: WorkspaceConfig{
			Root: filepath.Join(home, "genebench_workspaces"),
		},
		History: HistoryConfig{
			DatabasePath: filepath.Join(home, ".genebench", "history.db"),
			Enabled:      true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML config file, layering it over DefaultConfig.
// A missing file is not an error: defaults are returned.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// RequestTimeout parses the LLM timeout string, falling back to 120s.
// The provider factory applies it to every client it constructs.
func (c LLMConfig) RequestTimeout() time.Duration {
	return parseDuration(c.Timeout, 120*time.Second)
}

// SearchTimeout parses the search timeout string, falling back to 15s.
func (c *Config) SearchTimeout() time.Duration {
	return parseDuration(c.Search.Timeout, 15*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
