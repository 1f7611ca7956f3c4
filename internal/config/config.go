// Package config provides application configuration.
//
// Configuration is resolved once at startup from a YAML file plus
// environment-variable overrides, and the resulting struct is passed
// explicitly into the server and provider. There is no process-wide
// configuration singleton.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// AIConfig holds the LLM provider settings. APIKey may be a literal key or
// an "env:VAR" reference resolved by the provider at construction time.
type AIConfig struct {
	Provider    string  `yaml:"provider"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url,omitempty"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// Config holds all application configuration.
type Config struct {
	Port           string   `yaml:"port"`
	HistoryDir     string   `yaml:"history_dir"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
	AI             AIConfig `yaml:"ai"`
}

// DefaultDir returns the per-user configuration directory (~/.grandpa).
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".grandpa"), nil
}

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Default returns the built-in configuration, rooted at dir.
func Default(dir string) *Config {
	return &Config{
		Port:           "3478",
		HistoryDir:     filepath.Join(dir, "history"),
		AllowedOrigins: []string{"*"},
		AI: AIConfig{
			Provider:    "openai",
			APIKey:      "env:OPENAI_API_KEY",
			Model:       "gpt-4o",
			Temperature: 0.7,
			MaxTokens:   1000,
		},
	}
}

// Load reads the YAML file at path (missing file means defaults), applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default(filepath.Dir(path))

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// No config file yet; defaults plus env overrides apply.
	case err != nil:
		return nil, fmt.Errorf("read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv layers GRANDPA_* environment variables over the file values.
func (c *Config) applyEnv() {
	c.Port = getEnv("GRANDPA_PORT", c.Port)
	c.HistoryDir = getEnv("GRANDPA_HISTORY_DIR", c.HistoryDir)
	c.AI.Provider = getEnv("GRANDPA_PROVIDER", c.AI.Provider)
	c.AI.APIKey = getEnv("GRANDPA_API_KEY", c.AI.APIKey)
	c.AI.BaseURL = getEnv("GRANDPA_BASE_URL", c.AI.BaseURL)
	c.AI.Model = getEnv("GRANDPA_MODEL", c.AI.Model)
	if v, ok := os.LookupEnv("GRANDPA_TEMPERATURE"); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			c.AI.Temperature = f
		}
	}
	if v, ok := os.LookupEnv("GRANDPA_MAX_TOKENS"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			c.AI.MaxTokens = n
		}
	}
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if c.HistoryDir == "" {
		return fmt.Errorf("history_dir cannot be empty")
	}
	if c.AI.Provider == "" {
		return fmt.Errorf("ai.provider cannot be empty")
	}
	if c.AI.Model == "" {
		return fmt.Errorf("ai.model cannot be empty")
	}
	return nil
}

// Write renders the configuration to path as YAML, creating parent
// directories as needed. Used by "grandpa init".
func (c *Config) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}
