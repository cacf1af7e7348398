// Package config loads and persists memclaw settings from
// ~/.memclaw/settings.json. Missing files and missing keys fall back to
// defaults, so a fresh install works with no settings file at all.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents the merged memclaw configuration
type Config struct {
	Worker  WorkerConfig  `json:"worker"`
	Queue   QueueConfig   `json:"queue"`
	Agent   AgentConfig   `json:"agent"`
	Context ContextConfig `json:"context"`
	Logging LoggingConfig `json:"logging"`
}

type WorkerConfig struct {
	Port         int `json:"port"`
	PollMs       int `json:"pollMs"`
	PurgeAfterMs int `json:"purgeAfterMs"` // processed rows older than this are purged
}

type QueueConfig struct {
	MaxRetries       int `json:"maxRetries"`
	StuckThresholdMs int `json:"stuckThresholdMs"`
}

type AgentConfig struct {
	Provider      string `json:"provider"` // "anthropic" or "openai"
	Model         string `json:"model"`
	APIKey        string `json:"apiKey"`
	FallbackModel string `json:"fallbackModel"`
	MaxTokens     int    `json:"maxTokens"`
}

type ContextConfig struct {
	ObservationCount int  `json:"observationCount"`
	SummaryCount     int  `json:"summaryCount"`
	FullCount        int  `json:"fullCount"` // most recent observations rendered in full
	ShowReadTokens   bool `json:"showReadTokens"`
}

type LoggingConfig struct {
	Level string `json:"level"`
	File  string `json:"file"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Worker: WorkerConfig{
			Port:         37777,
			PollMs:       1000,
			PurgeAfterMs: 24 * 60 * 60 * 1000,
		},
		Queue: QueueConfig{
			MaxRetries:       3,
			StuckThresholdMs: 5 * 60 * 1000,
		},
		Agent: AgentConfig{
			Provider:  "anthropic",
			Model:     "claude-sonnet-4-5",
			MaxTokens: 4096,
		},
		Context: ContextConfig{
			ObservationCount: 30,
			SummaryCount:     3,
			FullCount:        5,
			ShowReadTokens:   false,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Dir returns the memclaw data directory, honoring MEMCLAW_DIR
func Dir() string {
	if dir := os.Getenv("MEMCLAW_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".memclaw")
}

// SettingsPath returns the settings file location
func SettingsPath() string {
	return filepath.Join(Dir(), "settings.json")
}

// DBPath returns the sqlite database location
func DBPath() string {
	if p := os.Getenv("MEMCLAW_DB"); p != "" {
		return p
	}
	return filepath.Join(Dir(), "memclaw.db")
}

// Load reads settings.json over the defaults. A missing file is not an
// error; a malformed one is.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}

	// Env var wins over the file for the API key
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Agent.APIKey == "" {
		cfg.Agent.APIKey = key
	}

	return cfg, nil
}

// Save writes the configuration back to settings.json
func (c *Config) Save() error {
	if err := os.MkdirAll(Dir(), 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(SettingsPath(), append(data, '\n'), 0640)
}
