package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents the application configuration
type Config struct {
	Providers  map[string]ProviderConfig `json:"providers"`
	Server     ServerConfig              `json:"server"`
	Data       DataConfig                `json:"data"`
	Evaluation EvaluationConfig          `json:"evaluation"`
}

// ProviderConfig represents a model backend configuration
type ProviderConfig struct {
	Type        string   `json:"type"` // "ollama" or "openai"
	DisplayName string   `json:"display_name,omitempty"`
	APIKey      string   `json:"api_key,omitempty"`
	BaseURL     string   `json:"base_url"`
	Models      []string `json:"models,omitempty"`
	Enabled     bool     `json:"enabled"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float64  `json:"temperature,omitempty"`
}

// ServerConfig represents the HTTP API configuration
type ServerConfig struct {
	Addr           string   `json:"addr"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
	MaxBodyBytes   int64    `json:"max_body_bytes,omitempty"`
}

// DataConfig represents data storage configuration
type DataConfig struct {
	DBPath     string `json:"db_path"`
	MaxHistory int    `json:"max_history"`
}

// EvaluationConfig represents the LLM-as-judge configuration
type EvaluationConfig struct {
	Provider        string  `json:"provider"`
	Model           string  `json:"model"`
	ScoreBound      float64 `json:"score_bound"`
	EvaluateOnError bool    `json:"evaluate_on_error"`
	// DifferentWins controls highlight classification when a fragment is
	// reported both similar and different.
	DifferentWins *bool `json:"different_wins,omitempty"`
}

// LoadConfig loads configuration from file
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if config.Data.DBPath != "" {
		config.Data.DBPath = expandPath(config.Data.DBPath)
	}
	if config.Server.Addr == "" {
		config.Server.Addr = ":8585"
	}
	if config.Server.MaxBodyBytes == 0 {
		config.Server.MaxBodyBytes = 8 * 1024 * 1024
	}
	if config.Evaluation.ScoreBound == 0 {
		config.Evaluation.ScoreBound = 4
	}

	return &config, nil
}

// SaveConfig saves configuration to file
func SaveConfig(configPath string, config *Config) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DefaultConfig returns the built-in default configuration
func DefaultConfig() *Config {
	return &Config{
		Providers: map[string]ProviderConfig{
			"ollama": {
				Type:    "ollama",
				BaseURL: "http://localhost:11434",
				Enabled: true,
			},
		},
		Server: ServerConfig{
			Addr:           ":8585",
			AllowedOrigins: []string{"*"},
			MaxBodyBytes:   8 * 1024 * 1024,
		},
		Data: DataConfig{
			DBPath:     "~/.ollamalens/history.db",
			MaxHistory: 1000,
		},
		Evaluation: EvaluationConfig{
			Provider:        "ollama",
			Model:           "llama3.2:3b",
			ScoreBound:      4,
			EvaluateOnError: false,
		},
	}
}

// EnsureDefaultConfig writes a default config file if none exists and
// returns the path to use.
func EnsureDefaultConfig() (string, error) {
	configPath := GetConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		return configPath, nil
	}

	if err := SaveConfig(configPath, DefaultConfig()); err != nil {
		return "", err
	}

	return configPath, nil
}

// expandPath expands ~ and relative paths
func expandPath(path string) string {
	if len(path) == 0 {
		return path
	}

	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[1:])
		}
	}

	absPath, err := filepath.Abs(path)
	if err == nil {
		return absPath
	}

	return path
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "./config/default.json"
	}
	return filepath.Join(configDir, "ollamalens", "config.json")
}
