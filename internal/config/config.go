package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// CONFIG STRUCTURE
type Config struct {
	Port string `json:"port"`

	DatabaseURL  string `json:"databaseUrl"`
	DatabaseEcho bool   `json:"databaseEcho"`

	MaxContexts   int `json:"maxContexts"`
	MaxConcurrent int `json:"maxConcurrent"`

	DefaultIntervalSeconds int `json:"defaultIntervalSeconds"`

	AnalyzerQueueSize      int     `json:"analyzerQueueSize"`
	AnalyzerParallelFetch  int     `json:"analyzerParallelFetch"`
	AnalyzerPhashThreshold int     `json:"analyzerPhashThreshold"`
	AnalyzerMaxImageBytes  int64   `json:"analyzerMaxImageBytes"`
	AnalyzerFetchTimeoutMs int     `json:"analyzerFetchTimeoutMs"`
	RetryCount             int     `json:"retryCount"`

	LogDir string `json:"logDir"`
}

// LOAD CONFIG FROM FILE
func LoadConfig(path string) (*Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if err := json.Unmarshal(file, &raw); err != nil {
		return nil, err
	}

	config := GetDefaultConfig()
	if err := json.Unmarshal(file, config); err != nil {
		return nil, err
	}

	config.DatabaseURL = sanitizePath(config.DatabaseURL)
	config.LogDir = sanitizePath(config.LogDir)

	return config, nil
}

// SAVE CONFIG TO FILE
func SaveConfig(config *Config, path string) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// GET DEFAULT CONFIG
func GetDefaultConfig() *Config {
	return &Config{
		Port:                   "8080",
		DatabaseURL:            "./data/adscout.db",
		DatabaseEcho:           false,
		MaxContexts:            10,
		MaxConcurrent:          5,
		DefaultIntervalSeconds: 3600,
		AnalyzerQueueSize:      256,
		AnalyzerParallelFetch:  3,
		AnalyzerPhashThreshold: 5,
		AnalyzerMaxImageBytes:  10_000_000,
		AnalyzerFetchTimeoutMs: 15_000,
		RetryCount:             2,
		LogDir:                 "./logs",
	}
}

// SANITIZE PATH TO ENSURE IT'S VALID, UNLESS IT LOOKS LIKE A DSN (file:..., :memory:)
func sanitizePath(path string) string {
	if path == "" {
		return "."
	}
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return path
	}
	return filepath.Clean(path)
}
