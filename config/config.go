// Package config defines the rewriter's initialization-time configuration
// document: a JSON file with environment-variable overrides for deployment
// knobs.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ProviderConfig registers one LLM backend. Kind selects the
// implementation ("openai" or "local"); APIKeyEnv names the environment
// variable holding the credential so the file never carries secrets.
type ProviderConfig struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Endpoint  string `json:"endpoint,omitempty"`
	APIKeyEnv string `json:"api_key_env,omitempty"`
}

// GenerationConfig mirrors the recognized generation options.
type GenerationConfig struct {
	ModelName     string  `json:"model_name"`
	Temperature   float64 `json:"temperature"`
	MaxTokens     int     `json:"max_tokens"`
	NumCandidates int     `json:"num_candidates"`
	UseFewShot    bool    `json:"use_few_shot"`
}

// StrategyConfig mirrors the optimizer strategy fields.
type StrategyConfig struct {
	EnableForSubqueries   bool    `json:"enable_for_subqueries"`
	EnableForComplexJoins bool    `json:"enable_for_complex_joins"`
	MinEstimatedCost      float64 `json:"min_estimated_cost"`
	MaxCandidates         int     `json:"max_candidates"`
	ValidationTimeoutSec  float64 `json:"validation_timeout_sec"`
	SelectionMode         string  `json:"selection_mode"`
	MinImprovementRatio   float64 `json:"min_improvement_ratio"`
}

// ValidationTimeout returns the timeout as a duration.
func (s StrategyConfig) ValidationTimeout() time.Duration {
	return time.Duration(s.ValidationTimeoutSec * float64(time.Second))
}

// Config is the full configuration document.
type Config struct {
	Enabled           bool             `json:"enabled"`
	Strategy          StrategyConfig   `json:"strategy"`
	Generation        GenerationConfig `json:"generation"`
	CacheSize         int              `json:"cache_size"`
	Providers         []ProviderConfig `json:"providers"`
	OptimizationGoal  string           `json:"optimization_goal"`
	ValidationMode    string           `json:"validation_mode"`
	OptimizationHints []string         `json:"optimization_hints,omitempty"`
	LoadStockExamples bool             `json:"load_stock_examples"`

	// HostDSN is the connection string for the host database used by the
	// pgx-backed schema loader and cost estimator. heimdalld refuses to
	// start when it is empty.
	HostDSN string `json:"host_dsn,omitempty"`

	// HistoryPath is the directory for the accepted-rewrite journal.
	// Empty disables history.
	HistoryPath string `json:"history_path,omitempty"`

	// AdminAddr is the listen address of the stats endpoint. Empty
	// selects ":8080".
	AdminAddr string `json:"admin_addr,omitempty"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Enabled: true,
		Strategy: StrategyConfig{
			EnableForSubqueries:   true,
			EnableForComplexJoins: true,
			MinEstimatedCost:      1000,
			MaxCandidates:         5,
			ValidationTimeoutSec:  10,
			SelectionMode:         "best_cost",
			MinImprovementRatio:   1.2,
		},
		Generation: GenerationConfig{
			ModelName:     "gpt-4",
			Temperature:   0.3,
			MaxTokens:     2000,
			NumCandidates: 3,
			UseFewShot:    true,
		},
		CacheSize:         1000,
		OptimizationGoal:  "balanced",
		ValidationMode:    "strict",
		LoadStockExamples: true,
	}
}

// LoadFile reads a JSON configuration document layered over the defaults,
// then applies environment overrides.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	return cfg, nil
}

// Load returns the defaults with environment overrides, for deployments
// without a config file.
func Load() Config {
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyEnv() {
	if v := os.Getenv("HEIMDALL_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Enabled = enabled
		}
	}
	if v := os.Getenv("HEIMDALL_HOST_DSN"); v != "" {
		c.HostDSN = v
	}
	if v := os.Getenv("HEIMDALL_HISTORY_PATH"); v != "" {
		c.HistoryPath = v
	}
	if v := os.Getenv("HEIMDALL_ADMIN_ADDR"); v != "" {
		c.AdminAddr = v
	}
	if v := os.Getenv("HEIMDALL_VALIDATION_MODE"); v != "" {
		c.ValidationMode = v
	}
	if v := os.Getenv("HEIMDALL_CACHE_SIZE"); v != "" {
		if size, err := strconv.Atoi(v); err == nil && size > 0 {
			c.CacheSize = size
		}
	}
}
