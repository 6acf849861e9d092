// Package config loads the storyboard engine's runtime configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Rogers-F/storyboard-engine/internal/domain"
)

// OracleConfig selects and configures the generative text backend.
type OracleConfig struct {
	Backend    string `json:"backend" yaml:"backend"`
	Model      string `json:"model" yaml:"model"`
	BaseURL    string `json:"base_url" yaml:"base_url"`
	APIKey     string `json:"api_key" yaml:"api_key"`
	APIKeyEnv  string `json:"api_key_env" yaml:"api_key_env"`
	TimeoutSec int    `json:"timeout_sec" yaml:"timeout_sec"`
}

// BatchConfig holds batch orchestration policy knobs.
type BatchConfig struct {
	MaxViews            int    `json:"max_views" yaml:"max_views"`
	InterRequestDelayMS int    `json:"inter_request_delay_ms" yaml:"inter_request_delay_ms"`
	DefaultMode         string `json:"default_mode" yaml:"default_mode"`
}

// Config holds the engine's runtime configuration.
type Config struct {
	DBPath             string       `json:"db_path" yaml:"db_path"`
	ListenAddr         string       `json:"listen_addr" yaml:"listen_addr"`
	LogLevel           string       `json:"log_level" yaml:"log_level"`
	Oracle             OracleConfig `json:"oracle" yaml:"oracle"`
	Batch              BatchConfig  `json:"batch" yaml:"batch"`
	RateLimitPerMinute int          `json:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	MaxSceneCount      int          `json:"max_scene_count" yaml:"max_scene_count"`
	MaxDurationSec     float64      `json:"max_duration_sec" yaml:"max_duration_sec"`
	MaxBriefChars      int          `json:"max_brief_chars" yaml:"max_brief_chars"`
}

// Load reads a JSON or YAML config file, applies defaults, and validates.
// YAML is chosen by a .yaml or .yml extension.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config JSON: %w", err)
		}
	}

	cfg.applyDefaults()
	cfg.resolveSecrets()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied and no file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.resolveSecrets()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.DBPath == "" {
		c.DBPath = "storyboard.db"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":9810"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Oracle.Backend == "" {
		c.Oracle.Backend = "openai"
	}
	if c.Oracle.Model == "" {
		switch c.Oracle.Backend {
		case "gemini":
			c.Oracle.Model = "gemini-2.5-flash"
		default:
			c.Oracle.Model = "gpt-4o-mini"
		}
	}
	if c.Oracle.APIKeyEnv == "" {
		switch c.Oracle.Backend {
		case "gemini":
			c.Oracle.APIKeyEnv = "GEMINI_API_KEY"
		default:
			c.Oracle.APIKeyEnv = "OPENAI_API_KEY"
		}
	}
	if c.Oracle.TimeoutSec == 0 {
		c.Oracle.TimeoutSec = 90
	}
	if c.Batch.MaxViews == 0 {
		c.Batch.MaxViews = 30
	}
	if c.Batch.DefaultMode == "" {
		c.Batch.DefaultMode = string(domain.RunSequential)
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 30
	}
	if c.MaxSceneCount == 0 {
		c.MaxSceneCount = 12
	}
	if c.MaxDurationSec == 0 {
		c.MaxDurationSec = 60
	}
	if c.MaxBriefChars == 0 {
		c.MaxBriefChars = 2000
	}
}

// resolveSecrets fills the API key from the environment when the file has none.
// A missing key is not a load error: generation endpoints report it instead.
func (c *Config) resolveSecrets() {
	if c.Oracle.APIKey == "" && c.Oracle.APIKeyEnv != "" {
		c.Oracle.APIKey = strings.TrimSpace(os.Getenv(c.Oracle.APIKeyEnv))
	}
}

func (c *Config) validate() error {
	var problems []string

	switch c.Oracle.Backend {
	case "openai", "gemini":
	default:
		problems = append(problems, fmt.Sprintf("oracle.backend %q is not supported", c.Oracle.Backend))
	}
	if c.Oracle.TimeoutSec < 0 {
		problems = append(problems, "oracle.timeout_sec must not be negative")
	}
	switch domain.RunMode(c.Batch.DefaultMode) {
	case domain.RunSequential, domain.RunParallel:
	default:
		problems = append(problems, fmt.Sprintf("batch.default_mode %q is not supported", c.Batch.DefaultMode))
	}
	if c.Batch.MaxViews < 0 || c.Batch.MaxViews > 100 {
		problems = append(problems, "batch.max_views must be between 1 and 100")
	}
	if c.Batch.InterRequestDelayMS < 0 {
		problems = append(problems, "batch.inter_request_delay_ms must not be negative")
	}
	if c.RateLimitPerMinute < 0 {
		problems = append(problems, "rate_limit_per_minute must not be negative")
	}
	if c.MaxSceneCount < 1 || c.MaxSceneCount > 12 {
		problems = append(problems, "max_scene_count must be between 1 and 12")
	}
	if c.MaxDurationSec <= 0 {
		problems = append(problems, "max_duration_sec must be positive")
	}
	if c.MaxBriefChars <= 0 {
		problems = append(problems, "max_brief_chars must be positive")
	}

	if len(problems) > 0 {
		return &domain.EngineError{
			Code:    domain.ErrConfigInvalid.Code,
			Message: fmt.Sprintf("%s: %v", domain.ErrConfigInvalid.Message, problems),
		}
	}
	return nil
}

// Discover looks for config.json, config.yaml or config.yml next to the
// executable, then in the working directory.
func Discover() string {
	names := []string{"config.json", "config.yaml", "config.yml"}
	if exe, err := os.Executable(); err == nil {
		for _, n := range names {
			candidate := filepath.Join(filepath.Dir(exe), n)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	for _, n := range names {
		if _, err := os.Stat(n); err == nil {
			return n
		}
	}
	return ""
}
