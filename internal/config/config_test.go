package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Rogers-F/storyboard-engine/internal/domain"
)

// validJSON returns a minimal valid configuration JSON string.
func validJSON() string {
	return `{
		"db_path": "/tmp/test.db",
		"oracle": {
			"backend": "openai",
			"api_key": "sk-test"
		}
	}`
}

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_Valid(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.json", validJSON())

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBPath != "/tmp/test.db" {
		t.Errorf("DBPath = %q, want /tmp/test.db", cfg.DBPath)
	}
	if cfg.Oracle.APIKey != "sk-test" {
		t.Errorf("APIKey = %q, want sk-test", cfg.Oracle.APIKey)
	}
	if cfg.Oracle.Model != "gpt-4o-mini" {
		t.Errorf("Model = %q, want gpt-4o-mini", cfg.Oracle.Model)
	}
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `
db_path: /tmp/yaml.db
listen_addr: ":7000"
oracle:
  backend: gemini
  api_key: g-key
batch:
  default_mode: parallel
  inter_request_delay_ms: 250
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBPath != "/tmp/yaml.db" {
		t.Errorf("DBPath = %q, want /tmp/yaml.db", cfg.DBPath)
	}
	if cfg.ListenAddr != ":7000" {
		t.Errorf("ListenAddr = %q, want :7000", cfg.ListenAddr)
	}
	if cfg.Oracle.Model != "gemini-2.5-flash" {
		t.Errorf("Model = %q, want gemini default", cfg.Oracle.Model)
	}
	if cfg.Oracle.APIKeyEnv != "GEMINI_API_KEY" {
		t.Errorf("APIKeyEnv = %q, want GEMINI_API_KEY", cfg.Oracle.APIKeyEnv)
	}
	if cfg.Batch.DefaultMode != "parallel" {
		t.Errorf("DefaultMode = %q, want parallel", cfg.Batch.DefaultMode)
	}
	if cfg.Batch.InterRequestDelayMS != 250 {
		t.Errorf("InterRequestDelayMS = %d, want 250", cfg.Batch.InterRequestDelayMS)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.json")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.json", `{not valid json}`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yml", "oracle: [unterminated")

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML, got nil")
	}
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.json", `{}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9810" {
		t.Errorf("ListenAddr = %q, want :9810", cfg.ListenAddr)
	}
	if cfg.Oracle.Backend != "openai" {
		t.Errorf("Backend = %q, want openai", cfg.Oracle.Backend)
	}
	if cfg.Oracle.TimeoutSec != 90 {
		t.Errorf("TimeoutSec = %d, want 90", cfg.Oracle.TimeoutSec)
	}
	if cfg.Batch.MaxViews != 30 {
		t.Errorf("MaxViews = %d, want 30", cfg.Batch.MaxViews)
	}
	if cfg.Batch.DefaultMode != "sequential" {
		t.Errorf("DefaultMode = %q, want sequential", cfg.Batch.DefaultMode)
	}
	if cfg.MaxSceneCount != 12 {
		t.Errorf("MaxSceneCount = %d, want 12", cfg.MaxSceneCount)
	}
	if cfg.MaxBriefChars != 2000 {
		t.Errorf("MaxBriefChars = %d, want 2000", cfg.MaxBriefChars)
	}
}

func TestLoad_APIKeyFromEnv(t *testing.T) {
	t.Setenv("STORYBOARD_TEST_KEY", "  env-key \n")
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.json", `{"oracle": {"api_key_env": "STORYBOARD_TEST_KEY"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Oracle.APIKey != "env-key" {
		t.Errorf("APIKey = %q, want env-key", cfg.Oracle.APIKey)
	}
}

func TestLoad_MissingAPIKeyIsNotAnError(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.json", `{"oracle": {"backend": "openai"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Oracle.APIKey != "" {
		t.Errorf("APIKey = %q, want empty", cfg.Oracle.APIKey)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		problem string
	}{
		{"unknown backend", `{"oracle": {"backend": "smoke-signals"}}`, "oracle.backend"},
		{"bad mode", `{"batch": {"default_mode": "shuffled"}}`, "batch.default_mode"},
		{"negative delay", `{"batch": {"inter_request_delay_ms": -5}}`, "inter_request_delay_ms"},
		{"scene count too high", `{"max_scene_count": 40}`, "max_scene_count"},
		{"negative rate", `{"rate_limit_per_minute": -1}`, "rate_limit_per_minute"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := writeConfig(t, dir, "config.json", tt.content)

			_, err := Load(path)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !errors.Is(err, domain.ErrConfigInvalid) {
				t.Fatalf("expected ErrConfigInvalid, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.problem) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.problem)
			}
		})
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.DBPath == "" || cfg.ListenAddr == "" {
		t.Fatalf("Default left required fields empty: %+v", cfg)
	}
}
