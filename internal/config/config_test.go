package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LLM.Provider != "gemini" {
		t.Errorf("Expected default provider 'gemini', got '%s'", cfg.LLM.Provider)
	}
	if cfg.Search.MaxResults != 5 {
		t.Errorf("Expected default max_results 5, got %d", cfg.Search.MaxResults)
	}
	if cfg.Workspace.Root == "" {
		t.Error("Expected non-empty workspace root")
	}
	if !cfg.History.Enabled {
		t.Error("Expected history enabled by default")
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load on missing file should not error: %v", err)
	}
	if cfg.LLM.Provider != "gemini" {
		t.Errorf("Expected defaults, got provider '%s'", cfg.LLM.Provider)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
llm:
  provider: openai
  model: gpt-4o
  timeout: 30s
search:
  max_results: 3
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.LLM.Provider != "openai" {
		t.Errorf("Expected provider 'openai', got '%s'", cfg.LLM.Provider)
	}
	if cfg.LLM.Model != "gpt-4o" {
		t.Errorf("Expected model 'gpt-4o', got '%s'", cfg.LLM.Model)
	}
	if cfg.LLM.RequestTimeout() != 30*time.Second {
		t.Errorf("Expected 30s timeout, got %v", cfg.LLM.RequestTimeout())
	}
	if cfg.Search.MaxResults != 3 {
		t.Errorf("Expected max_results 3, got %d", cfg.Search.MaxResults)
	}
	// Untouched sections keep defaults
	if cfg.Workspace.Root == "" {
		t.Error("Expected workspace root default to survive partial config")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("llm: [not a map"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Expected error for malformed YAML")
	}
}

func TestTimeoutFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.Timeout = "garbage"
	if cfg.LLM.RequestTimeout() != 120*time.Second {
		t.Errorf("Expected fallback 120s, got %v", cfg.LLM.RequestTimeout())
	}
	cfg.Search.Timeout = ""
	if cfg.SearchTimeout() != 15*time.Second {
		t.Errorf("Expected fallback 15s, got %v", cfg.SearchTimeout())
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.LLM.Provider = "anthropic"
	cfg.LLM.Model = "claude-sonnet-4-20250514"

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.LLM.Provider != "anthropic" {
		t.Errorf("Expected provider 'anthropic', got '%s'", loaded.LLM.Provider)
	}
	if loaded.LLM.Model != cfg.LLM.Model {
		t.Errorf("Model mismatch after round trip: %s", loaded.LLM.Model)
	}
}
